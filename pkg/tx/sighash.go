package tx

import (
	"fmt"

	"github.com/Klingon-tech/embernet-chain/pkg/crypto"
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// AuthFlag tags an authorization as standard or sponsored and is mixed
// into every sighash a signer commits to.
type AuthFlag byte

// Authorization flags.
const (
	AuthStandard  AuthFlag = 0x04
	AuthSponsored AuthFlag = 0x05
)

// KeyEncoding declares how a public key serializes in a spending
// condition.
type KeyEncoding byte

// Public key encodings.
const (
	KeyEncodingCompressed   KeyEncoding = 0x00
	KeyEncodingUncompressed KeyEncoding = 0x01
)

// keyEncodingOf returns the wire encoding for a public key's flag.
func keyEncodingOf(pub *crypto.PublicKey) KeyEncoding {
	if pub.Compressed() {
		return KeyEncodingCompressed
	}
	return KeyEncodingUncompressed
}

// MakeSighashPresign computes the digest a signer actually signs: a
// commitment to the previous rolling sighash plus the data this
// signature will add. 49 bytes of input:
//
//	cur_sighash(32) ‖ auth_flag(1) ‖ fee_rate(be8) ‖ nonce(be8)
func MakeSighashPresign(cur types.Hash, flag AuthFlag, feeRate, nonce uint64) types.Hash {
	buf := make([]byte, 0, types.HashSize+1+8+8)
	buf = append(buf, cur[:]...)
	buf = append(buf, byte(flag))
	buf = appendUint64(buf, feeRate)
	buf = appendUint64(buf, nonce)
	return crypto.Hash(buf)
}

// MakeSighashPostsign advances the rolling sighash past a produced
// signature, committing to the key encoding and the signature itself.
// 98 bytes of input:
//
//	presign_sighash(32) ‖ key_encoding(1) ‖ signature(65)
func MakeSighashPostsign(presign types.Hash, pub *crypto.PublicKey, sig crypto.Signature) types.Hash {
	buf := make([]byte, 0, types.HashSize+1+crypto.SignatureSize)
	buf = append(buf, presign[:]...)
	buf = append(buf, byte(keyEncodingOf(pub)))
	buf = append(buf, sig[:]...)
	return crypto.Hash(buf)
}

// NextSignature runs one step of the linear signing algorithm: each
// signer signs a rolling hash over everything previous signers committed
// to, instead of re-serializing the transaction. Returns the signature
// and the next sighash the subsequent key must sign.
func NextSignature(cur types.Hash, flag AuthFlag, feeRate, nonce uint64,
	priv *crypto.PrivateKey) (crypto.Signature, types.Hash, error) {

	presign := MakeSighashPresign(cur, flag, feeRate, nonce)

	sig, err := priv.Sign(presign[:])
	if err != nil {
		return crypto.Signature{}, types.Hash{}, fmt.Errorf("signing failed: %w", err)
	}

	next := MakeSighashPostsign(presign, priv.PublicKey(), sig)
	return sig, next, nil
}

// NextVerification mirrors NextSignature: it recovers the public key
// from the signature over the presign digest, then advances the rolling
// hash. The declared key encoding overrides the flag recovered from the
// signature, since the encoding is what the signer hash commits to.
func NextVerification(cur types.Hash, flag AuthFlag, feeRate, nonce uint64,
	encoding KeyEncoding, sig crypto.Signature) (*crypto.PublicKey, types.Hash, error) {

	presign := MakeSighashPresign(cur, flag, feeRate, nonce)

	pub, err := crypto.RecoverPublicKey(presign[:], sig)
	if err != nil {
		return nil, types.Hash{}, newVerifyError("public key recovery failed: %v", err)
	}
	pub.SetCompressed(encoding == KeyEncodingCompressed)

	next := MakeSighashPostsign(presign, pub, sig)
	return pub, next, nil
}
