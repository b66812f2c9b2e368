package tx

import (
	"fmt"

	"github.com/Klingon-tech/embernet-chain/pkg/crypto"
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// Auth field IDs: the wire tag of each field in a multisig condition.
const (
	authFieldPublicKeyCompressed   byte = 0x00
	authFieldPublicKeyUncompressed byte = 0x01
	authFieldSignatureCompressed   byte = 0x02
	authFieldSignatureUncompressed byte = 0x03
)

// AuthField is one entry in a multisig condition: either a public key
// recorded directly, or a signature from which the key is recovered
// during verification.
type AuthField struct {
	pubKey   *crypto.PublicKey
	encoding KeyEncoding
	sig      crypto.Signature
	isSig    bool
}

// PublicKeyField wraps a public key as an auth field.
func PublicKeyField(pub *crypto.PublicKey) AuthField {
	return AuthField{pubKey: pub}
}

// SignatureField wraps a signature and its signer's key encoding as an
// auth field.
func SignatureField(encoding KeyEncoding, sig crypto.Signature) AuthField {
	return AuthField{encoding: encoding, sig: sig, isSig: true}
}

// IsSignature reports whether the field carries a signature.
func (f AuthField) IsSignature() bool {
	return f.isSig
}

// PublicKey returns the field's key, or nil for signature fields.
func (f AuthField) PublicKey() *crypto.PublicKey {
	return f.pubKey
}

// SignatureData returns the field's key encoding and signature.
// Only meaningful for signature fields.
func (f AuthField) SignatureData() (KeyEncoding, crypto.Signature) {
	return f.encoding, f.sig
}

// serialize appends the field's wire form: tag(1) ‖ payload.
func (f AuthField) serialize(buf []byte) []byte {
	if f.isSig {
		if f.encoding == KeyEncodingCompressed {
			buf = append(buf, authFieldSignatureCompressed)
		} else {
			buf = append(buf, authFieldSignatureUncompressed)
		}
		return append(buf, f.sig[:]...)
	}
	if f.pubKey.Compressed() {
		buf = append(buf, authFieldPublicKeyCompressed)
	} else {
		buf = append(buf, authFieldPublicKeyUncompressed)
	}
	return append(buf, f.pubKey.Serialize()...)
}

// parseAuthField reads one field from the wire.
func parseAuthField(r *reader) (AuthField, error) {
	tag, err := r.readByte()
	if err != nil {
		return AuthField{}, err
	}
	switch tag {
	case authFieldPublicKeyCompressed, authFieldPublicKeyUncompressed:
		size := 33
		if tag == authFieldPublicKeyUncompressed {
			size = 65
		}
		raw, err := r.readBytes(size)
		if err != nil {
			return AuthField{}, err
		}
		pub, err := crypto.ParsePublicKey(raw)
		if err != nil {
			return AuthField{}, fmt.Errorf("%w: auth field key: %v", ErrDeserialize, err)
		}
		pub.SetCompressed(tag == authFieldPublicKeyCompressed)
		return PublicKeyField(pub), nil

	case authFieldSignatureCompressed, authFieldSignatureUncompressed:
		raw, err := r.readBytes(crypto.SignatureSize)
		if err != nil {
			return AuthField{}, err
		}
		sig, err := crypto.SignatureFromBytes(raw)
		if err != nil {
			return AuthField{}, fmt.Errorf("%w: auth field signature: %v", ErrDeserialize, err)
		}
		encoding := KeyEncodingCompressed
		if tag == authFieldSignatureUncompressed {
			encoding = KeyEncodingUncompressed
		}
		return SignatureField(encoding, sig), nil

	default:
		return AuthField{}, fmt.Errorf("%w: unknown auth field ID %d", ErrDeserialize, tag)
	}
}

// SpendingCondition is one half of a transaction authorization: the
// commitment to who may spend (the signer hash) and the accumulated
// proof that they did (signatures over the rolling sighash).
type SpendingCondition interface {
	// Serialize returns the condition's consensus wire form.
	Serialize() []byte

	// Verify authenticates the condition against an initial sighash,
	// recovering all public keys and checking they hash to the signer.
	// Returns the final rolling sighash.
	Verify(initial types.Hash, flag AuthFlag) (types.Hash, error)

	GetNonce() uint64
	SetNonce(n uint64)
	GetFeeRate() uint64
	SetFeeRate(fee uint64)

	// NumSignatures counts the signatures present so far.
	NumSignatures() uint16

	// SignaturesRequired is the threshold the condition commits to.
	SignaturesRequired() uint16

	// AddressMainnet and AddressTestnet render the signer hash as an
	// account address.
	AddressMainnet() types.Address
	AddressTestnet() types.Address

	// Clear resets fee rate, nonce, and accumulated signatures to their
	// canonical zero values for initial-sighash computation.
	Clear()

	// Clone returns a deep copy.
	Clone() SpendingCondition
}

// ParseSpendingCondition reads a condition from the wire. The first byte
// — the hash mode — selects the single-sig or multisig layout.
func ParseSpendingCondition(r *reader) (SpendingCondition, error) {
	mode, err := r.peekByte()
	if err != nil {
		return nil, err
	}
	switch {
	case HashMode(mode).IsSinglesig():
		return parseSinglesigCondition(r)
	case HashMode(mode).IsMultisig():
		return parseMultisigCondition(r)
	default:
		return nil, fmt.Errorf("%w: invalid hash mode %d", ErrDeserialize, mode)
	}
}

// ParseSpendingConditionBytes parses a condition from a standalone
// buffer, requiring full consumption.
func ParseSpendingConditionBytes(buf []byte) (SpendingCondition, error) {
	r := newReader(buf)
	cond, err := ParseSpendingCondition(r)
	if err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrDeserialize, r.remaining())
	}
	return cond, nil
}

// SinglesigCondition authorizes a spend with one key:
//
//	hash_mode(1) ‖ signer(20) ‖ nonce(be8) ‖ fee_rate(be8) ‖ key_encoding(1) ‖ signature(65)
type SinglesigCondition struct {
	HashMode    HashMode
	Signer      types.Hash160
	Nonce       uint64
	FeeRate     uint64
	KeyEncoding KeyEncoding
	Signature   crypto.Signature
}

// NewSinglesigP2PKH builds an unsigned P2PKH condition for a key.
func NewSinglesigP2PKH(pub *crypto.PublicKey) (*SinglesigCondition, error) {
	signer, ok := PublicKeysToAddressHash(HashModeP2PKH, 1, []*crypto.PublicKey{pub})
	if !ok {
		return nil, fmt.Errorf("cannot derive p2pkh signer hash")
	}
	encoding := KeyEncodingCompressed
	if !pub.Compressed() {
		encoding = KeyEncodingUncompressed
	}
	return &SinglesigCondition{
		HashMode:    HashModeP2PKH,
		Signer:      signer,
		KeyEncoding: encoding,
	}, nil
}

// NewSinglesigP2WPKH builds an unsigned P2WPKH condition for a
// compressed key.
func NewSinglesigP2WPKH(pub *crypto.PublicKey) (*SinglesigCondition, error) {
	signer, ok := PublicKeysToAddressHash(HashModeP2WPKH, 1, []*crypto.PublicKey{pub})
	if !ok {
		return nil, fmt.Errorf("cannot derive p2wpkh signer hash (key must be compressed)")
	}
	return &SinglesigCondition{
		HashMode:    HashModeP2WPKH,
		Signer:      signer,
		KeyEncoding: KeyEncodingCompressed,
	}, nil
}

// NewInitialSighashCondition returns the sentinel condition an origin
// commits to before the sponsor is known: all-zero signer, zero nonce
// and fee, empty signature. It is computationally infeasible to produce
// a key that spends it.
func NewInitialSighashCondition() *SinglesigCondition {
	return &SinglesigCondition{
		HashMode:    HashModeP2PKH,
		KeyEncoding: KeyEncodingCompressed,
	}
}

// Serialize returns the condition's consensus wire form.
func (c *SinglesigCondition) Serialize() []byte {
	buf := make([]byte, 0, 1+types.Hash160Size+8+8+1+crypto.SignatureSize)
	buf = append(buf, byte(c.HashMode))
	buf = append(buf, c.Signer[:]...)
	buf = appendUint64(buf, c.Nonce)
	buf = appendUint64(buf, c.FeeRate)
	buf = append(buf, byte(c.KeyEncoding))
	return append(buf, c.Signature[:]...)
}

func parseSinglesigCondition(r *reader) (*SinglesigCondition, error) {
	mode, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if !HashMode(mode).IsSinglesig() {
		return nil, fmt.Errorf("%w: unknown single-sig hash mode %d", ErrDeserialize, mode)
	}
	signerRaw, err := r.readBytes(types.Hash160Size)
	if err != nil {
		return nil, err
	}
	nonce, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	feeRate, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	encoding, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if encoding != byte(KeyEncodingCompressed) && encoding != byte(KeyEncodingUncompressed) {
		return nil, fmt.Errorf("%w: unknown key encoding %d", ErrDeserialize, encoding)
	}
	sigRaw, err := r.readBytes(crypto.SignatureSize)
	if err != nil {
		return nil, err
	}

	// P2WPKH conditions must declare compressed keys.
	if HashMode(mode) == HashModeP2WPKH && KeyEncoding(encoding) != KeyEncodingCompressed {
		return nil, fmt.Errorf("%w: incompatible hash mode and key encoding", ErrDeserialize)
	}

	cond := &SinglesigCondition{
		HashMode:    HashMode(mode),
		Nonce:       nonce,
		FeeRate:     feeRate,
		KeyEncoding: KeyEncoding(encoding),
	}
	copy(cond.Signer[:], signerRaw)
	copy(cond.Signature[:], sigRaw)
	return cond, nil
}

// Verify authenticates the condition against an initial sighash and
// returns the final rolling sighash.
func (c *SinglesigCondition) Verify(initial types.Hash, flag AuthFlag) (types.Hash, error) {
	pub, next, err := NextVerification(initial, flag, c.FeeRate, c.Nonce, c.KeyEncoding, c.Signature)
	if err != nil {
		return types.Hash{}, err
	}
	hash, ok := PublicKeysToAddressHash(c.HashMode, 1, []*crypto.PublicKey{pub})
	if !ok {
		return types.Hash{}, newVerifyError("cannot derive address from public key")
	}
	if hash != c.Signer {
		return types.Hash{}, newVerifyError("signer hash does not equal hash of public key(s): %s != %s", hash, c.Signer)
	}
	return next, nil
}

// GetNonce returns the condition's nonce.
func (c *SinglesigCondition) GetNonce() uint64 { return c.Nonce }

// SetNonce sets the condition's nonce.
func (c *SinglesigCondition) SetNonce(n uint64) { c.Nonce = n }

// GetFeeRate returns the condition's fee rate.
func (c *SinglesigCondition) GetFeeRate() uint64 { return c.FeeRate }

// SetFeeRate sets the condition's fee rate.
func (c *SinglesigCondition) SetFeeRate(fee uint64) { c.FeeRate = fee }

// NumSignatures counts the signatures present: 0 or 1.
func (c *SinglesigCondition) NumSignatures() uint16 {
	if c.Signature.IsEmpty() {
		return 0
	}
	return 1
}

// SignaturesRequired is always 1 for a single-sig condition.
func (c *SinglesigCondition) SignaturesRequired() uint16 { return 1 }

// AddressMainnet renders the signer hash as a mainnet address.
// The P2WPKH branch selects the multisig version byte; deployed
// addresses committed to that mapping.
func (c *SinglesigCondition) AddressMainnet() types.Address {
	version := types.AddressVersionMainnetSinglesig
	if c.HashMode == HashModeP2WPKH {
		version = types.AddressVersionMainnetMultisig
	}
	return types.Address{Version: version, Hash: c.Signer}
}

// AddressTestnet renders the signer hash as a testnet address.
func (c *SinglesigCondition) AddressTestnet() types.Address {
	version := types.AddressVersionTestnetSinglesig
	if c.HashMode == HashModeP2WPKH {
		version = types.AddressVersionTestnetMultisig
	}
	return types.Address{Version: version, Hash: c.Signer}
}

// Clear resets fee rate, nonce, and the signature.
func (c *SinglesigCondition) Clear() {
	c.FeeRate = 0
	c.Nonce = 0
	c.Signature = crypto.EmptySignature()
}

// Clone returns a deep copy.
func (c *SinglesigCondition) Clone() SpendingCondition {
	cp := *c
	return &cp
}

// SetSignature records the produced signature.
func (c *SinglesigCondition) SetSignature(sig crypto.Signature) {
	c.Signature = sig
}

// MultisigCondition authorizes a spend with a threshold of keys:
//
//	hash_mode(1) ‖ signer(20) ‖ nonce(be8) ‖ fee_rate(be8) ‖
//	field_count(be4) ‖ fields ‖ signatures_required(be2)
type MultisigCondition struct {
	HashMode      HashMode
	Signer        types.Hash160
	Nonce         uint64
	FeeRate       uint64
	Fields        []AuthField
	SignaturesReq uint16
}

// NewMultisigP2SH builds an unsigned P2SH condition over the keys.
func NewMultisigP2SH(numSigs uint16, pubkeys []*crypto.PublicKey) (*MultisigCondition, error) {
	signer, ok := PublicKeysToAddressHash(HashModeP2SH, numSigs, pubkeys)
	if !ok {
		return nil, fmt.Errorf("cannot derive p2sh signer hash")
	}
	return &MultisigCondition{
		HashMode:      HashModeP2SH,
		Signer:        signer,
		SignaturesReq: numSigs,
	}, nil
}

// NewMultisigP2WSH builds an unsigned P2WSH condition over compressed
// keys.
func NewMultisigP2WSH(numSigs uint16, pubkeys []*crypto.PublicKey) (*MultisigCondition, error) {
	signer, ok := PublicKeysToAddressHash(HashModeP2WSH, numSigs, pubkeys)
	if !ok {
		return nil, fmt.Errorf("cannot derive p2wsh signer hash (keys must be compressed)")
	}
	return &MultisigCondition{
		HashMode:      HashModeP2WSH,
		Signer:        signer,
		SignaturesReq: numSigs,
	}, nil
}

// Serialize returns the condition's consensus wire form.
func (c *MultisigCondition) Serialize() []byte {
	buf := make([]byte, 0, 1+types.Hash160Size+8+8+4+len(c.Fields)*(1+crypto.SignatureSize)+2)
	buf = append(buf, byte(c.HashMode))
	buf = append(buf, c.Signer[:]...)
	buf = appendUint64(buf, c.Nonce)
	buf = appendUint64(buf, c.FeeRate)
	buf = appendUint32(buf, uint32(len(c.Fields)))
	for _, f := range c.Fields {
		buf = f.serialize(buf)
	}
	return appendUint16(buf, c.SignaturesReq)
}

func parseMultisigCondition(r *reader) (*MultisigCondition, error) {
	mode, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if !HashMode(mode).IsMultisig() {
		return nil, fmt.Errorf("%w: unknown multisig hash mode %d", ErrDeserialize, mode)
	}
	signerRaw, err := r.readBytes(types.Hash160Size)
	if err != nil {
		return nil, err
	}
	nonce, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	feeRate, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	fieldCount, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	fields := make([]AuthField, 0, fieldCount)
	for i := uint32(0); i < fieldCount; i++ {
		field, err := parseAuthField(r)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
	}
	sigsRequired, err := r.readUint16()
	if err != nil {
		return nil, err
	}

	// The serialized form must carry exactly the threshold's worth of
	// signatures, and witness conditions only compressed keys.
	var numSigs uint16
	haveUncompressed := false
	for _, f := range fields {
		if f.IsSignature() {
			encoding, _ := f.SignatureData()
			if numSigs == 1<<16-1 {
				return nil, fmt.Errorf("%w: too many signatures", ErrDeserialize)
			}
			numSigs++
			if encoding == KeyEncodingUncompressed {
				haveUncompressed = true
			}
		} else if !f.PublicKey().Compressed() {
			haveUncompressed = true
		}
	}
	if numSigs != sigsRequired {
		return nil, fmt.Errorf("%w: got %d signatures, expected %d", ErrDeserialize, numSigs, sigsRequired)
	}
	if haveUncompressed && HashMode(mode) == HashModeP2WSH {
		return nil, fmt.Errorf("%w: expected compressed keys only", ErrDeserialize)
	}

	cond := &MultisigCondition{
		HashMode:      HashMode(mode),
		Nonce:         nonce,
		FeeRate:       feeRate,
		Fields:        fields,
		SignaturesReq: sigsRequired,
	}
	copy(cond.Signer[:], signerRaw)
	return cond, nil
}

// Verify authenticates the condition against an initial sighash. It
// walks the fields in declared order, advancing the rolling sighash at
// each signature and recovering its public key, then checks that the
// collected keys hash to the signer.
func (c *MultisigCondition) Verify(initial types.Hash, flag AuthFlag) (types.Hash, error) {
	pubkeys := make([]*crypto.PublicKey, 0, len(c.Fields))
	cur := initial
	var numSigs uint16
	haveUncompressed := false

	for _, field := range c.Fields {
		if field.IsSignature() {
			encoding, sig := field.SignatureData()
			if encoding == KeyEncodingUncompressed {
				haveUncompressed = true
			}
			pub, next, err := NextVerification(cur, flag, c.FeeRate, c.Nonce, encoding, sig)
			if err != nil {
				return types.Hash{}, err
			}
			cur = next
			if numSigs == 1<<16-1 {
				return types.Hash{}, newVerifyError("too many signatures")
			}
			numSigs++
			pubkeys = append(pubkeys, pub)
		} else {
			pub := field.PublicKey()
			if !pub.Compressed() {
				haveUncompressed = true
			}
			pubkeys = append(pubkeys, pub)
		}
	}

	if numSigs != c.SignaturesReq {
		return types.Hash{}, newVerifyError("incorrect number of signatures: got %d, require %d", numSigs, c.SignaturesReq)
	}
	if haveUncompressed && c.HashMode == HashModeP2WSH {
		return types.Hash{}, newVerifyError("uncompressed keys are not allowed in this hash mode")
	}

	hash, ok := PublicKeysToAddressHash(c.HashMode, c.SignaturesReq, pubkeys)
	if !ok {
		return types.Hash{}, newVerifyError("cannot derive address from public keys")
	}
	if hash != c.Signer {
		return types.Hash{}, newVerifyError("signer hash does not equal hash of public key(s): %s != %s", hash, c.Signer)
	}
	return cur, nil
}

// GetNonce returns the condition's nonce.
func (c *MultisigCondition) GetNonce() uint64 { return c.Nonce }

// SetNonce sets the condition's nonce.
func (c *MultisigCondition) SetNonce(n uint64) { c.Nonce = n }

// GetFeeRate returns the condition's fee rate.
func (c *MultisigCondition) GetFeeRate() uint64 { return c.FeeRate }

// SetFeeRate sets the condition's fee rate.
func (c *MultisigCondition) SetFeeRate(fee uint64) { c.FeeRate = fee }

// NumSignatures counts the signature fields accumulated so far.
func (c *MultisigCondition) NumSignatures() uint16 {
	var n uint16
	for _, f := range c.Fields {
		if f.IsSignature() {
			n++
		}
	}
	return n
}

// SignaturesRequired is the condition's threshold.
func (c *MultisigCondition) SignaturesRequired() uint16 { return c.SignaturesReq }

// AddressMainnet renders the signer hash as a mainnet address.
func (c *MultisigCondition) AddressMainnet() types.Address {
	return types.Address{Version: types.AddressVersionMainnetMultisig, Hash: c.Signer}
}

// AddressTestnet renders the signer hash as a testnet address.
func (c *MultisigCondition) AddressTestnet() types.Address {
	return types.Address{Version: types.AddressVersionTestnetMultisig, Hash: c.Signer}
}

// Clear resets fee rate, nonce, and the accumulated fields.
func (c *MultisigCondition) Clear() {
	c.FeeRate = 0
	c.Nonce = 0
	c.Fields = nil
}

// Clone returns a deep copy.
func (c *MultisigCondition) Clone() SpendingCondition {
	cp := *c
	cp.Fields = make([]AuthField, len(c.Fields))
	copy(cp.Fields, c.Fields)
	return &cp
}

// PushSignature appends a signature field.
func (c *MultisigCondition) PushSignature(encoding KeyEncoding, sig crypto.Signature) {
	c.Fields = append(c.Fields, SignatureField(encoding, sig))
}

// PushPublicKey appends a public key field.
func (c *MultisigCondition) PushPublicKey(pub *crypto.PublicKey) {
	c.Fields = append(c.Fields, PublicKeyField(pub))
}
