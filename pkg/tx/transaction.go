// Package tx implements transaction authorization for the Embernet
// chain: spending conditions, the rolling sighash they sign, and the
// transaction container that carries them.
package tx

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/embernet-chain/pkg/crypto"
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// Transaction is a chain transaction: a versioned, chain-scoped payload
// under a standard or sponsored authorization.
type Transaction struct {
	Version uint8
	ChainID uint32
	Auth    *Auth
	Payload Payload
}

// New builds a transaction over the given authorization and payload.
func New(chainID uint32, auth *Auth, payload Payload) *Transaction {
	return &Transaction{
		Version: 1,
		ChainID: chainID,
		Auth:    auth,
		Payload: payload,
	}
}

// Serialize returns the transaction's consensus wire form:
//
//	version(1) ‖ chain_id(be4) ‖ auth ‖ payload
func (t *Transaction) Serialize() []byte {
	buf := []byte{t.Version}
	buf = appendUint32(buf, t.ChainID)
	buf = append(buf, t.Auth.Serialize()...)
	return append(buf, t.Payload.Serialize()...)
}

// Parse decodes a transaction from its wire form, requiring full
// consumption of the buffer.
func Parse(buf []byte) (*Transaction, error) {
	r := newReader(buf)
	version, err := r.readByte()
	if err != nil {
		return nil, err
	}
	chainID, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	auth, err := parseAuth(r)
	if err != nil {
		return nil, err
	}
	payload, err := parsePayload(r)
	if err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrDeserialize, r.remaining())
	}
	return &Transaction{Version: version, ChainID: chainID, Auth: auth, Payload: payload}, nil
}

// TxID returns the transaction's identifier: the system hash of its
// full wire form, signatures included.
func (t *Transaction) TxID() types.TxID {
	return types.TxID(crypto.Hash(t.Serialize()))
}

// InitialSighash computes the digest signing starts from: the hash of
// the transaction with its authorization reset to the canonical zero
// state (and the sponsor slot, if any, set to the sentinel).
func (t *Transaction) InitialSighash() types.Hash {
	cleared := *t
	cleared.Auth = t.Auth.IntoInitialSighashAuth()
	return crypto.Hash(cleared.Serialize())
}

// SignNextOrigin signs the next origin slot over the current rolling
// sighash and records the signature in the origin condition. Returns
// the next sighash.
func (t *Transaction) SignNextOrigin(cur types.Hash, priv *crypto.PrivateKey) (types.Hash, error) {
	return signAndAppend(t.Auth.Origin, cur, AuthStandard, priv)
}

// AppendOriginPublicKey records a public key field in a multisig origin
// without advancing the sighash.
func (t *Transaction) AppendOriginPublicKey(pub *crypto.PublicKey) error {
	multisig, ok := t.Auth.Origin.(*MultisigCondition)
	if !ok {
		return ErrIncompatibleSpendingCondition
	}
	multisig.PushPublicKey(pub)
	return nil
}

// SignNextSponsor signs the next sponsor slot over the current rolling
// sighash. The sponsor chain starts from the origin's final sighash and
// signs under the sponsored flag.
func (t *Transaction) SignNextSponsor(cur types.Hash, priv *crypto.PrivateKey) (types.Hash, error) {
	if !t.Auth.IsSponsored() {
		return types.Hash{}, ErrIncompatibleSpendingCondition
	}
	return signAndAppend(t.Auth.Sponsor, cur, AuthSponsored, priv)
}

// AppendSponsorPublicKey records a public key field in a multisig
// sponsor without advancing the sighash.
func (t *Transaction) AppendSponsorPublicKey(pub *crypto.PublicKey) error {
	if !t.Auth.IsSponsored() {
		return ErrIncompatibleSpendingCondition
	}
	multisig, ok := t.Auth.Sponsor.(*MultisigCondition)
	if !ok {
		return ErrIncompatibleSpendingCondition
	}
	multisig.PushPublicKey(pub)
	return nil
}

// signAndAppend produces the next signature in a condition's chain and
// records it.
func signAndAppend(cond SpendingCondition, cur types.Hash, flag AuthFlag,
	priv *crypto.PrivateKey) (types.Hash, error) {

	sig, next, err := NextSignature(cur, flag, cond.GetFeeRate(), cond.GetNonce(), priv)
	if err != nil {
		return types.Hash{}, err
	}
	switch c := cond.(type) {
	case *SinglesigCondition:
		c.SetSignature(sig)
	case *MultisigCondition:
		encoding := KeyEncodingCompressed
		if !priv.PublicKey().Compressed() {
			encoding = KeyEncodingUncompressed
		}
		c.PushSignature(encoding, sig)
	default:
		return types.Hash{}, ErrIncompatibleSpendingCondition
	}
	return next, nil
}

// VerifyOrigin authenticates the origin condition and returns its final
// rolling sighash — the sponsor's starting point.
func (t *Transaction) VerifyOrigin() (types.Hash, error) {
	return t.Auth.VerifyOrigin(t.InitialSighash())
}

// Verify authenticates the whole authorization.
func (t *Transaction) Verify() error {
	return t.Auth.Verify(t.InitialSighash())
}

// MarshalJSON encodes the transaction as hex of its wire form, so every
// store and bus message round-trips the exact consensus bytes.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(t.Serialize()))
}

// UnmarshalJSON decodes a hex wire form.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid transaction hex: %w", err)
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}
