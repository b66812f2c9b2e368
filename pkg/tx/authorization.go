package tx

import (
	"fmt"

	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// Auth is a transaction's authorization: a standard authorization with
// one origin condition, or a sponsored one where a second condition pays
// the fee and nonce on the origin's behalf.
type Auth struct {
	// Origin authorizes the transaction's effects.
	Origin SpendingCondition

	// Sponsor pays for the transaction. Nil for standard authorizations.
	Sponsor SpendingCondition
}

// NewStandardAuth wraps a single condition as a standard authorization.
func NewStandardAuth(origin SpendingCondition) *Auth {
	return &Auth{Origin: origin}
}

// NewSponsoredAuth combines an origin and sponsor condition.
func NewSponsoredAuth(origin, sponsor SpendingCondition) *Auth {
	return &Auth{Origin: origin, Sponsor: sponsor}
}

// IsSponsored reports whether a sponsor condition is present.
func (a *Auth) IsSponsored() bool {
	return a.Sponsor != nil
}

// flag returns the authorization's wire flag.
func (a *Auth) flag() AuthFlag {
	if a.IsSponsored() {
		return AuthSponsored
	}
	return AuthStandard
}

// Serialize returns the wire form: auth_flag(1) ‖ origin ‖ [sponsor].
func (a *Auth) Serialize() []byte {
	buf := []byte{byte(a.flag())}
	buf = append(buf, a.Origin.Serialize()...)
	if a.IsSponsored() {
		buf = append(buf, a.Sponsor.Serialize()...)
	}
	return buf
}

// parseAuth reads an authorization from the wire.
func parseAuth(r *reader) (*Auth, error) {
	flag, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch AuthFlag(flag) {
	case AuthStandard:
		origin, err := ParseSpendingCondition(r)
		if err != nil {
			return nil, err
		}
		return NewStandardAuth(origin), nil
	case AuthSponsored:
		origin, err := ParseSpendingCondition(r)
		if err != nil {
			return nil, err
		}
		sponsor, err := ParseSpendingCondition(r)
		if err != nil {
			return nil, err
		}
		return NewSponsoredAuth(origin, sponsor), nil
	default:
		return nil, fmt.Errorf("%w: unrecognized auth flag %d", ErrDeserialize, flag)
	}
}

// ParseAuthBytes parses an authorization from a standalone buffer,
// requiring full consumption.
func ParseAuthBytes(buf []byte) (*Auth, error) {
	r := newReader(buf)
	auth, err := parseAuth(r)
	if err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrDeserialize, r.remaining())
	}
	return auth, nil
}

// IntoInitialSighashAuth returns the canonical zeroed copy used to
// compute the initial sighash: the origin is cleared, and a sponsored
// authorization's sponsor slot is replaced by the sentinel condition —
// the origin commits to being sponsored without knowing by whom.
func (a *Auth) IntoInitialSighashAuth() *Auth {
	origin := a.Origin.Clone()
	origin.Clear()
	if !a.IsSponsored() {
		return NewStandardAuth(origin)
	}
	return NewSponsoredAuth(origin, NewInitialSighashCondition())
}

// SetSponsor replaces the sponsor condition. Fails on a standard
// authorization.
func (a *Auth) SetSponsor(sponsor SpendingCondition) error {
	if !a.IsSponsored() {
		return ErrIncompatibleSpendingCondition
	}
	a.Sponsor = sponsor
	return nil
}

// OriginNonce returns the origin condition's nonce.
func (a *Auth) OriginNonce() uint64 {
	return a.Origin.GetNonce()
}

// SetOriginNonce sets the origin condition's nonce.
func (a *Auth) SetOriginNonce(n uint64) {
	a.Origin.SetNonce(n)
}

// SponsorNonce returns the sponsor's nonce, if sponsored.
func (a *Auth) SponsorNonce() (uint64, bool) {
	if !a.IsSponsored() {
		return 0, false
	}
	return a.Sponsor.GetNonce(), true
}

// SetSponsorNonce sets the sponsor's nonce. Fails on a standard
// authorization.
func (a *Auth) SetSponsorNonce(n uint64) error {
	if !a.IsSponsored() {
		return ErrIncompatibleSpendingCondition
	}
	a.Sponsor.SetNonce(n)
	return nil
}

// FeeRate returns the fee rate of the paying condition: the sponsor if
// present, else the origin.
func (a *Auth) FeeRate() uint64 {
	if a.IsSponsored() {
		return a.Sponsor.GetFeeRate()
	}
	return a.Origin.GetFeeRate()
}

// SetFeeRate sets the fee rate on the paying condition.
func (a *Auth) SetFeeRate(fee uint64) {
	if a.IsSponsored() {
		a.Sponsor.SetFeeRate(fee)
		return
	}
	a.Origin.SetFeeRate(fee)
}

// VerifyOrigin authenticates the origin condition against the initial
// sighash and returns its final rolling sighash. The origin always
// signs with the standard flag, even in a sponsored authorization.
func (a *Auth) VerifyOrigin(initial types.Hash) (types.Hash, error) {
	return a.Origin.Verify(initial, AuthStandard)
}

// Verify authenticates both halves. The sponsor's verification chains
// from the origin's final sighash under the sponsored flag.
func (a *Auth) Verify(initial types.Hash) error {
	originSighash, err := a.VerifyOrigin(initial)
	if err != nil {
		return err
	}
	if !a.IsSponsored() {
		return nil
	}
	_, err = a.Sponsor.Verify(originSighash, AuthSponsored)
	return err
}

// Clear zeroes fee rates, nonces, and signatures in both conditions.
func (a *Auth) Clear() {
	a.Origin.Clear()
	if a.IsSponsored() {
		a.Sponsor.Clear()
	}
}

// Clone returns a deep copy.
func (a *Auth) Clone() *Auth {
	clone := &Auth{Origin: a.Origin.Clone()}
	if a.IsSponsored() {
		clone.Sponsor = a.Sponsor.Clone()
	}
	return clone
}
