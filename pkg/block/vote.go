package block

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// ErrBadVote indicates bytes that do not decode as a block vote.
var ErrBadVote = errors.New("malformed block vote")

// voteEncodedSize is the wire size of a vote: hash(32) ‖ rejected(1).
const voteEncodedSize = types.HashSize + 1

// Vote is a signer's accept/reject decision on a proposed block,
// addressed by the block's signer-signature hash. Its serialization is
// the message the threshold signing round runs over.
type Vote struct {
	SignerSignatureHash types.Hash `json:"signer_signature_hash"`
	Rejected            bool       `json:"rejected"`
}

// Serialize returns the vote's wire form: hash(32) ‖ rejected(1).
func (v *Vote) Serialize() []byte {
	buf := make([]byte, 0, voteEncodedSize)
	buf = append(buf, v.SignerSignatureHash[:]...)
	if v.Rejected {
		return append(buf, 0x01)
	}
	return append(buf, 0x00)
}

// ParseVote decodes a vote from its wire form.
func ParseVote(buf []byte) (*Vote, error) {
	if len(buf) != voteEncodedSize {
		return nil, fmt.Errorf("%w: %d bytes, expected %d", ErrBadVote, len(buf), voteEncodedSize)
	}
	var v Vote
	copy(v.SignerSignatureHash[:], buf[:types.HashSize])
	switch buf[types.HashSize] {
	case 0x00:
		v.Rejected = false
	case 0x01:
		v.Rejected = true
	default:
		return nil, fmt.Errorf("%w: invalid rejected flag %#x", ErrBadVote, buf[types.HashSize])
	}
	return &v, nil
}
