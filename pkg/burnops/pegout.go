package burnops

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Klingon-tech/embernet-chain/pkg/crypto"
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// Parse errors. Callers match with errors.Is; the event loop treats them
// as non-fatal.
var (
	// ErrParse is the generic operation parse failure.
	ErrParse = errors.New("operation parse failed")

	// ErrMalformedPayload indicates a payload shorter than its fixed layout.
	ErrMalformedPayload = fmt.Errorf("%w: malformed payload", ErrParse)
)

// pegOutRequestPayloadLen is the fixed payload size after the magic and
// opcode bytes are stripped: amount(8) followed by a recoverable
// signature(65).
const pegOutRequestPayloadLen = 73

// PegOutRequestOp asks the signer set to release parent-chain funds.
// The recoverable signature authenticates the requesting account.
type PegOutRequestOp struct {
	Amount    uint64           `json:"amount"`
	Signature crypto.Signature `json:"signature"`

	TxID        types.TxID `json:"txid"`
	VTxIndex    uint32     `json:"vtxindex"`
	BlockHeight uint64     `json:"block_height"`
	BurnHeader  types.Hash `json:"burn_header_hash"`
}

// ParsePegOutRequestPayload decodes the fixed 73-byte payload layout:
//
//	offset  size  field
//	0       8     amount (big-endian unsigned)
//	8       65    recoverable ECDSA signature
//
// The magic and opcode bytes must be stripped by the caller.
func ParsePegOutRequestPayload(data []byte) (uint64, crypto.Signature, error) {
	if len(data) < pegOutRequestPayloadLen {
		return 0, crypto.Signature{}, fmt.Errorf("%w: %d bytes, expected %d",
			ErrMalformedPayload, len(data), pegOutRequestPayloadLen)
	}

	amount := binary.BigEndian.Uint64(data[0:8])
	sig, err := crypto.SignatureFromBytes(data[8:pegOutRequestPayloadLen])
	if err != nil {
		return 0, crypto.Signature{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return amount, sig, nil
}

// PegOutRequestFromPayload builds the op from a stripped payload and the
// coordinates of the parent-chain transaction that carried it.
func PegOutRequestFromPayload(data []byte, txid types.TxID, vtxindex uint32,
	blockHeight uint64, burnHeader types.Hash) (*PegOutRequestOp, error) {

	amount, sig, err := ParsePegOutRequestPayload(data)
	if err != nil {
		return nil, err
	}
	return &PegOutRequestOp{
		Amount:      amount,
		Signature:   sig,
		TxID:        txid,
		VTxIndex:    vtxindex,
		BlockHeight: blockHeight,
		BurnHeader:  burnHeader,
	}, nil
}
