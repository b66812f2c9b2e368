package threshold

import (
	"encoding/json"
	"fmt"
)

// MessageKind identifies a protocol message within a packet.
type MessageKind int

// Protocol message kinds, in round order.
const (
	MsgDkgBegin MessageKind = iota
	MsgDkgPublicShares
	MsgDkgPrivateBegin
	MsgDkgPrivateShares
	MsgDkgEndBegin
	MsgDkgEnd
	MsgNonceRequest
	MsgNonceResponse
	MsgSignatureShareRequest
	MsgSignatureShareResponse
)

// String returns the message kind name.
func (k MessageKind) String() string {
	switch k {
	case MsgDkgBegin:
		return "dkg_begin"
	case MsgDkgPublicShares:
		return "dkg_public_shares"
	case MsgDkgPrivateBegin:
		return "dkg_private_begin"
	case MsgDkgPrivateShares:
		return "dkg_private_shares"
	case MsgDkgEndBegin:
		return "dkg_end_begin"
	case MsgDkgEnd:
		return "dkg_end"
	case MsgNonceRequest:
		return "nonce_request"
	case MsgNonceResponse:
		return "nonce_response"
	case MsgSignatureShareRequest:
		return "signature_share_request"
	case MsgSignatureShareResponse:
		return "signature_share_response"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Message is one protocol message. The coordinator's nonce and
// signature-share requests carry the bytes being signed in Message;
// a signer may rewrite that field before responding (to vote no, or to
// guard against a dishonest coordinator). Data carries the library's
// internal payload and is opaque at this layer.
type Message struct {
	Kind   MessageKind `json:"kind"`
	DkgID  uint64      `json:"dkg_id,omitempty"`
	SignID uint64      `json:"sign_id,omitempty"`

	// SignerID identifies the originating signer for response messages.
	SignerID uint32 `json:"signer_id,omitempty"`

	// Message is the payload under signature for request messages.
	Message []byte `json:"message,omitempty"`

	// Data is the library-internal message body.
	Data []byte `json:"data,omitempty"`
}

// IsCoordinatorMessage reports whether only the elected coordinator may
// originate this message kind.
func (m *Message) IsCoordinatorMessage() bool {
	switch m.Kind {
	case MsgDkgBegin, MsgDkgPrivateBegin, MsgDkgEndBegin, MsgNonceRequest, MsgSignatureShareRequest:
		return true
	default:
		return false
	}
}

// Packet is a signed protocol message as carried on the signer bus.
type Packet struct {
	Msg Message `json:"msg"`
	Sig []byte  `json:"sig"`
}

// Encode serializes the packet for the bus.
func (p *Packet) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePacket deserializes a packet received from the bus.
func DecodePacket(data []byte) (*Packet, error) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode packet: %w", err)
	}
	return &p, nil
}
