package tx

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Codec errors. Every consensus field is big-endian on the wire.
var (
	// ErrDeserialize indicates bytes that do not decode as the expected
	// structure.
	ErrDeserialize = errors.New("deserialize failed")

	// ErrUnderflow indicates a buffer too short for the next field.
	ErrUnderflow = fmt.Errorf("%w: not enough bytes", ErrDeserialize)
)

// reader walks a wire buffer, tracking the read offset.
type reader struct {
	buf []byte
	off int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

// remaining returns the number of unread bytes.
func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

// peekByte returns the next byte without consuming it.
func (r *reader) peekByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, ErrUnderflow
	}
	return r.buf[r.off], nil
}

func (r *reader) readByte() (byte, error) {
	b, err := r.peekByte()
	if err != nil {
		return 0, err
	}
	r.off++
	return b, nil
}

func (r *reader) readUint16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, ErrUnderflow
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) readUint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, ErrUnderflow
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) readUint64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, ErrUnderflow
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, ErrUnderflow
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+n])
	r.off += n
	return out, nil
}

func appendUint16(buf []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(buf, v)
}

func appendUint32(buf []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(buf, v)
}

func appendUint64(buf []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, v)
}
