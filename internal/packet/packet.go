// Package packet implements the fixed-header wire format exchanged between
// clients and the internal packet bus.
package packet

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderLength is the size of the fixed packet header in bytes.
	HeaderLength = 8

	// MaxPayloadLength is the largest payload a single packet may carry.
	MaxPayloadLength = 64

	// MaxLength is the largest valid total packet size.
	MaxLength = HeaderLength + MaxPayloadLength
)

// Header layout (little-endian):
//
//	offset 0  uint32  UID
//	offset 4  uint8   total length (header + payload)
//	offset 5  uint8   function ID
//	offset 6  uint8   sequence number (bits 4-7), response expected (bit 3)
//	offset 7  uint8   error code (bits 6-7)
//
// A sequence number of zero marks the packet as a callback: unsolicited and
// broadcast-eligible. Any other sequence number marks it as a response to a
// specific prior request.
type Packet struct {
	UID                uint32
	FunctionID         uint8
	SequenceAndOptions uint8
	ErrorCodeAndFuture uint8
	Payload            []byte
}

// Length returns the total on-wire length of the packet.
func (p *Packet) Length() uint8 {
	return uint8(HeaderLength + len(p.Payload))
}

// SequenceNumber returns the 4-bit sequence number of the packet.
func (p *Packet) SequenceNumber() uint8 {
	return (p.SequenceAndOptions >> 4) & 0x0f
}

// SetSequenceNumber stores the lower 4 bits of seq in the options byte.
func (p *Packet) SetSequenceNumber(seq uint8) {
	p.SequenceAndOptions = (p.SequenceAndOptions & 0x0f) | ((seq & 0x0f) << 4)
}

// ResponseExpected reports whether the sender expects a response.
func (p *Packet) ResponseExpected() bool {
	return p.SequenceAndOptions&0x08 != 0
}

// SetResponseExpected sets or clears the response-expected flag.
func (p *Packet) SetResponseExpected(expected bool) {
	if expected {
		p.SequenceAndOptions |= 0x08
	} else {
		p.SequenceAndOptions &^= 0x08
	}
}

// ErrorCode returns the 2-bit error code of a response packet.
func (p *Packet) ErrorCode() uint8 {
	return (p.ErrorCodeAndFuture >> 6) & 0x03
}

// IsCallback reports whether the packet is an unsolicited callback. The
// sequence number is the sole routing key: zero means callback, non-zero
// means response.
func (p *Packet) IsCallback() bool {
	return p.SequenceNumber() == 0
}

// Marshal encodes the packet into its on-wire representation.
func (p *Packet) Marshal() []byte {
	data := make([]byte, HeaderLength+len(p.Payload))
	binary.LittleEndian.PutUint32(data[0:4], p.UID)
	data[4] = p.Length()
	data[5] = p.FunctionID
	data[6] = p.SequenceAndOptions
	data[7] = p.ErrorCodeAndFuture
	copy(data[HeaderLength:], p.Payload)
	return data
}

// Unmarshal decodes a complete packet from data.
func Unmarshal(data []byte) (*Packet, error) {
	if len(data) < HeaderLength {
		return nil, fmt.Errorf("packet too short: %d bytes", len(data))
	}

	length := data[4]
	if err := ValidateLength(length); err != nil {
		return nil, err
	}
	if int(length) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d, got %d bytes", length, len(data))
	}

	p := &Packet{
		UID:                binary.LittleEndian.Uint32(data[0:4]),
		FunctionID:         data[5],
		SequenceAndOptions: data[6],
		ErrorCodeAndFuture: data[7],
	}
	if length > HeaderLength {
		p.Payload = make([]byte, length-HeaderLength)
		copy(p.Payload, data[HeaderLength:])
	}

	return p, nil
}

// ValidateLength checks that a header-declared packet length is in range.
func ValidateLength(length uint8) error {
	if length < HeaderLength || length > MaxLength {
		return fmt.Errorf("invalid packet length %d (must be %d..%d)", length, HeaderLength, MaxLength)
	}
	return nil
}

// RequestSignature renders a request packet for log output.
func (p *Packet) RequestSignature() string {
	return fmt.Sprintf("U: %d, L: %d, F: %d, S: %d, R: %t",
		p.UID, p.Length(), p.FunctionID, p.SequenceNumber(), p.ResponseExpected())
}

// ResponseSignature renders a response packet for log output.
func (p *Packet) ResponseSignature() string {
	return fmt.Sprintf("U: %d, L: %d, F: %d, S: %d, E: %d",
		p.UID, p.Length(), p.FunctionID, p.SequenceNumber(), p.ErrorCode())
}

// CallbackSignature renders a callback packet for log output.
func (p *Packet) CallbackSignature() string {
	return fmt.Sprintf("U: %d, L: %d, F: %d", p.UID, p.Length(), p.FunctionID)
}

// String renders the packet according to its routing kind.
func (p *Packet) String() string {
	if p.IsCallback() {
		return p.CallbackSignature()
	}
	return p.ResponseSignature()
}
