package transport

import (
	"fmt"
	"io"
	"net"
	"time"

	"gantry/internal/packet"
)

// Plain frames packets directly on a stream socket using the header's
// length field.
type Plain struct {
	conn net.Conn
}

// NewPlain wraps an accepted stream connection.
func NewPlain(conn net.Conn) *Plain {
	return &Plain{conn: conn}
}

// ReadPacket reads the fixed header, validates the declared length and then
// reads the remaining payload.
func (t *Plain) ReadPacket() (*packet.Packet, error) {
	buffer := make([]byte, packet.MaxLength)

	if _, err := io.ReadFull(t.conn, buffer[:packet.HeaderLength]); err != nil {
		return nil, fmt.Errorf("read packet header: %w", err)
	}

	length := buffer[4]
	if err := packet.ValidateLength(length); err != nil {
		return nil, fmt.Errorf("read packet header: %w", err)
	}

	if length > packet.HeaderLength {
		if _, err := io.ReadFull(t.conn, buffer[packet.HeaderLength:length]); err != nil {
			return nil, fmt.Errorf("read packet payload: %w", err)
		}
	}

	return packet.Unmarshal(buffer[:length])
}

// WritePacket sends one packet with a write deadline.
func (t *Plain) WritePacket(p *packet.Packet) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := t.conn.Write(p.Marshal()); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (t *Plain) Close() error {
	return t.conn.Close()
}

// RemoteAddr returns the peer address.
func (t *Plain) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}
