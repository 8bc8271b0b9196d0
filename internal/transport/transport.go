// Package transport provides the framed, packet-oriented connection types
// the connection broker hands to client sessions. Two variants exist: plain
// stream sockets and WebSocket connections carrying binary frames.
package transport

import (
	"net"
	"time"

	"gantry/internal/packet"
)

// writeTimeout bounds a single packet write so a stalled peer cannot wedge
// dispatch indefinitely.
const writeTimeout = 10 * time.Second

// Transport is a framed connection to one client. A transport is owned by
// exactly one component at a time: the listener that accepted it until the
// session is created, the session afterwards.
type Transport interface {
	// ReadPacket blocks until a complete packet arrives or the connection
	// fails.
	ReadPacket() (*packet.Packet, error)

	// WritePacket sends one complete packet.
	WritePacket(p *packet.Packet) error

	// Close releases the underlying connection. Safe to call more than once.
	Close() error

	// RemoteAddr returns the peer address, or nil if unknown.
	RemoteAddr() net.Addr
}
