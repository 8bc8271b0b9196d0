package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"gantry/internal/packet"
)

// WebSocket frames packets as binary WebSocket messages, one packet per
// message.
type WebSocket struct {
	conn *websocket.Conn
}

// NewWebSocket wraps an upgraded WebSocket connection.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	conn.SetReadLimit(packet.MaxLength)
	return &WebSocket{conn: conn}
}

// ReadPacket reads the next binary message and decodes it as one packet.
// Non-binary messages are rejected.
func (t *WebSocket) ReadPacket() (*packet.Packet, error) {
	messageType, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read websocket message: %w", err)
	}
	if messageType != websocket.BinaryMessage {
		return nil, fmt.Errorf("unexpected websocket message type %d", messageType)
	}
	return packet.Unmarshal(data)
}

// WritePacket sends one packet as a binary message with a write deadline.
func (t *WebSocket) WritePacket(p *packet.Packet) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, p.Marshal()); err != nil {
		return fmt.Errorf("write websocket message: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (t *WebSocket) Close() error {
	return t.conn.Close()
}

// RemoteAddr returns the peer address.
func (t *WebSocket) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}
