package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gantry/internal/packet"
	"gantry/internal/transport"
)

// testPeer is the client side of a session under test: a framed transport
// plus a pump draining everything the session writes.
type testPeer struct {
	transport *transport.Plain
	received  chan *packet.Packet
}

func newTestSession(t *testing.T) (*Session, *testPeer, chan *packet.Packet) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})

	requests := make(chan *packet.Packet, 8)
	s, err := New("127.0.0.1:50000", 7, transport.NewPlain(serverConn), func(p *packet.Packet) {
		requests <- p
	})
	require.NoError(t, err)
	t.Cleanup(s.Destroy)

	peer := &testPeer{
		transport: transport.NewPlain(clientConn),
		received:  make(chan *packet.Packet, 8),
	}
	go func() {
		for {
			p, err := peer.transport.ReadPacket()
			if err != nil {
				close(peer.received)
				return
			}
			peer.received <- p
		}
	}()

	return s, peer, requests
}

func newRequest(uid uint32, functionID, seq uint8) *packet.Packet {
	p := &packet.Packet{UID: uid, FunctionID: functionID}
	p.SetSequenceNumber(seq)
	p.SetResponseExpected(true)
	return p
}

func newResponse(uid uint32, functionID, seq uint8) *packet.Packet {
	p := &packet.Packet{UID: uid, FunctionID: functionID}
	p.SetSequenceNumber(seq)
	return p
}

func waitPacket(t *testing.T, ch chan *packet.Packet) *packet.Packet {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
		return nil
	}
}

func assertNoPacket(t *testing.T, ch chan *packet.Packet) {
	t.Helper()
	select {
	case p := <-ch:
		t.Fatalf("unexpected packet: %s", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := New("x", 0, nil, nil)
	assert.Error(t, err)
}

func TestAccessors(t *testing.T) {
	s, _, _ := newTestSession(t)

	assert.Equal(t, "127.0.0.1:50000", s.Name())
	assert.Equal(t, uint32(7), s.Nonce())
	assert.False(t, s.Disconnected())
	assert.Contains(t, s.Info(), "127.0.0.1:50000")
}

func TestResponseMatchesPendingRequest(t *testing.T) {
	s, peer, requests := newTestSession(t)

	require.NoError(t, peer.transport.WritePacket(newRequest(42, 5, 3)))
	req := waitPacket(t, requests)
	assert.Equal(t, uint32(42), req.UID)

	resp := newResponse(42, 5, 3)
	assert.Equal(t, 1, s.Dispatch(resp, false))

	got := waitPacket(t, peer.received)
	assert.Equal(t, uint32(42), got.UID)
	assert.Equal(t, uint8(3), got.SequenceNumber())

	// The match is consumed: the same response no longer matches
	assert.Equal(t, 0, s.Dispatch(resp, false))
	assertNoPacket(t, peer.received)
}

func TestNonMatchingResponseNotWritten(t *testing.T) {
	s, peer, _ := newTestSession(t)

	assert.Equal(t, 0, s.Dispatch(newResponse(1, 1, 9), false))
	assertNoPacket(t, peer.received)
}

func TestBroadcastAlwaysDelivered(t *testing.T) {
	s, peer, requests := newTestSession(t)

	callback := &packet.Packet{UID: 8, FunctionID: 1}
	assert.Equal(t, 0, s.Dispatch(callback, true))
	got := waitPacket(t, peer.received)
	assert.True(t, got.IsCallback())

	// A broadcast delivery never satisfies a pending request
	require.NoError(t, peer.transport.WritePacket(newRequest(42, 5, 4)))
	waitPacket(t, requests)

	resp := newResponse(42, 5, 4)
	assert.Equal(t, 0, s.Dispatch(resp, true))
	waitPacket(t, peer.received)

	assert.Equal(t, 1, s.Dispatch(resp, false), "pending request must survive broadcast delivery")
	waitPacket(t, peer.received)
}

func TestDisconnectOnPeerClose(t *testing.T) {
	s, peer, _ := newTestSession(t)

	require.NoError(t, peer.transport.Close())
	require.Eventually(t, s.Disconnected, 2*time.Second, 10*time.Millisecond)

	// A disconnected session delivers nothing
	assert.Equal(t, 0, s.Dispatch(&packet.Packet{UID: 1}, true))
}

func TestDestroyClosesTransport(t *testing.T) {
	s, peer, _ := newTestSession(t)

	s.Destroy()
	assert.True(t, s.Disconnected())

	_, ok := <-peer.received
	assert.False(t, ok, "peer must observe the transport closing")
}
