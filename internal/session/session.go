// Package session implements the per-client connection state the broker
// registers and dispatches to: transport ownership, the authentication
// nonce, the pending-request table and the disconnected flag.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"gantry/internal/logger"
	"gantry/internal/packet"
	"gantry/internal/transport"
)

// pendingRequestLimit bounds the outstanding-request table per session. When
// a client exceeds it, the oldest pending request is evicted and its
// eventual response will no longer match this session.
const pendingRequestLimit = 32

// RequestHandler receives inbound request packets read from the client and
// forwards them onto the internal packet bus.
type RequestHandler func(p *packet.Packet)

// pendingKey identifies one outstanding request.
type pendingKey struct {
	uid            uint32
	functionID     uint8
	sequenceNumber uint8
}

// Session is one connected client. The disconnected flag is mutated only by
// the session itself (on transport errors); removal is left to the broker's
// periodic sweep.
type Session struct {
	name      string
	nonce     uint32
	transport transport.Transport
	handler   RequestHandler
	pending   *lru.Cache[pendingKey, time.Time]
	logger    zerolog.Logger

	disconnected atomic.Bool
	writeMutex   sync.Mutex
}

// New creates a session, takes ownership of the transport and starts the
// read loop. On error the transport ownership stays with the caller.
func New(name string, nonce uint32, tr transport.Transport, handler RequestHandler) (*Session, error) {
	if tr == nil {
		return nil, errors.New("session requires a transport")
	}

	pending, err := lru.New[pendingKey, time.Time](pendingRequestLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending request table: %w", err)
	}

	s := &Session{
		name:      name,
		nonce:     nonce,
		transport: tr,
		handler:   handler,
		pending:   pending,
		logger:    logger.New(),
	}

	go s.readLoop()

	return s, nil
}

// Name returns the display name derived from the peer address.
func (s *Session) Name() string {
	return s.name
}

// Nonce returns the authentication challenge seed issued at creation.
func (s *Session) Nonce() uint32 {
	return s.nonce
}

// Disconnected reports whether the session observed a transport failure and
// is waiting to be reaped.
func (s *Session) Disconnected() bool {
	return s.disconnected.Load()
}

// Dispatch delivers an outbound packet. For a non-broadcast delivery the
// packet is written only if it matches one of this session's pending
// requests, and the match count is returned. Broadcast deliveries are always
// written and never satisfy a pending request.
func (s *Session) Dispatch(p *packet.Packet, broadcast bool) int {
	if s.disconnected.Load() {
		return 0
	}

	matched := 0
	if !broadcast {
		key := pendingKey{uid: p.UID, functionID: p.FunctionID, sequenceNumber: p.SequenceNumber()}
		if _, ok := s.pending.Get(key); !ok {
			return 0
		}
		s.pending.Remove(key)
		matched = 1
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if err := s.transport.WritePacket(p); err != nil {
		if !s.disconnected.Swap(true) {
			s.logger.Warn().
				Str("client", s.name).
				Str("packet", p.String()).
				Err(err).
				Msg("Could not send packet to client, marking client as disconnected")
		}
	}

	return matched
}

// Destroy closes the transport and drops all pending request state.
func (s *Session) Destroy() {
	s.disconnected.Store(true)
	if err := s.transport.Close(); err != nil {
		s.logger.Debug().
			Str("client", s.name).
			Err(err).
			Msg("Error closing client transport")
	}
	s.pending.Purge()
}

// Info returns a human-readable summary for log output.
func (s *Session) Info() string {
	return fmt.Sprintf("N: %s, A: %d, P: %d", s.name, s.nonce, s.pending.Len())
}

// readLoop reads request packets from the client until the transport fails,
// recording each request that expects a response before handing it to the
// bus handler.
func (s *Session) readLoop() {
	for {
		p, err := s.transport.ReadPacket()
		if err != nil {
			if !s.disconnected.Swap(true) {
				s.logger.Debug().
					Str("client", s.name).
					Err(err).
					Msg("Client transport closed")
			}
			return
		}

		if p.ResponseExpected() && p.SequenceNumber() != 0 {
			key := pendingKey{uid: p.UID, functionID: p.FunctionID, sequenceNumber: p.SequenceNumber()}
			if evicted := s.pending.Add(key, time.Now()); evicted {
				s.logger.Warn().
					Str("client", s.name).
					Int("limit", pendingRequestLimit).
					Msg("Pending request table full, dropping oldest pending request")
			}
		}

		if s.handler != nil {
			s.handler(p)
		}
	}
}
