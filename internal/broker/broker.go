// Package broker is the network-facing front end of the daemon: it owns the
// listening sockets for both transport variants, the registry of connected
// client sessions, the per-client authentication nonce counter and the
// routing of outbound packets to the right recipient(s).
package broker

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gantry/internal/config"
	"gantry/internal/logger"
	"gantry/internal/packet"
	"gantry/internal/transport"
)

// Session is the contract a client session must satisfy to be registered
// with the broker. Sessions are individually allocated; the broker holds
// them by reference, so registry compaction never relocates a live session.
type Session interface {
	// Name returns the display name derived from the peer address.
	Name() string

	// Nonce returns the authentication challenge seed issued at creation.
	Nonce() uint32

	// Disconnected reports whether the session has flagged itself as dead.
	// Only the session itself sets the flag; the broker's sweep reaps it.
	Disconnected() bool

	// Dispatch delivers an outbound packet and returns the number of
	// pending requests it satisfied. Broadcast deliveries must never be
	// treated as satisfying a pending request.
	Dispatch(p *packet.Packet, broadcast bool) int

	// Destroy releases the session's transport and state.
	Destroy()

	// Info returns a human-readable summary for log output.
	Info() string
}

// SessionFactory constructs a session for an accepted transport. On error
// the transport ownership stays with the caller, who must dispose of it.
type SessionFactory func(name string, nonce uint32, tr transport.Transport) (Session, error)

// Broker owns the client registry, the nonce counter and the listeners.
// All registry mutation and dispatch runs under one mutex, so each operation
// completes atomically with respect to every other broker operation.
type Broker struct {
	config  *config.Config
	factory SessionFactory
	logger  zerolog.Logger

	mutex     sync.Mutex
	sessions  []Session
	listeners []*Listener

	authEnabled   bool
	nextAuthNonce uint32
}

// NewBroker creates a broker for the given configuration. Sessions for
// accepted transports are constructed through factory.
func NewBroker(cfg *config.Config, factory SessionFactory) *Broker {
	return &Broker{
		config:  cfg,
		factory: factory,
		logger:  logger.New(),
	}
}

// Init opens the configured listeners. Each listener is attempted
// independently; a failed listener simply stays absent and is never
// recreated. Init fails only if no listener could be opened at all.
func (b *Broker) Init() error {
	b.logger.Debug().Msg("Initializing connection broker")

	if b.config.Authentication.Enabled() {
		b.logger.Info().Msg("Authentication is enabled")

		b.authEnabled = true
		b.nextAuthNonce = randomNonceSeed()
	}

	if l, err := b.openListener(VariantPlain, b.config.Listen.PlainPort); err == nil {
		b.listeners = append(b.listeners, l)
	}

	if wsPort := b.config.Listen.WebSocketPort; wsPort != 0 {
		if !b.authEnabled {
			b.logger.Warn().Msg("WebSocket support is enabled without authentication")
		}

		if l, err := b.openListener(VariantWebSocket, wsPort); err == nil {
			b.listeners = append(b.listeners, l)
		}
	}

	if len(b.listeners) == 0 {
		b.logger.Error().Msg("Could not open any socket to listen to")
		return errors.New("could not open any socket to listen to")
	}

	return nil
}

// Exit closes all listeners and destroys every session. Used only at daemon
// shutdown.
func (b *Broker) Exit() {
	b.logger.Debug().Msg("Shutting down connection broker")

	// Stop accepting before tearing down sessions so no create races the
	// teardown.
	for _, l := range b.listeners {
		l.Close()
	}
	b.listeners = nil

	b.mutex.Lock()
	defer b.mutex.Unlock()

	for _, s := range b.sessions {
		s.Destroy()
	}
	b.sessions = nil
}

// CreateClient registers a new session for an accepted transport. The nonce
// counter advances only on success, so nonce values are dense and ordered by
// creation order. On failure the transport ownership reverts to the caller.
func (b *Broker) CreateClient(name string, tr transport.Transport) (Session, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	nonce := b.nextAuthNonce

	s, err := b.factory(name, nonce, tr)
	if err != nil {
		b.logger.Error().
			Str("name", name).
			Err(err).
			Msg("Could not create client session")

		return nil, fmt.Errorf("failed to create client session: %w", err)
	}

	b.nextAuthNonce++ // wraps after 2^32 clients, accepted
	b.sessions = append(b.sessions, s)

	b.logger.Info().
		Str("client", s.Info()).
		Msg("Added new client")

	return s, nil
}

// CleanupDisconnected removes sessions that flagged themselves as
// disconnected. This sweep is the only place sessions are destroyed outside
// of shutdown. Iterating backwards keeps not-yet-visited indices valid while
// compacting.
func (b *Broker) CleanupDisconnected() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for i := len(b.sessions) - 1; i >= 0; i-- {
		s := b.sessions[i]
		if !s.Disconnected() {
			continue
		}

		b.logger.Debug().
			Str("client", s.Info()).
			Msg("Removing disconnected client")

		s.Destroy()
		b.sessions = append(b.sessions[:i], b.sessions[i+1:]...)
	}
}

// DispatchResponse routes an outbound packet. Callbacks (sequence number
// zero) are broadcast to every session in registry order. Responses go to
// the first session with a matching pending request; an unclaimed response
// is broadcast to everyone instead of being dropped, so lost requesters stay
// visible. Dispatch never mutates registry membership.
func (b *Broker) DispatchResponse(p *packet.Packet) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if len(b.sessions) == 0 {
		if p.IsCallback() {
			b.logger.Debug().
				Str("packet", p.CallbackSignature()).
				Msg("No clients connected, dropping callback")
		} else {
			b.logger.Debug().
				Str("packet", p.ResponseSignature()).
				Msg("No clients connected, dropping response")
		}
		return
	}

	if p.IsCallback() {
		b.logger.Debug().
			Str("packet", p.CallbackSignature()).
			Int("clients", len(b.sessions)).
			Msg("Broadcasting callback")

		for _, s := range b.sessions {
			s.Dispatch(p, true)
		}
		return
	}

	b.logger.Debug().
		Str("packet", p.ResponseSignature()).
		Int("clients", len(b.sessions)).
		Msg("Dispatching response")

	for _, s := range b.sessions {
		if s.Dispatch(p, false) > 0 {
			// found client with matching pending request
			return
		}
	}

	b.logger.Warn().
		Str("packet", p.ResponseSignature()).
		Msg("Broadcasting response because no client has a matching pending request")

	for _, s := range b.sessions {
		s.Dispatch(p, true)
	}
}

// Count returns the number of registered sessions.
func (b *Broker) Count() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return len(b.sessions)
}

// Sessions returns a snapshot of the live set in creation order.
func (b *Broker) Sessions() []Session {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	snapshot := make([]Session, len(b.sessions))
	copy(snapshot, b.sessions)
	return snapshot
}

// randomNonceSeed seeds the nonce counter from a non-predictable source.
func randomNonceSeed() uint32 {
	var seed [4]byte
	if _, err := rand.Read(seed[:]); err != nil {
		// Fallback to a time-based seed if crypto/rand fails
		return uint32(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint32(seed[:])
}
