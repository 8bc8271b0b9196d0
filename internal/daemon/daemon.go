// Package daemon wires the connection broker into a runnable process:
// configuration, session construction, the periodic disconnect sweep and
// signal-driven shutdown.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"gantry/internal/broker"
	"gantry/internal/config"
	"gantry/internal/logger"
	"gantry/internal/packet"
	"gantry/internal/session"
	"gantry/internal/transport"
)

// cleanupInterval is how often the broker sweeps sessions that flagged
// themselves as disconnected.
const cleanupInterval = time.Second

// Bus consumes inbound request packets read from client sessions. Whatever
// produces responses and callbacks for those requests delivers them back
// through Broker().DispatchResponse.
type Bus interface {
	HandleRequest(p *packet.Packet)
}

// Daemon runs the connection broker.
type Daemon struct {
	config *config.Config
	broker *broker.Broker
	bus    Bus
	logger zerolog.Logger

	running bool
	mutex   sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a daemon from a configuration file. bus may be nil; inbound
// requests are then dropped with a debug log until a bus is attached.
func New(configPath string, bus Bus) (*Daemon, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// The configured level applies first; CLI flags override it later
	if cfg.Daemon.LogLevel != "" {
		logger.SetLevel(cfg.Daemon.LogLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config: cfg,
		bus:    bus,
		logger: logger.New(),
		ctx:    ctx,
		cancel: cancel,
	}

	d.broker = broker.NewBroker(cfg, func(name string, nonce uint32, tr transport.Transport) (broker.Session, error) {
		return session.New(name, nonce, tr, d.handleRequest)
	})

	return d, nil
}

// Broker exposes the connection broker to producers elsewhere in the
// daemon.
func (d *Daemon) Broker() *broker.Broker {
	return d.broker
}

// Start initializes the broker and blocks until a shutdown signal arrives.
func (d *Daemon) Start() error {
	d.mutex.Lock()
	if d.running {
		d.mutex.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.mutex.Unlock()

	d.logger.Info().
		Str("daemon_id", d.config.Daemon.ID).
		Str("listen_address", d.config.Listen.Address).
		Uint16("plain_port", d.config.Listen.PlainPort).
		Uint16("websocket_port", d.config.Listen.WebSocketPort).
		Msg("Starting gantry daemon")

	if err := d.broker.Init(); err != nil {
		d.mutex.Lock()
		d.running = false
		d.mutex.Unlock()

		return fmt.Errorf("failed to initialize connection broker: %w", err)
	}

	go d.cleanupLoop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	d.logger.Info().Msg("Daemon started successfully")

	select {
	case sig := <-sigChan:
		d.logger.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		return d.Stop()
	case <-d.ctx.Done():
		return d.Stop()
	}
}

// Stop shuts the daemon down gracefully.
func (d *Daemon) Stop() error {
	d.mutex.Lock()
	if !d.running {
		d.mutex.Unlock()
		return nil
	}
	d.running = false
	d.mutex.Unlock()

	d.logger.Info().Msg("Stopping gantry daemon")

	d.cancel()
	d.broker.Exit()

	d.logger.Info().Msg("Daemon stopped")
	return nil
}

// IsRunning returns whether the daemon is currently running.
func (d *Daemon) IsRunning() bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.running
}

// cleanupLoop periodically reaps sessions flagged as disconnected.
func (d *Daemon) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.broker.CleanupDisconnected()
		case <-d.ctx.Done():
			return
		}
	}
}

// handleRequest forwards an inbound request onto the packet bus.
func (d *Daemon) handleRequest(p *packet.Packet) {
	if d.bus == nil {
		d.logger.Debug().
			Str("packet", p.RequestSignature()).
			Msg("No packet bus attached, dropping request")
		return
	}

	d.bus.HandleRequest(p)
}
