package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"gantry/internal/transport"
)

// Variant tags the transport variant a listener accepts.
type Variant string

const (
	// VariantPlain accepts plain stream connections.
	VariantPlain Variant = "plain"

	// VariantWebSocket accepts HTTP connections upgraded to WebSocket.
	VariantWebSocket Variant = "websocket"
)

// Listener is one open, bound, listening socket for one transport variant,
// plus the goroutine accepting from it. A listener that fails to open stays
// absent; it is never recreated while the broker runs.
type Listener struct {
	variant  Variant
	listener net.Listener
	server   *http.Server // WebSocket variant only
	upgrader websocket.Upgrader
	broker   *Broker
	logger   zerolog.Logger
	done     chan struct{}
}

// openListener opens a listening socket for one transport variant. The
// setup is transactional: every phase that fails releases exactly the
// resources acquired so far, so a failed open leaves nothing behind. The
// two configured listeners are attempted independently and the broker
// tolerates one of them failing.
func (b *Broker) openListener(variant Variant, port uint16) (l *Listener, err error) {
	address := b.config.Listen.Address
	dualStack := b.config.Listen.DualStack

	b.logger.Debug().
		Str("variant", string(variant)).
		Uint16("port", port).
		Msg("Opening server socket")

	// Resolve the listen address. Failure here holds no resources.
	ip, err := netip.ParseAddr(address)
	if err != nil {
		b.logger.Error().
			Str("address", address).
			Uint16("port", port).
			Err(err).
			Msg("Could not resolve listen address")

		return nil, fmt.Errorf("failed to resolve listen address %q: %w", address, err)
	}

	ipv6 := ip.Is6() && !ip.Is4In6()
	network := "tcp4"
	if ipv6 {
		network = "tcp6"
	}

	// Socket creation, dual-stack mode, address reuse, bind and listen are
	// one acquisition: the control hook applies the socket options between
	// creation and bind, and any failure inside releases the socket.
	lc := net.ListenConfig{
		Control: listenControl(ipv6, dualStack),
	}

	ln, err := lc.Listen(context.Background(), network,
		net.JoinHostPort(address, strconv.Itoa(int(port))))
	if err != nil {
		b.logger.Error().
			Str("address", address).
			Str("family", familyName(ipv6, dualStack)).
			Uint16("port", port).
			Err(err).
			Msg("Could not open server socket")

		return nil, fmt.Errorf("failed to open %s server socket on port %d: %w", variant, port, err)
	}

	// From here on the socket is held; release it on any later failure.
	defer func() {
		if err != nil {
			ln.Close()
		}
	}()

	l = &Listener{
		variant:  variant,
		listener: ln,
		broker:   b,
		logger:   b.logger,
		done:     make(chan struct{}),
	}

	switch variant {
	case VariantPlain:
		go l.acceptLoop()

	case VariantWebSocket:
		l.upgrader = websocket.Upgrader{
			ReadBufferSize:  transportBufferSize,
			WriteBufferSize: transportBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		}

		router := mux.NewRouter()
		router.HandleFunc("/", l.handleUpgrade)
		l.server = &http.Server{Handler: router}

		go l.serveWebSocket()

	default:
		err = fmt.Errorf("unknown listener variant %q", variant)
		return nil, err
	}

	b.logger.Info().
		Str("address", address).
		Str("family", familyName(ipv6, dualStack)).
		Str("variant", string(variant)).
		Str("listen_addr", ln.Addr().String()).
		Msg("Started listening")

	return l, nil
}

const transportBufferSize = 1024

// Addr returns the bound address of the listening socket.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Variant returns the transport variant this listener accepts.
func (l *Listener) Variant() Variant {
	return l.variant
}

// Close shuts the listening socket down and waits for the accept goroutine
// to finish.
func (l *Listener) Close() {
	if l.server != nil {
		if err := l.server.Close(); err != nil {
			l.logger.Debug().Err(err).Msg("Error closing WebSocket server")
		}
	} else {
		if err := l.listener.Close(); err != nil {
			l.logger.Debug().Err(err).Msg("Error closing server socket")
		}
	}

	<-l.done
}

// acceptLoop accepts plain stream connections until the socket closes. An
// interrupted accept is not an error and is silently retried.
func (l *Listener) acceptLoop() {
	defer close(l.done)

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if errors.Is(err, syscall.EINTR) {
				continue
			}

			l.logger.Error().
				Err(err).
				Msg("Could not accept new client connection")
			continue
		}

		l.handleAccept(transport.NewPlain(conn))
	}
}

// serveWebSocket runs the HTTP server that upgrades connections on the
// WebSocket port.
func (l *Listener) serveWebSocket() {
	defer close(l.done)

	if err := l.server.Serve(l.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.logger.Error().
			Err(err).
			Msg("WebSocket server failed")
	}
}

// handleUpgrade upgrades an HTTP request to a WebSocket connection and
// hands it to the registry like any accepted transport.
func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn().
			Str("remote", r.RemoteAddr).
			Err(err).
			Msg("Could not upgrade connection to WebSocket")
		return
	}

	l.handleAccept(transport.NewWebSocket(conn))
}

// handleAccept resolves a display name for the accepted transport and hands
// it to the client registry. If creation fails the transport is fully
// released here, so no handle leaks.
func (l *Listener) handleAccept(tr transport.Transport) {
	name := l.peerName(tr.RemoteAddr())

	if _, err := l.broker.CreateClient(name, tr); err != nil {
		tr.Close()
	}
}

// unknownPeerName is the placeholder used when the peer address cannot be
// resolved to a host:port string.
const unknownPeerName = "<unknown>"

// peerName renders the peer address as "host:port", bracketing IPv6 hosts.
// Resolution failure is a warning, never fatal.
func (l *Listener) peerName(addr net.Addr) string {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok || tcpAddr == nil || tcpAddr.IP == nil {
		l.logger.Warn().
			Str("variant", string(l.variant)).
			Msg("Could not get hostname and port of client")

		return unknownPeerName
	}

	// JoinHostPort brackets IPv6 hosts
	return net.JoinHostPort(tcpAddr.IP.String(), strconv.Itoa(tcpAddr.Port))
}

// familyName names the address family for log output.
func familyName(ipv6, dualStack bool) string {
	switch {
	case ipv6 && dualStack:
		return "IPv6 dual-stack"
	case ipv6:
		return "IPv6"
	default:
		return "IPv4"
	}
}
