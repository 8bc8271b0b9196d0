//go:build unix

package broker

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// listenControl returns the socket control hook applied between socket
// creation and bind. On Unix SO_REUSEADDR only allows rebinding sockets left
// in a lingering closed state, which is the desired effect, so it is always
// enabled here. IPv6 sockets additionally get the configured dual-stack
// mode.
func listenControl(ipv6, dualStack bool) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var optErr error

		err := c.Control(func(fd uintptr) {
			optErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			if optErr != nil {
				return
			}

			if ipv6 {
				v6only := 1
				if dualStack {
					v6only = 0
				}
				optErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, v6only)
			}
		})
		if err != nil {
			return err
		}

		return optErr
	}
}
