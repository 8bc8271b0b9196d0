//go:build windows

package broker

import "syscall"

// listenControl returns the socket control hook applied between socket
// creation and bind. SO_REUSEADDR is skipped here: on Windows it would also
// permit rebinding sockets in any state, and sockets in a lingering closed
// state can be rebound without it. IPv6 sockets still get the configured
// dual-stack mode.
func listenControl(ipv6, dualStack bool) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		if !ipv6 {
			return nil
		}

		var optErr error

		err := c.Control(func(fd uintptr) {
			v6only := 1
			if dualStack {
				v6only = 0
			}
			optErr = syscall.SetsockoptInt(syscall.Handle(fd), syscall.IPPROTO_IPV6, syscall.IPV6_V6ONLY, v6only)
		})
		if err != nil {
			return err
		}

		return optErr
	}
}
