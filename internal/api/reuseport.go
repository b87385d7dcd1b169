package api

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseportListenConfig returns a net.ListenConfig whose Control sets
// SO_REUSEPORT on the socket before bind, letting multiple worker goroutines
// each own a listener on the same address with the kernel load-balancing
// accept() across them (rift's "workers" setting). On platforms where
// SO_REUSEPORT isn't available the setsockopt error is returned to the
// caller of Listen, not swallowed here; Server.Start then logs a warning and
// falls back to a single listener.
func reuseportListenConfig() *net.ListenConfig {
	return &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var controlErr error
			err := c.Control(func(fd uintptr) {
				controlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return controlErr
		},
	}
}

// listenReuseport opens one listener per worker on addr, each with
// SO_REUSEPORT set so the kernel spreads accepted connections across them.
func listenReuseport(ctx context.Context, addr string, workers int) ([]net.Listener, error) {
	lc := reuseportListenConfig()
	listeners := make([]net.Listener, 0, workers)
	for i := 0; i < workers; i++ {
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			for _, opened := range listeners {
				opened.Close()
			}
			return nil, err
		}
		listeners = append(listeners, ln)
	}
	return listeners, nil
}
