package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"
)

// Listen binds a long-lived UDP socket with SO_REUSEADDR, as every
// dedicated listener thread in the engine requires (spec §5 Resource
// policy). SO_REUSEADDR is a raw socket option with no idiomatic
// third-party wrapper in the ecosystem; net.ListenConfig.Control is the
// standard-library mechanism for it.
func Listen(ctx context.Context, addr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return pc.(*net.UDPConn), nil
}

// Send opens a short-lived send socket bound to an ephemeral port with
// SO_REUSEADDR, writes payload to addr, and closes the socket unconditionally
// on every exit path (spec §5 Resource policy).
func Send(ctx context.Context, addr string, payload []byte) error {
	conn, err := Listen(ctx, ":0")
	if err != nil {
		return err
	}
	defer conn.Close()

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	if _, err := conn.WriteTo(payload, raddr); err != nil {
		return fmt.Errorf("transport: send to %s: %w", addr, err)
	}
	return nil
}

// ReceiveWithTimeout reads a single datagram from conn, returning its
// payload and sender. A zero timeout disables the deadline.
func ReceiveWithTimeout(conn *net.UDPConn, timeout time.Duration, buf []byte) (int, net.Addr, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, nil, fmt.Errorf("transport: set read deadline: %w", err)
		}
	}
	n, addr, err := conn.ReadFrom(buf)
	if err != nil {
		return 0, nil, err
	}
	return n, addr, nil
}
