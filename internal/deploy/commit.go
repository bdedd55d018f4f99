package deploy

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/onyxflow/workflow-engine/internal/transport"
)

// CommitListener is the per-deploy dedicated socket that waits for
// CONFIRMED:{version}:{commitment} acks from rule handlers (spec §4.9).
// One instance is created per Deploy call and torn down when the deploy
// finishes.
type CommitListener struct {
	conn    *net.UDPConn
	version string

	mu        sync.Mutex
	waiters   map[int]chan struct{}
	confirmed map[int]bool
}

// ListenCommit binds addr as the commitment listener's socket for one
// deploy of version; acks carrying any other version are ignored.
func ListenCommit(ctx context.Context, addr, version string) (*CommitListener, error) {
	conn, err := transport.Listen(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("deploy: commitment listener: %w", err)
	}
	return &CommitListener{conn: conn, version: version, waiters: make(map[int]chan struct{}), confirmed: make(map[int]bool)}, nil
}

// Close releases the listener's socket.
func (c *CommitListener) Close() error { return c.conn.Close() }

// Serve reads acks until ctx is cancelled. Safe to run in its own goroutine
// for the lifetime of one deploy.
func (c *CommitListener) Serve(ctx context.Context) error {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, _, err := transport.ReceiveWithTimeout(c.conn, 200*time.Millisecond, buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue // read timeout, loop and recheck ctx
		}
		c.handleAck(string(buf[:n]))
	}
}

// handleAck parses and records one CONFIRMED ack. An ack for a different
// deploy version is ignored, and a duplicate ack for an already-confirmed
// commitment is a no-op, satisfying idempotence (spec §8 "Commitment
// idempotence").
func (c *CommitListener) handleAck(msg string) {
	parts := strings.SplitN(msg, ":", 3)
	if len(parts) != 3 || parts[0] != "CONFIRMED" || parts[1] != c.version {
		return
	}
	commitment, err := strconv.Atoi(parts[2])
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.confirmed[commitment] {
		return
	}
	c.confirmed[commitment] = true
	if w, ok := c.waiters[commitment]; ok {
		close(w)
		delete(c.waiters, commitment)
	}
}

// Await blocks until commitment is acked or timeout elapses, returning
// whether it was confirmed in time.
func (c *CommitListener) Await(commitment int, timeout time.Duration) bool {
	c.mu.Lock()
	if c.confirmed[commitment] {
		c.mu.Unlock()
		return true
	}
	ch, ok := c.waiters[commitment]
	if !ok {
		ch = make(chan struct{})
		c.waiters[commitment] = ch
	}
	c.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// ConfirmedCount returns how many distinct commitments have been
// acknowledged so far.
func (c *CommitListener) ConfirmedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.confirmed)
}
