// Package shutdown implements the two independent ways a service host
// learns it should stop (spec §5 Cancellation & timeouts): a UDP shutdown
// datagram on {ShutdownBase + versionOffset}, and the disappearance of a
// running-marker file the deployer/operator removes to signal a drain.
package shutdown

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/onyxflow/workflow-engine/internal/transport"
)

// Drain is how long a thread gets to finish in-flight work once a shutdown
// signal fires, per spec §5.
const Drain = 2 * time.Second

// Watcher observes both shutdown signals and closes Signal the first time
// either one fires.
type Watcher struct {
	Signal chan struct{}

	markerPath string
	fsw        *fsnotify.Watcher
	udpConn    *net.UDPConn
}

// New creates a Watcher bound to addr for the shutdown datagram and
// watching markerPath's parent directory for the marker's removal.
func New(ctx context.Context, addr, markerPath string) (*Watcher, error) {
	conn, err := transport.Listen(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("shutdown: listen %s: %w", addr, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("shutdown: fsnotify: %w", err)
	}
	dir := filepath.Dir(markerPath)
	if err := fsw.Add(dir); err != nil {
		conn.Close()
		fsw.Close()
		return nil, fmt.Errorf("shutdown: watch %s: %w", dir, err)
	}

	return &Watcher{
		Signal:     make(chan struct{}),
		markerPath: markerPath,
		fsw:        fsw,
		udpConn:    conn,
	}, nil
}

// Close releases the watcher's resources.
func (w *Watcher) Close() error {
	_ = w.fsw.Close()
	return w.udpConn.Close()
}

// Run watches both shutdown channels until ctx is cancelled or one fires;
// Signal is closed exactly once, the first source to trigger wins.
func (w *Watcher) Run(ctx context.Context) {
	var fired bool
	fire := func() {
		if !fired {
			fired = true
			close(w.Signal)
		}
	}

	udpFired := make(chan struct{}, 1)
	go w.watchUDP(ctx, udpFired)

	for {
		select {
		case <-ctx.Done():
			return
		case <-udpFired:
			fire()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name == w.markerPath && (ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0) {
				fire()
				return
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// watchUDP fires only on a datagram carrying the literal payload SHUTDOWN;
// anything else on the socket (a stray probe, a misdirected packet) is
// ignored and the loop keeps listening.
func (w *Watcher) watchUDP(ctx context.Context, fired chan<- struct{}) {
	buf := make([]byte, 64)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, _, err := transport.ReceiveWithTimeout(w.udpConn, 500*time.Millisecond, buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if string(buf[:n]) == "SHUTDOWN" {
			select {
			case fired <- struct{}{}:
			default:
			}
			return
		}
	}
}

// MarkRunning writes the running-marker file (spec §5). Removing or
// renaming it is the operator's drain trigger.
func MarkRunning(path string) error {
	return os.WriteFile(path, []byte("running"), 0o644)
}
