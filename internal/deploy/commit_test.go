package deploy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommitListener(t *testing.T, version string) *CommitListener {
	t.Helper()
	l, err := ListenCommit(context.Background(), "127.0.0.1:0", version)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func sendAck(t *testing.T, l *CommitListener, msg string) {
	t.Helper()
	raddr := l.conn.LocalAddr().(*net.UDPAddr)
	conn, err := net.DialUDP("udp", nil, raddr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(msg))
	require.NoError(t, err)
}

func TestCommitListenerAwaitConfirmsOnAck(t *testing.T) {
	l := newTestCommitListener(t, "v7")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	sendAck(t, l, "CONFIRMED:v7:3")

	assert.True(t, l.Await(3, time.Second))
	assert.Equal(t, 1, l.ConfirmedCount())
}

func TestCommitListenerAwaitTimesOutWithoutAck(t *testing.T) {
	l := newTestCommitListener(t, "v7")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	assert.False(t, l.Await(99, 50*time.Millisecond))
}

func TestCommitListenerDuplicateAckIsNoOp(t *testing.T) {
	l := newTestCommitListener(t, "v1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	sendAck(t, l, "CONFIRMED:v1:1")
	require.True(t, l.Await(1, time.Second))
	sendAck(t, l, "CONFIRMED:v1:1")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, l.ConfirmedCount())
}

func TestCommitListenerIgnoresMalformedAck(t *testing.T) {
	l := newTestCommitListener(t, "v1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	sendAck(t, l, "garbage")
	assert.False(t, l.Await(1, 50*time.Millisecond))
}

func TestCommitListenerIgnoresMismatchedVersion(t *testing.T) {
	l := newTestCommitListener(t, "v1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	sendAck(t, l, "CONFIRMED:v2:1")
	assert.False(t, l.Await(1, 50*time.Millisecond))
	assert.Equal(t, 0, l.ConfirmedCount())
}
