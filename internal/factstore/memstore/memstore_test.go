package memstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyxflow/workflow-engine/internal/factstore"
)

func TestPutAndResolveFallsBackToHasOperation(t *testing.T) {
	s := New()
	s.PutHasOperation("ServiceA", "op1", factstore.ServiceBinding{ChannelID: "a1", Port: 5})

	b, ok, err := factstore.Resolve(context.Background(), s, "ServiceA", "op1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a1", b.ChannelID)
	assert.Equal(t, 5, b.Port)
}

func TestActiveServiceTakesPrecedenceOverHasOperation(t *testing.T) {
	s := New()
	s.PutHasOperation("ServiceA", "op1", factstore.ServiceBinding{ChannelID: "fallback", Port: 1})
	s.PutActiveService("ServiceA", "op1", factstore.ServiceBinding{ChannelID: "active", Port: 2})

	b, ok, err := factstore.Resolve(context.Background(), s, "ServiceA", "op1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "active", b.ChannelID)
}

func TestResolveMissReturnsNotOK(t *testing.T) {
	s := New()
	_, ok, err := factstore.Resolve(context.Background(), s, "Unknown", "op")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadFileParsesFixture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fixture.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"activeServices": [{"service": "ServiceA", "operation": "op1", "channelId": "a1", "port": 5}],
		"hasOperations": [{"service": "ServiceB", "operation": "op2", "channelId": "a2", "port": 6}],
		"channels": {"a1": "10.0.0.1", "a2": "224.0.0.5"}
	}`), 0o644))

	s, err := LoadFile(path)
	require.NoError(t, err)

	b, ok, err := s.ActiveService(context.Background(), "ServiceA", "op1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a1", b.ChannelID)

	addr, ok, err := s.BoundChannel(context.Background(), "a2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "224.0.0.5", addr)
}
