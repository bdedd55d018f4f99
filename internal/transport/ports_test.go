package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyxflow/workflow-engine/internal/factstore"
	"github.com/onyxflow/workflow-engine/internal/factstore/memstore"
)

func TestResolveRuleUnicastChannelZero(t *testing.T) {
	store := memstore.New()
	store.PutActiveService("svc1", "op1", factstore.ServiceBinding{ChannelID: "ip1", Port: 100})
	store.PutBoundChannel("ip1", "10.0.0.5")

	r, err := ResolveRule(context.Background(), store, 20000, "svc1", "op1")
	require.NoError(t, err)
	assert.Equal(t, 0, r.ChannelNumber)
	assert.Equal(t, 20100, r.Port)
	assert.Equal(t, "10.0.0.5", r.Addr)
}

func TestResolveRuleMulticastNormalizesAddr(t *testing.T) {
	store := memstore.New()
	store.PutActiveService("svc2", "op2", factstore.ServiceBinding{ChannelID: "ip3", Port: 50})
	store.PutBoundChannel("ip3", "224.0.9.10")

	r, err := ResolveRule(context.Background(), store, 20000, "svc2", "op2")
	require.NoError(t, err)
	assert.Equal(t, 3, r.ChannelNumber)
	assert.Equal(t, "224.1.9.10", r.Addr)
	assert.Equal(t, 20000+3*1000+50, r.Port)
}

func TestNormalizeChannelAddrCoversFullMulticastRange(t *testing.T) {
	cases := []struct {
		name string
		addr string
		want string
	}{
		{"low boundary 224", "224.0.9.10", "224.1.9.10"},
		{"mid-range 230", "230.5.9.10", "224.1.9.10"},
		{"high boundary 239", "239.255.9.10", "224.1.9.10"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			normalized, _ := normalizeChannelAddr(tc.addr, "ip3")
			assert.Equal(t, tc.want, normalized)
		})
	}
}

func TestNormalizeChannelAddrLeavesUnicastBoundariesUntouched(t *testing.T) {
	cases := []struct {
		name string
		addr string
	}{
		{"just below multicast", "223.255.255.255"},
		{"just above multicast", "240.0.0.0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			normalized, channel := normalizeChannelAddr(tc.addr, "ip3")
			assert.Equal(t, tc.addr, normalized)
			assert.Equal(t, 0, channel)
		})
	}
}

func TestResolveRuleMulticastNormalizesAcrossFullRange(t *testing.T) {
	store := memstore.New()
	store.PutActiveService("svc4", "op4", factstore.ServiceBinding{ChannelID: "ip7", Port: 50})
	store.PutBoundChannel("ip7", "239.1.9.10")

	r, err := ResolveRule(context.Background(), store, 20000, "svc4", "op4")
	require.NoError(t, err)
	assert.Equal(t, 7, r.ChannelNumber)
	assert.Equal(t, "224.1.9.10", r.Addr)
	assert.Equal(t, 20000+7*1000+50, r.Port)
}

func TestResolveFallsBackToHasOperation(t *testing.T) {
	store := memstore.New()
	store.PutHasOperation("svc3", "op3", factstore.ServiceBinding{ChannelID: "ip0", Port: 7})
	store.PutBoundChannel("ip0", "192.168.1.1")

	r, err := ResolveEvent(context.Background(), store, 10000, "svc3", "op3")
	require.NoError(t, err)
	assert.Equal(t, 10007, r.Port)
}

func TestResolveServiceNotFound(t *testing.T) {
	store := memstore.New()
	_, err := ResolveRule(context.Background(), store, 20000, "missing", "op")
	assert.Error(t, err)
}

func TestVersionOffsetParsesNumericSuffix(t *testing.T) {
	assert.Equal(t, 12, VersionOffset("v12"))
}

func TestVersionOffsetHashesNonNumericVersion(t *testing.T) {
	offset := VersionOffset("release-candidate")
	assert.GreaterOrEqual(t, offset, 1)
	assert.LessOrEqual(t, offset, 100)
}
