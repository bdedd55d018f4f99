// Package transport resolves (service, operation) bindings to concrete UDP
// addresses (spec §4.8, §6 port map) and provides the socket wrappers the
// deployer, commitment listener and orchestrator use.
package transport

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/onyxflow/workflow-engine/internal/engineerr"
	"github.com/onyxflow/workflow-engine/internal/factstore"
)

// Resolved is the outcome of channel/port resolution: a ready-to-dial UDP
// address plus the channel number used to derive it.
type Resolved struct {
	Addr          string
	ChannelNumber int
	Port          int
}

// ResolveRule resolves a (service, operation) to the UDP address its rule
// handler listens on: BASE_RULE_PORT + channelNumber*1000 + declaredPort.
func ResolveRule(ctx context.Context, store factstore.Store, basePort int, service, operation string) (Resolved, error) {
	return resolve(ctx, store, basePort, 1000, service, operation)
}

// ResolveEvent resolves a (service, operation) to its event-inbound UDP
// address: BASE_EVENT_PORT + channelNumber*1000 + declaredPort.
func ResolveEvent(ctx context.Context, store factstore.Store, basePort int, service, operation string) (Resolved, error) {
	return resolve(ctx, store, basePort, 1000, service, operation)
}

// ResolveSync resolves a (service, operation) to its sync UDP address:
// BASE_SYNC_PORT + channelNumber*100 + declaredPort%100.
func ResolveSync(ctx context.Context, store factstore.Store, basePort int, service, operation string) (Resolved, error) {
	binding, addr, channelNumber, err := lookup(ctx, store, service, operation)
	if err != nil {
		return Resolved{}, err
	}
	port := basePort + channelNumber*100 + binding.Port%100
	return Resolved{Addr: addr, ChannelNumber: channelNumber, Port: port}, nil
}

func resolve(ctx context.Context, store factstore.Store, basePort, channelUnit int, service, operation string) (Resolved, error) {
	binding, addr, channelNumber, err := lookup(ctx, store, service, operation)
	if err != nil {
		return Resolved{}, err
	}
	port := basePort + channelNumber*channelUnit + binding.Port
	return Resolved{Addr: addr, ChannelNumber: channelNumber, Port: port}, nil
}

func lookup(ctx context.Context, store factstore.Store, service, operation string) (factstore.ServiceBinding, string, int, error) {
	binding, ok, err := factstore.Resolve(ctx, store, service, operation)
	if err != nil {
		return binding, "", 0, engineerr.Wrap(engineerr.ServiceNotFound, fmt.Sprintf("%s.%s", service, operation), err)
	}
	if !ok {
		return binding, "", 0, engineerr.New(engineerr.ServiceNotFound, fmt.Sprintf("%s.%s", service, operation))
	}

	addr, ok, err := store.BoundChannel(ctx, binding.ChannelID)
	if err != nil {
		return binding, "", 0, engineerr.Wrap(engineerr.ChannelUnresolved, binding.ChannelID, err)
	}
	if !ok {
		return binding, "", 0, engineerr.New(engineerr.ChannelUnresolved, binding.ChannelID)
	}

	normalized, channelNumber := normalizeChannelAddr(addr, binding.ChannelID)
	return binding, normalized, channelNumber, nil
}

// normalizeChannelAddr implements spec §4.8 step 2/3: a unicast IPv4
// address (first octet 0..223 or 240..255) maps to channel 0 and is kept
// as-is; a multicast address (224.0.0.0/4, i.e. first octet 224..239) is
// normalized to 224.1.{oct3}.{oct4} and its channel number parsed from the
// channel id form ("ipN"/"aN"/multicast).
func normalizeChannelAddr(addr, channelID string) (string, int) {
	octets := strings.Split(addr, ".")
	if len(octets) == 4 {
		if first, err := strconv.Atoi(octets[0]); err == nil {
			if first >= 224 && first <= 239 {
				normalized := fmt.Sprintf("224.1.%s.%s", octets[2], octets[3])
				return normalized, parseChannelNumber(channelID)
			}
			if (first >= 0 && first <= 223) || (first >= 240 && first <= 255) {
				return addr, 0
			}
		}
	}
	return addr, parseChannelNumber(channelID)
}

// parseChannelNumber extracts the numeric suffix from channel ids of the
// form "ipN", "aN", or a bare multicast channel label; falls back to a
// stable hash-derived number when no digits are present.
func parseChannelNumber(channelID string) int {
	digits := strings.TrimFunc(channelID, func(r rune) bool { return r < '0' || r > '9' })
	if digits == "" {
		h := fnv.New32a()
		_, _ = h.Write([]byte(channelID))
		return int(h.Sum32() % 100)
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

// VersionOffset computes the commitment-listener port offset for a deploy
// version, per spec §4.9: the numeric suffix of the version string when
// parseable, else |hash(version)| mod 100 + 1.
func VersionOffset(version string) int {
	digits := strings.TrimFunc(version, func(r rune) bool { return r < '0' || r > '9' })
	if digits != "" {
		if n, err := strconv.Atoi(digits); err == nil {
			return n
		}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(version))
	return int(h.Sum32()%100) + 1
}
