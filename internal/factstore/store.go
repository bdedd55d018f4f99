// Package factstore defines the query interface the validator and the
// channel/port resolver use against the external rule fact store. The fact
// store itself — and the rule-language interpreter behind it — is out of
// scope for this engine (spec §1); this package only describes the shape of
// the queries the core issues.
package factstore

import "context"

// ServiceBinding is the row shape returned by activeService/4 and
// hasOperation/4: the channel and declared port a (service, operation) pair
// is bound to.
type ServiceBinding struct {
	ChannelID string
	Port      int
}

// Store answers the pattern queries the deployer and validator need.
// Implementations may hit a real rule-language fact base, a database, or
// (for tests and local development) an in-memory fixture.
type Store interface {
	// ActiveService resolves a currently-active (service, operation)
	// binding. ok=false means no matching fact, not an error.
	ActiveService(ctx context.Context, service, operation string) (ServiceBinding, bool, error)

	// HasOperation is the fallback query used when ActiveService misses.
	HasOperation(ctx context.Context, service, operation string) (ServiceBinding, bool, error)

	// BoundChannel resolves the network address bound to a channel id.
	BoundChannel(ctx context.Context, channelID string) (addr string, ok bool, err error)
}

// Resolve runs ActiveService, falling back to HasOperation on a miss, per
// spec §4.1 step 1 / §4.8 step 1.
func Resolve(ctx context.Context, s Store, service, operation string) (ServiceBinding, bool, error) {
	if b, ok, err := s.ActiveService(ctx, service, operation); err != nil {
		return ServiceBinding{}, false, err
	} else if ok {
		return b, true, nil
	}
	return s.HasOperation(ctx, service, operation)
}
