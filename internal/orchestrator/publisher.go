package orchestrator

import (
	"context"
	"fmt"

	"github.com/onyxflow/workflow-engine/internal/engineerr"
	"github.com/onyxflow/workflow-engine/internal/factstore"
	"github.com/onyxflow/workflow-engine/internal/token"
	"github.com/onyxflow/workflow-engine/internal/transport"
)

// Destination names the (service, operation) a routed token is headed to.
type Destination struct {
	Service   string
	Operation string
}

// Publisher sends a token to its destination place's event-inbound socket.
type Publisher interface {
	Publish(ctx context.Context, dest Destination, tok *token.Token) error
}

// UDPPublisher resolves destinations via the fact store's channel/port
// binding (spec §4.8) and sends the token as an XML datagram (spec §6
// Event payload) with a fresh short-lived send socket (spec §5).
type UDPPublisher struct {
	Store    factstore.Store
	BasePort int // EVENT_BASE_PORT, default 10000
}

// Publish implements Publisher.
func (p *UDPPublisher) Publish(ctx context.Context, dest Destination, tok *token.Token) error {
	resolved, err := transport.ResolveEvent(ctx, p.Store, p.BasePort, dest.Service, dest.Operation)
	if err != nil {
		return fmt.Errorf("orchestrator: resolve %s.%s: %w", dest.Service, dest.Operation, err)
	}
	payload, err := token.Marshal(tok)
	if err != nil {
		return fmt.Errorf("orchestrator: marshal token: %w", err)
	}
	addr := fmt.Sprintf("%s:%d", resolved.Addr, resolved.Port)
	if err := transport.Send(ctx, addr, payload); err != nil {
		return engineerr.Wrap(engineerr.TransientIO,
			fmt.Sprintf("publish to %s.%s at %s", dest.Service, dest.Operation, addr), err)
	}
	return nil
}
