// Package rulehandler is the per-host Rule Handler: it receives rule
// payload datagrams pushed by the deployer (spec §4.2 step 5, §6 Rule
// payload), registers them into a version-keyed rule-base registry the
// orchestrators query, and acknowledges each one back to the deployer's
// commitment listener with a CONFIRMED datagram (spec §4.9).
package rulehandler

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/onyxflow/workflow-engine/internal/model"
	"github.com/onyxflow/workflow-engine/internal/rulebase"
	"github.com/onyxflow/workflow-engine/internal/token"
	"github.com/onyxflow/workflow-engine/internal/transport"
)

// RuleBase is the runtime shape of the atoms a place's orchestrator needs
// to coordinate inputs and select routes (spec §4.6 step 4).
type RuleBase struct {
	NodeType          model.NodeType
	JoinInputCount    int
	HasJoinInputCount bool
	DecisionValues    []rulebase.DecisionValueAtom
	MeetsConditions   []rulebase.MeetsCondition
	TerminatesOn      []rulebase.TerminatesOn
	Buffer            int
	HasBuffer         bool
}

// FromPayload parses a received rule payload's atoms into a RuleBase.
func FromPayload(p *token.RulePayload) RuleBase {
	rb := RuleBase{NodeType: model.NodeType(p.Data.Data.NodeType)}
	if p.Data.Data.JoinInputCount != nil {
		rb.JoinInputCount = *p.Data.Data.JoinInputCount
		rb.HasJoinInputCount = true
	}
	for _, dv := range p.Data.Data.DecisionValues {
		rb.DecisionValues = append(rb.DecisionValues, rulebase.DecisionValueAtom{ConditionType: dv.ConditionType, Value: dv.Value})
	}
	for _, mc := range p.Data.Data.MeetsConditions {
		rb.MeetsConditions = append(rb.MeetsConditions, rulebase.MeetsCondition{
			NextService: mc.NextService, NextOperation: mc.NextOperation,
			ConditionType: mc.ConditionType, DecisionValue: mc.DecisionValue,
		})
	}
	for _, t := range p.Data.Data.TerminatesOn {
		rb.TerminatesOn = append(rb.TerminatesOn, rulebase.TerminatesOn{Service: t.Service, Operation: t.Operation})
	}
	if p.Target.Buffer != nil {
		rb.Buffer = *p.Target.Buffer
		rb.HasBuffer = true
	}
	return rb
}

type registryKey struct {
	service, operation, version string
}

// Registry holds every rule base this host has received, grouped by
// (service, operation, version). Versions stay registered for the life of
// the Registry; nothing evicts them (spec §5 "Rule-base contents are cached
// per version").
type Registry struct {
	mu    sync.RWMutex
	bases map[registryKey]RuleBase
	valid map[string]bool // locally-registered valid rule-base versions, spec §4.6 step 3
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{bases: make(map[registryKey]RuleBase), valid: make(map[string]bool)}
}

// Put registers a rule base for (service, operation, version) and marks the
// version valid for this host.
func (r *Registry) Put(service, operation, version string, rb RuleBase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bases[registryKey{service, operation, version}] = rb
	r.valid[version] = true
}

// Get looks up the rule base registered for (service, operation, version).
func (r *Registry) Get(service, operation, version string) (RuleBase, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rb, ok := r.bases[registryKey{service, operation, version}]
	return rb, ok
}

// IsValidVersion reports whether version has been registered locally (spec
// §4.6 step 3 / §7: an unregistered ruleBaseVersion is rejected per-event,
// not fatal to the process).
func (r *Registry) IsValidVersion(version string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.valid[version]
}

// Listener binds the host's rule-inbound UDP socket, parses incoming rule
// payloads, registers them, and acks each one back to the deployer's
// per-deploy commitment listener with CONFIRMED:{version}:{commitment}
// (spec §4.9). The ack is sent as a fresh datagram to
// {senderHost}:{commitBasePort + VersionOffset(version)} rather than back
// down the inbound socket: by the time the rule handler processes a
// payload, the deployer's per-send socket that pushed it has already
// closed (spec §5 Resource policy), so the commitment listener's
// well-known, version-derived port is the only live destination.
type Listener struct {
	conn           *net.UDPConn
	registry       *Registry
	commitBasePort int
}

// Listen binds addr as the rule-inbound socket. commitBasePort is the base
// the commitment listener's port is derived from (COMMIT_BASE_PORT).
func Listen(ctx context.Context, addr string, commitBasePort int, registry *Registry) (*Listener, error) {
	conn, err := transport.Listen(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("rulehandler: %w", err)
	}
	return &Listener{conn: conn, registry: registry, commitBasePort: commitBasePort}, nil
}

// Close releases the listener's socket.
func (l *Listener) Close() error { return l.conn.Close() }

// Serve reads rule payloads until ctx is cancelled; a read error ends the
// loop only once ctx is done, otherwise reading continues. Each payload is
// registered and acknowledged to its sender's host.
func (l *Listener) Serve(ctx context.Context) error {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, addr, err := transport.ReceiveWithTimeout(l.conn, 0, buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		payload, err := token.UnmarshalRulePayload(buf[:n])
		if err != nil {
			continue
		}

		rb := FromPayload(payload)
		l.registry.Put(payload.Target.ServiceName, payload.Target.OperationName, payload.Header.RuleBaseVersion, rb)

		l.ack(ctx, addr, payload)
	}
}

// ack sends the CONFIRMED datagram back to the sender's host on the
// commitment listener's well-known port for this version.
func (l *Listener) ack(ctx context.Context, senderAddr net.Addr, payload *token.RulePayload) {
	udpAddr, ok := senderAddr.(*net.UDPAddr)
	if !ok {
		return
	}
	commitPort := l.commitBasePort + transport.VersionOffset(payload.Header.RuleBaseVersion)
	dest := fmt.Sprintf("%s:%d", udpAddr.IP.String(), commitPort)
	ack := []byte(fmt.Sprintf("CONFIRMED:%s:%d", payload.Header.RuleBaseVersion, payload.Header.RuleBaseCommitment))
	_ = transport.Send(ctx, dest, ack)
}
