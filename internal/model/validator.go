package model

import (
	"context"
	"fmt"

	"github.com/onyxflow/workflow-engine/internal/engineerr"
	"github.com/onyxflow/workflow-engine/internal/factstore"
)

// ValidationResult accumulates every error found by the validation
// pipeline instead of failing fast, per Design Notes §9.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// OK reports whether no errors were accumulated (warnings do not fail a
// deploy).
func (r *ValidationResult) OK() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate runs the full validation pipeline (spec §4.1) against the graph,
// accumulating every error before returning. A non-nil *engineerr.Error of
// kind ValidationFailed is returned iff any error was accumulated.
func Validate(ctx context.Context, g *Graph, store factstore.Store) (*ValidationResult, error) {
	result := &ValidationResult{}

	validateServicesResolvable(ctx, g, store, result)
	validateEdgeEndpoints(g, result)
	validateTransitionTypes(g, result)
	validateNonFloatingPlacesConnected(g, result)
	validateJoinArity(g, result)

	if !result.OK() {
		return result, engineerr.New(engineerr.ValidationFailed,
			fmt.Sprintf("%d validation error(s) accumulated", len(result.Errors)))
	}
	return result, nil
}

// step 1: every place (and every operation of multi-op places) must resolve
// via activeService, falling back to hasOperation.
func validateServicesResolvable(ctx context.Context, g *Graph, store factstore.Store, result *ValidationResult) {
	for _, p := range g.Places {
		if p.Floating || p.ElemType == "EVENT_GENERATOR" {
			continue
		}
		for _, op := range p.Operations {
			_, ok, err := factstore.Resolve(ctx, store, p.Service, op.Name)
			if err != nil {
				result.addError("place %s: fact store query for %s.%s failed: %v", p.ID, p.Service, op.Name, err)
				continue
			}
			if !ok {
				result.addError("place %s: %s", p.ID, engineerr.New(engineerr.ServiceNotFound,
					fmt.Sprintf("%s.%s not found in activeService or hasOperation", p.Service, op.Name)))
			}
		}
	}
}

// step 2: every edge endpoint must resolve to a known node or a literal.
func validateEdgeEndpoints(g *Graph, result *ValidationResult) {
	for _, e := range g.Edges {
		if !g.IsKnownEndpoint(e.From) {
			result.addError("edge %s->%s: unknown source %s", e.From, e.To, e.From)
		}
		if !g.IsKnownEndpoint(e.To) {
			result.addError("edge %s->%s: unknown destination %s", e.From, e.To, e.To)
		}
	}
}

// step 3: every transition's type must be in the closed set.
func validateTransitionTypes(g *Graph, result *ValidationResult) {
	for _, t := range g.Transitions {
		if !ValidNodeTypes[t.Type] {
			result.addError("transition %s: unrecognized node type %q", t.ID, t.Type)
		}
	}
}

// step 4: a non-floating place must have at least one incoming or outgoing
// edge.
func validateNonFloatingPlacesConnected(g *Graph, result *ValidationResult) {
	for _, p := range g.Places {
		if p.Floating {
			continue
		}
		if len(g.Incoming(p.ID)) == 0 && len(g.Outgoing(p.ID)) == 0 {
			result.addError("place %s: non-floating place has no edges", p.ID)
		}
	}
}

// step 5: every JoinNode needs >=2 retained incoming arcs. The cross-check
// against the downstream canonical binding's input count happens after
// bindings are loaded (rulebase.VerifyJoinArity) — no binding exists yet
// when this pipeline runs.
func validateJoinArity(g *Graph, result *ValidationResult) {
	for _, t := range g.Transitions {
		if t.Type != JoinNode {
			continue
		}
		retained := g.RetainedJoinArcs(t.ID)
		if len(retained) < 2 {
			result.addError("transition %s: %s", t.ID, engineerr.New(engineerr.JoinInsufficientInputs,
				fmt.Sprintf("join has %d retained incoming arc(s), need >= 2", len(retained))))
			continue
		}
		if len(retained) > 99 {
			result.addError("transition %s: join has %d incoming arcs, exceeds max fan-out 99", t.ID, len(retained))
		}
	}
}
