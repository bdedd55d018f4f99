package rulebase

import (
	"fmt"

	"github.com/onyxflow/workflow-engine/internal/model"
)

// MeetsCondition is one routing atom: the destination this place's
// controlling transition fires toward when (conditionType, decisionValue)
// is satisfied.
type MeetsCondition struct {
	NextService   string
	NextOperation string
	ConditionType string
	DecisionValue string
}

// DecisionValueAtom groups a set of MeetsCondition rows under one declared
// condition/value pair (DecisionNode/XorNode grouping, spec §4.5 step 4).
type DecisionValueAtom struct {
	ConditionType string
	Value         string
}

// TerminatesOn marks that reaching this atom's (service, operation) ends
// the token.
type TerminatesOn struct {
	Service   string
	Operation string
}

// RuleContent is the full set of atoms a place must receive in its rule
// payload (spec §4.5, §3 Rule payload).
type RuleContent struct {
	PlaceID           string
	Service           string
	Operation         string
	NodeType          model.NodeType
	JoinInputCount    int
	HasJoinInputCount bool
	DecisionValues    []DecisionValueAtom
	MeetsConditions   []MeetsCondition
	TerminatesOn      []TerminatesOn
	Buffer            int
	HasBuffer         bool
}

const gatewayConditionType = "GATEWAY_NODE"
const terminateService = "TERMINATE"
const terminateOperation = "TERMINATE"

// GenerateRuleContent derives the rule atoms for one place's operation, per
// spec §4.5.
func GenerateRuleContent(g *model.Graph, placeID, operation string) (*RuleContent, error) {
	place, ok := g.Places[placeID]
	if !ok {
		return nil, fmt.Errorf("rulebase: unknown place %s", placeID)
	}

	rc := &RuleContent{PlaceID: placeID, Service: place.Service, Operation: operation}

	controlling, ok := controllingTransition(g, placeID)
	if ok {
		rc.NodeType = controlling.Type

		if controlling.Type == model.JoinNode && g.ProcessType == "PetriNet" {
			rc.JoinInputCount = len(g.RetainedJoinArcs(controlling.ID))
			rc.HasJoinInputCount = true
		}

		routeFrom := controlling
		if !isRoutingType(controlling.Type) {
			if out := g.TransitionsOutOf(placeID); len(out) > 0 {
				routeFrom = out[0]
			} else {
				routeFrom = nil
			}
		}
		if routeFrom != nil {
			populateRouting(g, routeFrom, rc)
		}
	}

	rc.Buffer, rc.HasBuffer = inboundBuffer(g, placeID)

	return rc, nil
}

func isRoutingType(t model.NodeType) bool {
	switch t {
	case model.ForkNode, model.GatewayNode, model.DecisionNode, model.XorNode,
		model.EdgeNode, model.TerminateNode, model.MergeNode:
		return true
	default:
		return false
	}
}

// controllingTransition picks the NodeType-governing transition per spec
// §4.5 step 1.
func controllingTransition(g *model.Graph, placeID string) (*model.Transition, bool) {
	out := g.TransitionsOutOf(placeID)
	for _, t := range out {
		switch t.Type {
		case model.ForkNode, model.GatewayNode, model.DecisionNode, model.XorNode:
			return t, true
		}
	}
	for _, t := range g.TransitionsInto(placeID) {
		if t.Type == model.JoinNode {
			return t, true
		}
	}
	if len(out) > 0 {
		return out[0], true
	}
	return nil, false
}

func populateRouting(g *model.Graph, t *model.Transition, rc *RuleContent) {
	switch t.Type {
	case model.EdgeNode, model.TerminateNode, model.MergeNode:
		edges := g.Outgoing(t.ID)
		if len(edges) == 0 {
			return
		}
		emitPlain(g, edges[0], rc)

	case model.ForkNode:
		for _, e := range g.Outgoing(t.ID) {
			emitPlain(g, e, rc)
		}

	case model.GatewayNode:
		for _, e := range g.Outgoing(t.ID) {
			svc, op, terminal := resolveDestination(g, e)
			if terminal {
				svc, op = terminateService, terminateOperation
				rc.TerminatesOn = append(rc.TerminatesOn, TerminatesOn{Service: svc, Operation: op})
			}
			rc.MeetsConditions = append(rc.MeetsConditions, MeetsCondition{
				NextService:   svc,
				NextOperation: op,
				ConditionType: gatewayConditionType,
				DecisionValue: e.DecisionValue,
			})
		}

	case model.DecisionNode, model.XorNode:
		type groupKey struct{ cond, val string }
		var order []groupKey
		groups := map[groupKey][]model.Edge{}
		for _, e := range g.Outgoing(t.ID) {
			k := groupKey{e.GuardCondition, e.DecisionValue}
			if _, seen := groups[k]; !seen {
				order = append(order, k)
			}
			groups[k] = append(groups[k], e)
		}
		for _, k := range order {
			if k.cond != "" || k.val != "" {
				rc.DecisionValues = append(rc.DecisionValues, DecisionValueAtom{ConditionType: k.cond, Value: k.val})
			}
			for _, e := range groups[k] {
				svc, op, terminal := resolveDestination(g, e)
				if terminal {
					svc, op = terminateService, terminateOperation
					rc.TerminatesOn = append(rc.TerminatesOn, TerminatesOn{Service: svc, Operation: op})
				}
				rc.MeetsConditions = append(rc.MeetsConditions, MeetsCondition{
					NextService:   svc,
					NextOperation: op,
					ConditionType: k.cond,
					DecisionValue: k.val,
				})
			}
		}
	}
}

func emitPlain(g *model.Graph, e model.Edge, rc *RuleContent) {
	svc, op, terminal := resolveDestination(g, e)
	if terminal {
		svc, op = terminateService, terminateOperation
		rc.TerminatesOn = append(rc.TerminatesOn, TerminatesOn{Service: svc, Operation: op})
	}
	rc.MeetsConditions = append(rc.MeetsConditions, MeetsCondition{NextService: svc, NextOperation: op})
}

// resolveDestination resolves a routing edge's target to a (service,
// operation) pair, honoring the endpoint override, or reports terminal=true
// when the edge leads to END or a TerminateNode transition. A target that
// is itself an intermediate transition (a T_in between two places) is
// walked through its own outgoing edges until a place or terminal is
// reached, so the T_out -> T_in -> place shape resolves the same as a
// direct edge to the place.
func resolveDestination(g *model.Graph, e model.Edge) (service, operation string, terminal bool) {
	endpoint := e.Endpoint
	target := e.To
	for hops := 0; hops < len(g.Transitions)+1; hops++ {
		if target == model.NodeEND {
			return terminateService, terminateOperation, true
		}
		if p, ok := g.Places[target]; ok {
			op := p.PrimaryOperation().Name
			if endpoint != "" {
				op = endpoint
			}
			return p.Service, op, false
		}
		t, ok := g.Transitions[target]
		if !ok {
			return "", "", false
		}
		if t.Type == model.TerminateNode {
			return terminateService, terminateOperation, true
		}
		next := g.Outgoing(target)
		if len(next) == 0 {
			return "", "", false
		}
		if next[0].Endpoint != "" {
			endpoint = next[0].Endpoint
		}
		target = next[0].To
	}
	return "", "", false
}

// inboundBuffer finds the buffer value carried by a T_in/Other transition
// feeding this place, per spec §4.5 step 5.
func inboundBuffer(g *model.Graph, placeID string) (int, bool) {
	for _, t := range g.TransitionsInto(placeID) {
		if t.HasBuffer && (t.TransitionType == model.TIn || t.TransitionType == model.Other) {
			return t.Buffer, true
		}
	}
	return 0, false
}
