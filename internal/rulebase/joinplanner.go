// Package rulebase derives canonical I/O bindings and per-place rule
// content from a validated workflow graph (spec §4.2 step 3, §4.3, §4.5).
package rulebase

import (
	"fmt"

	"github.com/onyxflow/workflow-engine/internal/model"
)

// JoinSlot is one named input slot of a JoinNode's downstream place,
// assigned to the arc that must fill it.
type JoinSlot struct {
	SlotIndex          int
	ArgName            string
	SourceTransitionID string
	SourcePlaceID      string
	SourceOperation    string
}

// JoinPlan is the result of planning one JoinNode's incoming arcs against
// its downstream place's argument slots.
type JoinPlan struct {
	JoinTransitionID  string
	DownstreamPlaceID string
	ArgNames          []string // the effective argument names used (declared or fallback)
	Slots             []JoinSlot
	OverCount         bool // more retained arcs than slots
	UnderCount        bool // fewer retained arcs than slots
}

// PlanJoin assigns each of a JoinNode's retained incoming arcs to a named
// input slot of its downstream place, per spec §4.3.
func PlanJoin(g *model.Graph, joinTransitionID string) (*JoinPlan, error) {
	joinT, ok := g.Transitions[joinTransitionID]
	if !ok || joinT.Type != model.JoinNode {
		return nil, fmt.Errorf("rulebase: %s is not a JoinNode", joinTransitionID)
	}

	downstream, op, err := downstreamPlace(g, joinTransitionID)
	if err != nil {
		return nil, err
	}

	argNames := op.ArgumentNames
	if len(argNames) == 0 {
		retained := g.RetainedJoinArcs(joinTransitionID)
		argNames = make([]string, len(retained))
		for i := range retained {
			argNames[i] = fmt.Sprintf("token_branch%d", i+1)
		}
	}

	retained := g.RetainedJoinArcs(joinTransitionID)
	plan := &JoinPlan{
		JoinTransitionID:  joinTransitionID,
		DownstreamPlaceID: downstream.ID,
		ArgNames:          argNames,
		OverCount:         len(retained) > len(argNames),
		UnderCount:        len(retained) < len(argNames),
	}

	n := len(retained)
	if len(argNames) < n {
		n = len(argNames)
	}
	for i := 0; i < n; i++ {
		arc := retained[i]
		srcTransition := arc.From
		srcPlace, srcOp := upstreamPlace(g, srcTransition)
		plan.Slots = append(plan.Slots, JoinSlot{
			SlotIndex:          i + 1,
			ArgName:            argNames[i],
			SourceTransitionID: srcTransition,
			SourcePlaceID:      srcPlace,
			SourceOperation:    srcOp,
		})
	}

	return plan, nil
}

// downstreamPlace finds the single place reached by the join's one
// outgoing edge, and the operation whose argument list governs slot
// assignment (the place's primary operation).
func downstreamPlace(g *model.Graph, joinTransitionID string) (*model.Place, model.Operation, error) {
	for _, e := range g.Outgoing(joinTransitionID) {
		if p, ok := g.Places[e.To]; ok {
			return p, p.PrimaryOperation(), nil
		}
	}
	return nil, model.Operation{}, fmt.Errorf("rulebase: join %s has no outgoing edge to a place", joinTransitionID)
}

// upstreamPlace finds the place that feeds a T_out transition by a single
// incoming edge, and that place's primary operation name (the branch this
// return attribute is assigned to).
func upstreamPlace(g *model.Graph, transitionID string) (placeID, operation string) {
	for _, e := range g.Incoming(transitionID) {
		if p, ok := g.Places[e.From]; ok {
			return p.ID, p.PrimaryOperation().Name
		}
	}
	return "", ""
}
