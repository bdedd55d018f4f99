package rulebase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/onyxflow/workflow-engine/internal/engineerr"
	"github.com/onyxflow/workflow-engine/internal/model"
)

// Binding is a canonical binding: a (service, operation)'s ordered input
// slots and its single return attribute (spec §3 Canonical binding).
type Binding struct {
	PlaceID    string
	Service    string
	Operation  string
	ReturnAttr string
	Inputs     []string
}

// BindingSet is the full set of canonical bindings generated for a deploy,
// keyed by "placeID.operation".
type BindingSet struct {
	byKey    map[string]Binding
	JoinPlans []JoinPlan
	Warnings  []string
}

func bindingKey(placeID, operation string) string { return placeID + "." + operation }

// Get looks up the binding for a place's operation.
func (bs *BindingSet) Get(placeID, operation string) (Binding, bool) {
	b, ok := bs.byKey[bindingKey(placeID, operation)]
	return b, ok
}

// All returns every binding in the set, in no particular order.
func (bs *BindingSet) All() []Binding {
	out := make([]Binding, 0, len(bs.byKey))
	for _, b := range bs.byKey {
		out = append(out, b)
	}
	return out
}

// GenerateBindings regenerates canonical bindings from topology (PetriNet
// mode, spec §4.2 step 3). SOA mode callers should instead load
// hand-authored bindings and use LoadBindings; this function only derives
// from the graph.
func GenerateBindings(g *model.Graph) (*BindingSet, error) {
	bs := &BindingSet{byKey: make(map[string]Binding)}

	// Return-attribute overrides: a place that feeds a join slot takes that
	// slot's argument name as its return attribute instead of the "token"
	// default (spec §4.3 step 3).
	returnAttrOverride := make(map[string]string)

	for _, t := range g.Transitions {
		if t.Type != model.JoinNode {
			continue
		}
		plan, err := PlanJoin(g, t.ID)
		if err != nil {
			return nil, fmt.Errorf("rulebase: %w", err)
		}
		bs.JoinPlans = append(bs.JoinPlans, *plan)
		if plan.OverCount {
			bs.Warnings = append(bs.Warnings, fmt.Sprintf(
				"join %s: more retained incoming arcs than input slots on %s", t.ID, plan.DownstreamPlaceID))
		}
		if plan.UnderCount {
			bs.Warnings = append(bs.Warnings, fmt.Sprintf(
				"join %s: fewer retained incoming arcs than input slots on %s", t.ID, plan.DownstreamPlaceID))
		}
		// Apply the regenerated argument names to the downstream operation.
		downstreamPlace := g.Places[plan.DownstreamPlaceID]
		primary := downstreamPlace.PrimaryOperation()
		bs.byKey[bindingKey(plan.DownstreamPlaceID, primary.Name)] = Binding{
			PlaceID:    plan.DownstreamPlaceID,
			Service:    downstreamPlace.Service,
			Operation:  primary.Name,
			ReturnAttr: "token",
			Inputs:     plan.ArgNames,
		}
		for _, slot := range plan.Slots {
			if slot.SourcePlaceID != "" {
				returnAttrOverride[bindingKey(slot.SourcePlaceID, slot.SourceOperation)] = slot.ArgName
			}
		}
	}

	for _, p := range g.Places {
		if p.Floating || p.ElemType == "EVENT_GENERATOR" {
			continue
		}
		for _, op := range p.Operations {
			key := bindingKey(p.ID, op.Name)
			if _, exists := bs.byKey[key]; exists {
				continue // already generated as a join's downstream binding
			}
			ra := "token"
			if override, ok := returnAttrOverride[key]; ok {
				ra = override
			}
			bs.byKey[key] = Binding{
				PlaceID:    p.ID,
				Service:    p.Service,
				Operation:  op.Name,
				ReturnAttr: ra,
				Inputs:     op.ArgumentNames,
			}
		}
	}

	return bs, nil
}

// VerifyJoinArity cross-checks every JoinNode's retained incoming-arc count
// against its downstream place's canonical-binding input count. A mismatch
// rejects an SOA deployment outright (the hand-authored binding file is
// wrong for the topology) and warns in PetriNet mode, where missing arg
// names default to token_branch{i} and the planner already flags
// over/under counts. Runs after bindings are loaded, since the validation
// pipeline itself sees the graph before any binding exists.
func VerifyJoinArity(g *model.Graph, bs *BindingSet) ([]string, error) {
	var mismatches []string
	for _, t := range g.Transitions {
		if t.Type != model.JoinNode {
			continue
		}
		downstream, op, err := downstreamPlace(g, t.ID)
		if err != nil {
			continue // no downstream place; the planner reports this
		}
		binding, ok := bs.Get(downstream.ID, op.Name)
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf(
				"join %s: no canonical binding for downstream %s.%s", t.ID, downstream.ID, op.Name))
			continue
		}
		retained := len(g.RetainedJoinArcs(t.ID))
		if retained != len(binding.Inputs) {
			mismatches = append(mismatches, fmt.Sprintf(
				"join %s: %d retained incoming arc(s) but binding %s.%s declares %d input slot(s)",
				t.ID, retained, downstream.ID, op.Name, len(binding.Inputs)))
		}
	}
	if len(mismatches) > 0 && g.ProcessType == "SOA" {
		return nil, engineerr.New(engineerr.ValidationFailed, strings.Join(mismatches, "; "))
	}
	return mismatches, nil
}

// soaBindingDoc is the on-disk JSON shape of a hand-authored SOA binding
// file, one entry per (place, operation) (spec §4.3: "SOA bindings are
// hand-authored and preserved as-is, not derived from topology").
type soaBindingDoc struct {
	PlaceID    string   `json:"placeId"`
	Service    string   `json:"service"`
	Operation  string   `json:"operation"`
	ReturnAttr string   `json:"returnAttribute"`
	Inputs     []string `json:"inputs"`
}

// LoadBindings parses a hand-authored SOA binding file into a BindingSet.
// Unlike GenerateBindings, it never derives a binding from graph topology;
// it trusts the file's contents verbatim.
func LoadBindings(data []byte) (*BindingSet, error) {
	var docs []soaBindingDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("rulebase: parse SOA bindings: %w", err)
	}
	bs := &BindingSet{byKey: make(map[string]Binding, len(docs))}
	for _, d := range docs {
		bs.byKey[bindingKey(d.PlaceID, d.Operation)] = Binding{
			PlaceID: d.PlaceID, Service: d.Service, Operation: d.Operation,
			ReturnAttr: d.ReturnAttr, Inputs: d.Inputs,
		}
	}
	return bs, nil
}
