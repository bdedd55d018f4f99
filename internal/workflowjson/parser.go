// Package workflowjson parses the workflow JSON definition (spec §6) into an
// in-memory model.Graph. The parser tolerates both the legacy single
// "operation" field and the current "operations" array, and treats
// "condition" as an alias for "guardCondition" on arrows.
package workflowjson

import (
	"encoding/json"
	"fmt"

	"github.com/onyxflow/workflow-engine/internal/model"
)

type rawDefinition struct {
	ProcessType string       `json:"processType"`
	Elements    []rawElement `json:"elements"`
	Arrows      []rawArrow   `json:"arrows"`
}

type rawElement struct {
	Type           string              `json:"type"` // "PLACE" | "TRANSITION" | "EVENT_GENERATOR"
	ID             string              `json:"id"`
	Label          string              `json:"label"`
	Service        string              `json:"service"`
	Operation      string              `json:"operation"`
	Operations     []json.RawMessage   `json:"operations"`
	Floating       bool                `json:"floating"`
	NodeType       string              `json:"node_type"`
	NodeValue      string              `json:"node_value"`
	TransitionType string              `json:"transition_type"`
	Buffer         *int                `json:"buffer"`
}

type rawOperationObject struct {
	Name           string        `json:"name"`
	ReturnAttr     string        `json:"returnAttribute"`
	Arguments      []rawArgument `json:"arguments"`
}

type rawArgument struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type rawArrow struct {
	Source         string `json:"source"`
	Target         string `json:"target"`
	GuardCondition string `json:"guardCondition"`
	Condition      string `json:"condition"`
	DecisionValue  string `json:"decision_value"`
	Endpoint       string `json:"endpoint"`
	Label          string `json:"label"`
}

// Parse decodes a workflow JSON document into a model.Graph. It does not
// validate the graph's semantics (see model.Validate) — only its shape.
func Parse(data []byte) (*model.Graph, error) {
	var raw rawDefinition
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("workflowjson: %w", err)
	}

	if raw.ProcessType != "PetriNet" && raw.ProcessType != "SOA" {
		return nil, fmt.Errorf("workflowjson: invalid processType %q (must be PetriNet or SOA)", raw.ProcessType)
	}

	g := model.NewGraph(raw.ProcessType)

	for _, el := range raw.Elements {
		switch el.Type {
		case "PLACE", "EVENT_GENERATOR":
			ops, err := parseOperations(el)
			if err != nil {
				return nil, fmt.Errorf("workflowjson: place %s: %w", el.ID, err)
			}
			g.AddPlace(&model.Place{
				ID:         el.ID,
				Service:    el.Service,
				Operations: ops,
				Floating:   el.Floating,
				ElemType:   el.Type,
			})
		case "TRANSITION":
			t := &model.Transition{
				ID:             el.ID,
				Type:           model.NodeType(el.NodeType),
				NodeValue:      el.NodeValue,
				TransitionType: model.TransitionType(orDefault(el.TransitionType, string(model.Other))),
			}
			if el.Buffer != nil && (t.TransitionType == model.TIn || t.TransitionType == model.Other) {
				t.Buffer = *el.Buffer
				t.HasBuffer = true
			}
			g.AddTransition(t)
		default:
			return nil, fmt.Errorf("workflowjson: unrecognized element type %q for id %s", el.Type, el.ID)
		}
	}

	for _, a := range raw.Arrows {
		guard := a.GuardCondition
		if guard == "" {
			guard = a.Condition
		}
		g.AddEdge(model.Edge{
			From:           a.Source,
			To:             a.Target,
			GuardCondition: guard,
			DecisionValue:  a.DecisionValue,
			Endpoint:       a.Endpoint,
			Label:          a.Label,
		})
	}

	return g, nil
}

// parseOperations handles both legacy "operation": "name" and current
// "operations": [...] (each entry either a bare string or an object with
// name/arguments/returnAttribute).
func parseOperations(el rawElement) ([]model.Operation, error) {
	if len(el.Operations) > 0 {
		ops := make([]model.Operation, 0, len(el.Operations))
		for _, raw := range el.Operations {
			var name string
			if err := json.Unmarshal(raw, &name); err == nil {
				ops = append(ops, model.Operation{Name: name})
				continue
			}
			var obj rawOperationObject
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, fmt.Errorf("invalid operations entry: %w", err)
			}
			argNames := make([]string, 0, len(obj.Arguments))
			for _, a := range obj.Arguments {
				argNames = append(argNames, a.Name)
			}
			ops = append(ops, model.Operation{
				Name:          obj.Name,
				ReturnAttr:    obj.ReturnAttr,
				ArgumentNames: argNames,
			})
		}
		return ops, nil
	}
	if el.Operation != "" {
		return []model.Operation{{Name: el.Operation}}, nil
	}
	return nil, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
