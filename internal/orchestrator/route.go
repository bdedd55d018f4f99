// Route Selector (spec §4.7): after a business method is invoked, decide
// which destination(s) a token fans out to based on the controlling
// transition's NodeType.
package orchestrator

import (
	"fmt"

	"github.com/onyxflow/workflow-engine/internal/businessinvoker"
	"github.com/onyxflow/workflow-engine/internal/codec"
	"github.com/onyxflow/workflow-engine/internal/condition"
	"github.com/onyxflow/workflow-engine/internal/model"
	"github.com/onyxflow/workflow-engine/internal/rulebase"
	"github.com/onyxflow/workflow-engine/internal/rulehandler"
)

// RouteTo is one resolved destination for one outgoing token: the
// (service, operation) it is headed to and the sequenceId it carries.
type RouteTo struct {
	Dest       Destination
	SequenceID int64
}

// RouteResult is the outcome of route selection for one invocation.
type RouteResult struct {
	Terminate bool // controlling transition was TerminateNode or routed to END
	Routes    []RouteTo
	Forked    bool // true when more than one Route was produced by a fork/gateway/xor split
}

func isTerminal(mc rulebase.MeetsCondition) bool {
	return mc.NextService == "TERMINATE" && mc.NextOperation == "TERMINATE"
}

// SelectRoute implements spec §4.7 for the controlling NodeType of rb,
// given the business method's result and the token's current sequenceId.
func SelectRoute(eval *condition.Evaluator, rb rulehandler.RuleBase, sequenceID int64, result businessinvoker.Result) (RouteResult, error) {
	switch rb.NodeType {
	case model.EdgeNode, model.TerminateNode, model.MergeNode, model.JoinNode:
		// A JoinNode only ever becomes the controlling NodeType when none of
		// its outgoing transitions are ForkNode/GatewayNode/DecisionNode/XorNode
		// (spec §4.5 step 1), so its meetsCondition atoms were generated in
		// the same single-destination form as EdgeNode/TerminateNode/MergeNode.
		return routeSingle(rb, sequenceID)

	case model.DecisionNode:
		return routeDecision(eval, rb, sequenceID, result)

	case model.XorNode:
		return routeXor(eval, rb, sequenceID, result)

	case model.GatewayNode:
		return routeGateway(rb, sequenceID, result)

	case model.ForkNode:
		return routeFork(rb, sequenceID)

	case model.MonitorNode:
		return RouteResult{}, nil

	default:
		return RouteResult{}, fmt.Errorf("orchestrator: %s is not a routing node type", rb.NodeType)
	}
}

func routeSingle(rb rulehandler.RuleBase, sequenceID int64) (RouteResult, error) {
	if len(rb.MeetsConditions) == 0 {
		return RouteResult{}, fmt.Errorf("orchestrator: no destination configured")
	}
	return oneDestination(rb.MeetsConditions[0], sequenceID), nil
}

func oneDestination(mc rulebase.MeetsCondition, sequenceID int64) RouteResult {
	if isTerminal(mc) {
		return RouteResult{Terminate: true}
	}
	return RouteResult{Routes: []RouteTo{{Dest: Destination{Service: mc.NextService, Operation: mc.NextOperation}, SequenceID: sequenceID}}}
}

func routeDecision(eval *condition.Evaluator, rb rulehandler.RuleBase, sequenceID int64, result businessinvoker.Result) (RouteResult, error) {
	for _, mc := range rb.MeetsConditions {
		ok, err := eval.Satisfied(mc.ConditionType, mc.DecisionValue, result.Value)
		if err != nil {
			return RouteResult{}, fmt.Errorf("orchestrator: decision condition: %w", err)
		}
		if ok {
			return oneDestination(mc, sequenceID), nil
		}
	}
	return RouteResult{}, fmt.Errorf("orchestrator: no decision branch satisfied")
}

func routeXor(eval *condition.Evaluator, rb rulehandler.RuleBase, sequenceID int64, result businessinvoker.Result) (RouteResult, error) {
	var matched []rulebase.MeetsCondition
	for _, mc := range rb.MeetsConditions {
		ok, err := eval.Satisfied(mc.ConditionType, mc.DecisionValue, result.Value)
		if err != nil {
			return RouteResult{}, fmt.Errorf("orchestrator: xor condition: %w", err)
		}
		if ok {
			matched = append(matched, mc)
		}
	}
	switch len(matched) {
	case 0:
		return RouteResult{}, fmt.Errorf("orchestrator: no xor branch satisfied")
	case 1:
		return oneDestination(matched[0], sequenceID), nil
	default:
		// more than one match: treat as a fork, per spec §4.7 XorNode.
		return routeToChildren(matched, sequenceID)
	}
}

func routeGateway(rb rulehandler.RuleBase, sequenceID int64, result businessinvoker.Result) (RouteResult, error) {
	key := fmt.Sprintf("%v", result.Value)
	var matched []rulebase.MeetsCondition
	for _, mc := range rb.MeetsConditions {
		if mc.DecisionValue == key {
			matched = append(matched, mc)
		}
	}
	switch len(matched) {
	case 0:
		return RouteResult{}, fmt.Errorf("orchestrator: gateway routing key %q matched no edge", key)
	case 1:
		return oneDestination(matched[0], sequenceID), nil
	default:
		return routeToChildren(matched, sequenceID)
	}
}

func routeFork(rb rulehandler.RuleBase, sequenceID int64) (RouteResult, error) {
	matched := rb.MeetsConditions
	if len(matched) == 0 {
		return RouteResult{}, fmt.Errorf("orchestrator: fork has no destinations")
	}
	if len(matched) == 1 {
		return oneDestination(matched[0], sequenceID), nil
	}
	return routeToChildren(matched, sequenceID)
}

// routeToChildren encodes len(matched) fork children from sequenceID and
// pairs each with its destination, per spec §4.4/§4.7.
func routeToChildren(matched []rulebase.MeetsCondition, sequenceID int64) (RouteResult, error) {
	children, err := codec.Fork(sequenceID, len(matched))
	if err != nil {
		return RouteResult{}, fmt.Errorf("orchestrator: %w", err)
	}
	routes := make([]RouteTo, len(matched))
	for i, mc := range matched {
		routes[i] = RouteTo{Dest: Destination{Service: mc.NextService, Operation: mc.NextOperation}, SequenceID: children[i]}
	}
	return RouteResult{Routes: routes, Forked: true}, nil
}
