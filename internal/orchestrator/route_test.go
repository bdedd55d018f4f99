package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyxflow/workflow-engine/internal/businessinvoker"
	"github.com/onyxflow/workflow-engine/internal/condition"
	"github.com/onyxflow/workflow-engine/internal/model"
	"github.com/onyxflow/workflow-engine/internal/rulebase"
	"github.com/onyxflow/workflow-engine/internal/rulehandler"
)

// TestRouteGatewaySingleMatchIsEdge covers spec §8 scenario 3: a Gateway
// with exactly one matching decision_value behaves as a plain EDGE — same
// sequenceId, no fork.
func TestRouteGatewaySingleMatchIsEdge(t *testing.T) {
	rb := rulehandler.RuleBase{
		NodeType: model.GatewayNode,
		MeetsConditions: []rulebase.MeetsCondition{
			{NextService: "ServiceB", NextOperation: "op2", DecisionValue: "true"},
			{NextService: "ServiceC", NextOperation: "op3", DecisionValue: "true"},
			{NextService: "Monitor", NextOperation: "record", DecisionValue: "false"},
		},
	}
	result := businessinvoker.Result{Value: "false"}

	route, err := SelectRoute(condition.NewEvaluator(), rb, 3_000_000, result)
	require.NoError(t, err)
	assert.False(t, route.Forked)
	require.Len(t, route.Routes, 1)
	assert.Equal(t, Destination{Service: "Monitor", Operation: "record"}, route.Routes[0].Dest)
	assert.Equal(t, int64(3_000_000), route.Routes[0].SequenceID)
}

// TestRouteGatewayMultiMatchForks covers spec §8 scenario 4: multiple
// matching decision_values are treated as a fork, encoding one child id per
// destination.
func TestRouteGatewayMultiMatchForks(t *testing.T) {
	rb := rulehandler.RuleBase{
		NodeType: model.GatewayNode,
		MeetsConditions: []rulebase.MeetsCondition{
			{NextService: "ServiceB", NextOperation: "op2", DecisionValue: "true"},
			{NextService: "ServiceC", NextOperation: "op3", DecisionValue: "true"},
			{NextService: "Monitor", NextOperation: "record", DecisionValue: "false"},
		},
	}
	result := businessinvoker.Result{Value: "true"}

	route, err := SelectRoute(condition.NewEvaluator(), rb, 3_000_000, result)
	require.NoError(t, err)
	assert.True(t, route.Forked)
	require.Len(t, route.Routes, 2)
	assert.Equal(t, Destination{Service: "ServiceB", Operation: "op2"}, route.Routes[0].Dest)
	assert.Equal(t, Destination{Service: "ServiceC", Operation: "op3"}, route.Routes[1].Dest)
	assert.Equal(t, int64(3_000_201), route.Routes[0].SequenceID)
	assert.Equal(t, int64(3_000_202), route.Routes[1].SequenceID)
}

// TestRouteGatewayZeroMatchIsDropped covers spec §4.7 "zero matches -> drop
// with error".
func TestRouteGatewayZeroMatchIsDropped(t *testing.T) {
	rb := rulehandler.RuleBase{
		NodeType: model.GatewayNode,
		MeetsConditions: []rulebase.MeetsCondition{
			{NextService: "ServiceB", NextOperation: "op2", DecisionValue: "true"},
		},
	}
	_, err := SelectRoute(condition.NewEvaluator(), rb, 1, businessinvoker.Result{Value: "neither"})
	require.Error(t, err)
}

// TestRouteTerminateNodeEndsToken covers the Terminate/TERMINATE sentinel
// on a single-destination routing type.
func TestRouteTerminateNodeEndsToken(t *testing.T) {
	rb := rulehandler.RuleBase{
		NodeType:        model.TerminateNode,
		MeetsConditions: []rulebase.MeetsCondition{{NextService: "TERMINATE", NextOperation: "TERMINATE"}},
	}
	route, err := SelectRoute(condition.NewEvaluator(), rb, 1, businessinvoker.Result{})
	require.NoError(t, err)
	assert.True(t, route.Terminate)
	assert.Empty(t, route.Routes)
}
