package workflowjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyxflow/workflow-engine/internal/model"
)

func TestParseRejectsMissingProcessType(t *testing.T) {
	_, err := Parse([]byte(`{"elements":[],"arrows":[]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "processType")
}

func TestParseLegacyOperationField(t *testing.T) {
	g, err := Parse([]byte(`{
		"processType": "SOA",
		"elements": [
			{"type": "PLACE", "id": "p1", "service": "ServiceA", "operation": "step1"}
		],
		"arrows": []
	}`))
	require.NoError(t, err)
	p := g.Places["p1"]
	require.NotNil(t, p)
	require.Len(t, p.Operations, 1)
	assert.Equal(t, "step1", p.Operations[0].Name)
}

func TestParseOperationsArrayBareStringsAndObjects(t *testing.T) {
	g, err := Parse([]byte(`{
		"processType": "SOA",
		"elements": [
			{"type": "PLACE", "id": "p1", "service": "ServiceA", "operations": [
				"step1",
				{"name": "step2", "returnAttribute": "result", "arguments": [{"name": "a"}, {"name": "b"}]}
			]}
		],
		"arrows": []
	}`))
	require.NoError(t, err)
	p := g.Places["p1"]
	require.Len(t, p.Operations, 2)
	assert.Equal(t, "step1", p.Operations[0].Name)
	assert.Equal(t, "step2", p.Operations[1].Name)
	assert.Equal(t, "result", p.Operations[1].ReturnAttr)
	assert.Equal(t, []string{"a", "b"}, p.Operations[1].ArgumentNames)
}

func TestParseConditionAliasesGuardCondition(t *testing.T) {
	g, err := Parse([]byte(`{
		"processType": "PetriNet",
		"elements": [],
		"arrows": [{"source": "a", "target": "b", "condition": "legacy-guard"}]
	}`))
	require.NoError(t, err)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "legacy-guard", g.Edges[0].GuardCondition)
}

func TestParseGuardConditionTakesPrecedenceOverLegacyCondition(t *testing.T) {
	g, err := Parse([]byte(`{
		"processType": "PetriNet",
		"elements": [],
		"arrows": [{"source": "a", "target": "b", "guardCondition": "new-guard", "condition": "legacy-guard"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "new-guard", g.Edges[0].GuardCondition)
}

func TestParseTransitionBufferOnlyHonoredForTInOrOther(t *testing.T) {
	buf5 := 5
	g, err := Parse([]byte(`{
		"processType": "PetriNet",
		"elements": [
			{"type": "TRANSITION", "id": "t1", "node_type": "EdgeNode", "transition_type": "T_in", "buffer": 5},
			{"type": "TRANSITION", "id": "t2", "node_type": "EdgeNode", "transition_type": "T_out", "buffer": 5}
		],
		"arrows": []
	}`))
	require.NoError(t, err)
	require.True(t, g.Transitions["t1"].HasBuffer)
	assert.Equal(t, buf5, g.Transitions["t1"].Buffer)
	assert.False(t, g.Transitions["t2"].HasBuffer, "buffer is only honored on T_in/Other transitions")
}

func TestParseTransitionDefaultsToOtherType(t *testing.T) {
	g, err := Parse([]byte(`{
		"processType": "PetriNet",
		"elements": [{"type": "TRANSITION", "id": "t1", "node_type": "ForkNode"}],
		"arrows": []
	}`))
	require.NoError(t, err)
	assert.Equal(t, model.Other, g.Transitions["t1"].TransitionType)
}

func TestParseRejectsUnrecognizedElementType(t *testing.T) {
	_, err := Parse([]byte(`{
		"processType": "PetriNet",
		"elements": [{"type": "BOGUS", "id": "x"}],
		"arrows": []
	}`))
	require.Error(t, err)
}
