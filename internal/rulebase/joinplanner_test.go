package rulebase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyxflow/workflow-engine/internal/model"
)

// buildForkJoinGraph mirrors scenario 2: P1 -> Fork -> {P2, P3} -> Join -> P4.
func buildForkJoinGraph(t *testing.T) *model.Graph {
	t.Helper()
	g := model.NewGraph("PetriNet")
	g.AddPlace(&model.Place{ID: "P1", Service: "svc1", Operations: []model.Operation{{Name: "op1"}}})
	g.AddPlace(&model.Place{ID: "P2", Service: "svc2", Operations: []model.Operation{{Name: "op2"}}})
	g.AddPlace(&model.Place{ID: "P3", Service: "svc3", Operations: []model.Operation{{Name: "op3"}}})
	g.AddPlace(&model.Place{ID: "P4", Service: "svc4", Operations: []model.Operation{{Name: "op4"}}})

	g.AddTransition(&model.Transition{ID: "Fork1", Type: model.ForkNode})
	g.AddTransition(&model.Transition{ID: "T_out_P2", Type: model.EdgeNode, TransitionType: model.TOut})
	g.AddTransition(&model.Transition{ID: "T_out_P3", Type: model.EdgeNode, TransitionType: model.TOut})
	g.AddTransition(&model.Transition{ID: "Join1", Type: model.JoinNode})

	g.AddEdge(model.Edge{From: "P1", To: "Fork1"})
	g.AddEdge(model.Edge{From: "Fork1", To: "P2"})
	g.AddEdge(model.Edge{From: "Fork1", To: "P3"})
	g.AddEdge(model.Edge{From: "P2", To: "T_out_P2"})
	g.AddEdge(model.Edge{From: "P3", To: "T_out_P3"})
	g.AddEdge(model.Edge{From: "T_out_P2", To: "Join1"})
	g.AddEdge(model.Edge{From: "T_out_P3", To: "Join1"})
	g.AddEdge(model.Edge{From: "Join1", To: "P4"})

	return g
}

func TestPlanJoinAssignsSlotsInOrder(t *testing.T) {
	g := buildForkJoinGraph(t)
	plan, err := PlanJoin(g, "Join1")
	require.NoError(t, err)
	assert.Equal(t, "P4", plan.DownstreamPlaceID)
	require.Len(t, plan.Slots, 2)
	assert.Equal(t, "token_branch1", plan.Slots[0].ArgName)
	assert.Equal(t, "P2", plan.Slots[0].SourcePlaceID)
	assert.Equal(t, "token_branch2", plan.Slots[1].ArgName)
	assert.Equal(t, "P3", plan.Slots[1].SourcePlaceID)
	assert.False(t, plan.OverCount)
	assert.False(t, plan.UnderCount)
}

func TestPlanJoinExcludesFeedbackLoops(t *testing.T) {
	g := buildForkJoinGraph(t)
	// A feedback (retry) arc into Join1 whose source T_out shares the join's
	// own suffix must not count toward join arity.
	g.AddTransition(&model.Transition{ID: "T_out_Join1", Type: model.EdgeNode, TransitionType: model.TOut})
	g.AddEdge(model.Edge{From: "T_out_Join1", To: "Join1"})

	retained := g.RetainedJoinArcs("Join1")
	assert.Len(t, retained, 2, "feedback loop arc must be excluded")
}

func TestPlanJoinExcludesEventGeneratorSources(t *testing.T) {
	g := buildForkJoinGraph(t)
	g.AddTransition(&model.Transition{ID: "EG1", Type: model.EventGenerator})
	g.AddEdge(model.Edge{From: "EG1", To: "Join1"})

	retained := g.RetainedJoinArcs("Join1")
	assert.Len(t, retained, 2, "EventGenerator source must not count toward join arity")
}

func TestGenerateBindingsSetsReturnAttrFromJoinSlot(t *testing.T) {
	g := buildForkJoinGraph(t)
	bs, err := GenerateBindings(g)
	require.NoError(t, err)

	p2Binding, ok := bs.Get("P2", "op2")
	require.True(t, ok)
	assert.Equal(t, "token_branch1", p2Binding.ReturnAttr)

	p4Binding, ok := bs.Get("P4", "op4")
	require.True(t, ok)
	assert.Equal(t, []string{"token_branch1", "token_branch2"}, p4Binding.Inputs)
	assert.Equal(t, "token", p4Binding.ReturnAttr)

	p1Binding, ok := bs.Get("P1", "op1")
	require.True(t, ok)
	assert.Equal(t, "token", p1Binding.ReturnAttr, "place not feeding a join defaults to token")
}

func TestVerifyJoinAritySOAMismatchRejectsDeploy(t *testing.T) {
	g := buildForkJoinGraph(t)
	g.ProcessType = "SOA"

	// Hand-authored SOA binding declares three input slots for P4, but the
	// join only has two retained incoming arcs.
	bs, err := LoadBindings([]byte(`[
	  {"placeId":"P1","service":"svc1","operation":"op1","returnAttribute":"token","inputs":["token"]},
	  {"placeId":"P2","service":"svc2","operation":"op2","returnAttribute":"branch1","inputs":["token"]},
	  {"placeId":"P3","service":"svc3","operation":"op3","returnAttribute":"branch2","inputs":["token"]},
	  {"placeId":"P4","service":"svc4","operation":"op4","returnAttribute":"token","inputs":["branch1","branch2","branch3"]}
	]`))
	require.NoError(t, err)

	_, err = VerifyJoinArity(g, bs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VALIDATION_FAILED")
	assert.Contains(t, err.Error(), "Join1")
}

func TestVerifyJoinAritySOAMatchingBindingPasses(t *testing.T) {
	g := buildForkJoinGraph(t)
	g.ProcessType = "SOA"

	bs, err := LoadBindings([]byte(`[
	  {"placeId":"P4","service":"svc4","operation":"op4","returnAttribute":"token","inputs":["branch1","branch2"]}
	]`))
	require.NoError(t, err)

	warnings, err := VerifyJoinArity(g, bs)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestVerifyJoinArityPetriNetMismatchOnlyWarns(t *testing.T) {
	g := buildForkJoinGraph(t)
	bs, err := LoadBindings([]byte(`[
	  {"placeId":"P4","service":"svc4","operation":"op4","returnAttribute":"token","inputs":["branch1","branch2","branch3"]}
	]`))
	require.NoError(t, err)

	warnings, err := VerifyJoinArity(g, bs)
	require.NoError(t, err, "PetriNet mode warns on arity mismatch instead of rejecting")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "Join1")
}
