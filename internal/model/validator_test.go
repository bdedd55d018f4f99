package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyxflow/workflow-engine/internal/factstore"
)

type stubStore struct {
	active map[string]factstore.ServiceBinding
}

func (s *stubStore) ActiveService(_ context.Context, service, operation string) (factstore.ServiceBinding, bool, error) {
	b, ok := s.active[service+"."+operation]
	return b, ok, nil
}
func (s *stubStore) HasOperation(_ context.Context, _, _ string) (factstore.ServiceBinding, bool, error) {
	return factstore.ServiceBinding{}, false, nil
}
func (s *stubStore) BoundChannel(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}

func TestValidateAccumulatesMultipleErrors(t *testing.T) {
	g := NewGraph("PetriNet")
	g.AddPlace(&Place{ID: "p1", Service: "ServiceA", Operations: []Operation{{Name: "op1"}}})
	g.AddEdge(Edge{From: "p1", To: "nowhere"}) // unknown endpoint

	store := &stubStore{active: map[string]factstore.ServiceBinding{}}
	result, err := Validate(context.Background(), g, store)
	require.Error(t, err, "no activeService/hasOperation fact and an unknown edge endpoint should both fail")
	assert.False(t, result.OK())
	assert.GreaterOrEqual(t, len(result.Errors), 2, "validator must accumulate all errors, not fail fast on the first")
}

func TestValidatePassesWithResolvableServiceAndConnectedPlace(t *testing.T) {
	g := NewGraph("PetriNet")
	g.AddPlace(&Place{ID: "p1", Service: "ServiceA", Operations: []Operation{{Name: "op1"}}})
	g.AddEdge(Edge{From: NodeSTART, To: "p1"})

	store := &stubStore{active: map[string]factstore.ServiceBinding{"ServiceA.op1": {ChannelID: "a1", Port: 1}}}
	result, err := Validate(context.Background(), g, store)
	require.NoError(t, err)
	assert.True(t, result.OK())
}

func TestValidateFloatingPlaceNeedsNoEdges(t *testing.T) {
	g := NewGraph("PetriNet")
	g.AddPlace(&Place{ID: "p1", Service: "ServiceA", Operations: []Operation{{Name: "op1"}}, Floating: true})

	store := &stubStore{active: map[string]factstore.ServiceBinding{"ServiceA.op1": {ChannelID: "a1", Port: 1}}}
	result, err := Validate(context.Background(), g, store)
	require.NoError(t, err)
	assert.True(t, result.OK())
}

func TestValidateJoinNodeNeedsAtLeastTwoRetainedArcs(t *testing.T) {
	g := NewGraph("PetriNet")
	g.AddTransition(&Transition{ID: "join1", Type: JoinNode})
	g.AddEdge(Edge{From: "onlyBranch", To: "join1"})

	store := &stubStore{active: map[string]factstore.ServiceBinding{}}
	_, err := Validate(context.Background(), g, store)
	require.Error(t, err)
}

func TestValidateUnrecognizedTransitionType(t *testing.T) {
	g := NewGraph("PetriNet")
	g.AddTransition(&Transition{ID: "t1", Type: NodeType("BogusNode")})

	store := &stubStore{active: map[string]factstore.ServiceBinding{}}
	result, _ := Validate(context.Background(), g, store)
	assert.False(t, result.OK())
}
