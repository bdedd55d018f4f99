// Package telemetry defines the writer interface the orchestrator calls to
// record Petri-net instrumentation (spec §4.6 step 5, §4.7, §6 Persisted
// state): transition firings, token genealogy, join-synchronization rows,
// and service-timing rows. The telemetry database itself is out of scope
// (spec §1); this package only describes the shape of the writes and ships
// an in-memory recorder plus a Postgres-backed one.
package telemetry

import "context"

// TransitionFiring is one T_in or T_out record.
type TransitionFiring struct {
	PlaceID           string
	NodeType          string
	Direction         string // "T_in" | "T_out"
	SequenceID        int64
	WorkflowBase      int64
	WorkflowStartTime int64
	BufferSizeAtDequeue int
}

// GenealogyRecord links a fork child back to its parent token.
type GenealogyRecord struct {
	ParentSequenceID int64
	ChildSequenceID  int64
	ForkTransitionID string
}

// JoinArrival records one branch's arrival at a join, and whether that
// arrival completed the join.
type JoinArrival struct {
	JoinTransitionID string
	WorkflowBase     int64
	SequenceID       int64
	AttributeName    string
	Completed        bool
}

// ServiceTiming records one business-method invocation's timing.
type ServiceTiming struct {
	Service           string
	Operation         string
	SequenceID        int64
	InvocationStartMS int64
	InvocationEndMS   int64
}

// Recorder is the capability every orchestrator is injected with (Design
// Notes §9: the Petri-Net event logger is a process singleton in the
// source; here it is a capability so tests can substitute an in-memory
// recorder instead of a real database writer).
type Recorder interface {
	RecordTransition(ctx context.Context, f TransitionFiring) error
	RecordGenealogy(ctx context.Context, g GenealogyRecord) error
	RecordJoinArrival(ctx context.Context, j JoinArrival) error
	RecordServiceTiming(ctx context.Context, t ServiceTiming) error
}

// Memory is an in-process Recorder: every record is appended to a slice.
// Used by tests and as the default recorder for local-dev runs with
// TELEMETRY_ENABLED=false.
type Memory struct {
	Transitions []TransitionFiring
	Genealogy   []GenealogyRecord
	JoinArrivals []JoinArrival
	ServiceTimings []ServiceTiming
}

// NewMemory returns an empty in-memory recorder.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) RecordTransition(_ context.Context, f TransitionFiring) error {
	m.Transitions = append(m.Transitions, f)
	return nil
}

func (m *Memory) RecordGenealogy(_ context.Context, g GenealogyRecord) error {
	m.Genealogy = append(m.Genealogy, g)
	return nil
}

func (m *Memory) RecordJoinArrival(_ context.Context, j JoinArrival) error {
	m.JoinArrivals = append(m.JoinArrivals, j)
	return nil
}

func (m *Memory) RecordServiceTiming(_ context.Context, t ServiceTiming) error {
	m.ServiceTimings = append(m.ServiceTimings, t)
	return nil
}

// CountTOut returns the number of T_out firings recorded for placeID and
// sequenceID, used
// by the fork/join conservation property (spec §8): exactly one T_out per
// fork parent.
func (m *Memory) CountTOut(placeID string, sequenceID int64) int {
	n := 0
	for _, f := range m.Transitions {
		if f.PlaceID == placeID && f.SequenceID == sequenceID && f.Direction == "T_out" {
			n++
		}
	}
	return n
}
