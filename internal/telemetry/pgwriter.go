package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgWriter is a Postgres-backed Recorder built on pgxpool, the way the
// teacher's common/db wraps pgxpool for the orchestrator's own persistence.
// It gives the pgx dependency a concrete, exercised home for the telemetry
// database spec §6 calls out as an external collaborator.
type PgWriter struct {
	pool *pgxpool.Pool
}

// NewPgWriter connects to databaseURL and pings the server; it does not
// check that the schema's tables exist. Callers are expected to have
// provisioned the schema (transition_firings, genealogy, join_arrivals,
// service_timings)
// out of band, matching the "external telemetry DB" scope boundary in
// spec §1.
func NewPgWriter(ctx context.Context, databaseURL string) (*PgWriter, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("telemetry: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("telemetry: ping: %w", err)
	}
	return &PgWriter{pool: pool}, nil
}

// Close releases the connection pool.
func (w *PgWriter) Close() { w.pool.Close() }

func (w *PgWriter) RecordTransition(ctx context.Context, f TransitionFiring) error {
	_, err := w.pool.Exec(ctx, `
		INSERT INTO transition_firings
			(place_id, node_type, direction, sequence_id, workflow_base, workflow_start_time, buffer_size_at_dequeue)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.PlaceID, f.NodeType, f.Direction, f.SequenceID, f.WorkflowBase, f.WorkflowStartTime, f.BufferSizeAtDequeue)
	if err != nil {
		return fmt.Errorf("telemetry: record transition: %w", err)
	}
	return nil
}

func (w *PgWriter) RecordGenealogy(ctx context.Context, g GenealogyRecord) error {
	_, err := w.pool.Exec(ctx, `
		INSERT INTO genealogy (parent_sequence_id, child_sequence_id, fork_transition_id)
		VALUES ($1, $2, $3)`,
		g.ParentSequenceID, g.ChildSequenceID, g.ForkTransitionID)
	if err != nil {
		return fmt.Errorf("telemetry: record genealogy: %w", err)
	}
	return nil
}

func (w *PgWriter) RecordJoinArrival(ctx context.Context, j JoinArrival) error {
	_, err := w.pool.Exec(ctx, `
		INSERT INTO join_arrivals (join_transition_id, workflow_base, sequence_id, attribute_name, completed)
		VALUES ($1, $2, $3, $4, $5)`,
		j.JoinTransitionID, j.WorkflowBase, j.SequenceID, j.AttributeName, j.Completed)
	if err != nil {
		return fmt.Errorf("telemetry: record join arrival: %w", err)
	}
	return nil
}

func (w *PgWriter) RecordServiceTiming(ctx context.Context, t ServiceTiming) error {
	_, err := w.pool.Exec(ctx, `
		INSERT INTO service_timings (service, operation, sequence_id, invocation_start_ms, invocation_end_ms)
		VALUES ($1, $2, $3, $4, $5)`,
		t.Service, t.Operation, t.SequenceID, t.InvocationStartMS, t.InvocationEndMS)
	if err != nil {
		return fmt.Errorf("telemetry: record service timing: %w", err)
	}
	return nil
}
