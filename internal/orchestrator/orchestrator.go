// Package orchestrator implements the per-place event loop (spec §4.6):
// dequeue a token, coordinate its inputs (null/anyof/single-attribute/Join),
// invoke the bound business method, and route the result (§4.7).
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/onyxflow/workflow-engine/internal/businessinvoker"
	"github.com/onyxflow/workflow-engine/internal/codec"
	"github.com/onyxflow/workflow-engine/internal/condition"
	"github.com/onyxflow/workflow-engine/internal/engineerr"
	"github.com/onyxflow/workflow-engine/internal/joincoord"
	"github.com/onyxflow/workflow-engine/internal/logger"
	"github.com/onyxflow/workflow-engine/internal/metrics"
	"github.com/onyxflow/workflow-engine/internal/model"
	"github.com/onyxflow/workflow-engine/internal/rulebase"
	"github.com/onyxflow/workflow-engine/internal/rulehandler"
	"github.com/onyxflow/workflow-engine/internal/telemetry"
	"github.com/onyxflow/workflow-engine/internal/token"
)

const anyofPrefix = "anyof:"

// Opts configures a new Orchestrator.
type Opts struct {
	PlaceID   string
	Service   string
	Operation string
	Binding   rulebase.Binding
	SOAMode   bool

	Registry  *rulehandler.Registry
	Join      *joincoord.Coordinator
	Invoker   businessinvoker.Invoker
	Recorder  telemetry.Recorder
	Evaluator *condition.Evaluator
	Publisher Publisher
	Logger    *logger.Logger
	Metrics   *metrics.Metrics

	// QueueCapacity is the bounded FIFO's capacity, taken from the
	// transition's buffer value (spec §4.5 step 5), falling back to 64.
	QueueCapacity int
}

// Orchestrator owns one (service, operation) place's bounded queue and
// single worker loop (spec §5 "one thread per deployed orchestrator").
type Orchestrator struct {
	opts  Opts
	queue chan *token.Token
	log   *logger.Logger
}

// New constructs an Orchestrator from opts.
func New(opts Opts) *Orchestrator {
	cap := opts.QueueCapacity
	if cap <= 0 {
		cap = 64
	}
	log := opts.Logger
	if log != nil {
		log = log.WithPlace(opts.PlaceID, opts.Service, opts.Operation)
	}
	return &Orchestrator{opts: opts, queue: make(chan *token.Token, cap), log: log}
}

// Enqueue offers tok to the bounded queue, blocking the producer when full
// (spec §5 "the EventReactor feeds tokens, blocking the producer when
// full"). Returns ctx.Err() if ctx is cancelled first.
func (o *Orchestrator) Enqueue(ctx context.Context, tok *token.Token) error {
	select {
	case o.queue <- tok:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is cancelled, sweeping expired joins
// opportunistically on every event (spec §5 Cancellation & timeouts).
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tok := <-o.queue:
			bufferSizeAtDequeue := len(o.queue)
			if o.opts.Metrics != nil {
				o.opts.Metrics.QueueDepth.WithLabelValues(o.opts.PlaceID).Set(float64(bufferSizeAtDequeue))
			}
			o.opts.Join.Sweep(nowMillis())
			o.drainSequentialJoins(ctx)
			if err := o.handleEvent(ctx, tok, bufferSizeAtDequeue); err != nil {
				if o.log != nil {
					o.log.Error("dropping event", "error", err)
				}
				if o.opts.Metrics != nil {
					o.opts.Metrics.EventsDropped.WithLabelValues(o.opts.PlaceID, "handle_error").Inc()
				}
			} else if o.opts.Metrics != nil {
				o.opts.Metrics.EventsProcessed.WithLabelValues(o.opts.PlaceID, o.opts.Service, o.opts.Operation).Inc()
			}
		}
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// handleEvent implements spec §4.6 steps 1-8 for a single dequeued token.
func (o *Orchestrator) handleEvent(ctx context.Context, tok *token.Token, bufferSizeAtDequeue int) error {
	workflowStartTime := tok.Monitor.ProcessStartTime // captured immediately, step 1

	if tok.Service.ServiceName != o.opts.Service {
		return nil // shared bus, silently drop events addressed elsewhere (step 2)
	}
	if tok.Header.RuleBaseVersion == "" {
		return fmt.Errorf("ruleBaseVersion is empty: malformed datagram")
	}
	if !o.opts.Registry.IsValidVersion(tok.Header.RuleBaseVersion) {
		return fmt.Errorf("ruleBaseVersion %q not registered locally", tok.Header.RuleBaseVersion)
	}

	rb, ok := o.opts.Registry.Get(o.opts.Service, o.opts.Operation, tok.Header.RuleBaseVersion)
	if !ok {
		return fmt.Errorf("no rule base registered for %s.%s@%s", o.opts.Service, o.opts.Operation, tok.Header.RuleBaseVersion)
	}

	o.recordTIn(ctx, rb, tok, workflowStartTime, bufferSizeAtDequeue)

	args, continuationID, resolvedStart, ready, err := o.coordinateInput(ctx, rb, tok, workflowStartTime)
	if err != nil {
		return err
	}
	if !ready {
		return nil // join not yet complete, or event dropped per a definition-error policy
	}

	invokeStart := nowMillis()
	result, err := o.opts.Invoker.Invoke(ctx, continuationID, o.opts.Service, o.opts.Operation, args, o.opts.Binding.ReturnAttr, tok.Header.RuleBaseVersion)
	if err != nil {
		return engineerr.Wrap(engineerr.BusinessInvokeError,
			fmt.Sprintf("%s.%s", o.opts.Service, o.opts.Operation), err)
	}
	o.recordTiming(ctx, continuationID, invokeStart)

	route, err := SelectRoute(o.opts.Evaluator, rb, continuationID, result)
	if err != nil {
		return err
	}

	return o.publishRoute(ctx, rb, tok, route, continuationID, resolvedStart, result)
}

// coordinateInput implements spec §4.6 step 6: null-input, anyof,
// single-attribute EdgeNode-like places, and JoinNode synchronization.
// ready=false with a nil error means "wait for more branches", not a
// failure.
func (o *Orchestrator) coordinateInput(ctx context.Context, rb rulehandler.RuleBase, tok *token.Token, workflowStartTime int64) (args []any, continuationID int64, resolvedStart int64, ready bool, err error) {
	sequenceID := tok.Header.SequenceID

	if len(o.opts.Binding.Inputs) == 0 {
		return nil, sequenceID, workflowStartTime, true, nil // null input, step 6 "null input"
	}

	if rb.NodeType == model.JoinNode {
		return o.coordinateJoin(ctx, rb, tok, workflowStartTime)
	}

	attrName, attrValue := "", ""
	if tok.Join != nil {
		attrName, attrValue = tok.Join.AttributeName, tok.Join.AttributeValue
	}

	if anyof, names := anyofNames(o.opts.Binding.Inputs); anyof {
		for _, n := range names {
			if n == attrName {
				return []any{attrValue}, sequenceID, workflowStartTime, true, nil
			}
		}
		return nil, 0, 0, false, engineerr.New(engineerr.WorkflowDefErrorEdge,
			fmt.Sprintf("attribute %q matches no anyof alternative", attrName))
	}

	// EdgeNode/TerminateNode/MergeNode with one input: strict match.
	want := o.opts.Binding.Inputs[0]
	if attrName != want {
		return nil, 0, 0, false, engineerr.New(engineerr.WorkflowDefErrorEdge,
			fmt.Sprintf("expected attribute %q, got %q", want, attrName))
	}
	return []any{attrValue}, sequenceID, workflowStartTime, true, nil
}

func anyofNames(inputs []string) (bool, []string) {
	if len(inputs) != 1 || !strings.HasPrefix(inputs[0], anyofPrefix) {
		return false, nil
	}
	return true, strings.Split(strings.TrimPrefix(inputs[0], anyofPrefix), ",")
}

// coordinateJoin implements spec §4.6 step 6 JoinNode case: decode the
// token's fork identity, offer its contribution to the shared
// JoinCoordinator, and on completion assemble the continuation token's
// arguments.
func (o *Orchestrator) coordinateJoin(ctx context.Context, rb rulehandler.RuleBase, tok *token.Token, workflowStartTime int64) (args []any, continuationID int64, resolvedStart int64, ready bool, err error) {
	sequenceID := tok.Header.SequenceID
	decoded := codec.Decode(sequenceID)

	required := rb.JoinInputCount
	if !decoded.Encoded() || required == 0 {
		required = len(o.opts.Binding.Inputs)
	} else {
		if decoded.JoinCount != rb.JoinInputCount {
			return nil, 0, 0, false, engineerr.New(engineerr.WorkflowDefErrorJoin,
				fmt.Sprintf("token %d encodes joinCount %d, place expects %d", sequenceID, decoded.JoinCount, rb.JoinInputCount))
		}
		required = decoded.JoinCount
	}

	attrName, attrValue := "token", ""
	var notAfter int64
	if tok.Join != nil {
		if tok.Join.AttributeName != "" {
			attrName = tok.Join.AttributeName
		}
		attrValue = tok.Join.AttributeValue
		notAfter = tok.Join.NotAfter
	}

	contrib := joincoord.Contribution{
		SequenceID:        sequenceID,
		AttributeName:     attrName,
		AttributeValue:    attrValue,
		WorkflowStartTime: workflowStartTime,
		RuleBaseVersion:   tok.Header.RuleBaseVersion,
	}

	completed := o.opts.Join.Offer(o.opts.PlaceID, decoded.WorkflowBase, required, notAfter, contrib, nowMillis())
	if o.opts.Recorder != nil {
		_ = o.opts.Recorder.RecordJoinArrival(ctx, telemetry.JoinArrival{
			JoinTransitionID: o.opts.PlaceID, WorkflowBase: decoded.WorkflowBase,
			SequenceID: sequenceID, AttributeName: attrName, Completed: completed != nil,
		})
	}
	if completed == nil {
		return nil, 0, 0, false, nil // still waiting on other branches, held back by scheduling mode, or expired
	}

	o.observeJoinWait(*completed)
	args = o.assembleJoinArgs(*completed)
	return args, completed.ContinuationID, completed.WorkflowStartTime, true, nil
}

func (o *Orchestrator) observeJoinWait(completed joincoord.Completed) {
	if o.opts.Metrics == nil {
		return
	}
	waitSeconds := float64(nowMillis()-completed.WorkflowStartTime) / 1000.0
	if waitSeconds > 0 {
		o.opts.Metrics.JoinWaitSeconds.WithLabelValues(o.opts.PlaceID).Observe(waitSeconds)
	}
}

// assembleJoinArgs builds the continuation call's arguments from a
// completed join's contributions (spec §4.6 step 6 sub-step 3).
func (o *Orchestrator) assembleJoinArgs(completed joincoord.Completed) []any {
	if o.opts.SOAMode {
		args := make([]any, len(o.opts.Binding.Inputs))
		byName := make(map[string]string, len(completed.Contributions))
		for _, c := range completed.Contributions {
			byName[c.AttributeName] = c.AttributeValue
		}
		for i, name := range o.opts.Binding.Inputs {
			args[i] = byName[name]
		}
		return args
	}

	// PetriNet joins are synchronization-only: the first contributor's
	// payload stands in for the whole branch set (spec §4.6 step 6.3).
	first := completed.Contributions[0]
	for _, c := range completed.Contributions {
		if c.SequenceID == completed.ContinuationID {
			first = c
			break
		}
	}
	return []any{first.AttributeValue}
}

// runJoinCompletion invokes and routes a join that DrainReady released
// after being held back by SEQUENTIAL scheduling — there is no live
// dequeued token driving it, so the continuation token used for routing
// carries only the ruleBaseVersion recorded with completed's lowest
// contributor.
func (o *Orchestrator) runJoinCompletion(ctx context.Context, completed joincoord.Completed) error {
	rb, ok := o.opts.Registry.Get(o.opts.Service, o.opts.Operation, completed.RuleBaseVersion)
	if !ok {
		return fmt.Errorf("no rule base registered for %s.%s@%s", o.opts.Service, o.opts.Operation, completed.RuleBaseVersion)
	}

	o.observeJoinWait(completed)
	args := o.assembleJoinArgs(completed)

	invokeStart := nowMillis()
	result, err := o.opts.Invoker.Invoke(ctx, completed.ContinuationID, o.opts.Service, o.opts.Operation, args, o.opts.Binding.ReturnAttr, completed.RuleBaseVersion)
	if err != nil {
		return engineerr.Wrap(engineerr.BusinessInvokeError,
			fmt.Sprintf("%s.%s", o.opts.Service, o.opts.Operation), err)
	}
	o.recordTiming(ctx, completed.ContinuationID, invokeStart)

	route, err := SelectRoute(o.opts.Evaluator, rb, completed.ContinuationID, result)
	if err != nil {
		return err
	}

	tok := &token.Token{Header: token.Header{RuleBaseVersion: completed.RuleBaseVersion}}
	return o.publishRoute(ctx, rb, tok, route, completed.ContinuationID, completed.WorkflowStartTime, result)
}

// drainSequentialJoins releases any SEQUENTIAL-mode joins for this place
// that were held back behind an earlier, now-resolved base, and runs each
// one to completion (spec §4.6 "SEQUENTIAL ... blocking later-arriving
// complete joins behind an incomplete earlier one"). A no-op under
// OPTIMIZED mode.
func (o *Orchestrator) drainSequentialJoins(ctx context.Context) {
	for _, completed := range o.opts.Join.DrainReady(o.opts.PlaceID, nowMillis()) {
		if err := o.runJoinCompletion(ctx, completed); err != nil {
			if o.log != nil {
				o.log.Error("dropping drained join", "error", err)
			}
			if o.opts.Metrics != nil {
				o.opts.Metrics.EventsDropped.WithLabelValues(o.opts.PlaceID, "handle_error").Inc()
			}
		}
	}
}

func (o *Orchestrator) recordTiming(ctx context.Context, sequenceID, invokeStart int64) {
	if o.opts.Recorder == nil {
		return
	}
	_ = o.opts.Recorder.RecordServiceTiming(ctx, telemetry.ServiceTiming{
		Service: o.opts.Service, Operation: o.opts.Operation, SequenceID: sequenceID,
		InvocationStartMS: invokeStart, InvocationEndMS: nowMillis(),
	})
}

func (o *Orchestrator) recordTIn(ctx context.Context, rb rulehandler.RuleBase, tok *token.Token, workflowStartTime int64, bufferSizeAtDequeue int) {
	if o.opts.Recorder == nil {
		return
	}
	_ = o.opts.Recorder.RecordTransition(ctx, telemetry.TransitionFiring{
		PlaceID: o.opts.PlaceID, NodeType: string(rb.NodeType), Direction: "T_in",
		SequenceID: tok.Header.SequenceID, WorkflowBase: codec.WorkflowBase(tok.Header.SequenceID),
		WorkflowStartTime: workflowStartTime, BufferSizeAtDequeue: bufferSizeAtDequeue,
	})
}

// publishRoute sends the outgoing token(s) a route decided on, records
// T_out and genealogy, and handles termination. result is the business
// method's return value, carried forward as the outgoing join attribute's
// value (spec §3 "joinAttribute.attributeValue carries the payload").
func (o *Orchestrator) publishRoute(ctx context.Context, rb rulehandler.RuleBase, tok *token.Token, route RouteResult, continuationID int64, workflowStartTime int64, result businessinvoker.Result) error {
	if route.Terminate {
		if o.opts.Recorder != nil {
			_ = o.opts.Recorder.RecordTransition(ctx, telemetry.TransitionFiring{
				PlaceID: "TERMINATE", NodeType: string(model.TerminateNode), Direction: "T_out",
				SequenceID: continuationID, WorkflowBase: codec.WorkflowBase(continuationID),
			})
		}
		return nil
	}

	if len(route.Routes) == 0 {
		return nil // MonitorNode or a route with no downstream
	}

	if o.opts.Recorder != nil {
		_ = o.opts.Recorder.RecordTransition(ctx, telemetry.TransitionFiring{
			PlaceID: o.opts.PlaceID, NodeType: string(rb.NodeType), Direction: "T_out",
			SequenceID: continuationID, WorkflowBase: codec.WorkflowBase(continuationID),
			WorkflowStartTime: workflowStartTime,
		})
	}

	for _, r := range route.Routes {
		out := &token.Token{
			Header: token.Header{SequenceID: r.SequenceID, RuleBaseVersion: tok.Header.RuleBaseVersion},
			Service: token.Service{ServiceName: r.Dest.Service, Operation: r.Dest.Operation},
			Monitor: token.Monitor{ProcessStartTime: workflowStartTime, EventArrivalTime: nowMillis(), CallingService: o.opts.Service},
		}
		if o.opts.Binding.ReturnAttr != "" {
			out.Join = &token.Join{AttributeName: o.opts.Binding.ReturnAttr, AttributeValue: fmt.Sprintf("%v", result.Value)}
			if tok.Join != nil {
				out.Join.NotAfter = tok.Join.NotAfter // join expiry window travels with the instance
			}
		}
		if route.Forked {
			out.Trans = &token.TransMeta{PreviousPlace: o.opts.PlaceID, ForkTransition: o.opts.PlaceID, ParentTokenID: continuationID}
			if o.opts.Recorder != nil {
				_ = o.opts.Recorder.RecordGenealogy(ctx, telemetry.GenealogyRecord{
					ParentSequenceID: continuationID, ChildSequenceID: r.SequenceID, ForkTransitionID: o.opts.PlaceID,
				})
			}
		}
		if err := o.opts.Publisher.Publish(ctx, r.Dest, out); err != nil {
			return fmt.Errorf("publish to %s.%s: %w", r.Dest.Service, r.Dest.Operation, err)
		}
	}
	return nil
}
