// Package deploy implements the Rule Deployer (spec §4.2): it loads a
// workflow JSON definition, validates it, derives canonical bindings and
// per-place rule content, and pushes rule payloads to every place's rule
// handler over UDP with a retrying commitment protocol (spec §4.9).
package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/onyxflow/workflow-engine/internal/config"
	"github.com/onyxflow/workflow-engine/internal/engineerr"
	"github.com/onyxflow/workflow-engine/internal/factstore"
	"github.com/onyxflow/workflow-engine/internal/logger"
	"github.com/onyxflow/workflow-engine/internal/metrics"
	"github.com/onyxflow/workflow-engine/internal/model"
	"github.com/onyxflow/workflow-engine/internal/rulebase"
	"github.com/onyxflow/workflow-engine/internal/token"
	"github.com/onyxflow/workflow-engine/internal/transport"
	"github.com/onyxflow/workflow-engine/internal/workflowjson"
)

// Deployer owns everything one call to Deploy needs: where process
// definitions and rule folders live, the fact store used to resolve
// channels/ports, and the port bases the commitment protocol and rule
// pushes run over.
type Deployer struct {
	Store   factstore.Store
	Paths   config.PathConfig
	Ports   config.PortConfig
	Commit  config.CommitConfig
	Log     *logger.Logger
	Metrics *metrics.Metrics

	// SOABindingsPath, when set, is loaded via rulebase.LoadBindings instead
	// of deriving bindings from topology (spec §4.3: SOA bindings are
	// hand-authored).
	SOABindingsPath string
}

// New constructs a Deployer from a loaded Config.
func New(cfg *config.Config, store factstore.Store, log *logger.Logger) *Deployer {
	return &Deployer{Store: store, Paths: cfg.Paths, Ports: cfg.Ports, Commit: cfg.Commit, Log: log}
}

// Deploy loads, validates, and pushes the named process definition at the
// given version. It returns the total number of rule payloads the
// deployer's rule handlers confirmed receiving.
func (d *Deployer) Deploy(ctx context.Context, processName, version string) (int, error) {
	runID := uuid.NewString()
	log := d.Log
	if log != nil {
		log = &logger.Logger{Logger: log.With("deploy_run_id", runID, "process", processName, "version", version)}
	}

	g, err := d.loadGraph(processName)
	if err != nil {
		return 0, err
	}

	if _, err := model.Validate(ctx, g, d.Store); err != nil {
		return 0, err
	}

	bindings, err := d.loadBindings(g)
	if err != nil {
		return 0, err
	}
	arityWarnings, err := rulebase.VerifyJoinArity(g, bindings)
	if err != nil {
		return 0, err
	}
	for _, w := range append(bindings.Warnings, arityWarnings...) {
		if log != nil {
			log.Warn("binding warning", "warning", w)
		}
	}

	if err := writeBindings(d.rulefolderPath(), version, bindings); err != nil {
		return 0, err
	}

	commitAddr := fmt.Sprintf(":%d", d.Ports.CommitBase+transport.VersionOffset(version))
	listener, err := ListenCommit(ctx, commitAddr, version)
	if err != nil {
		return 0, err
	}
	defer listener.Close()

	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()
	go listener.Serve(serveCtx) //nolint:errcheck // logged failure would just be ctx cancellation

	commitment := 0
	for _, p := range g.Places {
		if p.Floating || p.ElemType == "EVENT_GENERATOR" {
			continue
		}
		for _, op := range p.Operations {
			commitment++
			if err := d.deployOne(ctx, g, bindings, p.ID, op.Name, version, commitment, listener); err != nil {
				return listener.ConfirmedCount(), err
			}
			if log != nil {
				log.Info("rule payload confirmed", "place", p.ID, "operation", op.Name, "commitment", commitment)
			}
		}
	}

	return listener.ConfirmedCount(), nil
}

// loadGraph reads and parses {CommonFolder}/{ProcessDefinitionDir}/{processName}.json.
func (d *Deployer) loadGraph(processName string) (*model.Graph, error) {
	path := filepath.Join(d.Paths.CommonFolder, d.Paths.ProcessDefinitionDir, processName+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("deploy: read %s: %w", path, err)
	}
	g, err := workflowjson.Parse(data)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.InvalidProcessType, path, err)
	}
	return g, nil
}

// loadBindings derives canonical bindings from topology for a PetriNet
// deploy, or loads the hand-authored SOA binding file when SOABindingsPath
// is set (spec §4.3).
func (d *Deployer) loadBindings(g *model.Graph) (*rulebase.BindingSet, error) {
	if g.ProcessType == "SOA" && d.SOABindingsPath != "" {
		data, err := os.ReadFile(d.SOABindingsPath)
		if err != nil {
			return nil, fmt.Errorf("deploy: read SOA bindings %s: %w", d.SOABindingsPath, err)
		}
		return rulebase.LoadBindings(data)
	}
	return rulebase.GenerateBindings(g)
}

func (d *Deployer) rulefolderPath() string {
	return filepath.Join(d.Paths.CommonFolder, d.Paths.RuleFolderDir)
}

// deployOne builds and pushes the rule payload for one place's operation,
// retrying with linear backoff until the commitment is acked or retries are
// exhausted (spec §4.9).
func (d *Deployer) deployOne(ctx context.Context, g *model.Graph, bindings *rulebase.BindingSet, placeID, operation, version string, commitment int, listener *CommitListener) error {
	start := time.Now()
	binding, ok := bindings.Get(placeID, operation)
	if !ok {
		return fmt.Errorf("deploy: no canonical binding for %s.%s", placeID, operation)
	}

	rc, err := rulebase.GenerateRuleContent(g, placeID, operation)
	if err != nil {
		return fmt.Errorf("deploy: %w", err)
	}

	payload := buildPayload(rc, binding, version, commitment)
	data, err := token.MarshalRulePayload(payload)
	if err != nil {
		return fmt.Errorf("deploy: marshal rule payload for %s.%s: %w", binding.Service, operation, err)
	}

	resolved, err := transport.ResolveRule(ctx, d.Store, d.Ports.RuleBase, binding.Service, operation)
	if err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", resolved.Addr, resolved.Port)

	for attempt := 1; attempt <= d.Commit.MaxRetries; attempt++ {
		if err := transport.Send(ctx, addr, data); err != nil {
			if attempt == d.Commit.MaxRetries {
				return engineerr.Wrap(engineerr.TransientIO,
					fmt.Sprintf("send rule payload to %s", addr), err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
			continue
		}
		if listener.Await(commitment, d.Commit.CommitTimeout()) {
			if d.Metrics != nil {
				d.Metrics.CommitLatencySeconds.WithLabelValues(binding.Service, operation).Observe(time.Since(start).Seconds())
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return engineerr.New(engineerr.CommitTimeout, fmt.Sprintf("%s.%s never acked commitment %d after %d attempts", binding.Service, operation, commitment, d.Commit.MaxRetries))
}

// buildPayload composes the XML rule payload from a place's generated rule
// content and its canonical binding.
func buildPayload(rc *rulebase.RuleContent, binding rulebase.Binding, version string, commitment int) *token.RulePayload {
	p := &token.RulePayload{
		Header: token.RulePayloadHeader{RuleBaseVersion: version, RuleBaseCommitment: commitment},
		Target: token.TargetService{ServiceName: binding.Service, OperationName: binding.Operation},
		Data: token.RuleFileData{Data: token.RuleAtoms{
			NodeType: string(rc.NodeType),
		}},
	}
	if rc.HasBuffer {
		buf := rc.Buffer
		p.Target.Buffer = &buf
	}
	if rc.HasJoinInputCount {
		jic := rc.JoinInputCount
		p.Data.Data.JoinInputCount = &jic
	}
	for _, dv := range rc.DecisionValues {
		p.Data.Data.DecisionValues = append(p.Data.Data.DecisionValues, token.XMLDecisionValue{ConditionType: dv.ConditionType, Value: dv.Value})
	}
	for _, mc := range rc.MeetsConditions {
		p.Data.Data.MeetsConditions = append(p.Data.Data.MeetsConditions, token.XMLMeetsCondition{
			NextService: mc.NextService, NextOperation: mc.NextOperation,
			ConditionType: mc.ConditionType, DecisionValue: mc.DecisionValue,
		})
	}
	for _, t := range rc.TerminatesOn {
		p.Data.Data.TerminatesOn = append(p.Data.Data.TerminatesOn, token.XMLTerminatesOn{Service: t.Service, Operation: t.Operation})
	}
	return p
}
