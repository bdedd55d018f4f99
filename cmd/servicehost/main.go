// Command servicehost runs one service host: for every local (place,
// operation) the named process binds to this host's service name, it
// starts a Rule Handler listener, an event-inbound listener, and an
// Orchestrator worker loop (spec §4.6, §5 "one thread per deployed
// (service, operation) orchestrator").
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/onyxflow/workflow-engine/internal/adminserver"
	"github.com/onyxflow/workflow-engine/internal/businessinvoker"
	"github.com/onyxflow/workflow-engine/internal/config"
	"github.com/onyxflow/workflow-engine/internal/condition"
	"github.com/onyxflow/workflow-engine/internal/factstore/memstore"
	"github.com/onyxflow/workflow-engine/internal/joincoord"
	"github.com/onyxflow/workflow-engine/internal/logger"
	"github.com/onyxflow/workflow-engine/internal/metrics"
	"github.com/onyxflow/workflow-engine/internal/orchestrator"
	"github.com/onyxflow/workflow-engine/internal/rulebase"
	"github.com/onyxflow/workflow-engine/internal/rulehandler"
	"github.com/onyxflow/workflow-engine/internal/shutdown"
	"github.com/onyxflow/workflow-engine/internal/telemetry"
	"github.com/onyxflow/workflow-engine/internal/token"
	"github.com/onyxflow/workflow-engine/internal/transport"
	"github.com/onyxflow/workflow-engine/internal/workflowjson"
)

func main() {
	var version, serviceName, processName, fixturePath, soaBindingsPath string

	cmd := &cobra.Command{
		Use:   "servicehost",
		Short: "Run one service host's orchestrators for a deployed process version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if version == "" {
				return fmt.Errorf("servicehost: --version is required")
			}
			if serviceName == "" {
				return fmt.Errorf("servicehost: SERVICE_NAME is required")
			}
			if processName == "" {
				return fmt.Errorf("servicehost: PROCESS_NAME is required")
			}
			return run(cmd.Context(), version, serviceName, processName, fixturePath, soaBindingsPath)
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "deployed rule-base version this host serves (required)")
	cmd.Flags().StringVar(&serviceName, "service", os.Getenv("SERVICE_NAME"), "service name this host serves")
	cmd.Flags().StringVar(&processName, "process", os.Getenv("PROCESS_NAME"), "process definition this host's places belong to")
	cmd.Flags().StringVar(&fixturePath, "fact-store-fixture", os.Getenv("FACT_STORE_FIXTURE"), "path to a memstore JSON fixture")
	cmd.Flags().StringVar(&soaBindingsPath, "soa-bindings", os.Getenv("SOA_BINDINGS_PATH"), "path to a hand-authored SOA binding file (SOA mode only)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, version, serviceName, processName, fixturePath, soaBindingsPath string) error {
	cfg, err := config.Load(serviceName)
	if err != nil {
		return fmt.Errorf("servicehost: load config: %w", err)
	}
	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)

	if fixturePath == "" {
		return fmt.Errorf("servicehost: --fact-store-fixture/FACT_STORE_FIXTURE is required")
	}
	store, err := memstore.LoadFile(fixturePath)
	if err != nil {
		return fmt.Errorf("servicehost: %w", err)
	}

	processPath := filepath.Join(cfg.Paths.CommonFolder, cfg.Paths.ProcessDefinitionDir, processName+".json")
	data, err := os.ReadFile(processPath)
	if err != nil {
		return fmt.Errorf("servicehost: read %s: %w", processPath, err)
	}
	graph, err := workflowjson.Parse(data)
	if err != nil {
		return fmt.Errorf("servicehost: parse %s: %w", processPath, err)
	}

	var bindings *rulebase.BindingSet
	if graph.ProcessType == "SOA" && soaBindingsPath != "" {
		soaData, err := os.ReadFile(soaBindingsPath)
		if err != nil {
			return fmt.Errorf("servicehost: read SOA bindings %s: %w", soaBindingsPath, err)
		}
		bindings, err = rulebase.LoadBindings(soaData)
		if err != nil {
			return fmt.Errorf("servicehost: %w", err)
		}
	} else {
		bindings, err = rulebase.GenerateBindings(graph)
		if err != nil {
			return fmt.Errorf("servicehost: %w", err)
		}
	}

	var recorder telemetry.Recorder = telemetry.NewMemory()
	if cfg.Telemetry.Enabled {
		pg, err := telemetry.NewPgWriter(ctx, cfg.Telemetry.DatabaseURL)
		if err != nil {
			return fmt.Errorf("servicehost: %w", err)
		}
		defer pg.Close()
		recorder = pg
	}

	mode := joincoord.Optimized
	if cfg.Join.SchedulingMode == "sequential" {
		mode = joincoord.Sequential
	}
	registry := rulehandler.NewRegistry()
	join := joincoord.New(graph.ProcessType == "SOA", mode)
	metricsReg := metrics.New()
	evaluator := condition.NewEvaluator()
	dispatch := businessinvoker.NewDispatch()
	publisher := &orchestrator.UDPPublisher{Store: store, BasePort: cfg.Ports.EventBase}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	listenedRuleAddrs := make(map[string]bool)
	var places []adminserver.PlaceStatus

	for _, p := range graph.Places {
		if p.Service != serviceName || p.Floating || p.ElemType == "EVENT_GENERATOR" {
			continue
		}
		for _, op := range p.Operations {
			binding, ok := bindings.Get(p.ID, op.Name)
			if !ok {
				log.Warn("no canonical binding for local place, skipping", "place", p.ID, "operation", op.Name)
				continue
			}

			ruleResolved, err := transport.ResolveRule(runCtx, store, cfg.Ports.RuleBase, serviceName, op.Name)
			if err != nil {
				return fmt.Errorf("servicehost: resolve rule address for %s.%s: %w", serviceName, op.Name, err)
			}
			ruleAddr := fmt.Sprintf(":%d", ruleResolved.Port)
			if !listenedRuleAddrs[ruleAddr] {
				listener, err := rulehandler.Listen(runCtx, ruleAddr, cfg.Ports.CommitBase, registry)
				if err != nil {
					return fmt.Errorf("servicehost: %w", err)
				}
				listenedRuleAddrs[ruleAddr] = true
				go func() { _ = listener.Serve(runCtx) }()
				go func() { <-runCtx.Done(); _ = listener.Close() }()
			}

			rc, err := rulebase.GenerateRuleContent(graph, p.ID, op.Name)
			if err != nil {
				return fmt.Errorf("servicehost: %w", err)
			}
			queueCap := 64
			if rc.HasBuffer && rc.Buffer > 0 {
				queueCap = rc.Buffer
			}

			o := orchestrator.New(orchestrator.Opts{
				PlaceID: p.ID, Service: serviceName, Operation: op.Name,
				Binding: binding, SOAMode: graph.ProcessType == "SOA",
				Registry: registry, Join: join, Invoker: dispatch, Recorder: recorder,
				Evaluator: evaluator, Publisher: publisher, Logger: log, Metrics: metricsReg,
				QueueCapacity: queueCap,
			})
			places = append(places, adminserver.PlaceStatus{PlaceID: p.ID, Service: serviceName, Operation: op.Name})
			go func() { _ = o.Run(runCtx) }()

			eventResolved, err := transport.ResolveEvent(runCtx, store, cfg.Ports.EventBase, serviceName, op.Name)
			if err != nil {
				return fmt.Errorf("servicehost: resolve event address for %s.%s: %w", serviceName, op.Name, err)
			}
			eventAddr := fmt.Sprintf(":%d", eventResolved.Port)
			if err := startEventListener(runCtx, eventAddr, o, log); err != nil {
				return fmt.Errorf("servicehost: %w", err)
			}
			log.Info("orchestrator started", "place", p.ID, "operation", op.Name, "rule_addr", ruleAddr, "event_addr", eventAddr)
		}
	}

	admin := adminserver.New(serviceName, places, registry, join)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Service.AdminPort)
		if err := admin.Start(addr); err != nil {
			log.Warn("admin server stopped", "error", err)
		}
	}()

	markerPath := filepath.Join(cfg.Paths.RunningMarkerDir, fmt.Sprintf("service_%s.running", version))
	if err := shutdown.MarkRunning(markerPath); err != nil {
		return fmt.Errorf("servicehost: %w", err)
	}
	defer os.Remove(markerPath)

	shutdownAddr := fmt.Sprintf(":%d", cfg.Ports.ShutdownBase+transport.VersionOffset(version))
	watcher, err := shutdown.New(runCtx, shutdownAddr, markerPath)
	if err != nil {
		return fmt.Errorf("servicehost: %w", err)
	}
	defer watcher.Close()
	go watcher.Run(runCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-watcher.Signal:
		log.Info("shutdown signal received")
	case sig := <-sigCh:
		log.Info("signal received", "signal", sig.String())
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdown.Drain)
	defer shutdownCancel()
	_ = admin.Shutdown(shutdownCtx)

	log.Info("servicehost stopped", "service", serviceName, "version", version)
	return nil
}

// startEventListener binds addr and feeds every datagram arriving there to
// o's bounded queue, blocking the socket read loop (not the network) when
// the queue is full (spec §5 "the EventReactor feeds tokens, blocking the
// producer when full").
func startEventListener(ctx context.Context, addr string, o *orchestrator.Orchestrator, log *logger.Logger) error {
	conn, err := transport.Listen(ctx, addr)
	if err != nil {
		return fmt.Errorf("listen event addr %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, _, err := transport.ReceiveWithTimeout(conn, 500*time.Millisecond, buf)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			tok, err := token.Unmarshal(buf[:n])
			if err != nil {
				log.Warn("dropping malformed token datagram", "addr", addr, "error", err)
				continue
			}
			if err := o.Enqueue(ctx, tok); err != nil {
				return
			}
		}
	}()
	return nil
}
