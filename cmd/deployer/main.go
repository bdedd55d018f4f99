// Command deployer drives the Rule Deployer (spec §4.2): it loads a
// workflow JSON definition by process name, validates it, derives canonical
// bindings and per-place rule content, and pushes rule payloads to every
// deployed place under the commitment protocol (spec §4.9).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/onyxflow/workflow-engine/internal/config"
	"github.com/onyxflow/workflow-engine/internal/deploy"
	"github.com/onyxflow/workflow-engine/internal/engineerr"
	"github.com/onyxflow/workflow-engine/internal/factstore/memstore"
	"github.com/onyxflow/workflow-engine/internal/logger"
	"github.com/onyxflow/workflow-engine/internal/metrics"
)

func main() {
	var fixturePath, soaBindingsPath string

	cmd := &cobra.Command{
		Use:   "deployer processName buildVersion",
		Short: "Deploy a workflow process definition to every service host it reaches",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], args[1], fixturePath, soaBindingsPath)
		},
	}
	cmd.Flags().StringVar(&fixturePath, "fact-store-fixture", "", "path to a memstore JSON fixture (required: no rule-fact-store client is wired in this repo)")
	cmd.Flags().StringVar(&soaBindingsPath, "soa-bindings", "", "path to a hand-authored SOA binding file (SOA mode only)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, processName, buildVersion, fixturePath, soaBindingsPath string) error {
	cfg, err := config.Load("deployer")
	if err != nil {
		return fmt.Errorf("deployer: load config: %w", err)
	}
	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)

	if fixturePath == "" {
		return fmt.Errorf("deployer: --fact-store-fixture is required (no live rule-fact-store client is wired; see DESIGN.md)")
	}
	store, err := memstore.LoadFile(fixturePath)
	if err != nil {
		return fmt.Errorf("deployer: %w", err)
	}

	d := deploy.New(cfg, store, log)
	d.Metrics = metrics.New()
	d.SOABindingsPath = soaBindingsPath

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	commitments, err := d.Deploy(ctx, processName, buildVersion)
	if err != nil {
		if ee, ok := err.(*engineerr.Error); ok {
			log.Error("deploy failed", "kind", ee.Kind, "error", err)
		} else {
			log.Error("deploy failed", "error", err)
		}
		return err
	}

	log.Info("deploy complete", "process", processName, "version", buildVersion,
		"commitments", commitments, "elapsed", time.Since(start))
	return nil
}
