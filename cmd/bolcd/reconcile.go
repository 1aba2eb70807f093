package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/bolcd/condense-engine/internal/audit"
	"github.com/bolcd/condense-engine/internal/config"
	"github.com/bolcd/condense-engine/internal/decision"
	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/internal/graph"
	"github.com/bolcd/condense-engine/internal/logging"
	"github.com/bolcd/condense-engine/internal/metrics"
	"github.com/bolcd/condense-engine/internal/notify"
	"github.com/bolcd/condense-engine/internal/replay"
	"github.com/bolcd/condense-engine/internal/store"
)

var reconcileFlags struct {
	graphPath string
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one late-replay reconciliation sweep and exit",
	RunE:  runReconcile,
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileFlags.graphPath, "graph", "", "graph JSON for drift checks")
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	base := logging.New(cfg.Framework.LogLevel, cfg.Framework.LogFormat, os.Stderr)
	log := logging.Component(base, "reconcile")
	clock := clockwork.NewRealClock()

	fb, err := store.NewFileBackend(cfg.Storage.DataDir, logging.Component(base, "store"))
	if err != nil {
		return err
	}
	st := store.New(fb)
	defer st.Close()

	auditLog, err := audit.OpenFileLog(filepath.Join(cfg.Storage.DataDir, "audit.log"), clock, logging.Component(base, "audit"))
	if err != nil {
		return err
	}

	graphs := graph.NewStore()
	if reconcileFlags.graphPath != "" {
		g, err := graph.ReadJSONFile(reconcileFlags.graphPath)
		if err != nil {
			return err
		}
		graphs.Publish(g)
	}

	lease := replay.NewLease(cfg.Storage.DataDir, "reconciler", uuid.New().String(),
		time.Duration(cfg.Reconciler.LeaseTimeoutSec)*time.Second, clock)
	if !lease.Acquire() {
		return errs.New(errs.KindResource, "reconciler lease held by another process")
	}
	defer lease.Release()

	notifier := notify.NewManager(nil, logging.Component(base, "notify"))
	rec := replay.NewReconciler(
		func() *config.Config { return cfg },
		st, graphs, decision.NewAlertIndex(), lease, notifier, auditLog,
		metrics.New(nil), clock, log,
	)
	return rec.SweepOnce(context.Background())
}
