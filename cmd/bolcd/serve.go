package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/bolcd/condense-engine/internal/api"
	"github.com/bolcd/condense-engine/internal/audit"
	"github.com/bolcd/condense-engine/internal/config"
	"github.com/bolcd/condense-engine/internal/decision"
	"github.com/bolcd/condense-engine/internal/graph"
	"github.com/bolcd/condense-engine/internal/ingest"
	"github.com/bolcd/condense-engine/internal/logging"
	"github.com/bolcd/condense-engine/internal/metrics"
	"github.com/bolcd/condense-engine/internal/notify"
	"github.com/bolcd/condense-engine/internal/replay"
	"github.com/bolcd/condense-engine/internal/store"
)

var serveFlags struct {
	graphPath string
	watch     bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the decision engine, reconciler, and HTTP surface",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.graphPath, "graph", "", "graph JSON to publish on startup")
	serveCmd.Flags().BoolVar(&serveFlags.watch, "watch-config", false, "hot-reload policy on config file change")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	base := logging.New(cfg.Framework.LogLevel, cfg.Framework.LogFormat, os.Stderr)
	log := logging.Component(base, "serve")
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Policy reloads swap the whole config atomically; every component reads
	// through this pointer.
	var cfgPtr atomic.Pointer[config.Config]
	cfgPtr.Store(cfg)
	cfgFn := func() *config.Config { return cfgPtr.Load() }

	// Persistence: PostgreSQL when configured, the file tree otherwise.
	var backend store.Backend
	if cfg.Storage.DatabaseURL != "" {
		pg, err := store.ConnectPostgres(ctx, cfg.Storage.DatabaseURL, logging.Component(base, "store"))
		if err != nil {
			log.Warn().Err(err).Msg("postgres unavailable, falling back to file store")
		} else {
			backend = pg
		}
	}
	if backend == nil {
		fb, err := store.NewFileBackend(cfg.Storage.DataDir, logging.Component(base, "store"))
		if err != nil {
			return err
		}
		backend = fb
	}
	st := store.New(backend)
	defer st.Close()

	auditLog, err := audit.OpenFileLog(filepath.Join(cfg.Storage.DataDir, "audit.log"), clock, logging.Component(base, "audit"))
	if err != nil {
		return err
	}

	met := metrics.New(nil)
	graphs := graph.NewStore()
	if serveFlags.graphPath != "" {
		g, err := graph.ReadJSONFile(serveFlags.graphPath)
		if err != nil {
			return err
		}
		graphs.Publish(g)
		log.Info().Str("path", serveFlags.graphPath).Int("edges", len(g.Edges)).Msg("graph published")
	} else {
		log.Warn().Msg("no graph configured, every alert delivers with reason no_graph")
	}

	hub := api.NewHub(logging.Component(base, "ws"))
	go hub.Run()
	notifier := notify.NewManager(api.BroadcastNotification(hub), logging.Component(base, "notify"))

	index := decision.NewAlertIndex()
	validator := decision.NewValidator(index, st, clock, logging.Component(base, "validator"))
	engine := decision.NewEngine(cfgFn, graphs, st, validator, auditLog, index, met, notifier, clock, logging.Component(base, "decision"))

	queue := ingest.NewQueue(cfg.Ingest.QueueCapacity, cfg.Ingest.Workers, engine, logging.Component(base, "ingest"))
	queue.Start(ctx)
	defer queue.Stop()

	lease := replay.NewLease(cfg.Storage.DataDir, "reconciler", uuid.New().String(),
		time.Duration(cfg.Reconciler.LeaseTimeoutSec)*time.Second, clock)
	reconciler := replay.NewReconciler(cfgFn, st, graphs, index, lease, notifier, auditLog, met, clock, logging.Component(base, "reconciler"))
	go reconciler.Run(ctx)

	if serveFlags.watch && cfgFile != "" {
		go func() {
			err := config.Watch(ctx, cfgFile, logging.Component(base, "config"), func(next *config.Config) {
				cfgPtr.Store(next)
			})
			if err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("config watcher exited")
			}
		}()
	}

	router := api.SetupRouter(api.Deps{
		Cfg:        cfgFn,
		Queue:      queue,
		Graphs:     graphs,
		Store:      st,
		Audit:      auditLog,
		Notifier:   notifier,
		Reconciler: reconciler,
		Hub:        hub,
		Log:        logging.Component(base, "api"),
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.Server.Addr).Str("policy_version", cfg.Policy.Version).Msg("engine serving")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
