package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bolcd/condense-engine/internal/audit"
	"github.com/bolcd/condense-engine/internal/config"
	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/internal/graph"
	"github.com/bolcd/condense-engine/internal/ingest"
	"github.com/bolcd/condense-engine/internal/learn"
	"github.com/bolcd/condense-engine/internal/logging"
)

var recomputeFlags struct {
	events      string
	thresholds  string
	marginDelta float64
	fdrQ        float64
	epsilon     float64
	segments    string
	outJSON     string
	outGraphML  string
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Learn the implication graph from an event batch and export it",
	RunE:  runRecompute,
}

func init() {
	f := recomputeCmd.Flags()
	f.StringVar(&recomputeFlags.events, "events", "data/sample_events.jsonl", "JSONL events file")
	f.StringVar(&recomputeFlags.thresholds, "thresholds", "configs/thresholds.yaml", "metric thresholds YAML")
	f.Float64Var(&recomputeFlags.marginDelta, "margin-delta", 0.0, "margin delta around thresholds")
	f.Float64Var(&recomputeFlags.fdrQ, "fdr-q", 0.01, "Benjamini-Hochberg FDR target")
	f.Float64Var(&recomputeFlags.epsilon, "epsilon", 0.005, "counterexample tolerance")
	f.StringVar(&recomputeFlags.segments, "segments", "configs/segments.yaml", "segment keys YAML")
	f.StringVar(&recomputeFlags.outJSON, "out-json", "graph.json", "output graph JSON path")
	f.StringVar(&recomputeFlags.outGraphML, "out-graphml", "", "optional output GraphML path")
}

// thresholdsFile is the on-disk shape: metrics -> {threshold: a}.
type thresholdsFile struct {
	Metrics map[string]struct {
		Threshold float64 `yaml:"threshold"`
	} `yaml:"metrics"`
}

type segmentsFile struct {
	Segments []config.SegmentKey `yaml:"segments"`
}

func runRecompute(cmd *cobra.Command, _ []string) error {
	log := logging.Component(rootLogger(), "recompute")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Cycle-break bookkeeping goes into the same audit chain serve and
	// reconcile write to.
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	auditLog, err := audit.OpenFileLog(filepath.Join(cfg.Storage.DataDir, "audit.log"), clockwork.NewRealClock(), logging.Component(rootLogger(), "audit"))
	if err != nil {
		return err
	}

	data, err := os.ReadFile(recomputeFlags.thresholds)
	if err != nil {
		return errs.Wrap(errs.KindResource, err, "read thresholds %s", recomputeFlags.thresholds)
	}
	var tf thresholdsFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return errs.Wrap(errs.KindValidation, err, "parse thresholds %s", recomputeFlags.thresholds)
	}
	thresholds := make(map[string]float64, len(tf.Metrics))
	for name, m := range tf.Metrics {
		thresholds[name] = m.Threshold
	}

	var segments []config.SegmentKey
	if data, err := os.ReadFile(recomputeFlags.segments); err == nil {
		var sf segmentsFile
		if err := yaml.Unmarshal(data, &sf); err != nil {
			return errs.Wrap(errs.KindValidation, err, "parse segments %s", recomputeFlags.segments)
		}
		segments = sf.Segments
	}

	events, err := ingest.JSONLFileSource{Path: recomputeFlags.events}.Events(ctx)
	if err != nil {
		return err
	}

	// Infer a default threshold for metrics present in events but absent
	// from the config, skipping segment keys.
	exclude := make(map[string]bool, len(segments))
	for _, s := range segments {
		exclude[s.Key] = true
	}
	sample := events
	if len(sample) > 1000 {
		sample = sample[:1000]
	}
	for _, ev := range sample {
		for k := range ev {
			if exclude[k] {
				continue
			}
			if _, ok := thresholds[k]; ok {
				continue
			}
			if _, isNum := ev.Metric(k); isNum {
				thresholds[k] = 0.5
			}
		}
	}

	lc := config.LearningConfig{
		Thresholds:  thresholds,
		MarginDelta: recomputeFlags.marginDelta,
		Epsilon:     recomputeFlags.epsilon,
		FDRQ:        recomputeFlags.fdrQ,
	}
	res, err := learn.NewBatch(lc, segments, auditLog, log).Learn(ctx, events)
	if err != nil {
		return err
	}

	out, err := graph.MarshalJSON(res.Union)
	if err != nil {
		return err
	}
	if err := os.WriteFile(recomputeFlags.outJSON, out, 0o644); err != nil {
		return errs.Wrap(errs.KindResource, err, "write %s", recomputeFlags.outJSON)
	}
	log.Info().
		Str("path", recomputeFlags.outJSON).
		Int("nodes", len(res.Union.Nodes)).
		Int("edges", len(res.Union.Edges)).
		Msg("graph written")

	// Per-segment graphs land next to the union under graphs/.
	segDir := filepath.Join(filepath.Dir(recomputeFlags.outJSON), "graphs")
	for label, g := range res.Graphs {
		if _, err := graph.WriteJSONFile(g, segDir); err != nil {
			return err
		}
		log.Debug().Str("segment", label).Msg("segment graph written")
	}

	if recomputeFlags.outGraphML != "" {
		gml, err := graph.MarshalGraphML(res.Union)
		if err != nil {
			return err
		}
		if err := os.WriteFile(recomputeFlags.outGraphML, gml, 0o644); err != nil {
			return errs.Wrap(errs.KindResource, err, "write %s", recomputeFlags.outGraphML)
		}
		log.Info().Str("path", recomputeFlags.outGraphML).Msg("graphml written")
	}
	return nil
}
