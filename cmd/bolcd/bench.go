package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bolcd/condense-engine/internal/bench"
	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/internal/logging"
)

var benchFlags struct {
	d       int
	n       int
	runs    int
	fdrQ    float64
	epsilon float64
	delta   float64
	out     string
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run the synthetic learning-pipeline benchmark",
	RunE:  runBench,
}

func init() {
	f := benchCmd.Flags()
	f.IntVar(&benchFlags.d, "d", 100, "number of metrics")
	f.IntVar(&benchFlags.n, "n", 100_000, "number of events")
	f.IntVar(&benchFlags.runs, "runs", 5, "benchmark iterations")
	f.Float64Var(&benchFlags.fdrQ, "fdr-q", 0.01, "FDR target")
	f.Float64Var(&benchFlags.epsilon, "epsilon", 0.005, "counterexample tolerance")
	f.Float64Var(&benchFlags.delta, "delta", 0.0, "margin delta")
	f.StringVar(&benchFlags.out, "out", "reports/bench.json", "report output path")
}

func runBench(cmd *cobra.Command, _ []string) error {
	log := logging.Component(rootLogger(), "bench")

	if benchFlags.d < 3 || benchFlags.n < 1 || benchFlags.runs < 1 {
		return errs.New(errs.KindValidation, "bench needs --d >= 3, --n >= 1, --runs >= 1")
	}

	report, err := bench.Run(bench.Params{
		D:       benchFlags.d,
		N:       benchFlags.n,
		Runs:    benchFlags.runs,
		FDRQ:    benchFlags.fdrQ,
		Epsilon: benchFlags.epsilon,
		Delta:   benchFlags.delta,
	}, log)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(benchFlags.out), 0o755); err != nil {
		return errs.Wrap(errs.KindResource, err, "create report dir")
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(benchFlags.out, data, 0o644); err != nil {
		return errs.Wrap(errs.KindResource, err, "write report %s", benchFlags.out)
	}

	fmt.Printf("wrote %s\n", benchFlags.out)
	fmt.Printf("eps mean=%.1f p95=%.1f; latency mean=%.1fms p95=%.1fms\n",
		report.EpsMean, report.EpsP95, report.LatencyMsMean, report.LatencyMsP95)
	return nil
}
