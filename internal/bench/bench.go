// Package bench measures learning-pipeline throughput on synthetic event
// batches and emits the events-per-second / latency report consumed by the
// bench CLI.
package bench

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/bolcd/condense-engine/internal/audit"
	"github.com/bolcd/condense-engine/internal/config"
	"github.com/bolcd/condense-engine/internal/learn"
)

// Params configures a benchmark.
type Params struct {
	D       int     `json:"d"`
	N       int     `json:"n"`
	Runs    int     `json:"runs"`
	FDRQ    float64 `json:"fdr_q"`
	Epsilon float64 `json:"epsilon"`
	Delta   float64 `json:"delta"`
}

// RunSample is one benchmark iteration.
type RunSample struct {
	ElapsedMs float64 `json:"elapsed_ms"`
	EPS       float64 `json:"eps"`
	Nodes     int     `json:"nodes"`
	Edges     int     `json:"edges"`
}

// Report is the benchmark output.
type Report struct {
	Params        Params      `json:"params"`
	EpsMean       float64     `json:"eps_mean"`
	EpsP95        float64     `json:"eps_p95"`
	LatencyMsMean float64     `json:"latency_ms_mean"`
	LatencyMsP95  float64     `json:"latency_ms_p95"`
	Runs          []RunSample `json:"runs"`
}

// GenerateSyntheticEvents builds an event batch inducing the chain
// m0 -> m1 -> m2 with zero counterexamples in the forward direction and
// counterexamples breaking every reverse edge. Extra metrics stay zero so
// they add no spurious implications.
func GenerateSyntheticEvents(metrics []string, n int) []learn.Event {
	for len(metrics) < 3 {
		metrics = append(metrics, fmt.Sprintf("m%d", len(metrics)))
	}
	m0, m1, m2 := metrics[0], metrics[1], metrics[2]

	n1 := n / 2 // all three fire
	n2 := n / 3 // breaks m1 -> m0
	n3 := n / 6 // breaks m2 -> m1 and m2 -> m0
	n4 := n - n1 - n2 - n3
	if n4 < 0 {
		n4 = 0
	}

	events := make([]learn.Event, 0, n)
	add := func(count int, v0, v1, v2 float64) {
		for i := 0; i < count; i++ {
			ev := learn.Event{m0: v0, m1: v1, m2: v2}
			for _, m := range metrics[3:] {
				ev[m] = 0.0
			}
			events = append(events, ev)
		}
	}
	add(n1, 1, 1, 1)
	add(n2, 0, 1, 1)
	add(n3, 0, 0, 1)
	add(n4, 0, 0, 0)
	return events
}

// Run executes the benchmark.
func Run(params Params, log zerolog.Logger) (Report, error) {
	metrics := make([]string, params.D)
	thresholds := make(map[string]float64, params.D)
	for i := range metrics {
		metrics[i] = fmt.Sprintf("m%d", i)
		thresholds[metrics[i]] = 0.5
	}
	events := GenerateSyntheticEvents(metrics, params.N)

	cfg := config.LearningConfig{
		Thresholds:  thresholds,
		MarginDelta: params.Delta,
		Epsilon:     params.Epsilon,
		FDRQ:        params.FDRQ,
	}
	batch := learn.NewBatch(cfg, nil, audit.NopRecorder(), log)

	samples := make([]RunSample, 0, params.Runs)
	epsList := make([]float64, 0, params.Runs)
	latList := make([]float64, 0, params.Runs)
	for i := 0; i < params.Runs; i++ {
		start := time.Now()
		res, err := batch.Learn(context.Background(), events)
		if err != nil {
			return Report{}, err
		}
		elapsed := time.Since(start)
		ms := float64(elapsed.Microseconds()) / 1000.0
		eps := float64(params.N) / elapsed.Seconds()

		samples = append(samples, RunSample{
			ElapsedMs: ms,
			EPS:       eps,
			Nodes:     len(res.Union.Nodes),
			Edges:     len(res.Union.Edges),
		})
		epsList = append(epsList, eps)
		latList = append(latList, ms)
	}

	return Report{
		Params:        params,
		EpsMean:       stat.Mean(epsList, nil),
		EpsP95:        percentile(epsList, 0.95),
		LatencyMsMean: stat.Mean(latList, nil),
		LatencyMsP95:  percentile(latList, 0.95),
		Runs:          samples,
	}, nil
}

func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}
