package learn

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/bolcd/condense-engine/internal/audit"
	"github.com/bolcd/condense-engine/internal/config"
	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/pkg/models"
)

// Batch runs the full learning pipeline over one event batch: binarization,
// pair statistics, significance testing with FDR control, cycle guard, and
// transitive reduction, independently per segment. A batch owns its bitsets
// and statistics arrays; only the finished graphs escape it.
type Batch struct {
	cfg      config.LearningConfig
	segments []config.SegmentKey
	auditor  audit.Recorder
	log      zerolog.Logger
}

// Result is the output of a learning batch.
type Result struct {
	Graphs map[string]*models.Graph
	Union  *models.Graph
}

// NewBatch builds a learning batch runner. Cycle-break events land in the
// auditor's chain.
func NewBatch(cfg config.LearningConfig, segments []config.SegmentKey, auditor audit.Recorder, log zerolog.Logger) *Batch {
	return &Batch{cfg: cfg, segments: segments, auditor: auditor, log: log}
}

// Learn executes the pipeline. Cancellation is checked between phases; a
// cancelled batch produces no output. Any error aborts the whole batch.
func (b *Batch) Learn(ctx context.Context, events []Event) (*Result, error) {
	if len(b.cfg.Thresholds) == 0 {
		return nil, errs.New(errs.KindValidation, "no metric thresholds configured")
	}

	buckets, labels := PartitionBySegment(events, b.segments)
	res := &Result{Graphs: make(map[string]*models.Graph, len(labels))}

	for _, label := range labels {
		g, err := b.learnSegment(ctx, label, buckets[label])
		if err != nil {
			return nil, err
		}
		res.Graphs[label] = g
	}

	res.Union = UnionGraph(res.Graphs)
	b.log.Info().
		Int("events", len(events)).
		Int("segments", len(labels)).
		Int("union_edges", len(res.Union.Edges)).
		Msg("learning batch complete")
	return res, nil
}

func (b *Batch) learnSegment(ctx context.Context, label string, events []Event) (*models.Graph, error) {
	bin := Binarize(events, b.cfg.Thresholds, b.cfg.MarginDelta)
	if err := checkCancelled(ctx, "binarization"); err != nil {
		return nil, err
	}

	ps := ComputePairStats(bin)
	if err := checkCancelled(ctx, "pair statistics"); err != nil {
		return nil, err
	}

	accepted := b.acceptEdges(bin, ps, label)
	if err := checkCancelled(ctx, "significance"); err != nil {
		return nil, err
	}

	acyclic, drops := BreakCycles(accepted)
	for _, d := range drops {
		b.log.Warn().Str("segment", label).Str("edge", d.EdgeID()).Msg("cycle broken by dropping weakest edge")
		if err := b.auditCycleBreak(label, d); err != nil {
			// An unauditable mutation aborts the batch like any other error.
			return nil, err
		}
	}
	reduced := TransitiveReduction(acyclic)
	if err := checkCancelled(ctx, "transitive reduction"); err != nil {
		return nil, err
	}

	g := &models.Graph{
		Nodes:      nodeSet(acyclic),
		Edges:      reduced,
		EdgesPreTR: acyclic,
		Segment:    label,
	}
	b.log.Debug().
		Str("segment", label).
		Int("events", len(events)).
		Int("accepted", len(acyclic)).
		Int("reduced", len(reduced)).
		Msg("segment learned")
	return g, nil
}

// auditCycleBreak chains one dropped-edge record so the learned graph's
// lineage stays tamper-evident.
func (b *Batch) auditCycleBreak(label string, e models.EdgeRecord) error {
	diff := map[string]any{
		"segment":      label,
		"edge":         e.EdgeID(),
		"src":          e.Src,
		"dst":          e.Dst,
		"n_src1":       e.NSrc1,
		"k_counterex":  e.KCounterex,
		"ci95_upper":   e.CI95Upper,
	}
	if e.QValue != nil {
		diff["q_value"] = *e.QValue
	}
	_, err := b.auditor.Append("learn-pipeline", "cycle_break", diff)
	return err
}

// acceptEdges applies the significance tests and the BH procedure to the
// pair statistics and returns the accepted edge set. Pairs with zero support
// are skipped entirely. k=0 pairs are judged by the Rule-of-Three bound
// against epsilon; k>0 pairs by their BH q-value against the FDR target.
func (b *Batch) acceptEdges(bin *Binarization, ps *PairStats, label string) []models.EdgeRecord {
	d := ps.D

	type candidate struct {
		i, j int
		k    int
	}
	var tested []candidate
	var pValues []float64
	var accepted []models.EdgeRecord

	for i := 0; i < d; i++ {
		n := ps.N1[i]
		if n == 0 {
			continue
		}
		for j := 0; j < d; j++ {
			if i == j {
				continue
			}
			k := ps.K[i*d+j]
			if k == 0 {
				ci := RuleOfThreeUpper(n)
				if ci <= b.cfg.Epsilon {
					accepted = append(accepted, models.EdgeRecord{
						Src:        bin.Metrics[i],
						Dst:        bin.Metrics[j],
						NSrc1:      n,
						KCounterex: 0,
						CI95Upper:  ci,
						Lift:       ps.Lift(i, j),
						Segment:    label,
					})
				}
				continue
			}
			tested = append(tested, candidate{i: i, j: j, k: k})
			pValues = append(pValues, BinomialPValue(k, n, b.cfg.Epsilon))
		}
	}

	qValues := BHQValues(pValues)
	for idx, c := range tested {
		q := qValues[idx]
		if q > b.cfg.FDRQ {
			continue
		}
		qv := q
		accepted = append(accepted, models.EdgeRecord{
			Src:        bin.Metrics[c.i],
			Dst:        bin.Metrics[c.j],
			NSrc1:      ps.N1[c.i],
			KCounterex: c.k,
			QValue:     &qv,
			Lift:       ps.Lift(c.i, c.j),
			Segment:    label,
		})
	}
	return accepted
}

// UnionGraph merges per-segment graphs into the multiset union, segment
// labels preserved on every edge.
func UnionGraph(graphs map[string]*models.Graph) *models.Graph {
	labels := make([]string, 0, len(graphs))
	for l := range graphs {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	union := &models.Graph{Segment: "union"}
	seenNode := make(map[string]bool)
	for _, l := range labels {
		g := graphs[l]
		for _, n := range g.Nodes {
			if !seenNode[n] {
				seenNode[n] = true
				union.Nodes = append(union.Nodes, n)
			}
		}
		union.Edges = append(union.Edges, g.Edges...)
		union.EdgesPreTR = append(union.EdgesPreTR, g.EdgesPreTR...)
	}
	sort.Strings(union.Nodes)
	return union
}

func nodeSet(edges []models.EdgeRecord) []string {
	seen := make(map[string]bool)
	var nodes []string
	for _, e := range edges {
		for _, n := range []string{e.Src, e.Dst} {
			if !seen[n] {
				seen[n] = true
				nodes = append(nodes, n)
			}
		}
	}
	sort.Strings(nodes)
	return nodes
}

func checkCancelled(ctx context.Context, phase string) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.KindCancelled, err, "learning cancelled after %s", phase)
	}
	return nil
}
