// Package rules derives connector-neutral suppression rules from the learned
// graph: for accepted edges A->B and B->C within one segment whose pre-
// reduction set also contains A->C, downstream occurrences of C after A may
// be suppressed via B.
package rules

import (
	"fmt"
	"sort"

	"github.com/bolcd/condense-engine/pkg/models"
)

// Derive builds the rule set from a graph. Rules are idempotent by name;
// deriving twice yields the same set in the same order.
func Derive(g *models.Graph) []models.SuppressionRule {
	type pair struct{ src, dst string }

	bySeg := make(map[string][]models.EdgeRecord)
	for _, e := range g.Edges {
		bySeg[e.Segment] = append(bySeg[e.Segment], e)
	}
	preBySeg := make(map[string]map[pair]bool)
	for _, e := range g.EdgesPreTR {
		if preBySeg[e.Segment] == nil {
			preBySeg[e.Segment] = make(map[pair]bool)
		}
		preBySeg[e.Segment][pair{e.Src, e.Dst}] = true
	}

	segments := make([]string, 0, len(bySeg))
	for seg := range bySeg {
		segments = append(segments, seg)
	}
	sort.Strings(segments)

	seen := make(map[string]bool)
	var out []models.SuppressionRule
	for _, seg := range segments {
		edges := bySeg[seg]
		pre := preBySeg[seg]
		for _, ab := range edges {
			for _, bc := range edges {
				if ab.Dst != bc.Src || ab.Src == bc.Dst {
					continue
				}
				if !pre[pair{ab.Src, bc.Dst}] {
					continue
				}
				name := fmt.Sprintf("bolcd_suppress_%s_%s_%s", ab.Src, bc.Dst, seg)
				if seen[name] {
					continue
				}
				seen[name] = true
				out = append(out, models.SuppressionRule{
					Name:    name,
					Segment: seg,
					Via:     ab.Dst,
					Src:     ab.Src,
					Dst:     bc.Dst,
					Selector: models.RuleSelector{
						SrcField: ab.Src,
						DstField: bc.Dst,
						ViaField: ab.Dst,
					},
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
