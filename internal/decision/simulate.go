package decision

import (
	"github.com/bolcd/condense-engine/internal/config"
	"github.com/bolcd/condense-engine/internal/graph"
	"github.com/bolcd/condense-engine/pkg/models"
)

// Simulate runs the decision procedure without persistence or validation —
// guards, root pass, and near-window edge matching only. The shadow A/B
// evaluator uses it to compare policies against production traffic without
// touching any store. The index passed in must be private to the
// simulation.
func Simulate(cfg *config.Config, snap *graph.Snapshot, index *AlertIndex, a models.Alert) (string, string) {
	a = a.WithID()
	index.Record(a)
	policy := cfg.Policy

	if pass, why := alwaysPass(policy, a); pass {
		return models.DecisionDeliver, why
	}
	if snap.Empty() {
		return models.DecisionDeliver, "no_graph"
	}
	segment := segmentForAlert(a, cfg.Segments)
	if policy.RootPass && snap.InDegree(segment, a.RuleID) == 0 {
		return models.DecisionDeliver, "root_pass"
	}

	for _, r := range index.RecentAntecedents(a.EntityID, a.TS, policy.NearWindow(), a.ID) {
		if edge, ok := snap.Edge(segment, r.RuleID, a.RuleID); ok && strongEdge(policy, edge) {
			return models.DecisionSuppress, "edge"
		}
	}
	return models.DecisionDeliver, "no_edge"
}
