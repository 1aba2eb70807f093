// Package shadow compares a candidate decision policy against the active one
// on the same alert traffic without affecting production decisions. Entities
// are split deterministically into two arms by hash; each arm is simulated
// with its own policy and the per-arm suppression rates land in a daily
// report.
package shadow

import (
	"encoding/json"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/bolcd/condense-engine/internal/config"
	"github.com/bolcd/condense-engine/internal/decision"
	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/internal/graph"
	"github.com/bolcd/condense-engine/pkg/models"
)

// ArmStats counts one arm's simulated outcomes.
type ArmStats struct {
	Policy     string  `json:"policy_version"`
	Alerts     int     `json:"alerts"`
	Delivered  int     `json:"delivered"`
	Suppressed int     `json:"suppressed"`
	Reduction  float64 `json:"reduction"`
}

// Report is the A/B comparison output.
type Report struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Total     int       `json:"total"`
	ArmA      ArmStats  `json:"arm_a"`
	ArmB      ArmStats  `json:"arm_b"`
	Delta     float64   `json:"reduction_delta"`
}

// Evaluator runs shadow comparisons.
type Evaluator struct {
	clock clockwork.Clock
	log   zerolog.Logger
}

// NewEvaluator builds a shadow evaluator.
func NewEvaluator(clock clockwork.Clock, log zerolog.Logger) *Evaluator {
	return &Evaluator{clock: clock, log: log}
}

// splitArm assigns an entity to arm 0 or 1 by FNV hash, so the split is
// stable across runs and processes.
func splitArm(entityID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(entityID))
	return int(h.Sum32() % 2)
}

// Evaluate simulates both policies over the alert stream. Arm A sees the
// active policy on even-hash entities, arm B the candidate on odd-hash
// entities; each arm keeps its own recent-alert context.
func (e *Evaluator) Evaluate(active, candidate *config.Config, snap *graph.Snapshot, alerts []models.Alert) Report {
	indexA := decision.NewAlertIndex()
	indexB := decision.NewAlertIndex()
	statsA := ArmStats{Policy: active.Policy.Version}
	statsB := ArmStats{Policy: candidate.Policy.Version}

	for _, a := range alerts {
		if splitArm(a.EntityID) == 0 {
			statsA.Alerts++
			outcome, _ := decision.Simulate(active, snap, indexA, a)
			if outcome == models.DecisionSuppress {
				statsA.Suppressed++
			} else {
				statsA.Delivered++
			}
		} else {
			statsB.Alerts++
			outcome, _ := decision.Simulate(candidate, snap, indexB, a)
			if outcome == models.DecisionSuppress {
				statsB.Suppressed++
			} else {
				statsB.Delivered++
			}
		}
	}

	if statsA.Alerts > 0 {
		statsA.Reduction = float64(statsA.Suppressed) / float64(statsA.Alerts)
	}
	if statsB.Alerts > 0 {
		statsB.Reduction = float64(statsB.Suppressed) / float64(statsB.Alerts)
	}

	rep := Report{
		ID:        uuid.New().String(),
		CreatedAt: e.clock.Now().UTC(),
		Total:     len(alerts),
		ArmA:      statsA,
		ArmB:      statsB,
		Delta:     statsB.Reduction - statsA.Reduction,
	}
	e.log.Info().
		Float64("arm_a_reduction", statsA.Reduction).
		Float64("arm_b_reduction", statsB.Reduction).
		Int("total", rep.Total).
		Msg("shadow evaluation complete")
	return rep
}

// WriteReport persists a report under reportsDir as
// shadow-<yyyy-mm-dd>-<id>.json.
func (e *Evaluator) WriteReport(rep Report, reportsDir string) (string, error) {
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return "", errs.Wrap(errs.KindResource, err, "create reports dir")
	}
	name := "shadow-" + rep.CreatedAt.Format("2006-01-02") + "-" + rep.ID[:8] + ".json"
	path := filepath.Join(reportsDir, name)
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errs.Wrap(errs.KindResource, err, "write report %s", path)
	}
	return path, nil
}
