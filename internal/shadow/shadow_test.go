package shadow

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bolcd/condense-engine/internal/config"
	"github.com/bolcd/condense-engine/internal/graph"
	"github.com/bolcd/condense-engine/pkg/models"
)

var shadowT0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func strongEdgeSnapshot() *graph.Snapshot {
	q := 0.001
	return graph.NewSnapshot(&models.Graph{
		Nodes: []string{"R1", "R2"},
		Edges: []models.EdgeRecord{
			{Src: "R1", Dst: "R2", NSrc1: 40, QValue: &q, Lift: 2.5, Segment: "_all"},
		},
	})
}

// pairFor emits the antecedent/consequent pair that a permissive policy
// suppresses.
func pairFor(entity string, base time.Time) []models.Alert {
	return []models.Alert{
		{ID: entity + "-1", TS: base, EntityID: entity, RuleID: "R1", Severity: models.SeverityMedium},
		{ID: entity + "-2", TS: base.Add(30 * time.Second), EntityID: entity, RuleID: "R2", Severity: models.SeverityMedium},
	}
}

func TestSplitArmDeterministic(t *testing.T) {
	for _, entity := range []string{"host-a", "host-b", "host-c"} {
		require.Equal(t, splitArm(entity), splitArm(entity))
	}
}

func TestEvaluateComparesPolicies(t *testing.T) {
	active := config.Default()
	active.Policy.Version = "active"

	candidate := config.Default()
	candidate.Policy.Version = "candidate"
	// The candidate cannot suppress anything: its support floor is above
	// the only edge's support.
	candidate.Policy.SupportMin = 1000

	var alerts []models.Alert
	entities := []string{"h0", "h1", "h2", "h3", "h4", "h5", "h6", "h7"}
	for i, entity := range entities {
		alerts = append(alerts, pairFor(entity, shadowT0.Add(time.Duration(i)*time.Minute))...)
	}

	ev := NewEvaluator(clockwork.NewFakeClockAt(shadowT0), zerolog.Nop())
	rep := ev.Evaluate(active, candidate, strongEdgeSnapshot(), alerts)

	require.Equal(t, len(alerts), rep.Total)
	require.Equal(t, rep.Total, rep.ArmA.Alerts+rep.ArmB.Alerts)
	require.Equal(t, "active", rep.ArmA.Policy)
	require.Equal(t, "candidate", rep.ArmB.Policy)

	// Arm A suppresses the consequent of every pair it owns; arm B never
	// suppresses.
	if rep.ArmA.Alerts > 0 {
		require.Equal(t, rep.ArmA.Alerts/2, rep.ArmA.Suppressed)
	}
	require.Zero(t, rep.ArmB.Suppressed)
	require.LessOrEqual(t, rep.Delta, 0.0)
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	ev := NewEvaluator(clockwork.NewFakeClockAt(shadowT0), zerolog.Nop())
	rep := ev.Evaluate(config.Default(), config.Default(), strongEdgeSnapshot(), nil)

	path, err := ev.WriteReport(rep, dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var back Report
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, rep.ID, back.ID)
}
