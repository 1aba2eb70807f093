package decision

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bolcd/condense-engine/internal/audit"
	"github.com/bolcd/condense-engine/internal/config"
	"github.com/bolcd/condense-engine/internal/graph"
	"github.com/bolcd/condense-engine/internal/metrics"
	"github.com/bolcd/condense-engine/internal/store"
	"github.com/bolcd/condense-engine/pkg/models"
)

type captureSink struct {
	mu        sync.Mutex
	delivered []models.Alert
}

func (c *captureSink) Deliver(_ context.Context, a models.Alert, _ models.DecisionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered = append(c.delivered, a)
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.delivered)
}

type engineFixture struct {
	engine *Engine
	store  *store.Store
	graphs *graph.Store
	index  *AlertIndex
	sink   *captureSink
	clock  clockwork.FakeClock
	cfg    *config.Config
}

var fixtureT0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(fixtureT0)

	fb, err := store.NewFileBackend(dir, zerolog.Nop())
	require.NoError(t, err)
	st := store.New(fb)
	t.Cleanup(func() { _ = st.Close() })

	auditLog, err := audit.OpenFileLog(dir+"/audit.log", clock, zerolog.Nop())
	require.NoError(t, err)

	cfg := config.Default()
	cfgFn := func() *config.Config { return cfg }

	graphs := graph.NewStore()
	index := NewAlertIndex()
	validator := NewValidator(index, st, clock, zerolog.Nop())
	met := metrics.New(prometheus.NewRegistry())
	sink := &captureSink{}

	engine := NewEngine(cfgFn, graphs, st, validator, auditLog, index, met, sink, clock, zerolog.Nop())
	return &engineFixture{engine: engine, store: st, graphs: graphs, index: index, sink: sink, clock: clock, cfg: cfg}
}

// publishStrongEdge publishes the single strong edge R1->R2 used by the
// near-window scenarios.
func (f *engineFixture) publishStrongEdge() {
	q := 0.001
	f.graphs.Publish(&models.Graph{
		Nodes: []string{"R1", "R2"},
		Edges: []models.EdgeRecord{
			{Src: "R1", Dst: "R2", NSrc1: 40, KCounterex: 1, QValue: &q, Lift: 2.5, Segment: "_all"},
		},
	})
}

func mkAlert(id, entity, rule, severity string, ts time.Time) models.Alert {
	return models.Alert{ID: id, TS: ts, EntityID: entity, RuleID: rule, Severity: severity}
}

func TestNearWindowSuppression(t *testing.T) {
	f := newEngineFixture(t)
	f.publishStrongEdge()
	ctx := context.Background()

	a1 := mkAlert("a1", "h", "R1", models.SeverityMedium, fixtureT0)
	rec1, err := f.engine.Decide(ctx, a1)
	require.NoError(t, err)
	require.Equal(t, models.DecisionDeliver, rec1.Decision)
	require.Equal(t, "root_pass", rec1.Reason.Why)

	a2 := mkAlert("a2", "h", "R2", models.SeverityMedium, fixtureT0.Add(30*time.Second))
	rec2, err := f.engine.Decide(ctx, a2)
	require.NoError(t, err)
	require.Equal(t, models.DecisionSuppress, rec2.Decision)
	require.Equal(t, "edge", rec2.Reason.Why)
	require.Greater(t, rec2.Confidence, 0.0)
	require.Less(t, rec2.Confidence, 1.0)
	require.Equal(t, "safe-1.0.0", rec2.PolicyVersion)

	sup, ok, err := f.store.GetSuppression(ctx, "a2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.SuppressionPending, sup.Status)
	require.Equal(t, 0.001, sup.Meta.OriginalQ)
	require.Equal(t, 40, sup.Meta.OriginalSupport)

	// Only a1 reached the sink.
	require.Equal(t, 1, f.sink.count())
}

func TestHighSeverityProtectionOverridesEdge(t *testing.T) {
	f := newEngineFixture(t)
	f.publishStrongEdge()
	ctx := context.Background()

	_, err := f.engine.Decide(ctx, mkAlert("a1", "h", "R1", models.SeverityMedium, fixtureT0))
	require.NoError(t, err)

	a2 := mkAlert("a2", "h", "R2", models.SeverityHigh, fixtureT0.Add(30*time.Second))
	rec, err := f.engine.Decide(ctx, a2)
	require.NoError(t, err)
	require.Equal(t, models.DecisionDeliver, rec.Decision)
	require.Equal(t, "high_severity_protection", rec.Reason.Why)

	_, ok, err := f.store.GetSuppression(ctx, "a2")
	require.NoError(t, err)
	require.False(t, ok, "no suppression record may exist for a guarded alert")
}

func TestNoGraphDeliversEverything(t *testing.T) {
	f := newEngineFixture(t)
	rec, err := f.engine.Decide(context.Background(), mkAlert("a1", "h", "R2", models.SeverityMedium, fixtureT0))
	require.NoError(t, err)
	require.Equal(t, models.DecisionDeliver, rec.Decision)
	require.Equal(t, "no_graph", rec.Reason.Why)
}

func TestNoEdgeDelivers(t *testing.T) {
	f := newEngineFixture(t)
	f.publishStrongEdge()

	// No recent R1 from this entity: R2 has an incoming edge, so no root
	// pass, but nothing matches either.
	rec, err := f.engine.Decide(context.Background(), mkAlert("a9", "h", "R2", models.SeverityMedium, fixtureT0))
	require.NoError(t, err)
	require.Equal(t, models.DecisionDeliver, rec.Decision)
	require.Equal(t, "no_edge", rec.Reason.Why)
}

func TestOutsideNearWindowDelivers(t *testing.T) {
	f := newEngineFixture(t)
	f.publishStrongEdge()
	ctx := context.Background()

	_, err := f.engine.Decide(ctx, mkAlert("a1", "h", "R1", models.SeverityMedium, fixtureT0))
	require.NoError(t, err)

	late := fixtureT0.Add(time.Duration(f.cfg.Policy.NearWindowSec)*time.Second + time.Minute)
	rec, err := f.engine.Decide(ctx, mkAlert("a2", "h", "R2", models.SeverityMedium, late))
	require.NoError(t, err)
	require.Equal(t, "no_edge", rec.Reason.Why)
}

func TestAllowlistGuard(t *testing.T) {
	f := newEngineFixture(t)
	f.cfg.Policy.AllowlistRules = []string{"R2"}
	f.publishStrongEdge()
	ctx := context.Background()

	_, err := f.engine.Decide(ctx, mkAlert("a1", "h", "R1", models.SeverityMedium, fixtureT0))
	require.NoError(t, err)

	rec, err := f.engine.Decide(ctx, mkAlert("a2", "h", "R2", models.SeverityMedium, fixtureT0.Add(time.Minute)))
	require.NoError(t, err)
	require.Equal(t, models.DecisionDeliver, rec.Decision)
	require.Equal(t, "allowlist", rec.Reason.Why)
}

func TestCriticalSignatureGuard(t *testing.T) {
	f := newEngineFixture(t)
	f.publishStrongEdge()

	a := mkAlert("a1", "h", "R2", models.SeverityLow, fixtureT0)
	a.Signature = "Possible DATA_EXFILTRATION via DNS tunnel"
	rec, err := f.engine.Decide(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, models.DecisionDeliver, rec.Decision)
	require.Equal(t, "critical_signature", rec.Reason.Why)
}

func TestDecisionAppendOncePerAlert(t *testing.T) {
	f := newEngineFixture(t)
	f.publishStrongEdge()
	ctx := context.Background()

	_, err := f.engine.Decide(ctx, mkAlert("a1", "h", "R1", models.SeverityMedium, fixtureT0))
	require.NoError(t, err)

	a2 := mkAlert("a2", "h", "R2", models.SeverityMedium, fixtureT0.Add(30*time.Second))
	rec1, err := f.engine.Decide(ctx, a2)
	require.NoError(t, err)
	rec2, err := f.engine.Decide(ctx, a2)
	require.NoError(t, err)
	require.Equal(t, rec1.Decision, rec2.Decision)
	require.Equal(t, rec1.Confidence, rec2.Confidence)
	require.Equal(t, rec1.CreatedAt, rec2.CreatedAt)
}

func TestFalseSuppressionRiskDelivers(t *testing.T) {
	f := newEngineFixture(t)
	f.publishStrongEdge()
	ctx := context.Background()

	// A burst of critical alerts from the same entity drives the
	// correlation signal to its cap, pushing the score past the threshold.
	for i, id := range []string{"c1", "c2", "c3", "c4", "c5"} {
		_, err := f.engine.Decide(ctx, mkAlert(id, "h", "R9", models.SeverityCritical, fixtureT0.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}
	_, err := f.engine.Decide(ctx, mkAlert("a1", "h", "R1", models.SeverityMedium, fixtureT0.Add(10*time.Second)))
	require.NoError(t, err)

	rec, err := f.engine.Decide(ctx, mkAlert("a2", "h", "R2", models.SeverityMedium, fixtureT0.Add(40*time.Second)))
	require.NoError(t, err)
	require.Equal(t, models.DecisionDeliver, rec.Decision)
	require.Equal(t, "false_suppression_risk", rec.Reason.Why)
	require.Greater(t, rec.Reason.ValidationScore, f.cfg.Policy.FalseSuppressionThresh)
}

func TestValidatorScoreScenario(t *testing.T) {
	f := newEngineFixture(t)
	validator := NewValidator(f.index, f.store, f.clock, zerolog.Nop())

	a := mkAlert("v1", "h", "R2", models.SeverityMedium, fixtureT0)
	f.index.Record(a)

	score, err := validator.Score(context.Background(), f.cfg.Policy, a)
	require.NoError(t, err)
	// severity 0.3*0.4 + correlation 0*0.3 + rarity 0.5*0.3 = 0.27
	require.InDelta(t, 0.27, score, 1e-9)

	logs, err := f.store.Validations(context.Background(), "v1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "combined", logs[0].Method)
}

func TestDeterministicAlertID(t *testing.T) {
	a := models.Alert{TS: fixtureT0, EntityID: "h", RuleID: "R1", Severity: models.SeverityLow}
	id1 := a.WithID().ID
	id2 := a.WithID().ID
	require.Equal(t, id1, id2)
	require.Len(t, id1, 64)

	b := a
	b.RuleID = "R2"
	require.NotEqual(t, id1, b.WithID().ID)
}
