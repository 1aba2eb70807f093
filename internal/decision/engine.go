// Package decision implements the per-alert suppress/deliver engine: safety
// guards, root pass, near-window edge matching against the learned graph,
// false-suppression validation, and the immutable decision record.
package decision

import (
	"context"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/bolcd/condense-engine/internal/audit"
	"github.com/bolcd/condense-engine/internal/config"
	"github.com/bolcd/condense-engine/internal/graph"
	"github.com/bolcd/condense-engine/internal/metrics"
	"github.com/bolcd/condense-engine/internal/store"
	"github.com/bolcd/condense-engine/pkg/models"
)

// Sink receives delivered alerts; delivery order per alert id follows
// decision order.
type Sink interface {
	Deliver(ctx context.Context, a models.Alert, rec models.DecisionRecord)
}

// Engine decides one alert at a time against the current graph snapshot.
// Calls are read-only against the snapshot and safe to run concurrently;
// record writes are linearized by the store.
type Engine struct {
	cfg       func() *config.Config
	graphs    *graph.Store
	st        *store.Store
	validator *Validator
	auditor   audit.Recorder
	index     *AlertIndex
	met       *metrics.Set
	sink      Sink
	clock     clockwork.Clock
	log       zerolog.Logger

	decided    atomic.Int64
	suppressed atomic.Int64
}

// NewEngine wires the decision engine. cfg is called per decision so policy
// reloads take effect without restarting.
func NewEngine(
	cfg func() *config.Config,
	graphs *graph.Store,
	st *store.Store,
	validator *Validator,
	auditor audit.Recorder,
	index *AlertIndex,
	met *metrics.Set,
	sink Sink,
	clock clockwork.Clock,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		cfg: cfg, graphs: graphs, st: st, validator: validator,
		auditor: auditor, index: index, met: met, sink: sink,
		clock: clock, log: log,
	}
}

// Decide runs the decision procedure and persists exactly one decision
// record per alert id. A second submission of the same alert is a no-op
// returning the prior record.
func (e *Engine) Decide(ctx context.Context, a models.Alert) (models.DecisionRecord, error) {
	a = a.WithID()
	cfg := e.cfg()
	policy := cfg.Policy

	e.index.Record(a)
	e.met.AlertsTotal.WithLabelValues(a.Severity).Inc()

	// Safety guards always win.
	if pass, why := alwaysPass(policy, a); pass {
		return e.deliver(ctx, a, policy, models.DecisionReason{Why: why}, 1.0)
	}

	snap := e.graphs.Current()
	if snap.Empty() {
		return e.deliver(ctx, a, policy, models.DecisionReason{Why: "no_graph"}, 1.0)
	}

	segment := segmentForAlert(a, cfg.Segments)

	if policy.RootPass && snap.InDegree(segment, a.RuleID) == 0 {
		return e.deliver(ctx, a, policy, models.DecisionReason{Why: "root_pass"}, 1.0)
	}

	edge, ok := e.matchEdge(snap, policy, segment, a)
	if !ok {
		return e.deliver(ctx, a, policy, models.DecisionReason{Why: "no_edge"}, 1.0)
	}

	score, err := e.validator.Score(ctx, policy, a)
	if err != nil {
		// Fail open: a validator outage must never swallow alerts.
		e.log.Warn().Err(err).Str("alert_id", a.ID).Msg("validator unavailable, delivering")
		return e.deliver(ctx, a, policy, models.DecisionReason{Why: "validator_unavailable"}, 1.0)
	}

	confidence := suppressionConfidence(policy, a, edge, score)
	if score > policy.FalseSuppressionThresh {
		e.met.FalseSuppressionTotal.WithLabelValues("combined").Inc()
		reason := edgeReason(edge, policy)
		reason.Why = "false_suppression_risk"
		reason.ValidationScore = score
		return e.deliver(ctx, a, policy, reason, confidence)
	}

	return e.suppress(ctx, a, policy, edge, score, confidence)
}

// matchEdge scans the recent antecedents for the strongest edge into the
// alert's rule. When several match, the one maximizing support/q wins; ties
// fall to the lexicographically smallest antecedent rule.
func (e *Engine) matchEdge(snap *graph.Snapshot, policy config.Policy, segment string, a models.Alert) (models.EdgeRecord, bool) {
	recents := e.index.RecentAntecedents(a.EntityID, a.TS, policy.NearWindow(), a.ID)

	var (
		best      models.EdgeRecord
		bestScore float64
		found     bool
	)
	for _, r := range recents {
		edge, ok := snap.Edge(segment, r.RuleID, a.RuleID)
		if !ok || !strongEdge(policy, edge) {
			continue
		}
		q := effectiveQ(edge)
		if q < 1e-12 {
			q = 1e-12
		}
		score := float64(edge.NSrc1) / q
		if !found || score > bestScore {
			best, bestScore, found = edge, score, true
		}
	}
	return best, found
}

func edgeReason(edge models.EdgeRecord, policy config.Policy) models.DecisionReason {
	return models.DecisionReason{
		EdgeID:    edge.EdgeID(),
		Src:       edge.Src,
		Dst:       edge.Dst,
		QValue:    effectiveQ(edge),
		Support:   edge.NSrc1,
		Lift:      edge.Lift,
		WindowSec: policy.NearWindowSec,
	}
}

func (e *Engine) deliver(ctx context.Context, a models.Alert, policy config.Policy, reason models.DecisionReason, confidence float64) (models.DecisionRecord, error) {
	rec := models.DecisionRecord{
		AlertID:       a.ID,
		Decision:      models.DecisionDeliver,
		Confidence:    confidence,
		Reason:        reason,
		PolicyVersion: policy.Version,
		CreatedAt:     e.clock.Now().UTC(),
	}
	stored, created, err := e.st.PutDecision(ctx, rec)
	if err != nil {
		// Fail open: the alert still reaches the sink even when the record
		// cannot be persisted.
		e.log.Error().Err(err).Str("alert_id", a.ID).Msg("decision store failure, delivering unrecorded")
		e.sink.Deliver(ctx, a, rec)
		return rec, err
	}
	if !created {
		return stored, nil
	}

	e.met.DecisionsTotal.WithLabelValues(models.DecisionDeliver, reason.Why).Inc()
	e.met.DeliverTotal.WithLabelValues(a.Severity, reason.Why).Inc()
	e.updateSuppressionRate(false)
	e.auditRecord("decision_deliver", a, stored)
	e.sink.Deliver(ctx, a, stored)
	e.log.Info().
		Str("alert_id", a.ID).
		Str("rule_id", a.RuleID).
		Str("why", reason.Why).
		Msg("alert delivered")
	return stored, nil
}

func (e *Engine) suppress(ctx context.Context, a models.Alert, policy config.Policy, edge models.EdgeRecord, score, confidence float64) (models.DecisionRecord, error) {
	reason := edgeReason(edge, policy)
	reason.Why = "edge"
	reason.ValidationScore = score

	rec := models.DecisionRecord{
		AlertID:       a.ID,
		Decision:      models.DecisionSuppress,
		Confidence:    confidence,
		Reason:        reason,
		PolicyVersion: policy.Version,
		CreatedAt:     e.clock.Now().UTC(),
	}
	stored, created, err := e.st.PutDecision(ctx, rec)
	if err != nil {
		// Fail open: a store outage must not swallow the alert.
		e.log.Error().Err(err).Str("alert_id", a.ID).Msg("decision store failure, delivering instead of suppressing")
		rec.Decision = models.DecisionDeliver
		rec.Reason = models.DecisionReason{Why: "validator_unavailable"}
		e.sink.Deliver(ctx, a, rec)
		return rec, err
	}
	if !created {
		return stored, nil
	}

	sup := models.Suppression{
		AlertID:               a.ID,
		EdgeID:                edge.EdgeID(),
		FalseSuppressionScore: score,
		ValidationMethod:      "combined",
		Status:                models.SuppressionPending,
		InsertedTS:            e.clock.Now().UTC(),
		Meta: models.SuppressionMeta{
			OriginalQ:       effectiveQ(edge),
			OriginalSupport: edge.NSrc1,
			OriginalLift:    edge.Lift,
			Src:             edge.Src,
			Dst:             edge.Dst,
			Segment:         edge.Segment,
		},
	}
	if _, err := e.st.PutSuppression(ctx, sup); err != nil {
		// Quarantine failed: the reconciler could never revisit this alert,
		// so surface it now rather than suppress untracked.
		e.log.Error().Err(err).Str("alert_id", a.ID).Msg("quarantine failure, delivering suppressed alert")
		e.sink.Deliver(ctx, a, stored)
		return stored, err
	}

	e.met.DecisionsTotal.WithLabelValues(models.DecisionSuppress, reason.Why).Inc()
	e.met.SuppressTotal.WithLabelValues(a.Severity).Inc()
	e.updateSuppressionRate(true)
	e.auditRecord("decision_suppress", a, stored)
	e.log.Info().
		Str("alert_id", a.ID).
		Str("rule_id", a.RuleID).
		Str("edge", edge.EdgeID()).
		Float64("confidence", confidence).
		Msg("alert suppressed")
	return stored, nil
}

// updateSuppressionRate refreshes the suppressed/decided ratio gauge.
func (e *Engine) updateSuppressionRate(suppressed bool) {
	total := e.decided.Add(1)
	sup := e.suppressed.Load()
	if suppressed {
		sup = e.suppressed.Add(1)
	}
	e.met.SuppressionRate.Set(float64(sup) / float64(total))
}

func (e *Engine) auditRecord(action string, a models.Alert, rec models.DecisionRecord) {
	_, err := e.auditor.Append("decision-engine", action, map[string]any{
		"alert_id":   a.ID,
		"rule_id":    a.RuleID,
		"entity_id":  a.EntityID,
		"decision":   rec.Decision,
		"why":        rec.Reason.Why,
		"confidence": rec.Confidence,
	})
	if err != nil {
		e.log.Error().Err(err).Str("alert_id", a.ID).Msg("audit append failed")
	}
}
