// Package replay holds the suppression quarantine lifecycle: the periodic
// reconciler sweep that surfaces suppressed alerts late when subsequent
// signals change their judged importance, the lease that keeps one sweep
// owner at a time, and the rule evaluator itself.
package replay

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/bolcd/condense-engine/internal/audit"
	"github.com/bolcd/condense-engine/internal/config"
	"github.com/bolcd/condense-engine/internal/decision"
	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/internal/graph"
	"github.com/bolcd/condense-engine/internal/metrics"
	"github.com/bolcd/condense-engine/internal/store"
	"github.com/bolcd/condense-engine/pkg/models"
)

// ReplaySink receives late-replayed alerts.
type ReplaySink interface {
	Replay(ctx context.Context, a models.Alert, lr models.LateReplay)
}

// Reconciler sweeps pending suppressions and applies the late-replay rules
// in order; the first matching rule wins. Per-item errors never stop a
// sweep.
type Reconciler struct {
	cfg    func() *config.Config
	st     *store.Store
	graphs *graph.Store
	index  *decision.AlertIndex
	lease  *Lease
	sink   ReplaySink
	audit  audit.Recorder
	met    *metrics.Set
	clock  clockwork.Clock
	log    zerolog.Logger
}

// NewReconciler wires a reconciler.
func NewReconciler(
	cfg func() *config.Config,
	st *store.Store,
	graphs *graph.Store,
	index *decision.AlertIndex,
	lease *Lease,
	sink ReplaySink,
	auditor audit.Recorder,
	met *metrics.Set,
	clock clockwork.Clock,
	log zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		cfg: cfg, st: st, graphs: graphs, index: index, lease: lease,
		sink: sink, audit: auditor, met: met, clock: clock, log: log,
	}
}

// Run sweeps on the configured cadence until ctx is cancelled. Lease loss
// aborts the current sweep; the next tick retries.
func (r *Reconciler) Run(ctx context.Context) {
	interval := time.Duration(r.cfg().Reconciler.IntervalSec) * time.Second
	heartbeat := time.Duration(r.cfg().Reconciler.HeartbeatSec) * time.Second

	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	hb := r.clock.NewTicker(heartbeat)
	defer hb.Stop()

	r.log.Info().Dur("interval", interval).Msg("reconciler started")
	for {
		select {
		case <-ctx.Done():
			r.lease.Release()
			r.log.Info().Msg("reconciler stopped")
			return
		case <-hb.Chan():
			if r.lease.Held() {
				r.lease.Renew()
			}
		case <-ticker.Chan():
			if !r.lease.Acquire() {
				r.log.Debug().Msg("reconciler lease held elsewhere, skipping sweep")
				continue
			}
			if err := r.SweepOnce(ctx); err != nil {
				r.log.Error().Err(err).Msg("reconciler sweep failed")
			}
		}
	}
}

// SweepOnce runs a single reconciliation pass over pending suppressions.
func (r *Reconciler) SweepOnce(ctx context.Context) error {
	pending, err := r.st.ListSuppressions(ctx, models.SuppressionPending)
	if err != nil {
		return err
	}
	r.met.PendingLateReplay.Set(float64(len(pending)))

	policy := r.cfg().Policy
	lateCount, expiredCount := 0, 0
	for _, sup := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.lease.Held() {
			r.log.Warn().Msg("reconciler lease lost mid-sweep, aborting")
			return nil
		}

		verdict := r.evaluate(ctx, policy, sup)
		switch {
		case verdict.fire:
			if err := r.replay(ctx, sup, verdict); err != nil {
				r.log.Error().Err(err).Str("alert_id", sup.AlertID).Msg("late replay failed, continuing sweep")
				continue
			}
			lateCount++
		case r.clock.Now().Sub(sup.InsertedTS) > 2*policy.LateTTL():
			if err := r.st.UpdateSuppressionStatus(ctx, sup.AlertID, models.SuppressionExpired); err != nil {
				r.log.Error().Err(err).Str("alert_id", sup.AlertID).Msg("expire failed, continuing sweep")
				continue
			}
			expiredCount++
		}
	}

	if lateCount > 0 || expiredCount > 0 {
		r.log.Info().Int("late", lateCount).Int("expired", expiredCount).Msg("reconciliation complete")
	}
	return nil
}

type verdict struct {
	fire       bool
	reason     string
	confidence float64
}

// evaluate applies the late-replay rules in their fixed order.
func (r *Reconciler) evaluate(ctx context.Context, policy config.Policy, sup models.Suppression) verdict {
	now := r.clock.Now()

	// 1. TTL: old suppressions come back for review.
	if now.Sub(sup.InsertedTS) >= policy.LateTTL() {
		return verdict{fire: true, reason: models.ReplayTTLPolicy, confidence: 0.7}
	}

	// 2. High stored false-suppression score.
	if sup.FalseSuppressionScore >= policy.LateFalseThresh {
		return verdict{fire: true, reason: models.ReplayFalseSuppression, confidence: sup.FalseSuppressionScore}
	}

	// 3. Edge drift against the current graph.
	if r.edgeDrifted(sup.Meta) {
		return verdict{fire: true, reason: models.ReplayEdgeDrift, confidence: 0.6}
	}

	// 4. Severity escalation on the same (entity, rule).
	if a, ok := r.index.Get(sup.AlertID); ok {
		if r.index.HasHighSeverityAfter(a.EntityID, a.RuleID, sup.InsertedTS) {
			return verdict{fire: true, reason: models.ReplaySeverityEscalation, confidence: 0.8}
		}
	}

	// 5. A newer validation scored the suppression risky.
	if logs, err := r.st.Validations(ctx, sup.AlertID); err == nil {
		for _, v := range logs {
			if v.TS.After(sup.InsertedTS) && v.Score > 0.7 {
				return verdict{fire: true, reason: models.ReplayValidationUpdate, confidence: v.Score}
			}
		}
	}

	return verdict{}
}

// edgeDrifted compares the edge's strength now against its strength at
// suppression time: q doubled or support halved means the learned
// correlation no longer justifies the suppression. An edge gone from the
// graph counts as fully drifted.
func (r *Reconciler) edgeDrifted(meta models.SuppressionMeta) bool {
	if meta.Src == "" || meta.Dst == "" {
		return false
	}
	snap := r.graphs.Current()
	edge, ok := snap.Edge(meta.Segment, meta.Src, meta.Dst)
	if !ok {
		return true
	}
	currentQ := edge.CI95Upper
	if edge.QValue != nil {
		currentQ = *edge.QValue
	}
	if meta.OriginalQ > 0 && currentQ >= 2*meta.OriginalQ {
		return true
	}
	if meta.OriginalSupport > 0 && edge.NSrc1 <= meta.OriginalSupport/2 {
		return true
	}
	return false
}

// replay records the LateReplay, transitions the suppression to late, and
// pushes the alert to the sink.
func (r *Reconciler) replay(ctx context.Context, sup models.Suppression, v verdict) error {
	a, haveAlert := r.index.Get(sup.AlertID)
	originalTS := sup.InsertedTS
	if haveAlert {
		originalTS = a.TS
	}

	lr := models.LateReplay{
		AlertID:    sup.AlertID,
		OriginalTS: originalTS,
		LateTS:     r.clock.Now().UTC(),
		Reason:     v.reason,
		Confidence: v.confidence,
		Delivered:  false,
	}
	created, err := r.st.PutLateReplay(ctx, lr)
	if err != nil {
		return err
	}
	if !created {
		// Already replayed by an earlier sweep; just converge the status.
		return r.st.UpdateSuppressionStatus(ctx, sup.AlertID, models.SuppressionLate)
	}
	if err := r.st.UpdateSuppressionStatus(ctx, sup.AlertID, models.SuppressionLate); err != nil {
		return err
	}

	r.met.LateReplayTotal.WithLabelValues(v.reason).Inc()
	if _, err := r.audit.Append("reconciler", "late_replay", map[string]any{
		"alert_id":   sup.AlertID,
		"reason":     v.reason,
		"confidence": v.confidence,
	}); err != nil {
		r.log.Error().Err(err).Str("alert_id", sup.AlertID).Msg("audit append failed")
	}

	if haveAlert {
		r.sink.Replay(ctx, a, lr)
		if err := r.st.MarkLateReplayDelivered(ctx, sup.AlertID); err != nil {
			return err
		}
	} else {
		r.log.Warn().Str("alert_id", sup.AlertID).Msg("late replay recorded but alert aged out of the index")
	}

	r.log.Info().
		Str("alert_id", sup.AlertID).
		Str("reason", v.reason).
		Float64("confidence", v.confidence).
		Msg("suppression replayed late")
	return nil
}

// Validate marks a suppression as operator-confirmed; validated is terminal.
func (r *Reconciler) Validate(ctx context.Context, alertID, actor string) error {
	sup, ok, err := r.st.GetSuppression(ctx, alertID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.KindValidation, "no suppression for alert %s", alertID)
	}
	if sup.Status != models.SuppressionPending {
		return nil
	}
	if err := r.st.UpdateSuppressionStatus(ctx, alertID, models.SuppressionValidated); err != nil {
		return err
	}
	_, err = r.audit.Append(actor, "suppression_validated", map[string]any{"alert_id": alertID})
	return err
}
