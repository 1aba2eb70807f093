package decision

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/bolcd/condense-engine/internal/config"
	"github.com/bolcd/condense-engine/internal/store"
	"github.com/bolcd/condense-engine/pkg/models"
)

// False-Suppression Validator
//
// Composites three signals into a single risk score in [0,1] for a pending
// suppression — the probability that suppressing this alert hides something
// an analyst should see:
//
//	severity:    {critical 0.9, high 0.7, medium 0.3, low 0.1, info 0.0}
//	correlation: high/critical alerts from the same entity within +-1h,
//	             0.2 per event, capped at 1.0
//	rarity:      1/(1+k) where k = matching (entity, rule) alerts in 7 days
//
// Default weights 0.4/0.3/0.3. Every evaluation is appended to the
// validation log.
type Validator struct {
	index *AlertIndex
	st    *store.Store
	clock clockwork.Clock
	log   zerolog.Logger
}

// correlationWindow is the incident correlation lookaround.
const correlationWindow = time.Hour

// rarityLookback is the rarity signal history window.
const rarityLookback = 7 * 24 * time.Hour

// NewValidator wires the validator to the shared alert index and the
// validation log store.
func NewValidator(index *AlertIndex, st *store.Store, clock clockwork.Clock, log zerolog.Logger) *Validator {
	return &Validator{index: index, st: st, clock: clock, log: log}
}

func severityRiskScore(severity string) float64 {
	switch severity {
	case models.SeverityCritical:
		return 0.9
	case models.SeverityHigh:
		return 0.7
	case models.SeverityMedium:
		return 0.3
	case models.SeverityLow:
		return 0.1
	case models.SeverityInfo:
		return 0.0
	default:
		return 0.5
	}
}

// Score evaluates the alert and appends a ValidationLog entry. A failure to
// persist the log is a validator failure: the caller treats it as maximum
// risk and fails open.
func (v *Validator) Score(ctx context.Context, p config.Policy, a models.Alert) (float64, error) {
	sevScore := severityRiskScore(a.Severity)

	recentHigh := v.index.CountHighSeverityNear(a.EntityID, a.TS, correlationWindow, a.ID)
	corrScore := float64(recentHigh) * 0.2
	if corrScore > 1.0 {
		corrScore = 1.0
	}

	// The count includes the alert under evaluation, so a first occurrence
	// scores 0.5, not 1.0.
	sameCount := v.index.CountMatching(a.EntityID, a.RuleID, a.TS.Add(-rarityLookback), "")
	rarityScore := 1.0 / float64(sameCount+1)

	total := p.ValidatorSeverityWeight + p.ValidatorCorrelationWeight + p.ValidatorRarityWeight
	score := (sevScore*p.ValidatorSeverityWeight +
		corrScore*p.ValidatorCorrelationWeight +
		rarityScore*p.ValidatorRarityWeight) / total

	entry := models.ValidationLog{
		AlertID:    a.ID,
		TS:         v.clock.Now().UTC(),
		Method:     "combined",
		Score:      score,
		Confidence: 0.8,
		Details: map[string]float64{
			"severity_score":    sevScore,
			"correlation_score": corrScore,
			"rarity_score":      rarityScore,
		},
	}
	if err := v.st.AppendValidation(ctx, entry); err != nil {
		return 1.0, err
	}

	v.log.Debug().
		Str("alert_id", a.ID).
		Float64("score", score).
		Int("recent_high", recentHigh).
		Int("same_pattern", sameCount).
		Msg("false-suppression validation")
	return score, nil
}
