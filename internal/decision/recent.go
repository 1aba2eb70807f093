package decision

import (
	"sort"
	"sync"
	"time"

	"github.com/bolcd/condense-engine/pkg/models"
)

// retentionHorizon bounds the in-memory alert history; the rarity signal
// looks back seven days, nothing looks back further.
const retentionHorizon = 7 * 24 * time.Hour

// AlertIndex is the in-memory recent-alert context shared by the decision
// engine, the false-suppression validator, and the reconciler's
// severity-escalation rule. Entries older than the retention horizon are
// pruned on insert.
type AlertIndex struct {
	mu       sync.RWMutex
	byEntity map[string][]models.Alert
	byID     map[string]models.Alert
}

// NewAlertIndex builds an empty index.
func NewAlertIndex() *AlertIndex {
	return &AlertIndex{
		byEntity: make(map[string][]models.Alert),
		byID:     make(map[string]models.Alert),
	}
}

// Record inserts an alert and prunes expired history for its entity.
func (ix *AlertIndex) Record(a models.Alert) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cutoff := a.TS.Add(-retentionHorizon)
	kept := ix.byEntity[a.EntityID][:0]
	for _, old := range ix.byEntity[a.EntityID] {
		if old.TS.After(cutoff) {
			kept = append(kept, old)
		} else {
			delete(ix.byID, old.ID)
		}
	}
	ix.byEntity[a.EntityID] = append(kept, a)
	ix.byID[a.ID] = a
}

// Get returns an alert by id.
func (ix *AlertIndex) Get(alertID string) (models.Alert, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	a, ok := ix.byID[alertID]
	return a, ok
}

// RecentAntecedents returns the entity's alerts with timestamps in
// [now-window, now], excluding excludeID, sorted by rule id for
// deterministic edge matching.
func (ix *AlertIndex) RecentAntecedents(entityID string, now time.Time, window time.Duration, excludeID string) []models.Alert {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []models.Alert
	for _, a := range ix.byEntity[entityID] {
		if a.ID == excludeID {
			continue
		}
		d := now.Sub(a.TS)
		if d >= 0 && d <= window {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

// CountHighSeverityNear counts high/critical alerts from the entity within
// +-window around ts, excluding excludeID. This is the validator's incident
// correlation signal.
func (ix *AlertIndex) CountHighSeverityNear(entityID string, ts time.Time, window time.Duration, excludeID string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	count := 0
	for _, a := range ix.byEntity[entityID] {
		if a.ID == excludeID {
			continue
		}
		if models.SeverityRank(a.Severity) < models.SeverityRank(models.SeverityHigh) {
			continue
		}
		d := a.TS.Sub(ts)
		if d < 0 {
			d = -d
		}
		if d <= window {
			count++
		}
	}
	return count
}

// CountMatching counts alerts from (entity, rule) since the given time,
// excluding excludeID. This is the validator's rarity denominator.
func (ix *AlertIndex) CountMatching(entityID, ruleID string, since time.Time, excludeID string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	count := 0
	for _, a := range ix.byEntity[entityID] {
		if a.ID == excludeID || a.RuleID != ruleID {
			continue
		}
		if !a.TS.Before(since) {
			count++
		}
	}
	return count
}

// HasHighSeverityAfter reports whether a high/critical alert from
// (entity, rule) arrived after ts. Drives the severity-escalation
// late-replay rule.
func (ix *AlertIndex) HasHighSeverityAfter(entityID, ruleID string, ts time.Time) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	for _, a := range ix.byEntity[entityID] {
		if a.RuleID != ruleID {
			continue
		}
		if models.SeverityRank(a.Severity) >= models.SeverityRank(models.SeverityHigh) && a.TS.After(ts) {
			return true
		}
	}
	return false
}
