package decision

import (
	"strings"

	"github.com/bolcd/condense-engine/internal/config"
	"github.com/bolcd/condense-engine/internal/learn"
	"github.com/bolcd/condense-engine/pkg/models"
)

// criticalSignatures never suppress, case-insensitive substring match on the
// alert signature.
var criticalSignatures = []string{
	"privilege_escalation",
	"data_exfiltration",
	"malware",
	"unauthorized_access",
	"sql_injection",
	"command_injection",
	"ransomware",
	"backdoor",
	"rootkit",
}

// alwaysPass applies the safety guards; a matched guard forces delivery with
// the returned reason.
func alwaysPass(p config.Policy, a models.Alert) (bool, string) {
	if p.HighSeverityProtection && models.SeverityRank(a.Severity) >= models.SeverityRank(models.SeverityHigh) {
		return true, "high_severity_protection"
	}
	if p.Allowlisted(a.RuleID) {
		return true, "allowlist"
	}
	if a.Signature != "" {
		sig := strings.ToLower(a.Signature)
		for _, crit := range criticalSignatures {
			if strings.Contains(sig, crit) {
				return true, "critical_signature"
			}
		}
	}
	return false, ""
}

// effectiveQ is the significance measure used for edge strength: the BH
// q-value when defined, otherwise the Rule-of-Three bound (a 95% upper bound
// on the counterexample rate plays the same role for exact implications).
func effectiveQ(e models.EdgeRecord) float64 {
	if e.QValue != nil {
		return *e.QValue
	}
	return e.CI95Upper
}

// strongEdge checks the suppression strength criteria: significance at or
// below alpha, support and lift at or above their minima.
func strongEdge(p config.Policy, e models.EdgeRecord) bool {
	return effectiveQ(e) <= p.Alpha &&
		e.NSrc1 >= p.SupportMin &&
		e.Lift >= p.LiftMin
}

// severityWeight is the base confidence contribution of the alert severity:
// suppressing a critical alert is never confident, suppressing noise is.
func severityWeight(severity string) float64 {
	switch severity {
	case models.SeverityCritical:
		return 0.1
	case models.SeverityHigh:
		return 0.3
	case models.SeverityMedium:
		return 0.7
	case models.SeverityLow, models.SeverityInfo:
		return 1.0
	default:
		return 0.5
	}
}

// suppressionConfidence combines severity, edge strength, and the
// false-suppression score into the decision confidence, clamped to [0,1].
func suppressionConfidence(p config.Policy, a models.Alert, e models.EdgeRecord, validationScore float64) float64 {
	base := severityWeight(a.Severity)

	q := effectiveQ(e)
	if q > 1 {
		q = 1
	}
	qConf := 1.0 - q
	supportConf := min1(float64(e.NSrc1) / float64(2*p.SupportMin))
	liftConf := min1(e.Lift / (2 * p.LiftMin))
	edgeConf := (qConf + supportConf + liftConf) / 3.0

	conf := base * edgeConf
	if validationScore > 0 {
		conf *= 1.0 - validationScore
	}
	if conf < 0 {
		return 0
	}
	if conf > 1 {
		return 1
	}
	return conf
}

func min1(x float64) float64 {
	if x > 1 {
		return 1
	}
	return x
}

// segmentForAlert buckets an alert exactly the way the learner buckets
// events, so edge lookups hit the segment the edge was learned in.
func segmentForAlert(a models.Alert, keys []config.SegmentKey) string {
	ev := make(learn.Event, len(a.Attrs))
	for k, v := range a.Attrs {
		ev[k] = v
	}
	return learn.SegmentLabel(ev, keys)
}
