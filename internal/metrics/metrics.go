// Package metrics exposes the condense counters on the Prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set bundles the engine's Prometheus collectors.
type Set struct {
	AlertsTotal           *prometheus.CounterVec
	DecisionsTotal        *prometheus.CounterVec
	SuppressTotal         *prometheus.CounterVec
	DeliverTotal          *prometheus.CounterVec
	LateReplayTotal       *prometheus.CounterVec
	FalseSuppressionTotal *prometheus.CounterVec
	SuppressionRate       prometheus.Gauge
	PendingLateReplay     prometheus.Gauge
}

// New registers the collector set on a registry (the default registerer when
// nil).
func New(reg prometheus.Registerer) *Set {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Set{
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bolcd_alerts_total",
			Help: "Total number of alerts processed",
		}, []string{"severity"}),
		DecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bolcd_decisions_total",
			Help: "Total number of decisions made",
		}, []string{"decision", "reason"}),
		SuppressTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bolcd_suppress_total",
			Help: "Total suppressed alerts",
		}, []string{"severity"}),
		DeliverTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bolcd_deliver_total",
			Help: "Total delivered alerts",
		}, []string{"severity", "reason"}),
		LateReplayTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bolcd_late_replay_total",
			Help: "Total late replay alerts",
		}, []string{"reason"}),
		FalseSuppressionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bolcd_false_suppression_total",
			Help: "Total false suppressions detected",
		}, []string{"method"}),
		SuppressionRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bolcd_suppression_rate",
			Help: "Current suppression rate",
		}),
		PendingLateReplay: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bolcd_pending_late_replay",
			Help: "Number of pending late replay alerts",
		}),
	}
}
