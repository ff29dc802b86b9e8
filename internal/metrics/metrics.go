// Package metrics exposes engine counters for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecommendationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hedge_recommendations_total", Help: "Hedge evaluations by outcome"},
		[]string{"underlying", "outcome"},
	)
	ClippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hedge_clipped_total", Help: "Recommendations clipped by the monthly cap"},
		[]string{"underlying"},
	)
	PremiumSpendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hedge_premium_spend_total", Help: "Premium spend recorded, in account currency"},
		[]string{"underlying"},
	)
	RollTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hedge_roll_triggers_total", Help: "Roll triggers fired by reason"},
		[]string{"reason"},
	)
	AssignmentDetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hedge_assignment_detections_total", Help: "Assignment risk detections by band"},
		[]string{"band"},
	)
	UnwindsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hedge_unwinds_total", Help: "Emergency unwinds by severity"},
		[]string{"severity"},
	)
	SafetyGateActive = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "hedge_safety_gate_active", Help: "1 while the safety gate is active"},
	)
)

func init() {
	prometheus.MustRegister(
		RecommendationsTotal,
		ClippedTotal,
		PremiumSpendTotal,
		RollTriggersTotal,
		AssignmentDetectionsTotal,
		UnwindsTotal,
		SafetyGateActive,
	)
}

// Serve starts a metrics endpoint on the given address.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
