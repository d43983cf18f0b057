package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registry holds all Prometheus metrics for the promoter matrix engine.
type Registry struct {
	RunDuration *prometheus.HistogramVec

	RunsTotal      *prometheus.CounterVec
	SkippedRecords prometheus.Counter
	Violations     prometheus.Counter

	PromotersScored prometheus.Gauge
	NetworksActive  prometheus.Gauge
	PairsDetected   prometheus.Gauge

	AlertsEmitted *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewRegistry creates and registers all engine metrics on a private
// prometheus registry, so tests and concurrent runs stay isolated.
func NewRegistry() *Registry {
	r := &Registry{
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "promatrix_run_duration_seconds",
				Help:    "Duration of detection run stages in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0, 300.0},
			},
			[]string{"stage"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promatrix_runs_total",
				Help: "Total detection runs by outcome",
			},
			[]string{"status"},
		),
		SkippedRecords: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "promatrix_skipped_records_total",
				Help: "Total malformed evidence records skipped",
			},
		),
		Violations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "promatrix_invariant_violations_total",
				Help: "Total invariant violations surfaced for operator review",
			},
		),
		PromotersScored: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "promatrix_promoters_scored",
				Help: "Promoters scored in the last run",
			},
		),
		NetworksActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "promatrix_networks_active",
				Help: "Active promoter networks after the last run",
			},
		),
		PairsDetected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "promatrix_pairs_detected",
				Help: "Co-promotion pairs detected in the last run",
			},
		),
		AlertsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promatrix_alerts_emitted_total",
				Help: "Alerts emitted by alert type",
			},
			[]string{"type"},
		),
		registry: prometheus.NewRegistry(),
	}

	r.registry.MustRegister(
		r.RunDuration, r.RunsTotal, r.SkippedRecords, r.Violations,
		r.PromotersScored, r.NetworksActive, r.PairsDetected, r.AlertsEmitted,
	)
	return r
}

// Prometheus exposes the underlying registry for the /metrics handler.
func (r *Registry) Prometheus() *prometheus.Registry { return r.registry }

// CounterValue reads the current value of a counter family, summed across
// label sets. Used by the status endpoint and tests.
func (r *Registry) CounterValue(name string) (float64, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return 0, fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		total := 0.0
		for _, m := range mf.GetMetric() {
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				total += m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				total += m.GetGauge().GetValue()
			}
		}
		return total, nil
	}
	return 0, fmt.Errorf("metric %s not found", name)
}
