// Package metrics exposes migration progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all migration metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RecordsTotal  *prometheus.CounterVec
	PhaseDuration *prometheus.HistogramVec
	GeocodeTotal  *prometheus.CounterVec
	Discrepancies *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates a metrics set on its own registry
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "migration",
			Name:      "records_total",
			Help:      "Records handled per entity, phase and outcome",
		},
		[]string{"entity", "phase", "outcome"}, // outcome: extracted, skipped, excluded, created, existing, failed
	)

	m.PhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "migration",
			Name:      "phase_duration_seconds",
			Help:      "Wall time of each phase",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"entity", "phase"},
	)

	m.GeocodeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "migration",
			Name:      "geocode_requests_total",
			Help:      "Geocoding lookups by outcome",
		},
		[]string{"outcome"}, // found, empty, error, unavailable
	)

	m.Discrepancies = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "migration",
			Name:      "validation_discrepancies",
			Help:      "Discrepancies found by the last validation per entity and kind",
		},
		[]string{"entity", "kind"}, // missing, orphaned, mismatched
	)

	m.registry.MustRegister(m.RecordsTotal, m.PhaseDuration, m.GeocodeTotal, m.Discrepancies)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Records adds n to the record counter
func (m *Metrics) Records(entity, phase, outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsTotal.WithLabelValues(entity, phase, outcome).Add(float64(n))
}

// ObservePhase records how long a phase took
func (m *Metrics) ObservePhase(entity, phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(entity, phase).Observe(d.Seconds())
}

// Geocode counts one geocoding outcome
func (m *Metrics) Geocode(outcome string) {
	if m == nil {
		return
	}
	m.GeocodeTotal.WithLabelValues(outcome).Inc()
}

// SetDiscrepancies records validation results
func (m *Metrics) SetDiscrepancies(entity string, missing, orphaned, mismatched int) {
	if m == nil {
		return
	}
	m.Discrepancies.WithLabelValues(entity, "missing").Set(float64(missing))
	m.Discrepancies.WithLabelValues(entity, "orphaned").Set(float64(orphaned))
	m.Discrepancies.WithLabelValues(entity, "mismatched").Set(float64(mismatched))
}

// Serve exposes /metrics on addr until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
