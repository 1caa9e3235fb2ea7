// Package metrics exposes prometheus metrics for the advisory pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the advisor.
type Metrics struct {
	Advice           *prometheus.CounterVec
	DetectorFailures *prometheus.CounterVec
	Degradations     *prometheus.CounterVec
	PipelineDuration prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	advice := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taulayer_advice_total",
		Help: "Advice produced, by verdict status",
	}, []string{"status"})

	detectorFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taulayer_detector_failures_total",
		Help: "Detector runs that failed or panicked",
	}, []string{"detector"})

	degradations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taulayer_degradations_total",
		Help: "Requests answered with degraded analysis, by error code",
	}, []string{"code"})

	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "taulayer_pipeline_duration_seconds",
		Help:    "Time spent producing one advice",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	reg.MustRegister(advice, detectorFailures, degradations, duration)

	return &Metrics{
		Advice:           advice,
		DetectorFailures: detectorFailures,
		Degradations:     degradations,
		PipelineDuration: duration,
	}
}

func (m *Metrics) ObserveAdvice(status string, elapsed time.Duration) {
	m.Advice.WithLabelValues(status).Inc()
	m.PipelineDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) DetectorFailed(detector string) {
	m.DetectorFailures.WithLabelValues(detector).Inc()
}

func (m *Metrics) Degraded(code string) {
	m.Degradations.WithLabelValues(code).Inc()
}
