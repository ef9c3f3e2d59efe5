package intake

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the intake pipeline.
type Metrics struct {
	FilesTotal         *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram
	StabilityWait      prometheus.Histogram
}

// NewMetrics creates and registers the pipeline collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfeflow_files_total",
				Help: "Files handled by the intake pipeline, by outcome (success, duplicate, error).",
			},
			[]string{"outcome"},
		),
		ProcessingDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nfeflow_processing_duration_seconds",
				Help:    "Full per-file pipeline duration, detection to relocation.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		StabilityWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nfeflow_stability_wait_seconds",
				Help:    "Time spent waiting for files to stop changing.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
	}
}
