package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initLinkMetrics() {
	r.LinkOutcomes = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "assembler_links_outcomes_total",
			Help: "Imported links by outcome (created, duplicate, unnatural, timed_out, unexpected)",
		},
		[]string{"outcome"},
	)

	r.LinksInFlight = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "assembler_links_inflight",
			Help: "Links dispatched to the consuming loop but not yet confirmed",
		},
	)

	r.LinksVisible = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "assembler_links_visible",
			Help: "Materialized links currently visible",
		},
	)

	r.LinkBatchDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assembler_link_batch_duration_seconds",
			Help:    "Wall time to account for every link of an import batch",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	r.ProgressRatio = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "assembler_progress_ratio",
			Help: "Fraction of expected links processed or dropped",
		},
	)
}
