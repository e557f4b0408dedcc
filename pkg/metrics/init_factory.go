package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initFactoryMetrics() {
	r.FactoryPending = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "assembler_factory_pending",
			Help: "Entities waiting for a container",
		},
	)

	r.FactoryProduced = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "assembler_factory_produced_total",
			Help: "Containers produced by kind",
		},
		[]string{"kind"},
	)

	r.FactoryErrors = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "assembler_factory_errors_total",
			Help: "Productions skipped because of an error or unexpected kind",
		},
		[]string{"kind"},
	)

	r.FactoryPoolAvailable = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assembler_factory_pool_available",
			Help: "Inactive pre-allocated shells by kind",
		},
		[]string{"kind"},
	)

	r.FrameTickDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assembler_frame_tick_duration_seconds",
			Help:    "Time spent by the consuming loop per tick",
			Buckets: []float64{0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.033, 0.1},
		},
	)

	r.FrameCommandsRun = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "assembler_frame_commands_total",
			Help: "Commands executed by the consuming loop",
		},
	)
}
