package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initEntityMetrics() {
	r.EntitiesIngested = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "assembler_entities_ingested_total",
			Help: "Entity snapshots ingested, including re-ingested updates",
		},
	)

	r.EntityTransitions = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "assembler_entity_transitions_total",
			Help: "Lifecycle transitions by target state",
		},
		[]string{"state"},
	)

	r.EntitiesReady = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "assembler_entities_ready",
			Help: "Entities that have announced themselves ready",
		},
	)

	r.EntitiesStuck = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "assembler_entities_stuck",
			Help: "Entities waiting for population or binding past the stuck threshold",
		},
	)

	r.RelationsDemoted = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "assembler_relations_demoted_total",
			Help: "Speculative relations demoted after the declared ordering was seen",
		},
	)

	r.BusEventsPublished = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "assembler_bus_events_published_total",
			Help: "Events published on the event bus by topic",
		},
		[]string{"topic"},
	)

	r.CallbacksDelivered = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "assembler_callbacks_delivered_total",
			Help: "One-shot callbacks invoked by the callback registry",
		},
	)
}
