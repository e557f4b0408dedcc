package metrics

import (
	"runtime"
	"time"
)

// All recorders are safe on a nil *Registry so components can run unmetered.

// RecordTransition counts an entity reaching a lifecycle state
func (r *Registry) RecordTransition(state string) {
	if r == nil {
		return
	}
	r.EntityTransitions.WithLabelValues(state).Inc()
}

// RecordIngest counts ingested entity snapshots
func (r *Registry) RecordIngest(n int) {
	if r == nil {
		return
	}
	r.EntitiesIngested.Add(float64(n))
}

// SetEntitiesReady sets the ready entity gauge
func (r *Registry) SetEntitiesReady(n int) {
	if r == nil {
		return
	}
	r.EntitiesReady.Set(float64(n))
}

// SetEntitiesStuck sets the stuck entity gauge
func (r *Registry) SetEntitiesStuck(n int) {
	if r == nil {
		return
	}
	r.EntitiesStuck.Set(float64(n))
}

// RecordDemotion counts a speculative relation being demoted
func (r *Registry) RecordDemotion() {
	if r == nil {
		return
	}
	r.RelationsDemoted.Inc()
}

// RecordPublish counts an event bus publication
func (r *Registry) RecordPublish(topic string) {
	if r == nil {
		return
	}
	r.BusEventsPublished.WithLabelValues(topic).Inc()
}

// RecordCallbacks counts delivered one-shot callbacks
func (r *Registry) RecordCallbacks(n int) {
	if r == nil || n == 0 {
		return
	}
	r.CallbacksDelivered.Add(float64(n))
}

// RecordProduction counts a produced container, or a skipped one when failed is set
func (r *Registry) RecordProduction(kind string, failed bool) {
	if r == nil {
		return
	}
	if failed {
		r.FactoryErrors.WithLabelValues(kind).Inc()
		return
	}
	r.FactoryProduced.WithLabelValues(kind).Inc()
}

// UpdateFactory sets the pending queue depth
func (r *Registry) UpdateFactory(pending int) {
	if r == nil {
		return
	}
	r.FactoryPending.Set(float64(pending))
}

// SetPoolAvailable sets the idle shell count for a kind
func (r *Registry) SetPoolAvailable(kind string, n int) {
	if r == nil {
		return
	}
	r.FactoryPoolAvailable.WithLabelValues(kind).Set(float64(n))
}

// RecordTick records one consuming-loop tick
func (r *Registry) RecordTick(duration time.Duration, commands int) {
	if r == nil {
		return
	}
	r.FrameTickDuration.Observe(duration.Seconds())
	r.FrameCommandsRun.Add(float64(commands))
}

// RecordLinkOutcome counts an imported link by outcome
func (r *Registry) RecordLinkOutcome(outcome string) {
	if r == nil {
		return
	}
	r.LinkOutcomes.WithLabelValues(outcome).Inc()
}

// SetLinksInFlight sets the in-flight gauge
func (r *Registry) SetLinksInFlight(n int64) {
	if r == nil {
		return
	}
	r.LinksInFlight.Set(float64(n))
}

// SetLinksVisible sets the visible link gauge
func (r *Registry) SetLinksVisible(n int) {
	if r == nil {
		return
	}
	r.LinksVisible.Set(float64(n))
}

// RecordBatch records how long an import batch took to settle
func (r *Registry) RecordBatch(duration time.Duration) {
	if r == nil {
		return
	}
	r.LinkBatchDuration.Observe(duration.Seconds())
}

// SetProgress sets the progress ratio gauge
func (r *Registry) SetProgress(ratio float64) {
	if r == nil {
		return
	}
	r.ProgressRatio.Set(ratio)
}

// UpdateSystemMetrics refreshes uptime, goroutine and heap gauges
func (r *Registry) UpdateSystemMetrics() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	r.UptimeSeconds.Set(time.Since(r.startedAt).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(ms.Alloc))
}
