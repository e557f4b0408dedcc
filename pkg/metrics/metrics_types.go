package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all metrics for an assembly session
type Registry struct {
	// Entity metrics
	EntitiesIngested   prometheus.Counter
	EntityTransitions  *prometheus.CounterVec
	EntitiesReady      prometheus.Gauge
	EntitiesStuck      prometheus.Gauge
	RelationsDemoted   prometheus.Counter
	BusEventsPublished *prometheus.CounterVec
	CallbacksDelivered prometheus.Counter

	// Factory metrics
	FactoryPending       prometheus.Gauge
	FactoryProduced      *prometheus.CounterVec
	FactoryErrors        *prometheus.CounterVec
	FactoryPoolAvailable *prometheus.GaugeVec
	FrameTickDuration    prometheus.Histogram
	FrameCommandsRun     prometheus.Counter

	// Link import metrics
	LinkOutcomes      *prometheus.CounterVec
	LinksInFlight     prometheus.Gauge
	LinksVisible      prometheus.Gauge
	LinkBatchDuration prometheus.Histogram
	ProgressRatio     prometheus.Gauge

	// Process metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge

	registry  *prometheus.Registry
	startedAt time.Time
	mu        sync.RWMutex
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the process-wide metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized.
// Each session gets its own prometheus registry so tests never collide.
func NewRegistry() *Registry {
	r := &Registry{
		registry:  prometheus.NewRegistry(),
		startedAt: time.Now(),
	}

	r.initEntityMetrics()
	r.initFactoryMetrics()
	r.initLinkMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves this registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
