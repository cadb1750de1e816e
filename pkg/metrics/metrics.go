// Package metrics provides Prometheus instrumentation for crawlqos components.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "crawlqos"

// Registry holds all metric instances for crawlqos components.
type Registry struct {
	// Throttle gate metrics
	GateAdmissions    *prometheus.CounterVec
	GateWaits         *prometheus.CounterVec
	GateWaitTime      *prometheus.HistogramVec
	GateErrors        *prometheus.CounterVec
	GateBytesReserved *prometheus.CounterVec
	GateCapped        *prometheus.CounterVec
	BucketTokens      *prometheus.GaugeVec

	// Response size estimator metrics
	EstimateBytes     *prometheus.GaugeVec
	ResponsesObserved *prometheus.CounterVec
	ResponseBytes     *prometheus.CounterVec

	// Shared (Redis) bucket metrics
	DistributedFallbacks *prometheus.CounterVec

	// Crawl driver metrics
	CrawlFetches       *prometheus.CounterVec
	CrawlFetchDuration *prometheus.HistogramVec
	CrawlQueued        *prometheus.GaugeVec
	CrawlActiveWorkers *prometheus.GaugeVec
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns a Registry bound to prometheus.DefaultRegisterer,
// creating it on first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
	})
	return defaultRegistry
}

// New resolves a Config into a Registry. It returns nil when metrics are
// disabled; components treat a nil Registry as "do not record". Only a
// Config without Registry, Namespace or Labels shares the Default registry.
func New(config Config) *Registry {
	if !config.Enabled {
		return nil
	}
	if config.Registry == nil && config.Namespace == "" && len(config.Labels) == 0 {
		return Default()
	}
	reg := config.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(config.Labels) > 0 {
		reg = prometheus.WrapRegistererWith(config.Labels, reg)
	}
	return NewRegistryWithNamespace(reg, config.Namespace)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithNamespace(reg, DefaultNamespace)
}

// NewRegistryWithNamespace creates a registry whose metric names start with
// namespace instead of DefaultNamespace.
func NewRegistryWithNamespace(reg prometheus.Registerer, namespace string) *Registry {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Registry{
		// Throttle gate metrics
		GateAdmissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gate",
				Name:      "admissions_total",
				Help:      "Total number of requests admitted by the gate",
			},
			[]string{"gate"},
		),

		GateWaits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gate",
				Name:      "waits_total",
				Help:      "Total number of failed consume attempts that led to a wait",
			},
			[]string{"gate", "bucket"},
		),

		GateWaitTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gate",
				Name:      "wait_duration_seconds",
				Help:      "Time spent waiting for admission",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"gate"},
		),

		GateErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gate",
				Name:      "errors_total",
				Help:      "Total number of admissions that ended in an error",
			},
			[]string{"gate", "reason"},
		),

		GateBytesReserved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gate",
				Name:      "bytes_reserved_total",
				Help:      "Bandwidth tokens consumed on admission",
			},
			[]string{"gate"},
		),

		GateCapped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gate",
				Name:      "estimate_capped_total",
				Help:      "Admissions whose bandwidth reservation was capped at the bucket capacity",
			},
			[]string{"gate"},
		),

		BucketTokens: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bucket",
				Name:      "tokens_available",
				Help:      "Number of tokens available after the last consume",
			},
			[]string{"gate", "bucket"},
		),

		// Response size estimator metrics
		EstimateBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "estimator",
				Name:      "estimate_bytes",
				Help:      "Current response size estimate",
			},
			[]string{"gate"},
		),

		ResponsesObserved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "estimator",
				Name:      "responses_total",
				Help:      "Responses recorded, by whether they updated the estimate",
			},
			[]string{"gate", "outcome"},
		),

		ResponseBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "estimator",
				Name:      "response_bytes_total",
				Help:      "Total bytes of recorded responses",
			},
			[]string{"gate"},
		),

		// Shared bucket metrics
		DistributedFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "distributed",
				Name:      "fallbacks_total",
				Help:      "Consume calls served by the local fallback bucket",
			},
			[]string{"key"},
		),

		// Crawl driver metrics
		CrawlFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "crawl",
				Name:      "fetches_total",
				Help:      "Total number of fetches, by outcome",
			},
			[]string{"crawler", "outcome"},
		),

		CrawlFetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "crawl",
				Name:      "fetch_duration_seconds",
				Help:      "Time spent per fetch including throttling",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"crawler"},
		),

		CrawlQueued: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "crawl",
				Name:      "queued_urls",
				Help:      "Number of URLs waiting for a worker",
			},
			[]string{"crawler"},
		),

		CrawlActiveWorkers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "crawl",
				Name:      "active_workers",
				Help:      "Number of workers currently fetching",
			},
			[]string{"crawler"},
		),
	}
}
