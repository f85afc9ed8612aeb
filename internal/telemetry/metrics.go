package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency across every route.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "cascata",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// PoolRegistrySize tracks the number of live pool entries.
var PoolRegistrySize = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "cascata",
		Subsystem: "pool",
		Name:      "registry_size",
		Help:      "Current number of live pool registry entries.",
	},
)

// PoolAcquireTotal counts pool acquisitions by outcome.
var PoolAcquireTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cascata",
		Subsystem: "pool",
		Name:      "acquire_total",
		Help:      "Total pool registry acquisitions by outcome.",
	},
	[]string{"outcome"}, // hit, created, error
)

// PoolEvictedTotal counts pool entries removed by reason.
var PoolEvictedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cascata",
		Subsystem: "pool",
		Name:      "evicted_total",
		Help:      "Total pool registry entries evicted by reason.",
	},
	[]string{"reason"}, // idle, hard_cap, invalidated, error
)

// RealtimeSubscribersGauge tracks live SSE subscribers per tenant.
var RealtimeSubscribersGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "cascata",
		Subsystem: "realtime",
		Name:      "subscribers",
		Help:      "Current number of live realtime subscribers per project.",
	},
	[]string{"slug"},
)

// RealtimeEventsTotal counts fan-out events delivered.
var RealtimeEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cascata",
		Subsystem: "realtime",
		Name:      "events_total",
		Help:      "Total realtime change events fanned out to subscribers.",
	},
	[]string{"slug", "action"},
)

// JobsEnqueuedTotal counts jobs pushed onto a queue.
var JobsEnqueuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cascata",
		Subsystem: "jobs",
		Name:      "enqueued_total",
		Help:      "Total jobs enqueued by queue name.",
	},
	[]string{"queue"},
)

// JobsCompletedTotal counts jobs that reached a terminal state.
var JobsCompletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cascata",
		Subsystem: "jobs",
		Name:      "completed_total",
		Help:      "Total jobs completed by queue and outcome.",
	},
	[]string{"queue", "outcome"}, // sent/completed, failed, fallback_dispatched, fallback_failed
)

// WebhookAttemptDuration tracks outbound webhook POST latency.
var WebhookAttemptDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "cascata",
		Subsystem: "webhook",
		Name:      "attempt_duration_seconds",
		Help:      "Outbound webhook delivery attempt duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
)

// RulesMatchedTotal counts notification rule matches that resulted in an enqueue.
var RulesMatchedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cascata",
		Subsystem: "rules",
		Name:      "matched_total",
		Help:      "Total notification rule matches that enqueued a push job.",
	},
	[]string{"slug", "table"},
)

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional service-specific
// collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}

// All returns the gateway-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		PoolRegistrySize,
		PoolAcquireTotal,
		PoolEvictedTotal,
		RealtimeSubscribersGauge,
		RealtimeEventsTotal,
		JobsEnqueuedTotal,
		JobsCompletedTotal,
		WebhookAttemptDuration,
		RulesMatchedTotal,
	}
}
