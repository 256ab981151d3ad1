package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "kuberdock",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// PodCommandsTotal counts pod lifecycle commands by command name and outcome.
var PodCommandsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kuberdock",
		Subsystem: "pods",
		Name:      "commands_total",
		Help:      "Pod lifecycle commands processed, by command and outcome.",
	},
	[]string{"command", "outcome"},
)

// WatchEventsTotal counts Kubernetes watch events by stream and event type.
var WatchEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kuberdock",
		Subsystem: "reconciler",
		Name:      "watch_events_total",
		Help:      "Kubernetes watch events received, by stream and type.",
	},
	[]string{"stream", "type"},
)

// WatchRestartsTotal counts watch stream restarts by stream.
var WatchRestartsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kuberdock",
		Subsystem: "reconciler",
		Name:      "watch_restarts_total",
		Help:      "Kubernetes watch stream restarts, by stream.",
	},
	[]string{"stream"},
)

// IPAllocationsTotal counts public IP allocations and releases.
var IPAllocationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kuberdock",
		Subsystem: "ippool",
		Name:      "allocations_total",
		Help:      "Public IP allocations and releases, by operation.",
	},
	[]string{"operation"},
)

// PDOperationsTotal counts persistent disk backend operations by backend and outcome.
var PDOperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kuberdock",
		Subsystem: "pd",
		Name:      "operations_total",
		Help:      "Persistent disk backend operations, by backend, operation and outcome.",
	},
	[]string{"backend", "operation", "outcome"},
)

// SSEClients tracks the number of connected SSE subscribers.
var SSEClients = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "kuberdock",
		Subsystem: "sse",
		Name:      "clients",
		Help:      "Currently connected SSE subscribers.",
	},
)

// NewMetricsRegistry creates a Prometheus registry with default and domain collectors.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
		PodCommandsTotal,
		WatchEventsTotal,
		WatchRestartsTotal,
		IPAllocationsTotal,
		PDOperationsTotal,
		SSEClients,
	)
	return reg
}
