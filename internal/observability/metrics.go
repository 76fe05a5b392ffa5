// Package observability defines the Prometheus metrics exported by the router.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProxyRequestsTotal counts proxied requests by final host and status.
	ProxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ollamaswarm_proxy_requests_total",
			Help: "Total number of proxied requests by host and status code",
		},
		[]string{"host", "status"},
	)

	// ProxyRequestDuration tracks end-to-end proxy latency, including failover.
	ProxyRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ollamaswarm_proxy_request_duration_seconds",
			Help:    "Proxied request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"host"},
	)

	// ProxyFailoversTotal counts attempts abandoned in favour of another host.
	ProxyFailoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ollamaswarm_proxy_failovers_total",
			Help: "Total number of failovers away from a host",
		},
		[]string{"host", "reason"},
	)

	// AdminCallsTotal counts per-host admin fan-out calls.
	AdminCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ollamaswarm_admin_calls_total",
			Help: "Total number of per-host admin calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	// HostsRegistered is the size of the registry.
	HostsRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ollamaswarm_hosts_registered",
		Help: "Number of registered hosts",
	})

	// HostsHealthy is the number of hosts whose circuit admits traffic.
	HostsHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ollamaswarm_hosts_healthy",
		Help: "Number of registered hosts currently considered healthy",
	})

	// RequestLogPartialWriteFailures counts batches only partly stored.
	RequestLogPartialWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ollamaswarm_request_log_partial_write_failures_total",
		Help: "Total number of partial write failures when storing request log entries",
	})

	// RequestLogDropped counts entries dropped because the buffer was full.
	RequestLogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ollamaswarm_request_log_dropped_total",
		Help: "Total number of request log entries dropped due to a full buffer",
	})
)

// SetHostCounts updates the registry gauges.
func SetHostCounts(total, healthy int) {
	HostsRegistered.Set(float64(total))
	HostsHealthy.Set(float64(healthy))
}

// ObserveProxy records one finished proxied request.
func ObserveProxy(host string, status int, elapsed time.Duration) {
	if host == "" {
		host = "none"
	}
	ProxyRequestsTotal.WithLabelValues(host, strconv.Itoa(status)).Inc()
	ProxyRequestDuration.WithLabelValues(host).Observe(elapsed.Seconds())
}

// ObserveFailover records a host abandoned during a proxied request.
func ObserveFailover(host, reason string) {
	ProxyFailoversTotal.WithLabelValues(host, reason).Inc()
}

// ObserveAdminCall records one per-host admin call.
func ObserveAdminCall(operation string, ok bool) {
	result := "success"
	if !ok {
		result = "error"
	}
	AdminCallsTotal.WithLabelValues(operation, result).Inc()
}
