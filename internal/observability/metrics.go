// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the executor service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ExecutionBuckets spans fast scripts up to the default outer deadline.
var ExecutionBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 35}

var (
	// ExecutionsTotal counts finished executions by outcome kind.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pyexec_executions_total",
			Help: "Executions by outcome",
		},
		[]string{"outcome"},
	)

	// ExecutionDuration records sandbox wall time in seconds by outcome kind.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pyexec_execution_duration_seconds",
			Help:    "Execution duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"outcome"},
	)

	// ExecutionsInflight tracks sandboxed children currently running.
	ExecutionsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pyexec_executions_inflight",
			Help: "Executions in flight",
		},
	)

	// ValidationRejectionsTotal counts scripts refused before launch.
	ValidationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pyexec_validation_rejections_total",
			Help: "Validation rejections",
		},
		[]string{"reason"},
	)

	// HTTPRequestsTotal counts HTTP requests by method and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pyexec_http_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "status"},
	)

	// HTTPRequestDuration records HTTP request duration in seconds by method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pyexec_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		ExecutionsTotal,
		ExecutionDuration,
		ExecutionsInflight,
		ValidationRejectionsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}
