// Package observability provides Prometheus metrics instrumentation for the pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// STAGE METRICS
// =============================================================================

var (
	stageOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_stage_outcomes_total",
			Help: "Stage outcomes per processed envelope",
		},
		[]string{"stage", "outcome", "reason"}, // outcome: emitted, dropped, failed
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadflow_stage_duration_seconds",
			Help:    "Stage processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)
)

// =============================================================================
// GENERATOR METRICS
// =============================================================================

var (
	generatorCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_generator_calls_total",
			Help: "Total number of generator requests",
		},
		[]string{"model", "status"}, // status: success, error
	)

	generatorDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadflow_generator_duration_seconds",
			Help:    "Generator call duration in seconds, including tool turns",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	rateLimitWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leadflow_generator_rate_limit_wait_seconds",
			Help:    "Time spent waiting for an upstream request slot",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	lookupCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_lookup_calls_total",
			Help: "Lookup tool invocations",
		},
		[]string{"tool", "status"}, // status: ok, unavailable, cache_hit
	)
)

// =============================================================================
// DISPATCH METRICS
// =============================================================================

var (
	dispatcherInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadflow_dispatcher_inflight",
			Help: "Units of work currently executing",
		},
	)

	dispatcherQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadflow_dispatcher_queue_depth",
			Help: "Units of work waiting for a worker slot",
		},
	)

	dispatcherJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_dispatcher_jobs_total",
			Help: "Completed units of work by outcome",
		},
		[]string{"outcome"},
	)

	httpInboundItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_http_inbound_items_total",
			Help: "Batch items accepted by stage routes",
		},
		[]string{"route"},
	)

	busPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_bus_publishes_total",
			Help: "Bus publish attempts",
		},
		[]string{"topic", "status"}, // status: success, error
	)
)

// =============================================================================
// GRPC METRICS
// =============================================================================

var (
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_grpc_requests_total",
			Help: "Total gRPC requests",
		},
		[]string{"method", "status"}, // status: OK, InvalidArgument, Internal, etc.
	)

	grpcRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadflow_grpc_request_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordStageOutcome records one envelope leaving a stage.
func RecordStageOutcome(stage, outcome, reason string, d time.Duration) {
	stageOutcomesTotal.WithLabelValues(stage, outcome, reason).Inc()
	stageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordGeneratorCall records one generate round trip.
func RecordGeneratorCall(model, status string, d time.Duration) {
	generatorCallsTotal.WithLabelValues(model, status).Inc()
	generatorDurationSeconds.WithLabelValues(model).Observe(d.Seconds())
}

// RecordRateLimitWait records time blocked on the upstream limiter.
func RecordRateLimitWait(d time.Duration) {
	rateLimitWaitSeconds.Observe(d.Seconds())
}

// RecordLookup records a lookup tool invocation.
func RecordLookup(tool, status string) {
	lookupCallsTotal.WithLabelValues(tool, status).Inc()
}

// SetDispatcherInflight sets the number of executing jobs.
func SetDispatcherInflight(n int) {
	dispatcherInflight.Set(float64(n))
}

// SetDispatcherQueueDepth sets the number of queued jobs.
func SetDispatcherQueueDepth(n int) {
	dispatcherQueueDepth.Set(float64(n))
}

// RecordDispatcherOutcome counts a finished job.
func RecordDispatcherOutcome(outcome string) {
	dispatcherJobsTotal.WithLabelValues(outcome).Inc()
}

// RecordInboundItems counts batch items accepted on an HTTP route.
func RecordInboundItems(route string, n int) {
	httpInboundItemsTotal.WithLabelValues(route).Add(float64(n))
}

// RecordBusPublish records a publish attempt.
func RecordBusPublish(topic, status string) {
	busPublishesTotal.WithLabelValues(topic, status).Inc()
}

// RecordGRPCRequest records gRPC request metrics.
// This should be called from gRPC interceptors.
func RecordGRPCRequest(method string, status string, durationMS int) {
	grpcRequestsTotal.WithLabelValues(method, status).Inc()
	grpcRequestDurationSeconds.WithLabelValues(method).Observe(float64(durationMS) / 1000.0)
}
