// Package metrics provides Prometheus metrics collection for the S3 gateway.
//
// The package exposes metrics at /metrics on the admin port:
//
// Request Metrics:
//   - s3gateway_requests_total: Total requests by operation and status
//   - s3gateway_request_duration_seconds: Request latency histogram
//   - s3gateway_action_outcomes_total: Action terminal states
//
// Storage Bridge Metrics:
//   - s3gateway_kvs_operations_total: Backend operations by kind and outcome
//   - s3gateway_kvs_operation_duration_seconds: Backend operation latency
//   - s3gateway_buffer_bytes_in_use: Bytes held by in-flight operations
//
// Event Loop Metrics:
//   - s3gateway_loop_queue_depth: Pending callbacks per loop
//   - s3gateway_loop_panics_total: Recovered callback panics per loop
//
// Lifecycle Metrics:
//   - s3gateway_in_flight_requests: S3 requests currently being served
//   - s3gateway_shutdown_phase: 1 for the current shutdown phase
//   - s3gateway_shutdown_errors_total: Shutdown failures by phase
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts total number of requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3gateway_requests_total",
			Help: "Total number of requests",
		},
		[]string{"method", "operation", "status"},
	)

	// RequestDuration tracks request duration in seconds
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "s3gateway_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "operation"},
	)

	// ActiveConnections tracks number of active connections
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "s3gateway_active_connections",
			Help: "Number of active connections",
		},
	)

	// BytesReceived tracks total bytes received
	BytesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "s3gateway_bytes_received_total",
			Help: "Total bytes received",
		},
	)

	// BytesSent tracks total bytes sent
	BytesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "s3gateway_bytes_sent_total",
			Help: "Total bytes sent",
		},
	)

	// ErrorsTotal counts S3 error responses by code
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3gateway_errors_total",
			Help: "Total number of error responses",
		},
		[]string{"operation", "code"},
	)

	// S3OperationsTotal counts S3 operations by type
	S3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3gateway_s3_operations_total",
			Help: "Total S3 operations by type",
		},
		[]string{"operation", "bucket"},
	)

	// ActionOutcomes counts actions by terminal state
	ActionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3gateway_action_outcomes_total",
			Help: "Actions by terminal state",
		},
		[]string{"action", "state"},
	)

	// ActionSteps tracks the number of steps an action ran before responding
	ActionSteps = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "s3gateway_action_steps",
			Help:    "Steps run per action",
			Buckets: prometheus.LinearBuckets(1, 1, 8),
		},
		[]string{"action"},
	)

	// KVSOperationsTotal counts backend operations
	KVSOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3gateway_kvs_operations_total",
			Help: "Backend key-value operations by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// KVSOperationDuration tracks backend operation latency
	KVSOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "s3gateway_kvs_operation_duration_seconds",
			Help:    "Backend key-value operation latency",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		},
		[]string{"kind"},
	)

	// BufferBytesInUse tracks bytes held by operation contexts
	BufferBytesInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "s3gateway_buffer_bytes_in_use",
			Help: "Bytes held by in-flight operation contexts",
		},
	)

	// AllocationFailures counts operation buffer allocation failures
	AllocationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "s3gateway_buffer_allocation_failures_total",
			Help: "Operation buffer allocations refused by the budget",
		},
	)

	// ExecutorQueueDepth tracks queued engine calls
	ExecutorQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "s3gateway_executor_queue_depth",
			Help: "Engine calls waiting for a worker",
		},
		[]string{"executor"},
	)

	// ExecutorDropped counts engine calls refused by a full queue
	ExecutorDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3gateway_executor_dropped_total",
			Help: "Engine calls refused because the queue was full",
		},
		[]string{"executor"},
	)

	// LoopQueueDepth tracks pending callbacks per event loop
	LoopQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "s3gateway_loop_queue_depth",
			Help: "Callbacks waiting on an event loop",
		},
		[]string{"loop"},
	)

	// LoopPanics counts callbacks that panicked
	LoopPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3gateway_loop_panics_total",
			Help: "Recovered panics in event loop callbacks",
		},
		[]string{"loop"},
	)

	// RollbackFailures counts object writes whose cleanup failed
	RollbackFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "s3gateway_object_rollback_failures_total",
			Help: "Object data left behind after a failed cleanup",
		},
	)

	// CodecBytes tracks bytes passed through the object codec
	CodecBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3gateway_codec_bytes_total",
			Help: "Bytes processed by the object codec",
		},
		[]string{"codec", "direction"},
	)

	// InFlightRequests tracks S3 requests currently being served
	InFlightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "s3gateway_in_flight_requests",
			Help: "S3 requests currently being served",
		},
	)

	// ShutdownPhase marks the current shutdown phase with 1
	ShutdownPhase = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "s3gateway_shutdown_phase",
			Help: "Current shutdown phase (1 = active)",
		},
		[]string{"phase"},
	)

	// ShutdownDuration tracks how long the last shutdown took
	ShutdownDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "s3gateway_shutdown_duration_seconds",
			Help: "Duration of the shutdown sequence in seconds",
		},
	)

	// ShutdownErrors counts shutdown failures by phase
	ShutdownErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3gateway_shutdown_errors_total",
			Help: "Errors raised while shutting down",
		},
		[]string{"phase"},
	)

	// NodeInfo exposes node information
	NodeInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "s3gateway_node_info",
			Help: "Node information",
		},
		[]string{"node_id", "version", "engine"},
	)
)

// Version is set at build time
var Version = "dev"

// Init initializes the metrics system
func Init(nodeID, engine string) {
	NodeInfo.WithLabelValues(nodeID, Version, engine).Set(1)
}

// RecordRequest records a request with its method, operation, status, and duration
func RecordRequest(method, operation string, status int, duration time.Duration) {
	statusStr := statusCodeToString(status)
	RequestsTotal.WithLabelValues(method, operation, statusStr).Inc()
	RequestDuration.WithLabelValues(method, operation).Observe(duration.Seconds())
}

// RecordS3Operation records an S3 operation
func RecordS3Operation(operation, bucket string) {
	S3OperationsTotal.WithLabelValues(operation, bucket).Inc()
}

// RecordError records an error response
func RecordError(operation, code string) {
	ErrorsTotal.WithLabelValues(operation, code).Inc()
}

// RecordActionOutcome records the terminal state of an action and how many steps it ran
func RecordActionOutcome(action, state string, steps int) {
	ActionOutcomes.WithLabelValues(action, state).Inc()
	ActionSteps.WithLabelValues(action).Observe(float64(steps))
}

// RecordKVSOperation records a backend operation. A zero duration is not observed.
func RecordKVSOperation(kind, outcome string, duration time.Duration) {
	KVSOperationsTotal.WithLabelValues(kind, outcome).Inc()

	if duration > 0 {
		KVSOperationDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// SetBufferBytesInUse sets the bytes held by operation contexts
func SetBufferBytesInUse(n int64) {
	BufferBytesInUse.Set(float64(n))
}

// RecordAllocationFailure records a refused buffer allocation
func RecordAllocationFailure() {
	AllocationFailures.Inc()
}

// SetExecutorQueueDepth sets the queue depth of an executor
func SetExecutorQueueDepth(executor string, depth int) {
	ExecutorQueueDepth.WithLabelValues(executor).Set(float64(depth))
}

// RecordExecutorDropped records an engine call refused by a full queue
func RecordExecutorDropped(executor string) {
	ExecutorDropped.WithLabelValues(executor).Inc()
}

// SetLoopQueueDepth sets the number of callbacks pending on a loop
func SetLoopQueueDepth(loop string, depth int) {
	LoopQueueDepth.WithLabelValues(loop).Set(float64(depth))
}

// RecordLoopPanic records a recovered callback panic
func RecordLoopPanic(loop string) {
	LoopPanics.WithLabelValues(loop).Inc()
}

// RecordRollbackFailure records object data that could not be cleaned up
func RecordRollbackFailure() {
	RollbackFailures.Inc()
}

// AddCodecBytes adds to the codec byte counter
func AddCodecBytes(codec, direction string, n int) {
	CodecBytes.WithLabelValues(codec, direction).Add(float64(n))
}

// SetInFlightRequests sets the in-flight request gauge
func SetInFlightRequests(n int64) {
	InFlightRequests.Set(float64(n))
}

// SetShutdownPhase marks phase as the only active shutdown phase
func SetShutdownPhase(phase string) {
	ShutdownPhase.Reset()
	ShutdownPhase.WithLabelValues(phase).Set(1)
}

// SetShutdownDuration records the duration of the shutdown sequence
func SetShutdownDuration(d time.Duration) {
	ShutdownDuration.Set(d.Seconds())
}

// RecordShutdownError records a failure during phase
func RecordShutdownError(phase string) {
	ShutdownErrors.WithLabelValues(phase).Inc()
}

// IncrementActiveConnections increments active connections counter
func IncrementActiveConnections() {
	ActiveConnections.Inc()
}

// DecrementActiveConnections decrements active connections counter
func DecrementActiveConnections() {
	ActiveConnections.Dec()
}

// AddBytesReceived adds to bytes received counter
func AddBytesReceived(bytes int64) {
	BytesReceived.Add(float64(bytes))
}

// AddBytesSent adds to bytes sent counter
func AddBytesSent(bytes int64) {
	BytesSent.Add(float64(bytes))
}

// statusCodeToString converts HTTP status code to a string category
func statusCodeToString(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
