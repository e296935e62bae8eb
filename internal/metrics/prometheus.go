package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/changefeed/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use so constructing a
// collector that is never exercised leaves the registry untouched.
type PrometheusCollector struct {
	*NopMetrics

	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	stateTransitions *prometheus.CounterVec
	controllerCycles *prometheus.HistogramVec
	ownedLeases      prometheus.Gauge

	leaseAcquires  *prometheus.CounterVec
	leaseRenewals  *prometheus.CounterVec
	leasesLost     *prometheus.CounterVec
	storeLatencies *prometheus.HistogramVec

	batchSizes    *prometheus.HistogramVec
	batchLatency  *prometheus.HistogramVec
	handlerErrors *prometheus.CounterVec
	readErrors    *prometheus.CounterVec
	checkpoints   *prometheus.CounterVec

	estimatedLag *prometheus.GaugeVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "changefeed" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "changefeed"
	}

	return &PrometheusCollector{NopMetrics: NewNop(), reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "processor",
			Name:      "state_transitions_total",
			Help:      "Processor lifecycle state transitions.",
		}, []string{"from", "to"})
		p.controllerCycles = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "controller",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of partition controller passes by result.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms .. ~3.8s
		}, []string{"result"})
		p.ownedLeases = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "controller",
			Name:      "owned_leases",
			Help:      "Leases currently processed by this instance.",
		})

		p.leaseAcquires = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "lease",
			Name:      "acquire_total",
			Help:      "Lease acquisition attempts by result (success, conflict, error).",
		}, []string{"result"})
		p.leaseRenewals = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "lease",
			Name:      "renewals_total",
			Help:      "Lease renewal attempts by result.",
		}, []string{"result"})
		p.leasesLost = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "lease",
			Name:      "lost_total",
			Help:      "Leases taken over by another instance.",
		}, []string{"partition"})
		p.storeLatencies = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "lease_store",
			Name:      "operation_duration_seconds",
			Help:      "Lease store operation latency by operation.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"})

		p.batchSizes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "worker",
			Name:      "batch_size",
			Help:      "Number of changes per handled batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 11), // 1 .. 1024
		}, []string{"partition"})
		p.batchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "worker",
			Name:      "handler_duration_seconds",
			Help:      "Handler latency per batch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"partition"})
		p.handlerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "worker",
			Name:      "handler_errors_total",
			Help:      "Failed handler invocations.",
		}, []string{"partition"})
		p.readErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "worker",
			Name:      "feed_read_errors_total",
			Help:      "Failed feed reads.",
		}, []string{"partition"})
		p.checkpoints = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "worker",
			Name:      "checkpoints_total",
			Help:      "Checkpoint writes by result.",
		}, []string{"partition", "result"})

		p.estimatedLag = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "estimator",
			Name:      "lag",
			Help:      "Last estimated number of unprocessed changes per partition.",
		}, []string{"partition"})

		p.reg.MustRegister(
			p.stateTransitions, p.controllerCycles, p.ownedLeases,
			p.leaseAcquires, p.leaseRenewals, p.leasesLost, p.storeLatencies,
			p.batchSizes, p.batchLatency, p.handlerErrors, p.readErrors, p.checkpoints,
			p.estimatedLag,
		)
	})
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}

	return "failure"
}

// RecordStateTransition counts a processor state transition.
func (p *PrometheusCollector) RecordStateTransition(from, to types.State) {
	p.ensureRegistered()
	p.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// RecordControllerCycle observes a controller pass duration.
func (p *PrometheusCollector) RecordControllerCycle(duration float64, success bool) {
	p.ensureRegistered()
	p.controllerCycles.WithLabelValues(resultLabel(success)).Observe(duration)
}

// RecordOwnedLeases sets the owned lease gauge.
func (p *PrometheusCollector) RecordOwnedLeases(count int) {
	p.ensureRegistered()
	p.ownedLeases.Set(float64(count))
}

// RecordLeaseAcquire counts an acquisition attempt.
func (p *PrometheusCollector) RecordLeaseAcquire(result string) {
	p.ensureRegistered()
	p.leaseAcquires.WithLabelValues(result).Inc()
}

// RecordLeaseRenewal counts a renewal attempt.
func (p *PrometheusCollector) RecordLeaseRenewal(_ string, success bool) {
	p.ensureRegistered()
	p.leaseRenewals.WithLabelValues(resultLabel(success)).Inc()
}

// RecordLeaseLost counts a lease taken by another instance.
func (p *PrometheusCollector) RecordLeaseLost(partitionID string) {
	p.ensureRegistered()
	p.leasesLost.WithLabelValues(partitionID).Inc()
}

// RecordLeaseStoreOperation observes lease store latency.
func (p *PrometheusCollector) RecordLeaseStoreOperation(operation string, duration float64) {
	p.ensureRegistered()
	p.storeLatencies.WithLabelValues(operation).Observe(duration)
}

// RecordBatch observes batch size and handler latency.
func (p *PrometheusCollector) RecordBatch(partitionID string, size int, duration float64) {
	p.ensureRegistered()
	p.batchSizes.WithLabelValues(partitionID).Observe(float64(size))
	p.batchLatency.WithLabelValues(partitionID).Observe(duration)
}

// RecordHandlerError counts a failed handler invocation.
func (p *PrometheusCollector) RecordHandlerError(partitionID string) {
	p.ensureRegistered()
	p.handlerErrors.WithLabelValues(partitionID).Inc()
}

// RecordFeedReadError counts a failed feed read.
func (p *PrometheusCollector) RecordFeedReadError(partitionID string) {
	p.ensureRegistered()
	p.readErrors.WithLabelValues(partitionID).Inc()
}

// RecordCheckpoint counts a checkpoint write.
func (p *PrometheusCollector) RecordCheckpoint(partitionID string, success bool) {
	p.ensureRegistered()
	p.checkpoints.WithLabelValues(partitionID, resultLabel(success)).Inc()
}

// RecordEstimatedLag sets the lag gauge of a partition.
func (p *PrometheusCollector) RecordEstimatedLag(partitionID string, lag int64) {
	p.ensureRegistered()
	p.estimatedLag.WithLabelValues(partitionID).Set(float64(lag))
}
