// Package metrics provides Prometheus-based metrics collection for huginn.
// It tracks probe executions, dispatcher behavior, and process-level runtime
// statistics for operational monitoring.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all huginn metrics
	namespace = "huginn"

	// Subsystems
	subsystemProbe  = "probe"
	subsystemEngine = "engine"
)

// Metrics holds all Prometheus metric collectors.
type Metrics struct {
	// Probe metrics
	probesTotal   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	probeErrors   *prometheus.CounterVec
	portsProbed   *prometheus.CounterVec
	packetsSent   *prometheus.CounterVec
	activeProbes  prometheus.Gauge

	// Engine metrics
	requestsTotal    *prometheus.CounterVec
	retriesTotal     *prometheus.CounterVec
	rateLimiterWait  prometheus.Histogram
	runDuration      prometheus.Histogram
	permitsHeld      prometheus.Gauge

	startTime time.Time
	registry  *prometheus.Registry
}

// New creates a Metrics instance with all collectors registered on a
// dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		startTime: time.Now(),
		registry:  registry,
	}

	m.initProbeMetrics()
	m.initEngineMetrics()
	m.register()

	// Standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

func (m *Metrics) initProbeMetrics() {
	m.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "total",
			Help:      "Total number of probes executed by type and status",
		},
		[]string{"probe_type", "status"},
	)

	m.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Duration of probe executions in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"probe_type"},
	)

	m.probeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "errors_total",
			Help:      "Total number of probe errors by type and error",
		},
		[]string{"probe_type", "error_type"},
	)

	m.portsProbed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "ports_total",
			Help:      "Total number of ports probed by protocol and state",
		},
		[]string{"probe_type", "port_state"},
	)

	m.packetsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "packets_sent_total",
			Help:      "Total number of outbound network operations by probe type",
		},
		[]string{"probe_type"},
	)

	m.activeProbes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "active",
			Help:      "Number of currently executing probes",
		},
	)
}

func (m *Metrics) initEngineMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemEngine,
			Name:      "requests_total",
			Help:      "Total number of probe requests admitted by outcome status",
		},
		[]string{"status"},
	)

	m.retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemEngine,
			Name:      "retries_total",
			Help:      "Total number of probe retries by probe type",
		},
		[]string{"probe_type"},
	)

	m.rateLimiterWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemEngine,
			Name:      "rate_limiter_wait_seconds",
			Help:      "Time spent waiting on the outbound rate limiter",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
	)

	m.runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemEngine,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of full scan runs",
			Buckets:   []float64{0.1, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0},
		},
	)

	m.permitsHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemEngine,
			Name:      "permits_held",
			Help:      "Number of concurrency-gate permits currently held",
		},
	)
}

func (m *Metrics) register() {
	m.registry.MustRegister(
		m.probesTotal,
		m.probeDuration,
		m.probeErrors,
		m.portsProbed,
		m.packetsSent,
		m.activeProbes,
		m.requestsTotal,
		m.retriesTotal,
		m.rateLimiterWait,
		m.runDuration,
		m.permitsHeld,
	)
}

// GetRegistry returns the Prometheus registry for exposition.
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// IncrementProbesTotal increments the probe counter.
func (m *Metrics) IncrementProbesTotal(probeType, status string) {
	m.probesTotal.WithLabelValues(probeType, status).Inc()
}

// RecordProbeDuration records the duration of one probe execution.
func (m *Metrics) RecordProbeDuration(probeType string, duration time.Duration) {
	m.probeDuration.WithLabelValues(probeType).Observe(duration.Seconds())
}

// IncrementProbeErrors increments the probe error counter.
func (m *Metrics) IncrementProbeErrors(probeType, errorType string) {
	m.probeErrors.WithLabelValues(probeType, errorType).Inc()
}

// IncrementPortsProbed counts classified ports.
func (m *Metrics) IncrementPortsProbed(probeType, portState string, count int) {
	m.portsProbed.WithLabelValues(probeType, portState).Add(float64(count))
}

// IncrementPacketsSent counts outbound network operations.
func (m *Metrics) IncrementPacketsSent(probeType string) {
	m.packetsSent.WithLabelValues(probeType).Inc()
}

// SetActiveProbes sets the active probe gauge.
func (m *Metrics) SetActiveProbes(count int) {
	m.activeProbes.Set(float64(count))
}

// IncrementRequestsTotal counts terminal probe requests by status.
func (m *Metrics) IncrementRequestsTotal(status string) {
	m.requestsTotal.WithLabelValues(status).Inc()
}

// IncrementRetries counts probe retries.
func (m *Metrics) IncrementRetries(probeType string) {
	m.retriesTotal.WithLabelValues(probeType).Inc()
}

// RecordRateLimiterWait records time spent waiting for a send token.
func (m *Metrics) RecordRateLimiterWait(duration time.Duration) {
	m.rateLimiterWait.Observe(duration.Seconds())
}

// RecordRunDuration records the wall-clock duration of a scan run.
func (m *Metrics) RecordRunDuration(duration time.Duration) {
	m.runDuration.Observe(duration.Seconds())
}

// SetPermitsHeld sets the concurrency-gate permit gauge.
func (m *Metrics) SetPermitsHeld(count int) {
	m.permitsHeld.Set(float64(count))
}

// GetUptime returns time elapsed since metrics initialization.
func (m *Metrics) GetUptime() time.Duration {
	return time.Since(m.startTime)
}

// Global metrics instance.
var (
	globalMetrics *Metrics
	globalOnce    sync.Once
)

// GetGlobalMetrics returns the process-wide metrics instance, creating it on
// first use.
func GetGlobalMetrics() *Metrics {
	globalOnce.Do(func() {
		globalMetrics = New()
	})
	return globalMetrics
}
