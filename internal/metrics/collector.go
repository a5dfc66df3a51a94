// Package metrics provides Prometheus collectors for swarm coordination.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates the coordination layer's Prometheus metrics.
type Collector struct {
	delegationsTotal  *prometheus.CounterVec
	delegationLatency *prometheus.HistogramVec

	tasksClaimedTotal prometheus.Counter
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec

	heartbeatsTotal   prometheus.Counter
	heartbeatFailures prometheus.Counter
	peersEvictedTotal prometheus.Counter

	loadFactor prometheus.Gauge
	knownPeers prometheus.Gauge
}

// NewCollector creates and registers the swarm collectors. A nil registerer
// falls back to a private registry so multiple nodes can coexist in one
// process.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Collector{
		delegationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delegations_total",
				Help:      "Total number of task delegations by outcome",
			},
			[]string{"task_type", "outcome"},
		),
		delegationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delegation_duration_seconds",
				Help:      "Time from enqueue to terminal status or local timeout",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"task_type"},
		),
		tasksClaimedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_claimed_total",
				Help:      "Total number of tasks claimed from capability queues",
			},
		),
		executionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of local task executions by outcome",
			},
			[]string{"task_type", "outcome"},
		),
		executionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Local task execution duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"task_type"},
		),
		heartbeatsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeats_total",
				Help:      "Total number of completed coordination ticks",
			},
		),
		heartbeatFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeat_failures_total",
				Help:      "Total number of coordination ticks that failed",
			},
		),
		peersEvictedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "peers_evicted_total",
				Help:      "Total number of stale peers evicted from the directory",
			},
		),
		loadFactor: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "load_factor",
				Help:      "Fraction of the local concurrency budget in use",
			},
		),
		knownPeers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "known_peers",
				Help:      "Number of entries currently in the node directory",
			},
		),
	}
}

// ObserveDelegation records one delegation outcome and its duration.
func (c *Collector) ObserveDelegation(taskType, outcome string, elapsed time.Duration) {
	c.delegationsTotal.WithLabelValues(taskType, outcome).Inc()
	c.delegationLatency.WithLabelValues(taskType).Observe(elapsed.Seconds())
}

// TaskClaimed records one successful queue claim.
func (c *Collector) TaskClaimed() {
	c.tasksClaimedTotal.Inc()
}

// ObserveExecution records one local execution outcome and its duration.
func (c *Collector) ObserveExecution(taskType, outcome string, elapsed time.Duration) {
	c.executionsTotal.WithLabelValues(taskType, outcome).Inc()
	c.executionDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
}

// HeartbeatCompleted records one successful coordination tick.
func (c *Collector) HeartbeatCompleted() {
	c.heartbeatsTotal.Inc()
}

// HeartbeatFailed records one failed coordination tick.
func (c *Collector) HeartbeatFailed() {
	c.heartbeatFailures.Inc()
}

// PeersEvicted records stale peer evictions.
func (c *Collector) PeersEvicted(n int) {
	c.peersEvictedTotal.Add(float64(n))
}

// SetLoadFactor updates the local load gauge.
func (c *Collector) SetLoadFactor(v float64) {
	c.loadFactor.Set(v)
}

// SetKnownPeers updates the directory size gauge.
func (c *Collector) SetKnownPeers(n int) {
	c.knownPeers.Set(float64(n))
}
