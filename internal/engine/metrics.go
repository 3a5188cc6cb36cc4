package engine

import (
	"time"

	"loom/internal/graph"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects engine counters on a private prometheus registry so that
// multiple engines in one process never collide.
type Metrics struct {
	registry *prometheus.Registry

	graphsBuiltTotal   prometheus.Counter
	graphNodes         prometheus.Gauge
	graphEdges         prometheus.Gauge
	graphCycles        prometheus.Gauge
	resolutionsTotal   *prometheus.CounterVec
	resolutionDuration prometheus.Histogram
	stepRetriesTotal   prometheus.Counter
	activeExecutions   prometheus.Gauge
}

// NewMetrics creates and registers the engine's collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		graphsBuiltTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loom_graphs_built_total",
			Help: "Total number of dependency graphs built.",
		}),
		graphNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loom_graph_nodes",
			Help: "Number of nodes in the most recently built graph.",
		}),
		graphEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loom_graph_edges",
			Help: "Number of edges in the most recently built graph.",
		}),
		graphCycles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loom_graph_cycles",
			Help: "Number of cycles detected in the most recently built graph.",
		}),
		resolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_resolutions_total",
			Help: "Total number of finished plan executions by status.",
		}, []string{"status"}),
		resolutionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loom_resolution_duration_seconds",
			Help:    "Time taken to execute a resolution plan.",
			Buckets: prometheus.DefBuckets,
		}),
		stepRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loom_step_retries_total",
			Help: "Total number of step retry attempts across all executions.",
		}),
		activeExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loom_active_executions",
			Help: "Number of plan executions currently running.",
		}),
	}

	m.registry.MustRegister(
		m.graphsBuiltTotal,
		m.graphNodes,
		m.graphEdges,
		m.graphCycles,
		m.resolutionsTotal,
		m.resolutionDuration,
		m.stepRetriesTotal,
		m.activeExecutions,
	)
	return m
}

// Gatherer exposes the underlying registry for scraping or dumping.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// GraphBuilt records a completed graph build.
func (m *Metrics) GraphBuilt(g *graph.Graph) {
	m.graphsBuiltTotal.Inc()
	m.graphNodes.Set(float64(g.NodeCount()))
	m.graphEdges.Set(float64(g.EdgeCount()))
	m.graphCycles.Set(float64(len(g.Cycles)))
}

// ExecutionStarted records a plan execution entering its run loop.
func (m *Metrics) ExecutionStarted() {
	m.activeExecutions.Inc()
}

// ExecutionFinished records a finished execution: its outcome, duration and
// the retries its steps consumed.
func (m *Metrics) ExecutionFinished(exec *Execution, elapsed time.Duration) {
	m.activeExecutions.Dec()
	m.resolutionsTotal.WithLabelValues(string(exec.Status())).Inc()
	m.resolutionDuration.Observe(elapsed.Seconds())

	for _, record := range exec.Steps() {
		if record.Attempts > 1 {
			m.stepRetriesTotal.Add(float64(record.Attempts - 1))
		}
	}
}
