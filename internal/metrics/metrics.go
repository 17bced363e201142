package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfpstudio_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"pipeline", "mode", "status"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rfpstudio_pipeline_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pipeline", "mode"},
	)

	// Agent metrics
	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfpstudio_agent_executions_total",
			Help: "Total number of agent executions",
		},
		[]string{"agent", "outcome"},
	)

	AgentExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rfpstudio_agent_execution_duration_seconds",
			Help:    "Agent execution duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"agent"},
	)

	// Lifecycle transitions
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfpstudio_transitions_total",
			Help: "Suggested state transitions by result (applied, rejected)",
		},
		[]string{"from", "to", "result"},
	)

	// Routing metrics
	RoutingOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfpstudio_routing_outcomes_total",
			Help: "Per-question routing outcomes by status",
		},
		[]string{"status"},
	)

	// Vector search metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfpstudio_vector_search_total",
			Help: "Total number of vector searches",
		},
		[]string{"backend", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rfpstudio_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfpstudio_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rfpstudio_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// Locking
	LockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rfpstudio_lock_wait_seconds",
			Help:    "Time spent waiting for a record lock",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"backend"},
	)

	// Streaming
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rfpstudio_stream_subscribers",
			Help: "Number of live progress stream subscribers",
		},
	)

	StreamEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rfpstudio_stream_events_dropped_total",
			Help: "Events dropped because a subscriber was slow",
		},
	)
)

// RecordPipelineMetrics records metrics for a finished pipeline run
func RecordPipelineMetrics(pipeline, mode, status string, durationSeconds float64) {
	PipelineRuns.WithLabelValues(pipeline, mode, status).Inc()
	PipelineDuration.WithLabelValues(pipeline, mode).Observe(durationSeconds)
}

// RecordAgentMetrics records metrics for an agent execution
func RecordAgentMetrics(agent string, success bool, durationSeconds float64) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	AgentExecutions.WithLabelValues(agent, outcome).Inc()
	AgentExecutionDuration.WithLabelValues(agent).Observe(durationSeconds)
}

// RecordTransition counts a suggested transition
func RecordTransition(from, to string, applied bool) {
	result := "applied"
	if !applied {
		result = "rejected"
	}
	Transitions.WithLabelValues(from, to, result).Inc()
}

// RecordVectorSearchMetrics records vector search metrics
func RecordVectorSearchMetrics(backend, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(backend, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(backend).Observe(durationSeconds)
	}
}

// RecordEmbeddingMetrics records embedding metrics
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}
