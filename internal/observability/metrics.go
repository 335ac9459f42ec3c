package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	apiRequestsTotal      *prometheus.CounterVec
	apiLatencySeconds     *prometheus.HistogramVec
	apiErrorsTotal        *prometheus.CounterVec
	questionOutcomesTotal *prometheus.CounterVec
	consensusRounds       prometheus.Histogram
	similarityMethods     *prometheus.CounterVec
	agentAttemptsTotal    *prometheus.CounterVec
	batchDurationSeconds  prometheus.Histogram
	enrichmentsTotal      *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API and the grading core.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_api_requests_total",
			Help: "Total number of grading API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grading_api_latency_seconds",
			Help:    "Latency distribution for grading API requests.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_api_errors_total",
			Help: "Total number of error responses returned by grading endpoints.",
		}, []string{"method", "route", "status"})

		questionOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_question_outcomes_total",
			Help: "Graded questions by resolution path.",
		}, []string{"outcome"})

		consensusRounds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grading_consensus_rounds",
			Help:    "Number of negotiation rounds used per question.",
			Buckets: []float64{0, 1, 2},
		})

		similarityMethods = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_similarity_total",
			Help: "Similarity computations by method.",
		}, []string{"method"})

		agentAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_agent_attempts_total",
			Help: "Agent model calls by agent and result.",
		}, []string{"agent", "result"})

		batchDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grading_batch_duration_seconds",
			Help:    "Wall time of batch grading.",
			Buckets: []float64{5, 15, 30, 60, 120, 240, 540},
		})

		enrichmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_enrichments_total",
			Help: "Best-effort enrichment calls by kind and result.",
		}, []string{"kind", "result"})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			questionOutcomesTotal, consensusRounds, similarityMethods,
			agentAttemptsTotal, batchDurationSeconds, enrichmentsTotal,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// QuestionOutcomes counts questions by outcome: direct, rounds, arbitration or failed.
func QuestionOutcomes() *prometheus.CounterVec {
	RegisterMetrics()
	return questionOutcomesTotal
}

// ConsensusRounds observes rounds per question.
func ConsensusRounds() prometheus.Histogram {
	RegisterMetrics()
	return consensusRounds
}

// SimilarityMethods counts similarity results by method.
func SimilarityMethods() *prometheus.CounterVec {
	RegisterMetrics()
	return similarityMethods
}

// AgentAttempts counts model calls by agent and result.
func AgentAttempts() *prometheus.CounterVec {
	RegisterMetrics()
	return agentAttemptsTotal
}

// BatchDuration observes batch wall time.
func BatchDuration() prometheus.Histogram {
	RegisterMetrics()
	return batchDurationSeconds
}

// Enrichments counts enrichment calls by kind and result.
func Enrichments() *prometheus.CounterVec {
	RegisterMetrics()
	return enrichmentsTotal
}
