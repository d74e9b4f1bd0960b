// Package metrics provides Prometheus recording and querying for interview
// workflows: LLM usage per agent, cache effectiveness, breaker transitions,
// and end-to-end invocation timing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder publishes workflow metrics to Prometheus.
type Recorder struct {
	requestsTotal      *prometheus.CounterVec
	tokensTotal        *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	cacheLookupsTotal  *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
	workflowDuration   *prometheus.HistogramVec
}

// NewRecorder registers the metric families with the default registerer.
func NewRecorder() *Recorder {
	return NewRecorderWith(prometheus.DefaultRegisterer)
}

// NewRecorderWith registers against a specific registerer. Tests pass their
// own registry so repeated construction does not collide.
func NewRecorderWith(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interview_llm_requests_total",
				Help: "Total LLM requests by agent, model, session, and status",
			},
			[]string{"agent", "model", "session_id", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interview_llm_tokens_total",
				Help: "Total tokens used in LLM requests",
			},
			[]string{"agent", "model", "session_id", "type"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "interview_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent", "model"},
		),
		cacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interview_cache_lookups_total",
				Help: "Cache lookups by agent and outcome",
			},
			[]string{"agent", "outcome"},
		),
		breakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interview_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"to_state"},
		),
		workflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "interview_workflow_duration_seconds",
				Help:    "Duration of one engine invocation in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"entry_stage"},
		),
	}
}

// ObserveRequest records one completed LLM request.
func (r *Recorder) ObserveRequest(
	agent, model, sessionID string,
	promptTokens, completionTokens int,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := "success"
	if !success {
		status = "error"
	}
	r.requestsTotal.WithLabelValues(agent, model, sessionID, status, errorType).Inc()

	if success {
		r.tokensTotal.WithLabelValues(agent, model, sessionID, "prompt").Add(float64(promptTokens))
		r.tokensTotal.WithLabelValues(agent, model, sessionID, "completion").Add(float64(completionTokens))
	}
	r.requestDuration.WithLabelValues(agent, model).Observe(duration.Seconds())
}

// ObserveCache records a cache lookup outcome. Implements cache.Recorder.
func (r *Recorder) ObserveCache(agentType string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	r.cacheLookupsTotal.WithLabelValues(agentType, outcome).Inc()
}

// ObserveBreakerTransition records a circuit state change.
func (r *Recorder) ObserveBreakerTransition(toState string) {
	r.breakerTransitions.WithLabelValues(toState).Inc()
}

// ObserveWorkflow records the wall time of one engine invocation.
func (r *Recorder) ObserveWorkflow(entryStage string, duration time.Duration) {
	r.workflowDuration.WithLabelValues(entryStage).Observe(duration.Seconds())
}
