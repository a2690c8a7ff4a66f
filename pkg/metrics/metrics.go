// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks admin API request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total admin API requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// EventsTotal tracks inbound platform events by type and how they
	// resolved (processed, duplicate, ignored, error).
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_events_total",
			Help: "Inbound platform events",
		},
		[]string{"type", "result"},
	)

	// HeuristicMatchesTotal tracks fast-path rule hits.
	HeuristicMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heuristic_matches_total",
			Help: "Heuristic rule matches on the fast path",
		},
		[]string{"rule_type", "severity"},
	)

	// DecisionsTotal tracks moderation decisions by outcome.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_decisions_total",
			Help: "Moderation decisions by outcome",
		},
		[]string{"outcome"},
	)

	// ActionsTotal tracks individual actions by kind and outcome.
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_actions_total",
			Help: "Moderation actions by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// DegradedDecisionsTotal counts decisions taken on the heuristic
	// fallback path while the reasoning provider was unavailable.
	DegradedDecisionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moderation_degraded_decisions_total",
			Help: "Decisions made without the reasoning provider",
		},
	)

	// LLMDecisionDuration tracks reasoning provider latency.
	LLMDecisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_decision_duration_seconds",
			Help:    "Reasoning provider decision latency",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// ConversationsActive tracks live tracked conversations.
	ConversationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conversations_active",
			Help: "Number of active tracked conversations",
		},
	)

	// HeuristicsLearnedTotal counts accepted guild-scoped rule
	// proposals from the learning flow.
	HeuristicsLearnedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heuristics_learned_total",
			Help: "Heuristic rules accepted from proposals",
		},
		[]string{"guild_id"},
	)

	// NATSConsumerPending tracks pending messages for consumers.
	NATSConsumerPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_consumer_pending",
			Help: "Pending messages for NATS consumer",
		},
		[]string{"stream", "consumer"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordDecision records reasoning provider usage for one decision.
func RecordDecision(provider, model, status string, duration float64, tokensIn, tokensOut int) {
	LLMDecisionDuration.WithLabelValues(provider, model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}
