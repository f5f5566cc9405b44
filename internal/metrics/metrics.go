package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notionqa_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "notionqa_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	Answers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notionqa_answers_total",
			Help: "Answers produced, by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notionqa_remote_fallbacks_total",
			Help: "Remote dispatches that fell back to the local pipeline, by reason",
		},
		[]string{"reason"},
	)

	AnswerLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notionqa_answer_latency_seconds",
			Help:    "End-to-end answer latency in seconds",
			Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"source"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notionqa_pipeline_stage_duration_seconds",
			Help:    "Local pipeline stage duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notionqa_tool_calls_total",
			Help: "Workspace tool calls made by the retrieval stage",
		},
		[]string{"tool", "outcome"},
	)

	RemoteConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notionqa_remote_connected",
			Help: "1 if the last status probe reached the execution backend",
		},
	)

	RemoteUnits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notionqa_remote_units",
			Help: "Units reported by the last status probe",
		},
	)

	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notionqa_websocket_connections",
			Help: "Number of open WebSocket chat connections",
		},
	)

	HistoryTurns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notionqa_history_turns",
			Help: "Conversation turns currently held in memory",
		},
	)

	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notionqa_llm_calls_total",
			Help: "Chat-completion calls, by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notionqa_llm_tokens_total",
			Help: "Tokens consumed, by provider and kind (prompt or completion)",
		},
		[]string{"provider", "kind"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notionqa_llm_latency_seconds",
			Help:    "Chat-completion latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)
)
