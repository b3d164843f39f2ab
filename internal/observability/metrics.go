package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the centralized Prometheus metric set for the engine.
type Metrics struct {
	// TurnCounter counts completed turns.
	// Labels: agent_id, status (ok|escalated|error)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures end-to-end turn latency in seconds.
	// Labels: agent_id
	TurnDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|confirmation)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// GatewayRequestDuration measures service-gateway call latency in seconds.
	// Labels: method, endpoint
	GatewayRequestDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component.
	// Labels: component (orchestrator|tools|routing|llm|sessions|gateway), error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions gauges currently active sessions.
	ActiveSessions prometheus.Gauge
}

// NewMetrics registers and returns the engine metric set on the given
// registerer. Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dialog_turns_total",
			Help: "Completed conversation turns.",
		}, []string{"agent_id", "status"}),
		TurnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dialog_turn_duration_seconds",
			Help:    "End-to-end turn latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"agent_id"}),
		LLMRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dialog_llm_requests_total",
			Help: "LLM requests by provider, model, and status.",
		}, []string{"provider", "model", "status"}),
		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dialog_llm_request_duration_seconds",
			Help:    "LLM API call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
		LLMTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dialog_llm_tokens_total",
			Help: "LLM token consumption.",
		}, []string{"provider", "model", "type"}),
		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dialog_tool_executions_total",
			Help: "Tool invocations by status.",
		}, []string{"tool_name", "status"}),
		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dialog_tool_execution_duration_seconds",
			Help:    "Tool execution latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool_name"}),
		GatewayRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dialog_gateway_request_duration_seconds",
			Help:    "Service-gateway HTTP call latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"method", "endpoint"}),
		ErrorCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dialog_errors_total",
			Help: "Errors by component and type.",
		}, []string{"component", "error_type"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dialog_active_sessions",
			Help: "Currently active sessions.",
		}),
	}
}
