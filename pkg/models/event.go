package models

import "time"

// EventType labels one entry of a turn's event trace.
type EventType string

const (
	EventTurnStarted          EventType = "turn_started"
	EventLLMRequest           EventType = "llm_request"
	EventToolCalled           EventType = "tool_called"
	EventToolResult           EventType = "tool_result"
	EventRoutingApplied       EventType = "routing_applied"
	EventFlowTransition       EventType = "flow_transition"
	EventConfirmationSet      EventType = "confirmation_set"
	EventConfirmationResolved EventType = "confirmation_resolved"
	EventEnrichment           EventType = "enrichment"
	EventError                EventType = "error"
	EventTurnCompleted        EventType = "turn_completed"
)

// AgentEvent is one causally ordered entry of a turn's event trace. All
// events of a turn share a TurnID.
type AgentEvent struct {
	TurnID    string         `json:"turn_id"`
	SessionID string         `json:"session_id"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
