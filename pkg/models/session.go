package models

import (
	"time"
)

// SessionStatus represents the lifecycle state of a conversation session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusEscalated SessionStatus = "escalated"
	StatusExpired   SessionStatus = "expired"
)

// AgentFrame is one entry of the session's agent stack. The top frame is the
// active agent for the next turn.
type AgentFrame struct {
	AgentConfigID string    `json:"agent_config_id"`
	EnteredAt     time.Time `json:"entered_at"`
	EntryReason   string    `json:"entry_reason,omitempty"`
}

// FlowState tracks the active sub-flow of a session, if any.
type FlowState struct {
	FlowConfigID   string         `json:"flow_config_id"`
	CurrentStateID string         `json:"current_state_id"`
	StateData      map[string]any `json:"state_data"`
	EnteredAt      time.Time      `json:"entered_at"`
}

// PendingConfirmation is a persisted promise that a side-effecting tool will
// run iff the next user message is affirmative.
type PendingConfirmation struct {
	ToolName       string         `json:"tool_name"`
	ToolParams     map[string]any `json:"tool_params"`
	DisplayMessage string         `json:"display_message"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

// Expired reports whether the confirmation window has closed. A missing
// expiry is treated as expired.
func (p *PendingConfirmation) Expired(now time.Time) bool {
	if p == nil {
		return true
	}
	if p.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(p.ExpiresAt)
}

// Session is the central mutable entity of the engine. A session is owned by
// a single in-flight turn; all mutations flow through the state manager.
//
// Invariants:
//   - AgentStack is non-empty while Status == active.
//   - Entering a new agent or going home clears CurrentFlow and
//     PendingConfirmation.
//   - CurrentFlow.CurrentStateID always names an existing state of
//     CurrentFlow.FlowConfigID.
type Session struct {
	ID                  string               `json:"id"`
	UserID              string               `json:"user_id"`
	Status              SessionStatus        `json:"status"`
	AgentStack          []AgentFrame         `json:"agent_stack"`
	CurrentFlow         *FlowState           `json:"current_flow,omitempty"`
	PendingConfirmation *PendingConfirmation `json:"pending_confirmation,omitempty"`
	MessageCount        int                  `json:"message_count"`
	CreatedAt           time.Time            `json:"created_at"`
	LastInteractionAt   time.Time            `json:"last_interaction_at"`
}

// ActiveAgentID returns the agent at the top of the stack, or "" when the
// stack is empty.
func (s *Session) ActiveAgentID() string {
	if s == nil || len(s.AgentStack) == 0 {
		return ""
	}
	return s.AgentStack[len(s.AgentStack)-1].AgentConfigID
}

// RootAgentID returns the agent at the bottom of the stack, or "".
func (s *Session) RootAgentID() string {
	if s == nil || len(s.AgentStack) == 0 {
		return ""
	}
	return s.AgentStack[0].AgentConfigID
}

// StackDepth returns the number of frames on the agent stack.
func (s *Session) StackDepth() int {
	if s == nil {
		return 0
	}
	return len(s.AgentStack)
}
