package models

import (
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single conversation message persisted for a session.
// Messages are append-only and strictly ordered by CreatedAt.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ToolCall is the model's request to invoke a named function. Params is the
// decoded argument map; malformed argument JSON decodes to an empty map.
type ToolCall struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// ToolResult is the normalized outcome of a tool execution. Within a turn no
// component raises across its boundary; failures are carried here as data.
type ToolResult struct {
	Success              bool           `json:"success"`
	Data                 map[string]any `json:"data,omitempty"`
	Error                string         `json:"error,omitempty"`
	ErrorCode            string         `json:"error_code,omitempty"`
	RequiresConfirmation bool           `json:"requires_confirmation,omitempty"`
	ConfirmationMessage  string         `json:"confirmation_message,omitempty"`
}

// Well-known tool error codes reported to the orchestrator.
const (
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeConnectionError   = "CONNECTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeUnknownTool       = "UNKNOWN_TOOL"
	ErrCodeServiceError      = "SERVICE_ERROR"
)

// TurnResponse is the engine's reply to one user turn.
type TurnResponse struct {
	SessionID           string               `json:"session_id"`
	AssistantMessage    string               `json:"assistant_message"`
	AgentID             string               `json:"agent_id"`
	AgentName           string               `json:"agent_name"`
	ToolCalls           []ToolCallSummary    `json:"tool_calls,omitempty"`
	PendingConfirmation *PendingConfirmation `json:"pending_confirmation,omitempty"`
	FlowState           *FlowState           `json:"flow_state,omitempty"`
	Escalated           bool                 `json:"escalated"`
	DebugInfo           map[string]any       `json:"debug_info,omitempty"`
}

// ToolCallSummary is the externally visible record of one tool invocation.
type ToolCallSummary struct {
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	ErrorCode string `json:"error_code,omitempty"`
}
