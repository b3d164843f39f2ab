package config

// Agent configuration documents. All types are immutable after load; the raw
// document is retained on AgentConfig for localisation lookups.

// RoutingType selects how a tool call mutates session state.
type RoutingType string

const (
	RoutingEnterAgent RoutingType = "enter_agent"
	RoutingStartFlow  RoutingType = "start_flow"
	RoutingNavigation RoutingType = "navigation"
	RoutingService    RoutingType = "service"
)

// Navigation targets for RoutingNavigation.
const (
	NavUpOneLevel      = "up_one_level"
	NavGoHome          = "go_home"
	NavEscalateToHuman = "escalate_to_human"
)

// SideEffects classifies what a tool touches downstream.
type SideEffects string

const (
	SideEffectsNone      SideEffects = "none"
	SideEffectsRead      SideEffects = "read"
	SideEffectsWrite     SideEffects = "write"
	SideEffectsFinancial SideEffects = "financial"
)

// ModelConfig selects the LLM model for an agent.
type ModelConfig struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// NavigationFlags gate the synthetic navigation tools an agent exposes.
type NavigationFlags struct {
	CanGoUp     bool `json:"can_go_up"`
	CanGoHome   bool `json:"can_go_home"`
	CanEscalate bool `json:"can_escalate"`
}

// ToolParameter declares one parameter of a tool. Type is a JSON-schema
// scalar or container type.
type ToolParameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string|number|integer|boolean|object|array
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// FlowTransition names the states a flow moves to after this tool runs.
type FlowTransition struct {
	OnSuccess string `json:"on_success,omitempty"`
	OnError   string `json:"on_error,omitempty"`
}

// RoutingConfig is the tagged union describing how a tool call routes.
// When nil on a tool, routing is inferred from the tool name prefix
// (enter_*, start_flow_*) and defaults to service.
type RoutingConfig struct {
	RoutingType RoutingType `json:"routing_type"`
	Target      string      `json:"target,omitempty"`
	CrossAgent  string      `json:"cross_agent,omitempty"`
}

// ToolConfig declares one tool an agent can call. Names are globally unique
// across all agents.
type ToolConfig struct {
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	Parameters           []ToolParameter `json:"parameters,omitempty"`
	RequiresConfirmation bool            `json:"requires_confirmation,omitempty"`
	ConfirmationTemplate string          `json:"confirmation_template,omitempty"`
	SideEffects          SideEffects     `json:"side_effects,omitempty"`
	FlowTransition       *FlowTransition `json:"flow_transition,omitempty"`
	Routing              *RoutingConfig  `json:"routing,omitempty"`
}

// TransitionTrigger says when a transition is considered.
type TransitionTrigger string

const (
	TriggerOnUserTurn   TransitionTrigger = "on_user_turn"
	TriggerOnToolResult TransitionTrigger = "on_tool_result"
	TriggerAlways       TransitionTrigger = "always"
)

// Reserved transition targets besides sibling state ids.
const (
	TargetExit    = "exit"
	TargetAbandon = "abandon"
	TargetGoHome  = "go_home"
)

// TransitionConfig is one guarded edge of a sub-flow state.
type TransitionConfig struct {
	Trigger   TransitionTrigger `json:"transition_trigger"`
	Condition string            `json:"condition,omitempty"`
	Target    string            `json:"target"`
}

// CallToolConfig is the on-enter action that executes a tool eagerly.
type CallToolConfig struct {
	Name    string         `json:"name"`
	Params  map[string]any `json:"params,omitempty"`
	StoreAs string         `json:"store_as,omitempty"`
}

// OnEnterConfig is the action block executed when a state is entered.
type OnEnterConfig struct {
	SendMessage  string          `json:"send_message,omitempty"`
	CallTool     *CallToolConfig `json:"call_tool,omitempty"`
	FetchContext []string        `json:"fetch_context,omitempty"`
}

// SubflowStateConfig is one node of a sub-flow state machine.
type SubflowStateConfig struct {
	StateID           string             `json:"state_id"`
	Name              string             `json:"name,omitempty"`
	AgentInstructions string             `json:"agent_instructions,omitempty"`
	StateTools        []ToolConfig       `json:"state_tools,omitempty"`
	Transitions       []TransitionConfig `json:"transitions,omitempty"`
	OnEnter           *OnEnterConfig     `json:"on_enter,omitempty"`
	IsFinal           bool               `json:"is_final,omitempty"`
}

// TimeoutConfig bounds how long a flow may stay open.
type TimeoutConfig struct {
	TimeoutMinutes int    `json:"timeout_minutes"`
	Action         string `json:"action,omitempty"` // abandon|go_home
}

// SubflowConfig is a finite state machine scoped to one agent.
type SubflowConfig struct {
	ConfigID     string               `json:"config_id"`
	Name         string               `json:"name,omitempty"`
	InitialState string               `json:"initial_state"`
	DataSchema   []string             `json:"data_schema,omitempty"`
	Timeout      *TimeoutConfig       `json:"timeout_config,omitempty"`
	States       []SubflowStateConfig `json:"states"`
}

// State returns the state with the given id, or nil.
func (f *SubflowConfig) State(stateID string) *SubflowStateConfig {
	for i := range f.States {
		if f.States[i].StateID == stateID {
			return &f.States[i]
		}
	}
	return nil
}

// TriggerType classifies response template triggers.
type TriggerType string

const (
	TriggerToolSuccess  TriggerType = "tool_success"
	TriggerToolError    TriggerType = "tool_error"
	TriggerStateEntry   TriggerType = "state_entry"
	TriggerConfirmation TriggerType = "confirmation"
)

// TriggerConfig selects when a response template applies.
type TriggerConfig struct {
	Type      TriggerType `json:"type"`
	ToolName  string      `json:"tool_name,omitempty"`
	StateName string      `json:"state_name,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
}

// Enforcement levels for response templates.
const (
	EnforcementMandatory = "mandatory"
	EnforcementSuggested = "suggested"
)

// ResponseTemplateConfig renders a canned reply when its trigger matches and
// all required fields resolve.
type ResponseTemplateConfig struct {
	Name           string        `json:"name"`
	Trigger        TriggerConfig `json:"trigger_config"`
	Template       string        `json:"template"`
	RequiredFields []string      `json:"required_fields,omitempty"`
	Enforcement    string        `json:"enforcement,omitempty"`
}

// AgentConfig is one node of the agent tree. Exactly one agent has no
// parent; it is the root.
type AgentConfig struct {
	ConfigID             string                   `json:"config_id"`
	Name                 string                   `json:"name"`
	Description          string                   `json:"description,omitempty"`
	ParentAgentID        string                   `json:"parent_agent_id,omitempty"`
	ModelConfig          ModelConfig              `json:"model_config"`
	NavigationFlags      NavigationFlags          `json:"navigation_flags"`
	SystemPromptAddition string                   `json:"system_prompt_addition,omitempty"`
	Tools                []ToolConfig             `json:"tools,omitempty"`
	Subflows             []SubflowConfig          `json:"subflows,omitempty"`
	ResponseTemplates    []ResponseTemplateConfig `json:"response_templates,omitempty"`
	ContextRequirements  []string                 `json:"context_requirements,omitempty"`
	DefaultTools         []string                 `json:"default_tools,omitempty"`
	ProductKey           string                   `json:"product_key,omitempty"`

	// Raw is the original document, retained for localisation lookups.
	Raw map[string]any `json:"-"`
}

// Subflow returns the sub-flow with the given id, or nil.
func (a *AgentConfig) Subflow(configID string) *SubflowConfig {
	for i := range a.Subflows {
		if a.Subflows[i].ConfigID == configID {
			return &a.Subflows[i]
		}
	}
	return nil
}

// Tool returns the tool with the given name, or nil.
func (a *AgentConfig) Tool(name string) *ToolConfig {
	for i := range a.Tools {
		if a.Tools[i].Name == name {
			return &a.Tools[i]
		}
	}
	return nil
}
