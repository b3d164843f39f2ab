// Package routing interprets tool calls that navigate the agent tree or
// start sub-flows instead of hitting the service gateway.
package routing

import (
	"context"
	"fmt"

	"github.com/vireopay/dialog/internal/config"
	"github.com/vireopay/dialog/internal/observability"
	"github.com/vireopay/dialog/internal/registry"
	"github.com/vireopay/dialog/internal/state"
)

// Outcome reports what a routing decision did to the session.
type Outcome struct {
	// Handled is false for service tools; the turn executor dispatches those
	// to the tool executor instead.
	Handled bool
	// StateChanged signals the orchestrator to re-assemble context and
	// re-dispatch the turn.
	StateChanged bool
	// ContextRequirements of the newly entered agent, for enrichment.
	ContextRequirements []string
	// ResponseText is a fixed user-facing reply, set for escalation.
	ResponseText string
	// Err describes a routing problem. The turn treats it as handled-no-op.
	Err string
}

// Handler applies routing actions to a session through its state manager.
type Handler struct {
	registry *registry.Registry
	messages *config.Messages
	logger   *observability.Logger
}

func NewHandler(reg *registry.Registry, messages *config.Messages, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handler{registry: reg, messages: messages, logger: logger}
}

// HandleToolRouting is the single entry point per tool call. currentAgent is
// the agent active when the model emitted the call; language selects the
// escalation sentence.
func (h *Handler) HandleToolRouting(ctx context.Context, toolName string, params map[string]any, mgr *state.Manager, currentAgent *config.AgentConfig, language string) Outcome {
	res := h.registry.ResolveRouting(toolName)
	if !res.Success {
		h.logger.Warn(ctx, "routing resolution failed", "tool", toolName, "error", res.Err)
		return Outcome{Handled: true, Err: res.Err}
	}

	switch res.Action {
	case config.RoutingService:
		return Outcome{Handled: false}

	case config.RoutingEnterAgent:
		reason := fmt.Sprintf("tool %s", toolName)
		mgr.PushAgent(ctx, res.TargetID, reason)
		return Outcome{
			Handled:             true,
			StateChanged:        true,
			ContextRequirements: res.TargetEntity.ContextRequirements,
		}

	case config.RoutingStartFlow:
		return h.startFlow(ctx, toolName, res, params, mgr, currentAgent)

	case config.RoutingNavigation:
		return h.navigate(ctx, res.TargetID, toolName, params, mgr, language)

	default:
		err := fmt.Sprintf("unknown routing action %q for tool %q", res.Action, toolName)
		h.logger.Warn(ctx, "unknown routing action", "tool", toolName, "action", res.Action)
		return Outcome{Handled: true, Err: err}
	}
}

func (h *Handler) startFlow(ctx context.Context, toolName string, res registry.RoutingResult, params map[string]any, mgr *state.Manager, currentAgent *config.AgentConfig) Outcome {
	owner := currentAgent
	var requirements []string
	if res.CrossAgent != "" && res.CrossAgent != currentAgent.ConfigID {
		target := h.registry.Agent(res.CrossAgent)
		if target == nil {
			return Outcome{Handled: true, Err: fmt.Sprintf("cross_agent %q not found for tool %q", res.CrossAgent, toolName)}
		}
		mgr.PushAgent(ctx, res.CrossAgent, fmt.Sprintf("tool %s", toolName))
		owner = target
		requirements = target.ContextRequirements
	}

	flow := h.registry.Subflow(owner.ConfigID, res.TargetID)
	if flow == nil {
		return Outcome{Handled: true, Err: fmt.Sprintf("flow %q not found in agent %q", res.TargetID, owner.ConfigID)}
	}

	mgr.EnterSubflow(ctx, flow, extractInitialData(flow, params))
	return Outcome{
		Handled:             true,
		StateChanged:        true,
		ContextRequirements: requirements,
	}
}

func (h *Handler) navigate(ctx context.Context, target, toolName string, params map[string]any, mgr *state.Manager, language string) Outcome {
	switch target {
	case config.NavUpOneLevel:
		mgr.PopAgent(ctx)
		return Outcome{Handled: true, StateChanged: true}
	case config.NavGoHome:
		mgr.GoHome(ctx)
		return Outcome{Handled: true, StateChanged: true}
	case config.NavEscalateToHuman:
		reason, _ := params["reason"].(string)
		mgr.Escalate(ctx, reason)
		return Outcome{
			Handled:      true,
			ResponseText: h.escalationSentence(language),
		}
	default:
		err := fmt.Sprintf("unknown navigation target %q for tool %q", target, toolName)
		h.logger.Warn(ctx, "unknown navigation target", "tool", toolName, "target", target)
		return Outcome{Handled: true, Err: err}
	}
}

func (h *Handler) escalationSentence(language string) string {
	if msg := h.messages.Get("escalation_handoff", language); msg != "escalation_handoff" {
		return msg
	}
	if language == "es" {
		return "Te estoy transfiriendo con un agente humano que podrá ayudarte. Un momento por favor."
	}
	return "I'm connecting you with a human agent who can help. One moment please."
}

// initialDataAliases admits common parameter names into a flow's data even
// when the data_schema spells them slightly differently.
var initialDataAliases = map[string][]string{
	"phone_number": {"phone_number"},
	"recipient_id": {"recipient_id"},
	"amount":       {"amount", "amount_usd"},
	"amount_usd":   {"amount_usd", "amount"},
	"carrier_id":   {"carrier_id"},
	"loan_id":      {"loan_id", "snpl_loan_id"},
	"snpl_loan_id": {"snpl_loan_id", "loan_id"},
}

// extractInitialData seeds the flow's state data from the tool parameters:
// direct data_schema matches first, then the alias table.
func extractInitialData(flow *config.SubflowConfig, params map[string]any) map[string]any {
	out := map[string]any{}
	for _, field := range flow.DataSchema {
		if v, ok := params[field]; ok {
			out[field] = v
			continue
		}
		for _, alias := range initialDataAliases[field] {
			if v, ok := params[alias]; ok {
				out[field] = v
				break
			}
		}
	}
	return out
}
