// Package orchestrator executes conversation turns. One HandleMessage call is
// one turn: it resolves the active agent, runs enrichment, assembles the LLM
// request, interprets tool calls, and persists the outcome. Turns for the
// same session are serialised through the session locker.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vireopay/dialog/internal/condition"
	"github.com/vireopay/dialog/internal/config"
	"github.com/vireopay/dialog/internal/contextbuilder"
	"github.com/vireopay/dialog/internal/enrich"
	"github.com/vireopay/dialog/internal/llm"
	"github.com/vireopay/dialog/internal/observability"
	"github.com/vireopay/dialog/internal/registry"
	"github.com/vireopay/dialog/internal/routing"
	"github.com/vireopay/dialog/internal/sessions"
	"github.com/vireopay/dialog/internal/state"
	"github.com/vireopay/dialog/internal/template"
	"github.com/vireopay/dialog/internal/tools"
	"github.com/vireopay/dialog/pkg/models"
)

// Deps wires the orchestrator's collaborators. All fields except Metrics and
// Compactor are required.
type Deps struct {
	Store     sessions.Store
	Locker    sessions.Locker
	Registry  *registry.Registry
	Builder   *contextbuilder.Builder
	Provider  llm.Provider
	Executor  *tools.Executor
	Router    *routing.Handler
	Compactor *sessions.Compactor
	Messages  *config.Messages
	Config    *config.Config
	Logger    *observability.Logger
	Metrics   *observability.Metrics
}

// Orchestrator is the turn executor. It is safe for concurrent use; all
// per-turn state lives on the turn value.
type Orchestrator struct {
	store     sessions.Store
	locker    sessions.Locker
	registry  *registry.Registry
	builder   *contextbuilder.Builder
	provider  llm.Provider
	executor  *tools.Executor
	router    *routing.Handler
	compactor *sessions.Compactor
	messages  *config.Messages
	evaluator *condition.Evaluator
	cfg       *config.Config
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func New(d Deps) *Orchestrator {
	logger := d.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Orchestrator{
		store:     d.Store,
		locker:    d.Locker,
		registry:  d.Registry,
		builder:   d.Builder,
		provider:  d.Provider,
		executor:  d.Executor,
		router:    d.Router,
		compactor: d.Compactor,
		messages:  d.Messages,
		evaluator: condition.NewEvaluator(logger),
		cfg:       d.Config,
		logger:    logger,
		metrics:   d.Metrics,
		now:       time.Now,
	}
}

// turn carries the mutable state of one HandleMessage call.
type turn struct {
	id          string
	session     *models.Session
	mgr         *state.Manager
	userCtx     *models.UserContext
	language    string
	enricher    *enrich.Enricher
	userMessage string

	reply     string
	summaries []models.ToolCallSummary
	events    []models.AgentEvent
}

// HandleMessage executes one turn for the user. An empty sessionID creates a
// new session rooted at the root agent.
func (o *Orchestrator) HandleMessage(ctx context.Context, userID, sessionID, message string) (*models.TurnResponse, error) {
	root := o.registry.RootAgent()
	if root == nil {
		return nil, fmt.Errorf("orchestrator: no root agent configured")
	}

	session, created, err := o.store.GetOrCreate(ctx, sessionID, userID, root.ConfigID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load session: %w", err)
	}

	release, err := o.locker.Lock(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: acquire session lock: %w", err)
	}
	defer release()

	if !created {
		// Reload under the lock so the turn sees the latest committed state.
		session, err = o.store.Get(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: reload session: %w", err)
		}
	}

	turnID := uuid.NewString()
	ctx = observability.WithTurnID(observability.WithSessionID(ctx, session.ID), turnID)
	started := o.now()

	t := &turn{
		id:          turnID,
		session:     session,
		mgr:         state.NewManager(session, o.logger),
		enricher:    enrich.New(o.executor, o.logger),
		userMessage: message,
	}
	t.userCtx = o.loadUserContext(ctx, userID)
	t.language = t.userCtx.Language()
	o.record(t, models.EventTurnStarted, map[string]any{"agent_id": session.ActiveAgentID()})
	o.expireStaleFlow(ctx, t)

	if session.PendingConfirmation != nil && !t.mgr.IsConfirmationExpired() {
		o.resolveConfirmation(ctx, t)
	} else {
		if session.PendingConfirmation != nil {
			t.mgr.ClearPendingConfirmation()
			o.record(t, models.EventConfirmationResolved, map[string]any{"outcome": "expired"})
		}
		o.runTurn(ctx, t)
	}

	o.persist(ctx, t)
	o.observeTurn(t, started)
	return o.response(t), nil
}

// expireStaleFlow closes a flow that outlived its configured timeout. The
// timeout action decides between dropping just the flow and going home.
func (o *Orchestrator) expireStaleFlow(ctx context.Context, t *turn) {
	flow := t.session.CurrentFlow
	if flow == nil {
		return
	}
	agent := o.registry.Agent(t.session.ActiveAgentID())
	if agent == nil {
		return
	}
	flowCfg := agent.Subflow(flow.FlowConfigID)
	if flowCfg == nil || flowCfg.Timeout == nil || flowCfg.Timeout.TimeoutMinutes <= 0 {
		return
	}
	age := o.now().Sub(flow.EnteredAt)
	if age <= time.Duration(flowCfg.Timeout.TimeoutMinutes)*time.Minute {
		return
	}

	o.logger.Info(ctx, "flow timed out",
		"flow_id", flow.FlowConfigID, "state_id", flow.CurrentStateID, "age", age)
	o.record(t, models.EventFlowTransition, map[string]any{
		"flow_id": flow.FlowConfigID,
		"target":  "timeout",
		"action":  flowCfg.Timeout.Action,
	})
	if flowCfg.Timeout.Action == config.TargetGoHome {
		t.mgr.GoHome(ctx)
		return
	}
	t.mgr.ExitFlow(ctx)
}

func (o *Orchestrator) loadUserContext(ctx context.Context, userID string) *models.UserContext {
	uc, err := o.store.GetUserContext(ctx, userID)
	if err != nil {
		if !errors.Is(err, sessions.ErrNotFound) {
			o.logger.Warn(ctx, "user context load failed", "user_id", userID, "error", err)
		}
		return nil
	}
	return uc
}

// runTurn is the LLM-driven path. Routing actions that change the agent or
// flow discard the assistant text and re-dispatch under the new state, up to
// the configured recursion bound.
func (o *Orchestrator) runTurn(ctx context.Context, t *turn) {
	for depth := 0; ; depth++ {
		if depth >= o.cfg.MaxRecursionDepth {
			o.recordError(ctx, t, "recursion", "re-dispatch limit reached")
			t.reply = o.message(t.language, "routing_fallback",
				"I couldn't determine how to proceed. Could you tell me again what you need?",
				"No pude determinar cómo continuar. ¿Me repites qué necesitas?")
			return
		}

		agent := o.registry.Agent(t.session.ActiveAgentID())
		if agent == nil {
			o.recordError(ctx, t, "unknown_agent", "active agent missing from registry")
			t.reply = o.message(t.language, "routing_fallback",
				"I couldn't determine how to proceed. Could you tell me again what you need?",
				"No pude determinar cómo continuar. ¿Me repites qué necesitas?")
			return
		}
		stateCfg := o.currentState(ctx, t, agent)

		if depth == 0 && stateCfg != nil {
			if next := o.applyDeclaredTransitions(ctx, t, agent, stateCfg, config.TriggerOnUserTurn, map[string]any{
				"user_message": t.userMessage,
			}); next {
				stateCfg = o.currentState(ctx, t, agent)
			}
		}

		t.enricher.EnrichAgent(ctx, agent, t.session, t.language)
		if stateCfg != nil {
			t.enricher.EnrichState(ctx, agent, stateCfg, t.mgr, t.language)
		}
		o.record(t, models.EventEnrichment, map[string]any{"keys": len(t.enricher.Enriched())})

		if depth == 0 && o.compactor != nil && o.compactor.ShouldCompact(t.session) {
			if err := o.compactor.Compact(ctx, t.session); err != nil {
				o.logger.Warn(ctx, "history compaction failed", "error", err)
			}
		}

		req := o.assemble(ctx, t, agent, stateCfg)
		o.record(t, models.EventLLMRequest, map[string]any{"model": req.Model, "tools": len(req.Tools)})

		completion, err := o.complete(ctx, req)
		if err != nil {
			o.recordError(ctx, t, "llm", err.Error())
			t.reply = o.message(t.language, "llm_unavailable",
				"I'm having trouble responding right now. Please try again in a moment.",
				"Estoy teniendo problemas para responder. Inténtalo de nuevo en un momento.")
			return
		}
		t.reply = completion.Text

		redispatch := false
		for _, call := range completion.ToolCalls {
			o.record(t, models.EventToolCalled, map[string]any{"tool": call.Name})

			if call.Name == contextbuilder.ToolChangeLanguage {
				o.changeLanguage(ctx, t, call.Params)
				return
			}

			outcome := o.router.HandleToolRouting(ctx, call.Name, call.Params, t.mgr, agent, t.language)
			if outcome.Handled {
				o.record(t, models.EventRoutingApplied, map[string]any{
					"tool": call.Name, "state_changed": outcome.StateChanged,
				})
				if outcome.Err != "" {
					o.logger.Warn(ctx, "routing failed", "tool", call.Name, "error", outcome.Err)
					continue
				}
				if outcome.ResponseText != "" {
					t.reply = outcome.ResponseText
					return
				}
				if outcome.StateChanged {
					redispatch = true
					break
				}
				continue
			}

			result := o.executeService(ctx, t, agent, stateCfg, call)
			if result.RequiresConfirmation {
				t.mgr.SetPendingConfirmation(call.Name, call.Params, result.ConfirmationMessage, o.cfg.ConfirmationTTL)
				o.record(t, models.EventConfirmationSet, map[string]any{"tool": call.Name})
				t.reply = result.ConfirmationMessage
				return
			}
			if reply := o.applyToolOutcome(ctx, t, agent, call.Name, result); reply != "" {
				t.reply = reply
				return
			}
			if t.reply == "" {
				t.reply = o.defaultToolReply(result, t.language)
			}
		}

		if redispatch {
			continue
		}
		if t.reply == "" {
			t.reply = o.message(t.language, "empty_reply",
				"How can I help you?", "¿En qué puedo ayudarte?")
		}
		return
	}
}

// complete calls the provider under the configured LLM timeout.
func (o *Orchestrator) complete(ctx context.Context, req *contextbuilder.Request) (*llm.Completion, error) {
	if o.cfg.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.LLMTimeout)
		defer cancel()
	}
	return o.provider.Complete(ctx, req)
}

func (o *Orchestrator) assemble(ctx context.Context, t *turn, agent *config.AgentConfig, stateCfg *config.SubflowStateConfig) *contextbuilder.Request {
	history, err := o.store.GetHistory(ctx, t.session.ID, o.cfg.HistoryWindow)
	if err != nil {
		o.logger.Warn(ctx, "history load failed", "error", err)
	}
	var compacted *models.CompactedHistory
	if ch, err := o.store.GetCompacted(ctx, t.session.UserID); err == nil {
		compacted = ch
	}

	req := o.builder.Build(ctx, contextbuilder.BuildInput{
		Agent:        agent,
		State:        stateCfg,
		Session:      t.session,
		UserContext:  t.userCtx,
		History:      history,
		Compacted:    compacted,
		Enriched:     t.enricher.Enriched(),
		DefaultModel: o.cfg.DefaultModel,
	})
	req.Messages = append(req.Messages, contextbuilder.ChatMessage{
		Role:    models.RoleUser,
		Content: t.userMessage,
	})
	return req
}

// executeService runs one service tool call through the executor and records
// its outcome.
func (o *Orchestrator) executeService(ctx context.Context, t *turn, agent *config.AgentConfig, stateCfg *config.SubflowStateConfig, call models.ToolCall) *models.ToolResult {
	params := call.Params
	if params == nil {
		params = map[string]any{}
	}
	// Only an affirmed confirmation may skip the gate, never the model.
	delete(params, contextbuilder.SkipConfirmationKey)

	toolCfg := lookupToolConfig(agent, stateCfg, call.Name)
	result := o.executor.Execute(ctx, toolCfg, params, tools.ExecOptions{
		Session:  t.session,
		Language: t.language,
	})
	if !result.RequiresConfirmation {
		t.summaries = append(t.summaries, models.ToolCallSummary{
			Name: call.Name, Success: result.Success, ErrorCode: result.ErrorCode,
		})
		o.record(t, models.EventToolResult, map[string]any{
			"tool": call.Name, "success": result.Success, "error_code": result.ErrorCode,
		})
	}
	return result
}

// resolveConfirmation handles the turn while a live confirmation is pending.
// Affirmative runs the gated tool, negative cancels, anything else re-asks.
func (o *Orchestrator) resolveConfirmation(ctx context.Context, t *turn) {
	pc := t.session.PendingConfirmation

	switch tools.ClassifyUserConfirmation(t.userMessage) {
	case tools.ConfirmationYes:
		t.mgr.ClearPendingConfirmation()
		o.record(t, models.EventConfirmationResolved, map[string]any{"outcome": "affirmed", "tool": pc.ToolName})

		agent := o.registry.Agent(t.session.ActiveAgentID())
		if agent == nil {
			o.recordError(ctx, t, "unknown_agent", "active agent missing from registry")
			t.reply = o.defaultToolReply(&models.ToolResult{Success: false}, t.language)
			return
		}
		stateCfg := o.currentState(ctx, t, agent)
		toolCfg := lookupToolConfig(agent, stateCfg, pc.ToolName)

		result := o.executor.Execute(ctx, toolCfg, pc.ToolParams, tools.ExecOptions{
			Session:          t.session,
			Language:         t.language,
			SkipConfirmation: true,
		})
		t.summaries = append(t.summaries, models.ToolCallSummary{
			Name: pc.ToolName, Success: result.Success, ErrorCode: result.ErrorCode,
		})
		o.record(t, models.EventToolResult, map[string]any{
			"tool": pc.ToolName, "success": result.Success, "error_code": result.ErrorCode,
		})

		if reply := o.applyToolOutcome(ctx, t, agent, pc.ToolName, result); reply != "" {
			t.reply = reply
			return
		}
		t.reply = o.defaultToolReply(result, t.language)

	case tools.ConfirmationNo:
		t.mgr.ClearPendingConfirmation()
		o.record(t, models.EventConfirmationResolved, map[string]any{"outcome": "declined", "tool": pc.ToolName})
		t.reply = o.message(t.language, "confirmation_cancelled",
			"Okay, I won't proceed. Is there anything else I can help with?",
			"De acuerdo, no lo haré. ¿Hay algo más en lo que pueda ayudarte?")

	default:
		o.record(t, models.EventConfirmationResolved, map[string]any{"outcome": "unclear", "tool": pc.ToolName})
		t.reply = pc.DisplayMessage
	}
}

// applyToolOutcome applies flow transitions and response templates after a
// service tool ran. A non-empty return replaces the assistant reply and ends
// tool-call processing.
func (o *Orchestrator) applyToolOutcome(ctx context.Context, t *turn, agent *config.AgentConfig, toolName string, result *models.ToolResult) string {
	toolCfg := lookupToolConfig(agent, o.currentState(ctx, t, agent), toolName)

	if t.session.CurrentFlow != nil && result.Success {
		// Canonical result fields feed the flow data so downstream state
		// messages and templates can reference them.
		t.mgr.UpdateFlowData(canonicalFields(result.Data))
	}

	if t.session.CurrentFlow != nil && toolCfg.FlowTransition != nil {
		target := toolCfg.FlowTransition.OnError
		if result.Success {
			target = toolCfg.FlowTransition.OnSuccess
		}
		if target != "" {
			if reply := o.applyTransition(ctx, t, agent, target); reply != "" {
				return reply
			}
		}
	}

	if stateCfg := o.currentState(ctx, t, agent); stateCfg != nil {
		evalCtx := transitionContext(t.session, result)
		for _, tr := range stateCfg.Transitions {
			if tr.Trigger != config.TriggerOnToolResult && tr.Trigger != config.TriggerAlways {
				continue
			}
			if !o.evaluator.Evaluate(tr.Condition, evalCtx) {
				continue
			}
			if reply := o.applyTransition(ctx, t, agent, tr.Target); reply != "" {
				return reply
			}
			break
		}
	}

	return o.templatedReply(t, agent, toolName, result)
}

// templatedReply picks the canned reply for a tool result: an explicit
// _message from the service wins, then the agent's matching response
// template.
func (o *Orchestrator) templatedReply(t *turn, agent *config.AgentConfig, toolName string, result *models.ToolResult) string {
	if msg, ok := result.Data["_message"].(string); ok && msg != "" {
		return msg
	}

	trigger := template.Trigger{Type: config.TriggerToolSuccess, ToolName: toolName}
	if !result.Success {
		trigger = template.Trigger{Type: config.TriggerToolError, ToolName: toolName, ErrorCode: result.ErrorCode}
	}
	if t.session.CurrentFlow != nil {
		trigger.StateName = t.session.CurrentFlow.CurrentStateID
	}

	renderCtx := map[string]any{}
	if t.session.CurrentFlow != nil {
		for k, v := range t.session.CurrentFlow.StateData {
			renderCtx[k] = v
		}
	}
	for k, v := range result.Data {
		renderCtx[k] = v
	}

	if tmpl := template.MatchResponseTemplate(agent.ResponseTemplates, trigger, renderCtx); tmpl != nil {
		return template.Render(tmpl.Template, renderCtx)
	}
	return ""
}

// applyDeclaredTransitions evaluates the state's declared transitions for one
// trigger and applies the first whose condition holds. extra overlays the
// flow's state data in the evaluation context.
func (o *Orchestrator) applyDeclaredTransitions(ctx context.Context, t *turn, agent *config.AgentConfig, stateCfg *config.SubflowStateConfig, trigger config.TransitionTrigger, extra map[string]any) bool {
	evalCtx := transitionContext(t.session, nil)
	for k, v := range extra {
		evalCtx[k] = v
	}
	for _, tr := range stateCfg.Transitions {
		if tr.Trigger != trigger && tr.Trigger != config.TriggerAlways {
			continue
		}
		if !o.evaluator.Evaluate(tr.Condition, evalCtx) {
			continue
		}
		o.applyTransition(ctx, t, agent, tr.Target)
		return true
	}
	return false
}

// applyTransition moves the active flow to target. Entering a state renders
// its on_enter.send_message over the flow data; a final state's message is
// rendered before the flow is cleared.
func (o *Orchestrator) applyTransition(ctx context.Context, t *turn, agent *config.AgentConfig, target string) string {
	flow := t.session.CurrentFlow
	if flow == nil {
		return ""
	}
	o.record(t, models.EventFlowTransition, map[string]any{
		"flow_id": flow.FlowConfigID, "from": flow.CurrentStateID, "target": target,
	})

	switch target {
	case config.TargetExit, config.TargetAbandon:
		t.mgr.ExitFlow(ctx)
		return ""
	case config.TargetGoHome:
		t.mgr.GoHome(ctx)
		return ""
	}

	stateCfg := o.registry.FlowState(agent.ConfigID, flow.FlowConfigID, target)
	if stateCfg == nil {
		o.logger.Warn(ctx, "transition target missing from registry",
			"flow_id", flow.FlowConfigID, "target", target)
		return ""
	}

	renderCtx := map[string]any{}
	for k, v := range flow.StateData {
		renderCtx[k] = v
	}

	t.mgr.TransitionState(ctx, target, stateCfg)

	if !stateCfg.IsFinal {
		t.enricher.EnrichState(ctx, agent, stateCfg, t.mgr, t.language)
		if t.session.CurrentFlow != nil {
			for k, v := range t.session.CurrentFlow.StateData {
				renderCtx[k] = v
			}
		}
	}

	if stateCfg.OnEnter != nil && stateCfg.OnEnter.SendMessage != "" {
		return template.Render(stateCfg.OnEnter.SendMessage, renderCtx)
	}
	return ""
}

// changeLanguage handles the synthetic change_language tool locally.
func (o *Orchestrator) changeLanguage(ctx context.Context, t *turn, params map[string]any) {
	lang, _ := params["language"].(string)
	if !config.SupportedLanguages[lang] {
		o.logger.Warn(ctx, "unsupported language requested", "language", lang)
		t.reply = o.message(t.language, "language_unsupported",
			"I can only chat in English or Spanish.",
			"Solo puedo conversar en inglés o español.")
		return
	}

	if t.userCtx == nil {
		t.userCtx = &models.UserContext{UserID: t.session.UserID}
	}
	t.userCtx.Profile.Language = lang
	t.userCtx.UpdatedAt = o.now()
	if err := o.store.PutUserContext(ctx, t.userCtx); err != nil {
		o.logger.Warn(ctx, "language preference save failed", "error", err)
	}
	t.language = lang

	t.reply = o.message(lang, "language_changed",
		"Sure, let's continue in English.",
		"Claro, seguimos en español.")
}

// persist writes the turn's messages, session state, and event trace.
func (o *Orchestrator) persist(ctx context.Context, t *turn) {
	now := o.now()

	userMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: t.session.ID,
		UserID:    t.session.UserID,
		Role:      models.RoleUser,
		Content:   t.userMessage,
		CreatedAt: now,
	}
	if err := o.store.AppendMessage(ctx, userMsg); err != nil {
		o.logger.Error(ctx, "user message persist failed", "error", err)
	} else {
		t.session.MessageCount++
	}

	toolNames := make([]string, 0, len(t.summaries))
	for _, s := range t.summaries {
		toolNames = append(toolNames, s.Name)
	}
	eventTrace := make([]string, 0, len(t.events)+1)
	for _, ev := range t.events {
		eventTrace = append(eventTrace, string(ev.Type))
	}
	meta := map[string]any{
		"agent_id":     t.session.ActiveAgentID(),
		"tools_called": toolNames,
		"event_trace":  eventTrace,
	}
	if t.session.CurrentFlow != nil {
		meta["flow_state"] = map[string]any{
			"flow_id":  t.session.CurrentFlow.FlowConfigID,
			"state_id": t.session.CurrentFlow.CurrentStateID,
		}
	}
	assistantMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: t.session.ID,
		UserID:    t.session.UserID,
		Role:      models.RoleAssistant,
		Content:   t.reply,
		Metadata:  meta,
		CreatedAt: now.Add(time.Millisecond),
	}
	if err := o.store.AppendMessage(ctx, assistantMsg); err != nil {
		o.logger.Error(ctx, "assistant message persist failed", "error", err)
	} else {
		t.session.MessageCount++
	}

	t.session.LastInteractionAt = now
	if err := o.store.Update(ctx, t.session); err != nil {
		o.logger.Error(ctx, "session persist failed", "error", err)
	}

	o.record(t, models.EventTurnCompleted, map[string]any{"reply_len": len(t.reply)})
	for i := range t.events {
		if err := o.store.AppendEvent(ctx, &t.events[i]); err != nil {
			o.logger.Warn(ctx, "event persist failed", "error", err)
			break
		}
	}
}

func (o *Orchestrator) response(t *turn) *models.TurnResponse {
	resp := &models.TurnResponse{
		SessionID:           t.session.ID,
		AssistantMessage:    t.reply,
		AgentID:             t.session.ActiveAgentID(),
		ToolCalls:           t.summaries,
		PendingConfirmation: t.session.PendingConfirmation,
		FlowState:           t.session.CurrentFlow,
		Escalated:           t.session.Status == models.StatusEscalated,
	}
	if agent := o.registry.Agent(resp.AgentID); agent != nil {
		resp.AgentName = agent.Name
	}
	if o.cfg.Debug {
		resp.DebugInfo = map[string]any{
			"turn_id":       t.id,
			"stack_depth":   t.session.StackDepth(),
			"message_count": t.session.MessageCount,
			"language":      t.language,
		}
	}
	return resp
}

func (o *Orchestrator) observeTurn(t *turn, started time.Time) {
	if o.metrics == nil {
		return
	}
	status := "ok"
	if t.session.Status == models.StatusEscalated {
		status = "escalated"
	}
	agentID := t.session.ActiveAgentID()
	o.metrics.TurnCounter.WithLabelValues(agentID, status).Inc()
	o.metrics.TurnDuration.WithLabelValues(agentID).Observe(o.now().Sub(started).Seconds())
}

// currentState resolves the flow state the session points at, or nil. A
// dangling reference after a config reload is logged and treated as no state.
func (o *Orchestrator) currentState(ctx context.Context, t *turn, agent *config.AgentConfig) *config.SubflowStateConfig {
	flow := t.session.CurrentFlow
	if flow == nil {
		return nil
	}
	stateCfg := o.registry.FlowState(agent.ConfigID, flow.FlowConfigID, flow.CurrentStateID)
	if stateCfg == nil {
		o.logger.Warn(ctx, "flow state missing from registry",
			"agent_id", agent.ConfigID, "flow_id", flow.FlowConfigID, "state_id", flow.CurrentStateID)
	}
	return stateCfg
}

func (o *Orchestrator) record(t *turn, typ models.EventType, payload map[string]any) {
	t.events = append(t.events, models.AgentEvent{
		TurnID:    t.id,
		SessionID: t.session.ID,
		Type:      typ,
		Payload:   payload,
		CreatedAt: o.now(),
	})
}

func (o *Orchestrator) recordError(ctx context.Context, t *turn, errType, detail string) {
	o.logger.Error(ctx, "turn error", "error_type", errType, "detail", detail)
	o.record(t, models.EventError, map[string]any{"error_type": errType, "detail": detail})
	if o.metrics != nil {
		o.metrics.ErrorCounter.WithLabelValues("orchestrator", errType).Inc()
	}
}

// message returns a localised string, preferring the messages document and
// falling back to built-in text.
func (o *Orchestrator) message(lang, key, en, es string) string {
	if msg := o.messages.Get(key, lang); msg != key {
		return msg
	}
	if lang == "es" {
		return es
	}
	return en
}

func (o *Orchestrator) defaultToolReply(result *models.ToolResult, lang string) string {
	if !result.Success {
		return o.message(lang, "tool_failed",
			"Sorry, that didn't work. Please try again.",
			"Lo siento, eso no funcionó. Inténtalo de nuevo.")
	}
	if ref := resultReference(result.Data); ref != "" {
		if lang == "es" {
			return fmt.Sprintf("Listo. Referencia: %s.", ref)
		}
		return fmt.Sprintf("Done. Reference: %s.", ref)
	}
	return o.message(lang, "tool_done", "Done.", "Listo.")
}

// canonicalFields picks the normalised result fields worth carrying in flow
// data.
func canonicalFields(data map[string]any) map[string]any {
	out := map[string]any{}
	for _, key := range []string{"transaction_id", "reference", "amount", "currency", "timestamp", "status"} {
		if v, ok := data[key]; ok {
			out[key] = v
		}
	}
	return out
}

func resultReference(data map[string]any) string {
	for _, key := range []string{"reference", "transaction_id"} {
		if v, ok := data[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// transitionContext builds the evaluation context for declared transitions:
// the flow's collected data flattened, plus the raw maps under stable keys.
func transitionContext(session *models.Session, result *models.ToolResult) map[string]any {
	evalCtx := map[string]any{}
	var stateData map[string]any
	if session.CurrentFlow != nil {
		stateData = session.CurrentFlow.StateData
	}
	for k, v := range stateData {
		evalCtx[k] = v
	}
	evalCtx["state_data"] = stateData
	if result != nil {
		for k, v := range result.Data {
			evalCtx[k] = v
		}
		evalCtx["result"] = result.Data
		evalCtx["success"] = result.Success
		if result.ErrorCode != "" {
			evalCtx["error_code"] = result.ErrorCode
		}
	}
	return evalCtx
}

// lookupToolConfig resolves a tool name against the state's inline tools,
// then the agent. Unknown names get a minimal config so the gateway can
// report UNKNOWN_TOOL instead of the turn failing.
func lookupToolConfig(agent *config.AgentConfig, stateCfg *config.SubflowStateConfig, name string) *config.ToolConfig {
	if stateCfg != nil {
		for i := range stateCfg.StateTools {
			if stateCfg.StateTools[i].Name == name {
				return &stateCfg.StateTools[i]
			}
		}
	}
	if tool := agent.Tool(name); tool != nil {
		return tool
	}
	return &config.ToolConfig{Name: name}
}
