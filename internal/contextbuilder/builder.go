// Package contextbuilder assembles the per-turn LLM request: a sectioned
// system prompt, the recent message window, and the tool list, each bounded
// by a token budget.
package contextbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vireopay/dialog/internal/config"
	"github.com/vireopay/dialog/internal/observability"
	"github.com/vireopay/dialog/pkg/models"
)

// ChatMessage is one entry of the request's message list.
type ChatMessage struct {
	Role    models.Role
	Content string
}

// Request is the complete package handed to the LLM client.
type Request struct {
	SystemPrompt string
	Messages     []ChatMessage
	Tools        []ToolDefinition
	Model        string
	Temperature  float64
	MaxTokens    int
}

// BuildInput carries everything a turn contributes to assembly.
type BuildInput struct {
	Agent        *config.AgentConfig
	State        *config.SubflowStateConfig
	Session      *models.Session
	UserContext  *models.UserContext
	History      []models.Message
	Compacted    *models.CompactedHistory
	Enriched     map[string]any
	DefaultModel string
}

// Builder assembles LLM requests under the configured token budgets.
type Builder struct {
	prompts  *config.Prompts
	messages *config.Messages
	budgets  config.TokenBudgets
	tok      *Tokenizer
	logger   *observability.Logger
}

func NewBuilder(prompts *config.Prompts, messages *config.Messages, budgets config.TokenBudgets, logger *observability.Logger) *Builder {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Builder{
		prompts:  prompts,
		messages: messages,
		budgets:  budgets,
		tok:      NewTokenizer(),
		logger:   logger,
	}
}

// Build assembles the request for one turn. Sections over budget are
// truncated from the end, never dropped silently.
func (b *Builder) Build(ctx context.Context, in BuildInput) *Request {
	model := in.Agent.ModelConfig.Model
	if model == "" {
		model = in.DefaultModel
	}
	lang := in.UserContext.Language()

	var sections []string
	add := func(text string, budget int) {
		if text == "" {
			return
		}
		fitted := b.fit(model, text, budget)
		if fitted != "" {
			sections = append(sections, fitted)
		}
	}

	add(b.prompts.BasePrompt(lang), b.budgets.System)
	add(b.prompts.Section("safety", lang), b.budgets.System)
	add(b.agentBlock(in.Agent), b.budgets.System)
	add(b.profileBlock(in.UserContext), b.budgets.UserProfile)
	add(b.productBlock(in.Agent, in.UserContext, in.Enriched), b.budgets.Product)
	if in.Compacted != nil && in.Compacted.CompactedText != "" {
		add("## Earlier conversation summary\n"+in.Compacted.CompactedText, b.budgets.Compacted)
	}
	add(b.flowBlock(in.Session, in.Agent, in.State), b.budgets.FlowState)
	add(b.confirmationBlock(in.Session), b.budgets.Buffer)
	add(b.navigationBlock(in.Agent, in.Session), b.budgets.Buffer)
	sections = append(sections, b.languageDirective(lang))

	systemPrompt := strings.Join(sections, "\n\n")

	isRoot := in.Session.StackDepth() <= 1
	tools := b.fitTools(ctx, model, BuildTools(in.Agent, in.State, isRoot))

	req := &Request{
		SystemPrompt: systemPrompt,
		Messages:     b.messageWindow(model, in.History),
		Tools:        tools,
		Model:        model,
		Temperature:  in.Agent.ModelConfig.Temperature,
		MaxTokens:    in.Agent.ModelConfig.MaxTokens,
	}
	b.logger.Debug(ctx, "context assembled",
		"agent_id", in.Agent.ConfigID,
		"model", model,
		"system_tokens", b.tok.Count(model, systemPrompt),
		"messages", len(req.Messages),
		"tools", len(tools))
	return req
}

// syntheticTools are always kept regardless of the tool budget; dropping
// navigation or language switching would strand the user.
var syntheticTools = map[string]bool{
	ToolGoHome:         true,
	ToolUpOneLevel:     true,
	ToolEscalate:       true,
	ToolChangeLanguage: true,
}

// fitTools enforces the tool-section token budget: synthetic tools are
// charged first, then agent and state tools are kept in order until the
// budget runs out. Trailing tools past the budget are dropped.
func (b *Builder) fitTools(ctx context.Context, model string, defs []ToolDefinition) []ToolDefinition {
	budget := b.budgets.Tools
	if budget <= 0 {
		return defs
	}

	total := 0
	for _, def := range defs {
		if syntheticTools[def.Name] {
			total += b.toolTokens(model, def)
		}
	}

	kept := make([]ToolDefinition, 0, len(defs))
	dropped := 0
	exhausted := false
	for _, def := range defs {
		if syntheticTools[def.Name] {
			kept = append(kept, def)
			continue
		}
		if exhausted {
			dropped++
			continue
		}
		cost := b.toolTokens(model, def)
		if total+cost > budget {
			exhausted = true
			dropped++
			continue
		}
		total += cost
		kept = append(kept, def)
	}
	if dropped > 0 {
		b.logger.Warn(ctx, "tool list over token budget",
			"budget", budget, "dropped", dropped, "kept", len(kept))
	}
	return kept
}

func (b *Builder) toolTokens(model string, def ToolDefinition) int {
	params, _ := json.Marshal(def.Parameters)
	return b.tok.Count(model, def.Name+" "+def.Description+" "+string(params))
}

func (b *Builder) fit(model, text string, budget int) string {
	if b.tok.Count(model, text) <= budget {
		return text
	}
	return b.tok.Truncate(model, text, budget)
}

func (b *Builder) agentBlock(agent *config.AgentConfig) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Current role: %s\n", agent.Name)
	if agent.Description != "" {
		sb.WriteString(agent.Description)
		sb.WriteString("\n")
	}
	if agent.SystemPromptAddition != "" {
		sb.WriteString(agent.SystemPromptAddition)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Builder) profileBlock(uc *models.UserContext) string {
	if uc == nil || uc.Profile.Name == "" {
		return ""
	}
	name := uc.Profile.PreferredName
	if name == "" {
		name = uc.Profile.Name
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## User\nName: %s. Address them as %s.", uc.Profile.Name, name)
	if uc.BehavioralSummary != "" {
		sb.WriteString("\n")
		sb.WriteString(uc.BehavioralSummary)
	}
	return sb.String()
}

// productBlock renders the active agent's product summary plus any data the
// enrichment pass fetched for this turn.
func (b *Builder) productBlock(agent *config.AgentConfig, uc *models.UserContext, enriched map[string]any) string {
	var parts []string
	if agent.ProductKey != "" && uc != nil {
		if summary, ok := uc.ProductSummaries[agent.ProductKey]; ok && len(summary) > 0 {
			parts = append(parts, "## Product context\n"+compactJSON(summary))
		}
	}
	if len(enriched) > 0 {
		parts = append(parts, "## Available data\n"+compactJSON(enriched))
	}
	return strings.Join(parts, "\n\n")
}

func (b *Builder) flowBlock(session *models.Session, agent *config.AgentConfig, state *config.SubflowStateConfig) string {
	flow := session.CurrentFlow
	if flow == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Active flow\nFlow: %s\nState: %s", flow.FlowConfigID, flow.CurrentStateID)
	if state != nil && state.AgentInstructions != "" {
		sb.WriteString("\n")
		sb.WriteString(state.AgentInstructions)
	}
	if len(flow.StateData) > 0 {
		sb.WriteString("\nCollected so far: ")
		sb.WriteString(compactJSON(flow.StateData))
	}
	return sb.String()
}

func (b *Builder) confirmationBlock(session *models.Session) string {
	pc := session.PendingConfirmation
	if pc == nil {
		return ""
	}
	return fmt.Sprintf("## Pending confirmation\nThe user was asked: %q\nTheir next message answers that question. Do not ask again.", pc.DisplayMessage)
}

func (b *Builder) navigationBlock(agent *config.AgentConfig, session *models.Session) string {
	isRoot := session.StackDepth() <= 1
	var lines []string
	if !isRoot {
		lines = append(lines, "Call go_home when the user wants something outside this area.")
	}
	if agent.NavigationFlags.CanGoUp && !isRoot {
		lines = append(lines, "Call up_one_level to return to the previous assistant.")
	}
	if agent.NavigationFlags.CanEscalate {
		lines = append(lines, "Call escalate_to_human only when the user explicitly asks for a person.")
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Navigation\n" + strings.Join(lines, "\n")
}

func (b *Builder) languageDirective(lang string) string {
	if msg := b.messages.Get("language_directive", lang); msg != "language_directive" {
		return msg
	}
	switch lang {
	case "es":
		return "Responde siempre en español."
	default:
		return "Always respond in English."
	}
}

// messageWindow keeps the most recent messages that fit the budget, in
// chronological order. Tool-role messages are folded in as-is.
func (b *Builder) messageWindow(model string, history []models.Message) []ChatMessage {
	budget := b.budgets.RecentMessages
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := b.tok.Count(model, history[i].Content) + 4
		if used+cost > budget && start < len(history) {
			break
		}
		used += cost
		start = i
	}
	window := history[start:]
	out := make([]ChatMessage, 0, len(window))
	for _, m := range window {
		out = append(out, ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
