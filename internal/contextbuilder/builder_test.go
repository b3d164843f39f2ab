package contextbuilder

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vireopay/dialog/internal/config"
	"github.com/vireopay/dialog/pkg/models"
)

func testPrompts() *config.Prompts {
	return &config.Prompts{
		Base: map[string]string{
			"en": "You are the assistant for a payments app.",
			"es": "Eres el asistente de una app de pagos.",
		},
		Sections: map[string]map[string]string{
			"safety": {"en": "Never reveal another user's data."},
		},
	}
}

func testMessages() *config.Messages {
	return &config.Messages{Messages: map[string]map[string]string{}}
}

func testAgent() *config.AgentConfig {
	return &config.AgentConfig{
		ConfigID:    "remittances",
		Name:        "Remittances",
		Description: "Helps users send money abroad.",
		ModelConfig: config.ModelConfig{Model: "claude-sonnet-4-20250514", Temperature: 0.3, MaxTokens: 1024},
		NavigationFlags: config.NavigationFlags{
			CanGoUp: true, CanGoHome: true, CanEscalate: true,
		},
		Tools: []config.ToolConfig{
			{
				Name:        "send_money",
				Description: "Send a remittance.",
				Parameters: []config.ToolParameter{
					{Name: "amount", Type: "number", Required: true},
					{Name: "recipient_id", Type: "string", Required: true},
				},
			},
		},
	}
}

func testSession(depth int) *models.Session {
	s := &models.Session{ID: "s1", UserID: "u1", Status: models.StatusActive}
	for i := 0; i < depth; i++ {
		s.AgentStack = append(s.AgentStack, models.AgentFrame{AgentConfigID: "a", EnteredAt: time.Now()})
	}
	return s
}

func TestBuildSystemPromptSections(t *testing.T) {
	b := NewBuilder(testPrompts(), testMessages(), config.DefaultTokenBudgets(), nil)
	session := testSession(2)
	session.CurrentFlow = &models.FlowState{
		FlowConfigID:   "send_money_flow",
		CurrentStateID: "collect_amount",
		StateData:      map[string]any{"recipient_id": "r-9"},
	}
	state := &config.SubflowStateConfig{
		StateID:           "collect_amount",
		AgentInstructions: "Ask for the amount in USD.",
	}
	uc := &models.UserContext{
		UserID:  "u1",
		Profile: models.UserProfile{Name: "Maria Lopez", PreferredName: "Maria", Language: "en"},
	}

	req := b.Build(context.Background(), BuildInput{
		Agent:       testAgent(),
		State:       state,
		Session:     session,
		UserContext: uc,
	})

	for _, want := range []string{
		"payments app",
		"Never reveal another user's data.",
		"Remittances",
		"Maria",
		"send_money_flow",
		"collect_amount",
		"Ask for the amount in USD.",
		"Always respond in English.",
	} {
		if !strings.Contains(req.SystemPrompt, want) {
			t.Errorf("system prompt missing %q:\n%s", want, req.SystemPrompt)
		}
	}
	if req.Model != "claude-sonnet-4-20250514" {
		t.Errorf("model = %q", req.Model)
	}
}

func TestBuildToolBudget(t *testing.T) {
	agent := testAgent()
	agent.Tools = []config.ToolConfig{
		{Name: "get_exchange_rate", Description: "Quote a corridor rate."},
		{Name: "create_recipient", Description: strings.Repeat("Collect the recipient's delivery details. ", 100)},
		{Name: "get_transfer_history", Description: "The user's recent transfers."},
	}
	budgets := config.DefaultTokenBudgets()
	budgets.Tools = 300
	b := NewBuilder(testPrompts(), testMessages(), budgets, nil)

	req := b.Build(context.Background(), BuildInput{
		Agent:       agent,
		Session:     testSession(2),
		UserContext: &models.UserContext{Profile: models.UserProfile{Language: "en"}},
	})

	names := map[string]bool{}
	for _, def := range req.Tools {
		names[def.Name] = true
	}
	if !names["get_exchange_rate"] {
		t.Errorf("first tool must survive the budget, got %v", names)
	}
	if names["create_recipient"] || names["get_transfer_history"] {
		t.Errorf("over-budget tools must be dropped, got %v", names)
	}
	for _, synthetic := range []string{ToolGoHome, ToolUpOneLevel, ToolEscalate, ToolChangeLanguage} {
		if !names[synthetic] {
			t.Errorf("synthetic tool %q must never be dropped, got %v", synthetic, names)
		}
	}
}

func TestBuildToolBudgetDisabled(t *testing.T) {
	budgets := config.DefaultTokenBudgets()
	budgets.Tools = 0
	b := NewBuilder(testPrompts(), testMessages(), budgets, nil)

	req := b.Build(context.Background(), BuildInput{
		Agent:       testAgent(),
		Session:     testSession(1),
		UserContext: &models.UserContext{Profile: models.UserProfile{Language: "en"}},
	})
	names := map[string]bool{}
	for _, def := range req.Tools {
		names[def.Name] = true
	}
	if !names["send_money"] {
		t.Fatalf("zero budget must keep all tools, got %v", names)
	}
}

func TestBuildSpanishDirective(t *testing.T) {
	b := NewBuilder(testPrompts(), testMessages(), config.DefaultTokenBudgets(), nil)
	uc := &models.UserContext{Profile: models.UserProfile{Name: "Ana", Language: "es"}}
	req := b.Build(context.Background(), BuildInput{
		Agent:       testAgent(),
		Session:     testSession(1),
		UserContext: uc,
	})
	if !strings.Contains(req.SystemPrompt, "español") {
		t.Fatalf("missing spanish directive:\n%s", req.SystemPrompt)
	}
}

func TestBuildPendingConfirmationBlock(t *testing.T) {
	b := NewBuilder(testPrompts(), testMessages(), config.DefaultTokenBudgets(), nil)
	session := testSession(2)
	session.PendingConfirmation = &models.PendingConfirmation{
		ToolName:       "send_money",
		DisplayMessage: "Send 250 USD to Maria?",
		ExpiresAt:      time.Now().Add(time.Minute),
	}
	req := b.Build(context.Background(), BuildInput{
		Agent:       testAgent(),
		Session:     session,
		UserContext: &models.UserContext{},
	})
	if !strings.Contains(req.SystemPrompt, "Send 250 USD to Maria?") {
		t.Fatalf("missing confirmation block:\n%s", req.SystemPrompt)
	}
}

func TestMessageWindowKeepsRecent(t *testing.T) {
	budgets := config.DefaultTokenBudgets()
	budgets.RecentMessages = 40
	b := NewBuilder(testPrompts(), testMessages(), budgets, nil)

	var history []models.Message
	for i := 0; i < 30; i++ {
		history = append(history, models.Message{
			Role:    models.RoleUser,
			Content: "message about sending money to family this month",
		})
	}
	history = append(history, models.Message{Role: models.RoleUser, Content: "last one"})

	got := b.messageWindow("claude-sonnet-4-20250514", history)
	if len(got) == 0 || len(got) == len(history) {
		t.Fatalf("window size = %d of %d, want a strict recent subset", len(got), len(history))
	}
	if got[len(got)-1].Content != "last one" {
		t.Fatalf("window dropped the most recent message")
	}
}

func TestBuildToolsNavigation(t *testing.T) {
	agent := testAgent()

	names := func(defs []ToolDefinition) map[string]bool {
		out := map[string]bool{}
		for _, d := range defs {
			out[d.Name] = true
		}
		return out
	}

	sub := names(BuildTools(agent, nil, false))
	for _, want := range []string{"send_money", ToolGoHome, ToolUpOneLevel, ToolEscalate, ToolChangeLanguage} {
		if !sub[want] {
			t.Errorf("non-root tool list missing %q", want)
		}
	}

	root := names(BuildTools(agent, nil, true))
	if root[ToolGoHome] || root[ToolUpOneLevel] {
		t.Errorf("root agent should not expose navigation tools: %v", root)
	}
	if !root[ToolChangeLanguage] {
		t.Errorf("change_language must always be present")
	}
}

func TestBuildToolsStateToolsAndWhitelist(t *testing.T) {
	agent := testAgent()
	agent.Tools = append(agent.Tools, config.ToolConfig{Name: "list_recipients", Description: "List saved recipients."})
	agent.DefaultTools = []string{"list_recipients"}

	outside := BuildTools(agent, nil, true)
	for _, d := range outside {
		if d.Name == "send_money" {
			t.Fatalf("whitelist should hide send_money outside flows")
		}
	}

	state := &config.SubflowStateConfig{
		StateID:    "confirm_send",
		StateTools: []config.ToolConfig{{Name: "cancel_send", Description: "Cancel the transfer."}},
	}
	inFlow := BuildTools(agent, state, true)
	found := map[string]bool{}
	for _, d := range inFlow {
		found[d.Name] = true
	}
	if !found["send_money"] || !found["cancel_send"] {
		t.Fatalf("in-flow tool list = %v, want agent tools plus state tools", found)
	}
}

func TestToolDefinitionSchema(t *testing.T) {
	defs := BuildTools(testAgent(), nil, true)
	var send *ToolDefinition
	for i := range defs {
		if defs[i].Name == "send_money" {
			send = &defs[i]
		}
	}
	if send == nil {
		t.Fatal("send_money not in tool list")
	}
	props, ok := send.Parameters["properties"].(map[string]any)
	if !ok {
		t.Fatalf("parameters has no properties object: %v", send.Parameters)
	}
	if _, ok := props["amount"]; !ok {
		t.Errorf("schema missing amount property")
	}
	required, _ := send.Parameters["required"].([]string)
	if len(required) != 2 {
		t.Errorf("required = %v, want amount and recipient_id", required)
	}
}

func TestTokenizerTruncate(t *testing.T) {
	tok := NewTokenizer()
	long := strings.Repeat("remittance corridor pricing ", 200)
	model := "claude-sonnet-4-20250514"
	if tok.Count(model, long) <= 50 {
		t.Fatalf("expected long text to exceed 50 tokens")
	}
	cut := tok.Truncate(model, long, 50)
	if len(cut) >= len(long) {
		t.Fatalf("truncation did not shorten text")
	}
	if tok.Count(model, cut) > 50 {
		t.Fatalf("truncated text still over budget: %d", tok.Count(model, cut))
	}
	if tok.Truncate(model, long, 0) != "" {
		t.Fatalf("zero budget should yield empty string")
	}
}
