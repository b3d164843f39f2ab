package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/vireopay/dialog/internal/contextbuilder"
	"github.com/vireopay/dialog/internal/observability"
	"github.com/vireopay/dialog/pkg/models"
)

func TestDecodeToolParams(t *testing.T) {
	logger := observability.NopLogger()
	ctx := context.Background()

	got := decodeToolParams(json.RawMessage(`{"amount": 250, "country": "MX"}`), logger, ctx, "t")
	if got["country"] != "MX" || got["amount"] != 250.0 {
		t.Fatalf("params = %v", got)
	}

	// Malformed argument JSON decodes to an empty map, never nil.
	for _, raw := range []string{``, `{`, `"just a string"`, `null`} {
		got := decodeToolParams(json.RawMessage(raw), logger, ctx, "t")
		if got == nil || len(got) != 0 {
			t.Errorf("decodeToolParams(%q) = %v, want empty map", raw, got)
		}
	}
}

func TestConvertAnthropicMessages(t *testing.T) {
	msgs := convertAnthropicMessages([]contextbuilder.ChatMessage{
		{Role: models.RoleUser, Content: "hola"},
		{Role: models.RoleAssistant, Content: "Hi Maria"},
		{Role: models.RoleTool, Content: "tool output"},
		{Role: models.RoleUser, Content: ""},
	})
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3 (empty content dropped)", len(msgs))
	}
	if msgs[0].Role != anthropic.MessageParamRoleUser || msgs[1].Role != anthropic.MessageParamRoleAssistant {
		t.Fatalf("roles = %v %v", msgs[0].Role, msgs[1].Role)
	}
	// Tool transcripts fold into user turns.
	if msgs[2].Role != anthropic.MessageParamRoleUser {
		t.Fatalf("tool role = %v", msgs[2].Role)
	}
}

func TestConvertAnthropicTools(t *testing.T) {
	defs := []contextbuilder.ToolDefinition{
		{
			Name:        "get_exchange_rate",
			Description: "Quote a corridor rate.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"country": map[string]any{"type": "string"},
				},
				"required": []string{"country"},
			},
		},
	}
	tools, err := convertAnthropicTools(defs)
	if err != nil {
		t.Fatalf("convertAnthropicTools: %v", err)
	}
	if len(tools) != 1 || tools[0].OfTool == nil {
		t.Fatalf("tools = %v", tools)
	}
	if tools[0].OfTool.Name != "get_exchange_rate" {
		t.Fatalf("name = %q", tools[0].OfTool.Name)
	}
}

func TestAnthropicRetryable(t *testing.T) {
	if !anthropicRetryable(errors.New("connection refused")) {
		t.Error("connection errors must retry")
	}
	if !anthropicRetryable(&anthropic.Error{StatusCode: 429}) {
		t.Error("429 must retry")
	}
	if !anthropicRetryable(&anthropic.Error{StatusCode: 503}) {
		t.Error("5xx must retry")
	}
	if anthropicRetryable(&anthropic.Error{StatusCode: 400}) {
		t.Error("400 must not retry")
	}
	if anthropicRetryable(&anthropic.Error{StatusCode: 401}) {
		t.Error("401 must not retry")
	}
}

func TestOpenAIRetryable(t *testing.T) {
	if !openaiRetryable(errors.New("dial tcp: timeout")) {
		t.Error("connection errors must retry")
	}
	if !openaiRetryable(&openai.APIError{HTTPStatusCode: 429}) {
		t.Error("429 must retry")
	}
	if openaiRetryable(&openai.APIError{HTTPStatusCode: 404}) {
		t.Error("404 must not retry")
	}
}

func TestMaxTokensOrDefault(t *testing.T) {
	if maxTokensOrDefault(0) != defaultMaxTokens {
		t.Fatal("zero must map to the default")
	}
	if maxTokensOrDefault(2048) != 2048 {
		t.Fatal("explicit value must pass through")
	}
}

func TestRetryConfig(t *testing.T) {
	cfg := retryConfig()
	if cfg.MaxAttempts != 3 {
		t.Fatalf("attempts = %d", cfg.MaxAttempts)
	}
	if cfg.Factor != 2.0 {
		t.Fatalf("factor = %v", cfg.Factor)
	}
}
