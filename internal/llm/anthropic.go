package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vireopay/dialog/internal/contextbuilder"
	"github.com/vireopay/dialog/internal/observability"
	"github.com/vireopay/dialog/internal/retry"
	"github.com/vireopay/dialog/pkg/models"
)

// defaultMaxTokens applies when an agent's model_config omits max_tokens.
const defaultMaxTokens = 1024

// AnthropicProvider adapts the Anthropic Messages API. Responses are
// non-streaming; each turn is one request.
type AnthropicProvider struct {
	client  anthropic.Client
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewAnthropicProvider creates the provider. baseURL may be empty.
func NewAnthropicProvider(apiKey, baseURL string, logger *observability.Logger, metrics *observability.Metrics) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AnthropicProvider{
		client:  anthropic.NewClient(opts...),
		logger:  logger,
		metrics: metrics,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete sends one Messages request with retry. Rate limits, connection
// errors, and upstream 5xx retry with exponential backoff; other 4xx fail
// immediately.
func (p *AnthropicProvider) Complete(ctx context.Context, req *contextbuilder.Request) (*Completion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  convertAnthropicMessages(req.Messages),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: req.SystemPrompt},
		}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	var msg *anthropic.Message
	start := time.Now()
	err := retry.Do(ctx, retryConfig(), func() error {
		var callErr error
		msg, callErr = p.client.Messages.New(ctx, params)
		if callErr == nil {
			return nil
		}
		if !anthropicRetryable(callErr) {
			return retry.Permanent(callErr)
		}
		p.logger.Warn(ctx, "anthropic request failed, retrying", "error", callErr)
		return callErr
	})
	p.observe(req.Model, err, start, msg)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	completion := &Completion{
		StopReason:   string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		Model:        string(msg.Model),
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			completion.Text += block.Text
		case "tool_use":
			completion.ToolCalls = append(completion.ToolCalls, models.ToolCall{
				ID:     block.ID,
				Name:   block.Name,
				Params: decodeToolParams(block.Input, p.logger, ctx, block.Name),
			})
		}
	}
	return completion, nil
}

func convertAnthropicMessages(messages []contextbuilder.ChatMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case models.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			// System history entries and tool transcripts fold into user turns.
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func convertAnthropicTools(defs []contextbuilder.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		raw, err := json.Marshal(def.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", def.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("tool %s: %w", def.Name, err)
		}
		tool := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if tool.OfTool == nil {
			return nil, fmt.Errorf("tool %s: missing tool definition", def.Name)
		}
		tool.OfTool.Description = anthropic.String(def.Description)
		out = append(out, tool)
	}
	return out, nil
}

// decodeToolParams decodes the model's argument JSON. Malformed arguments
// map to an empty parameter set; the tool executor reports the missing
// required fields.
func decodeToolParams(raw json.RawMessage, logger *observability.Logger, ctx context.Context, toolName string) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil || params == nil {
		logger.Warn(ctx, "malformed tool arguments", "tool", toolName)
		return map[string]any{}
	}
	return params
}

func anthropicRetryable(err error) bool {
	var apierr *anthropic.Error
	if !errors.As(err, &apierr) {
		// No structured status: connection-level failure, retry.
		return true
	}
	return apierr.StatusCode == 429 || apierr.StatusCode >= 500
}

func maxTokensOrDefault(maxTokens int) int {
	if maxTokens <= 0 {
		return defaultMaxTokens
	}
	return maxTokens
}

func (p *AnthropicProvider) observe(model string, err error, start time.Time, msg *anthropic.Message) {
	if p.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.LLMRequestCounter.WithLabelValues(p.Name(), model, status).Inc()
	p.metrics.LLMRequestDuration.WithLabelValues(p.Name(), model).Observe(time.Since(start).Seconds())
	if msg != nil {
		p.metrics.LLMTokensUsed.WithLabelValues(p.Name(), model, "input").Add(float64(msg.Usage.InputTokens))
		p.metrics.LLMTokensUsed.WithLabelValues(p.Name(), model, "output").Add(float64(msg.Usage.OutputTokens))
	}
}
