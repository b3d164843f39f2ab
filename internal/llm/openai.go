package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vireopay/dialog/internal/contextbuilder"
	"github.com/vireopay/dialog/internal/observability"
	"github.com/vireopay/dialog/internal/retry"
	"github.com/vireopay/dialog/pkg/models"
)

// OpenAIProvider adapts any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	client  *openai.Client
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewOpenAIProvider creates the provider. baseURL may be empty.
func NewOpenAIProvider(apiKey, baseURL string, logger *observability.Logger, metrics *observability.Metrics) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(cfg),
		logger:  logger,
		metrics: metrics,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, req *contextbuilder.Request) (*Completion, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		if m.Content == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  msgs,
		MaxTokens: maxTokensOrDefault(req.MaxTokens),
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	for _, def := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}

	var resp openai.ChatCompletionResponse
	start := time.Now()
	err := retry.Do(ctx, retryConfig(), func() error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, chatReq)
		if callErr == nil {
			return nil
		}
		if !openaiRetryable(callErr) {
			return retry.Permanent(callErr)
		}
		p.logger.Warn(ctx, "openai request failed, retrying", "error", callErr)
		return callErr
	})
	p.observeOpenAI(req.Model, err, start, resp)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: response has no choices")
	}

	choice := resp.Choices[0]
	completion := &Completion{
		Text:         choice.Message.Content,
		StopReason:   string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        resp.Model,
	}
	for _, call := range choice.Message.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, models.ToolCall{
			ID:     call.ID,
			Name:   call.Function.Name,
			Params: decodeToolParams(json.RawMessage(call.Function.Arguments), p.logger, ctx, call.Function.Name),
		})
	}
	return completion, nil
}

func openaiRetryable(err error) bool {
	var apierr *openai.APIError
	if !errors.As(err, &apierr) {
		return true
	}
	return apierr.HTTPStatusCode == 429 || apierr.HTTPStatusCode >= 500
}

func (p *OpenAIProvider) observeOpenAI(model string, err error, start time.Time, resp openai.ChatCompletionResponse) {
	if p.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.LLMRequestCounter.WithLabelValues(p.Name(), model, status).Inc()
	p.metrics.LLMRequestDuration.WithLabelValues(p.Name(), model).Observe(time.Since(start).Seconds())
	p.metrics.LLMTokensUsed.WithLabelValues(p.Name(), model, "input").Add(float64(resp.Usage.PromptTokens))
	p.metrics.LLMTokensUsed.WithLabelValues(p.Name(), model, "output").Add(float64(resp.Usage.CompletionTokens))
}
