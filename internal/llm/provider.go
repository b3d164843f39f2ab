// Package llm adapts upstream chat-completion APIs to the engine's request
// shape. Providers are thin: context assembly happens upstream and tool
// interpretation downstream.
package llm

import (
	"context"
	"time"

	"github.com/vireopay/dialog/internal/contextbuilder"
	"github.com/vireopay/dialog/internal/retry"
	"github.com/vireopay/dialog/pkg/models"
)

// Completion is the normalized model output for one request.
type Completion struct {
	Text         string
	ToolCalls    []models.ToolCall
	StopReason   string
	InputTokens  int
	OutputTokens int
	Model        string
}

// Provider is a chat-completions adapter.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *contextbuilder.Request) (*Completion, error)
}

// retryConfig is shared by all providers: three attempts, one second base
// delay, doubling. Rate limits, connection failures, and upstream 5xx are
// retried; other 4xx are permanent.
func retryConfig() retry.Config {
	return retry.Exponential(3, time.Second, 30*time.Second)
}
