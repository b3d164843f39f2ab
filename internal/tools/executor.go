// Package tools executes tool calls: confirmation gating, parameter
// validation and coercion, input sanitisation, gateway dispatch, and result
// normalisation. Nothing in this package raises across its boundary; every
// failure is a ToolResult.
package tools

import (
	"context"
	"time"

	"github.com/vireopay/dialog/internal/config"
	"github.com/vireopay/dialog/internal/observability"
	"github.com/vireopay/dialog/internal/template"
	"github.com/vireopay/dialog/pkg/models"
)

// Dispatcher issues a validated tool call downstream. The gateway client is
// the production implementation.
type Dispatcher interface {
	Call(ctx context.Context, toolName string, params map[string]any, userID, language string) *models.ToolResult
}

// Executor runs tool calls for the orchestrator.
type Executor struct {
	dispatcher Dispatcher
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewExecutor creates an Executor. metrics may be nil.
func NewExecutor(dispatcher Dispatcher, logger *observability.Logger, metrics *observability.Metrics) *Executor {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Executor{dispatcher: dispatcher, logger: logger, metrics: metrics}
}

// ExecOptions carries the per-call context of an execution.
type ExecOptions struct {
	Session          *models.Session
	Language         string
	SkipConfirmation bool
}

// Execute runs one tool call. Tools that require confirmation return a
// confirmation prompt without touching the gateway unless SkipConfirmation
// is set.
func (e *Executor) Execute(ctx context.Context, tool *config.ToolConfig, params map[string]any, opts ExecOptions) *models.ToolResult {
	if params == nil {
		params = map[string]any{}
	}

	if tool.RequiresConfirmation && !opts.SkipConfirmation {
		message := e.renderConfirmation(tool, params, opts.Session)
		e.logger.Info(ctx, "tool awaiting confirmation", "tool", tool.Name)
		return &models.ToolResult{
			RequiresConfirmation: true,
			ConfirmationMessage:  message,
		}
	}

	coerced, err := CoerceParams(tool.Parameters, params)
	if err != nil {
		e.observe(tool.Name, "invalid", 0)
		e.logger.Warn(ctx, "tool parameter validation failed", "tool", tool.Name, "error", err)
		return &models.ToolResult{
			Success:   false,
			Error:     err.Error(),
			ErrorCode: models.ErrCodeInvalidParameters,
		}
	}
	sanitized := sanitizeParams(ctx, e.logger, coerced)

	start := time.Now()
	result := e.dispatcher.Call(ctx, tool.Name, sanitized, opts.Session.UserID, opts.Language)
	elapsed := time.Since(start)

	if result.Success {
		result.Data = normalizeResult(result.Data)
		e.observe(tool.Name, "success", elapsed)
		e.logger.Info(ctx, "tool executed", "tool", tool.Name, "duration_ms", elapsed.Milliseconds())
	} else {
		e.observe(tool.Name, "error", elapsed)
		e.logger.Warn(ctx, "tool failed",
			"tool", tool.Name, "error_code", result.ErrorCode, "error", result.Error)
	}
	return result
}

// renderConfirmation renders the tool's confirmation template over the flow
// data overlaid with the call parameters.
func (e *Executor) renderConfirmation(tool *config.ToolConfig, params map[string]any, session *models.Session) string {
	tmplCtx := map[string]any{}
	if session != nil && session.CurrentFlow != nil {
		for k, v := range session.CurrentFlow.StateData {
			tmplCtx[k] = v
		}
	}
	for k, v := range params {
		tmplCtx[k] = v
	}
	if tool.ConfirmationTemplate == "" {
		return "Do you want to proceed?"
	}
	return template.Render(tool.ConfirmationTemplate, tmplCtx)
}

func (e *Executor) observe(toolName, status string, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	if elapsed > 0 {
		e.metrics.ToolExecutionDuration.WithLabelValues(toolName).Observe(elapsed.Seconds())
	}
}
