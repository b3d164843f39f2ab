// Package gateway calls the downstream service gateway that fronts the
// payment products. Tool names map to HTTP endpoints through a static
// service map; results come back as ToolResult, never as raised errors.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/vireopay/dialog/internal/observability"
	"github.com/vireopay/dialog/pkg/models"
)

// Client issues tool calls against the service gateway.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewClient creates a gateway client. metrics may be nil.
func NewClient(baseURL string, timeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Client {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		metrics: metrics,
	}
}

// Call dispatches a tool to its endpoint. Path placeholders are filled from
// params and removed; what remains becomes query parameters for GET/DELETE
// or the JSON body for POST/PUT. userID and language ride as headers.
func (c *Client) Call(ctx context.Context, toolName string, params map[string]any, userID, language string) *models.ToolResult {
	ep, ok := Lookup(toolName)
	if !ok {
		return &models.ToolResult{
			Success:   false,
			Error:     fmt.Sprintf("no endpoint for tool %q", toolName),
			ErrorCode: models.ErrCodeUnknownTool,
		}
	}

	remaining := make(map[string]any, len(params))
	for k, v := range params {
		remaining[k] = v
	}
	path, err := fillPath(ep.Path, remaining)
	if err != nil {
		return &models.ToolResult{
			Success:   false,
			Error:     err.Error(),
			ErrorCode: models.ErrCodeInvalidParameters,
		}
	}

	var body io.Reader
	reqURL := c.baseURL + path
	switch ep.Method {
	case http.MethodGet, http.MethodDelete:
		if len(remaining) > 0 {
			query := url.Values{}
			for k, v := range remaining {
				query.Set(k, fmt.Sprintf("%v", v))
			}
			reqURL += "?" + query.Encode()
		}
	default:
		encoded, err := json.Marshal(remaining)
		if err != nil {
			return &models.ToolResult{
				Success:   false,
				Error:     fmt.Sprintf("encode request body: %v", err),
				ErrorCode: models.ErrCodeInvalidParameters,
			}
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, ep.Method, reqURL, body)
	if err != nil {
		return &models.ToolResult{Success: false, Error: err.Error(), ErrorCode: models.ErrCodeConnectionError}
	}
	req.Header.Set("X-User-Id", userID)
	req.Header.Set("Accept-Language", language)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if c.metrics != nil {
		c.metrics.GatewayRequestDuration.WithLabelValues(ep.Method, ep.Path).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		code := models.ErrCodeConnectionError
		if isTimeout(err) {
			code = models.ErrCodeTimeout
		}
		c.logger.Warn(ctx, "gateway request failed",
			"tool", toolName, "method", ep.Method, "path", ep.Path, "error", err)
		return &models.ToolResult{Success: false, Error: err.Error(), ErrorCode: code}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &models.ToolResult{Success: false, Error: err.Error(), ErrorCode: models.ErrCodeConnectionError}
	}

	if resp.StatusCode >= 400 {
		return errorResult(resp.StatusCode, payload)
	}
	return successResult(payload)
}

// fillPath substitutes {name} segments from params, consuming them.
func fillPath(path string, params map[string]any) (string, error) {
	out := path
	for {
		start := strings.Index(out, "{")
		if start < 0 {
			return out, nil
		}
		end := strings.Index(out[start:], "}")
		if end < 0 {
			return "", fmt.Errorf("malformed endpoint path %q", path)
		}
		name := out[start+1 : start+end]
		value, ok := params[name]
		if !ok {
			return "", fmt.Errorf("missing path parameter %q", name)
		}
		delete(params, name)
		out = out[:start] + url.PathEscape(fmt.Sprintf("%v", value)) + out[start+end+1:]
	}
}

// errorResult decodes a structured {detail: {error, error_code}} body, with
// fallbacks for plain text.
func errorResult(status int, payload []byte) *models.ToolResult {
	var wrapper struct {
		Detail struct {
			Error     string `json:"error"`
			ErrorCode string `json:"error_code"`
		} `json:"detail"`
	}
	result := &models.ToolResult{Success: false, ErrorCode: models.ErrCodeServiceError}
	if err := json.Unmarshal(payload, &wrapper); err == nil && wrapper.Detail.Error != "" {
		result.Error = wrapper.Detail.Error
		if wrapper.Detail.ErrorCode != "" {
			result.ErrorCode = wrapper.Detail.ErrorCode
		}
		return result
	}
	result.Error = fmt.Sprintf("gateway returned status %d", status)
	if len(payload) > 0 && len(payload) < 500 {
		result.Error = fmt.Sprintf("gateway returned status %d: %s", status, strings.TrimSpace(string(payload)))
	}
	return result
}

// successResult unwraps {success, data} envelopes. A success:false envelope
// is a failure even on HTTP 200.
func successResult(payload []byte) *models.ToolResult {
	if len(payload) == 0 {
		return &models.ToolResult{Success: true, Data: map[string]any{}}
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return &models.ToolResult{
			Success:   false,
			Error:     fmt.Sprintf("decode gateway response: %v", err),
			ErrorCode: models.ErrCodeServiceError,
		}
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return &models.ToolResult{Success: true, Data: map[string]any{"result": decoded}}
	}
	if flag, present := obj["success"]; present {
		ok, _ := flag.(bool)
		data, _ := obj["data"].(map[string]any)
		if !ok {
			msg, _ := obj["error"].(string)
			code, _ := obj["error_code"].(string)
			if code == "" {
				code = models.ErrCodeServiceError
			}
			return &models.ToolResult{Success: false, Error: msg, ErrorCode: code, Data: data}
		}
		if data == nil {
			data = map[string]any{}
		}
		return &models.ToolResult{Success: true, Data: data}
	}
	return &models.ToolResult{Success: true, Data: obj}
}

// Health probes the gateway's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gateway health: status %d", resp.StatusCode)
	}
	return nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded)
}
