package tools

import (
	"context"
	"strings"

	"github.com/vireopay/dialog/internal/observability"
)

// maxStringLength bounds any single string parameter after sanitisation.
const maxStringLength = 10000

// sanitizeParams cleans every string in the parameter map, recursing into
// nested maps and arrays.
func sanitizeParams(ctx context.Context, logger *observability.Logger, params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = sanitizeValue(ctx, logger, k, v)
	}
	return out
}

func sanitizeValue(ctx context.Context, logger *observability.Logger, key string, value any) any {
	switch v := value.(type) {
	case string:
		return sanitizeString(ctx, logger, key, v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, nested := range v {
			out[k] = sanitizeValue(ctx, logger, key+"."+k, nested)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitizeValue(ctx, logger, key, item)
		}
		return out
	default:
		return value
	}
}

// sanitizeString strips NUL bytes, drops control characters other than tab
// and newline, trims outer whitespace, and truncates oversized values.
func sanitizeString(ctx context.Context, logger *observability.Logger, key, s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r == 0 {
			continue
		}
		if r < 0x20 && r != '\t' && r != '\n' {
			continue
		}
		if r == 0x7f {
			continue
		}
		sb.WriteRune(r)
	}
	out := strings.TrimSpace(sb.String())
	if len(out) > maxStringLength {
		// The limit counts characters, not bytes; slicing bytes could cut a
		// rune in half and produce invalid UTF-8.
		if runes := []rune(out); len(runes) > maxStringLength {
			logger.Warn(ctx, "string parameter truncated", "param", key, "length", len(runes))
			out = string(runes[:maxStringLength])
		}
	}
	return out
}
