package tools

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vireopay/dialog/internal/config"
)

// CoerceParams validates and coerces a parameter map against the tool's
// declared schema. The result is a new map; the input is not mutated.
// Coercion is deterministic for a fixed schema and input.
func CoerceParams(declared []config.ToolParameter, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}

	for _, p := range declared {
		value, present := out[p.Name]
		if !present || value == nil {
			if p.Required {
				return nil, fmt.Errorf("missing required parameter %q", p.Name)
			}
			continue
		}
		coerced, err := coerceValue(p.Type, value)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		if len(p.Enum) > 0 {
			if s, ok := coerced.(string); ok && !contains(p.Enum, s) {
				return nil, fmt.Errorf("parameter %q: %q not in %v", p.Name, s, p.Enum)
			}
		}
		out[p.Name] = coerced
	}
	return out, nil
}

func coerceValue(declaredType string, value any) (any, error) {
	switch declaredType {
	case "string":
		switch v := value.(type) {
		case string:
			return v, nil
		case bool:
			return strconv.FormatBool(v), nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case int:
			return strconv.Itoa(v), nil
		default:
			return nil, fmt.Errorf("cannot convert %T to string", value)
		}
	case "integer":
		switch v := value.(type) {
		case bool:
			return nil, fmt.Errorf("boolean is not an integer")
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(math.Floor(v)), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as integer", v)
			}
			return int(math.Floor(f)), nil
		default:
			return nil, fmt.Errorf("cannot convert %T to integer", value)
		}
	case "number":
		switch v := value.(type) {
		case bool:
			return nil, fmt.Errorf("boolean is not a number")
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as number", v)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("cannot convert %T to number", value)
		}
	case "boolean":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1", "yes", "y":
				return true, nil
			case "false", "0", "no", "n":
				return false, nil
			}
			return nil, fmt.Errorf("cannot parse %q as boolean", v)
		default:
			return nil, fmt.Errorf("cannot convert %T to boolean", value)
		}
	case "object":
		if v, ok := value.(map[string]any); ok {
			return v, nil
		}
		return nil, fmt.Errorf("expected object, got %T", value)
	case "array":
		if v, ok := value.([]any); ok {
			return v, nil
		}
		return nil, fmt.Errorf("expected array, got %T", value)
	default:
		// Unknown declared types pass through untouched.
		return value, nil
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
