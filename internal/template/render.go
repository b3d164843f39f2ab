// Package template renders response and confirmation templates by
// interpolating dotted paths from a context mapping, and selects response
// templates by trigger.
package template

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/vireopay/dialog/internal/condition"
)

var (
	doublePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)
	dollarPattern = regexp.MustCompile(`\$\{\s*([a-zA-Z0-9_.]+)\s*\}`)
	singlePattern = regexp.MustCompile(`\{([a-zA-Z0-9_.]+)\}`)
)

// Render substitutes every {{dotted.path}} occurrence with the string form
// of the resolved value. Legacy ${path} and {path} forms are recognised too.
// Unresolved placeholders are stripped. Rendering is idempotent for a fixed
// context.
func Render(tmpl string, ctx map[string]any) string {
	out := doublePattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		path := doublePattern.FindStringSubmatch(match)[1]
		return renderValue(ctx, path)
	})
	out = dollarPattern.ReplaceAllStringFunc(out, func(match string) string {
		path := dollarPattern.FindStringSubmatch(match)[1]
		return renderValue(ctx, path)
	})
	out = singlePattern.ReplaceAllStringFunc(out, func(match string) string {
		path := singlePattern.FindStringSubmatch(match)[1]
		return renderValue(ctx, path)
	})
	return out
}

func renderValue(ctx map[string]any, path string) string {
	v, ok := condition.ResolvePath(ctx, path)
	if !ok {
		return ""
	}
	return Stringify(v)
}

// Stringify converts a resolved value to its display form. Floats drop
// trailing zeros; containers render as compact JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

// FindUnresolvedPlaceholders returns the placeholder paths in tmpl that do
// not resolve under ctx, in order of first appearance.
func FindUnresolvedPlaceholders(tmpl string, ctx map[string]any) []string {
	var unresolved []string
	seen := map[string]bool{}
	for _, pattern := range []*regexp.Regexp{doublePattern, dollarPattern, singlePattern} {
		for _, match := range pattern.FindAllStringSubmatch(tmpl, -1) {
			path := match[1]
			if seen[path] {
				continue
			}
			seen[path] = true
			if _, ok := condition.ResolvePath(ctx, path); !ok {
				unresolved = append(unresolved, path)
			}
		}
	}
	return unresolved
}

// HasPlaceholders reports whether tmpl contains any placeholder syntax.
func HasPlaceholders(tmpl string) bool {
	return doublePattern.MatchString(tmpl) ||
		dollarPattern.MatchString(tmpl) ||
		(singlePattern.MatchString(tmpl) && !strings.Contains(tmpl, "{{"))
}
