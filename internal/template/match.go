package template

import (
	"github.com/vireopay/dialog/internal/condition"
	"github.com/vireopay/dialog/internal/config"
)

// Trigger is the lookup key for response template selection.
type Trigger struct {
	Type      config.TriggerType
	ToolName  string
	StateName string
	ErrorCode string
}

// MatchResponseTemplate returns the first template whose trigger matches and
// whose required fields all resolve under ctx, or nil. Templates are
// evaluated in declaration order; mandatory templates win over suggested
// ones when both match.
func MatchResponseTemplate(templates []config.ResponseTemplateConfig, trigger Trigger, ctx map[string]any) *config.ResponseTemplateConfig {
	var suggested *config.ResponseTemplateConfig
	for i := range templates {
		t := &templates[i]
		if !triggerMatches(t.Trigger, trigger) {
			continue
		}
		if !requiredFieldsResolve(t.RequiredFields, ctx) {
			continue
		}
		if t.Enforcement == config.EnforcementSuggested {
			if suggested == nil {
				suggested = t
			}
			continue
		}
		return t
	}
	return suggested
}

func triggerMatches(cfg config.TriggerConfig, key Trigger) bool {
	if cfg.Type != key.Type {
		return false
	}
	if cfg.ToolName != "" && cfg.ToolName != key.ToolName {
		return false
	}
	if cfg.StateName != "" && cfg.StateName != key.StateName {
		return false
	}
	if cfg.ErrorCode != "" && cfg.ErrorCode != key.ErrorCode {
		return false
	}
	return true
}

func requiredFieldsResolve(fields []string, ctx map[string]any) bool {
	for _, field := range fields {
		if _, ok := condition.ResolvePath(ctx, field); !ok {
			return false
		}
	}
	return true
}
