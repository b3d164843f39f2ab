package contextbuilder

import (
	"github.com/vireopay/dialog/internal/config"
)

// Synthetic tools the assembler injects alongside the agent's own tools.
const (
	ToolGoHome          = "go_home"
	ToolUpOneLevel      = "up_one_level"
	ToolEscalate        = "escalate_to_human"
	ToolChangeLanguage  = "change_language"
	SkipConfirmationKey = "skip_confirmation"
)

// ToolDefinition is one JSON-schema tool handed to the LLM.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// BuildTools assembles the tool list for a turn: the active agent's tools
// (restricted to default_tools outside a flow when the whitelist is set),
// the current state's inline tools, the navigation tools the agent's flags
// allow, and change_language.
func BuildTools(agent *config.AgentConfig, state *config.SubflowStateConfig, isRoot bool) []ToolDefinition {
	var defs []ToolDefinition

	whitelist := map[string]bool{}
	applyWhitelist := state == nil && len(agent.DefaultTools) > 0
	for _, name := range agent.DefaultTools {
		whitelist[name] = true
	}

	for _, tool := range agent.Tools {
		if applyWhitelist && !whitelist[tool.Name] {
			continue
		}
		defs = append(defs, toolDefinition(tool))
	}
	if state != nil {
		for _, tool := range state.StateTools {
			defs = append(defs, toolDefinition(tool))
		}
	}

	if !isRoot {
		defs = append(defs, ToolDefinition{
			Name:        ToolGoHome,
			Description: "Return to the main assistant. Use when the user wants to do something outside this area.",
			Parameters:  emptySchema(),
		})
	}
	if agent.NavigationFlags.CanGoUp && !isRoot {
		defs = append(defs, ToolDefinition{
			Name:        ToolUpOneLevel,
			Description: "Go back to the previous assistant.",
			Parameters:  emptySchema(),
		})
	}
	if agent.NavigationFlags.CanEscalate {
		defs = append(defs, ToolDefinition{
			Name:        ToolEscalate,
			Description: "Hand the conversation to a human support agent. Use only when the user asks for a person or the request cannot be served here.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{
						"type":        "string",
						"description": "Short reason for the escalation.",
					},
				},
			},
		})
	}
	defs = append(defs, ToolDefinition{
		Name:        ToolChangeLanguage,
		Description: "Switch the conversation language when the user asks for it or writes in another supported language.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"language": map[string]any{
					"type":        "string",
					"enum":        []string{"en", "es"},
					"description": "ISO language code to switch to.",
				},
			},
			"required": []string{"language"},
		},
	})
	return defs
}

func toolDefinition(tool config.ToolConfig) ToolDefinition {
	properties := map[string]any{}
	var required []string
	for _, p := range tool.Parameters {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return ToolDefinition{
		Name:        tool.Name,
		Description: tool.Description,
		Parameters:  schema,
	}
}

func emptySchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
