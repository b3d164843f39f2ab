// Package enrich eagerly fetches the data an agent or flow state declares it
// needs before the LLM sees the turn. Every failure here is soft: logged,
// omitted, never fatal to the turn.
package enrich

import (
	"context"

	"github.com/vireopay/dialog/internal/config"
	"github.com/vireopay/dialog/internal/observability"
	"github.com/vireopay/dialog/internal/state"
	"github.com/vireopay/dialog/internal/tools"
	"github.com/vireopay/dialog/pkg/models"
)

// requirementTools maps symbolic context requirements to the read-only tools
// that satisfy them.
var requirementTools = map[string]string{
	"frequent_numbers": "get_frequent_numbers",
	"recipient_list":   "list_recipients",
	"carrier_list":     "get_carriers",
	"biller_list":      "get_billers",
	"loan_offers":      "get_loan_offers",
	"wallet_balance":   "get_wallet_balance",
	"exchange_rate":    "get_exchange_rate",
}

// Enricher satisfies context requirements through the tool executor. One
// Enricher serves one turn; satisfied requirements are not re-fetched.
type Enricher struct {
	executor *tools.Executor
	logger   *observability.Logger

	satisfied map[string]bool
	enriched  map[string]any
}

func New(executor *tools.Executor, logger *observability.Logger) *Enricher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Enricher{
		executor:  executor,
		logger:    logger,
		satisfied: map[string]bool{},
		enriched:  map[string]any{},
	}
}

// Enriched returns the transient context collected so far, keyed by
// requirement name.
func (e *Enricher) Enriched() map[string]any { return e.enriched }

// EnrichAgent satisfies the active agent's context_requirements.
func (e *Enricher) EnrichAgent(ctx context.Context, agent *config.AgentConfig, session *models.Session, language string) {
	e.fetchRequirements(ctx, agent, agent.ContextRequirements, session, language)
}

// EnrichState runs the current state's on_enter data actions: call_tool into
// the flow's state data, fetch_context into the transient context.
func (e *Enricher) EnrichState(ctx context.Context, agent *config.AgentConfig, stateCfg *config.SubflowStateConfig, mgr *state.Manager, language string) {
	if stateCfg == nil || stateCfg.OnEnter == nil {
		return
	}
	onEnter := stateCfg.OnEnter

	if call := onEnter.CallTool; call != nil {
		key := "call_tool:" + stateCfg.StateID + ":" + call.Name
		if !e.satisfied[key] {
			e.satisfied[key] = true
			tool := lookupTool(agent, stateCfg, call.Name)
			if tool == nil {
				e.logger.Warn(ctx, "on_enter tool not found", "state_id", stateCfg.StateID, "tool", call.Name)
			} else {
				result := e.executor.Execute(ctx, tool, call.Params, tools.ExecOptions{
					Session:          mgr.Session(),
					Language:         language,
					SkipConfirmation: true,
				})
				if result.Success {
					storeAs := call.StoreAs
					if storeAs == "" {
						storeAs = call.Name
					}
					mgr.UpdateFlowData(map[string]any{storeAs: result.Data})
				} else {
					e.logger.Warn(ctx, "on_enter tool failed",
						"state_id", stateCfg.StateID, "tool", call.Name, "error", result.Error)
				}
			}
		}
	}

	e.fetchRequirements(ctx, agent, onEnter.FetchContext, mgr.Session(), language)
}

func (e *Enricher) fetchRequirements(ctx context.Context, agent *config.AgentConfig, requirements []string, session *models.Session, language string) {
	for _, requirement := range requirements {
		if e.satisfied[requirement] {
			continue
		}
		toolName, ok := requirementTools[requirement]
		if !ok {
			e.logger.Warn(ctx, "unknown context requirement", "requirement", requirement)
			e.satisfied[requirement] = true
			continue
		}
		tool := lookupTool(agent, nil, toolName)
		if tool == nil {
			// Requirement tools need not be declared by the agent; a minimal
			// schema-less config suffices for a read-only prefetch.
			tool = &config.ToolConfig{Name: toolName, Description: requirement}
		}
		result := e.executor.Execute(ctx, tool, map[string]any{}, tools.ExecOptions{
			Session:          session,
			Language:         language,
			SkipConfirmation: true,
		})
		e.satisfied[requirement] = true
		if !result.Success {
			e.logger.Warn(ctx, "context requirement fetch failed",
				"requirement", requirement, "tool", toolName, "error", result.Error)
			continue
		}
		e.enriched[requirement] = result.Data
	}
}

func lookupTool(agent *config.AgentConfig, stateCfg *config.SubflowStateConfig, name string) *config.ToolConfig {
	if stateCfg != nil {
		for i := range stateCfg.StateTools {
			if stateCfg.StateTools[i].Name == name {
				return &stateCfg.StateTools[i]
			}
		}
	}
	return agent.Tool(name)
}
