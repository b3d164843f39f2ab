package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vireopay/dialog/internal/config"
)

// Synthetic navigation tools always resolve to navigation routing.
var builtinRouting = map[string]config.RoutingConfig{
	"go_home":           {RoutingType: config.RoutingNavigation, Target: config.NavGoHome},
	"up_one_level":      {RoutingType: config.RoutingNavigation, Target: config.NavUpOneLevel},
	"escalate_to_human": {RoutingType: config.RoutingNavigation, Target: config.NavEscalateToHuman},
}

// buildSnapshot indexes and validates the loaded agent set. Any validation
// error fails the whole build; a partial registry is never installed.
func buildSnapshot(agents map[string]*config.AgentConfig) (*snapshot, error) {
	snap := &snapshot{
		agents:   agents,
		children: map[string][]string{},
		routing:  map[string]config.RoutingConfig{},
		subflows: map[string]map[string]*config.SubflowConfig{},
	}

	var roots []string
	for id, agent := range agents {
		if agent.ParentAgentID == "" {
			roots = append(roots, id)
			continue
		}
		if _, ok := agents[agent.ParentAgentID]; !ok {
			return nil, fmt.Errorf("agent %q: parent %q not found", id, agent.ParentAgentID)
		}
		snap.children[agent.ParentAgentID] = append(snap.children[agent.ParentAgentID], id)
	}
	sort.Strings(roots)
	for _, kids := range snap.children {
		sort.Strings(kids)
	}
	if len(roots) != 1 {
		return nil, fmt.Errorf("expected exactly one root agent, found %d (%s)", len(roots), strings.Join(roots, ", "))
	}
	snap.rootID = roots[0]

	if err := checkParentCycles(agents); err != nil {
		return nil, err
	}

	for name, routing := range builtinRouting {
		snap.routing[name] = routing
	}

	ids := make([]string, 0, len(agents))
	for id := range agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	toolOwner := map[string]string{}
	for _, id := range ids {
		agent := agents[id]

		flows := map[string]*config.SubflowConfig{}
		for i := range agent.Subflows {
			flow := &agent.Subflows[i]
			if _, dup := flows[flow.ConfigID]; dup {
				return nil, fmt.Errorf("agent %q: duplicate subflow %q", id, flow.ConfigID)
			}
			flows[flow.ConfigID] = flow
		}
		snap.subflows[id] = flows

		for i := range agent.Tools {
			tool := &agent.Tools[i]
			if owner, dup := toolOwner[tool.Name]; dup {
				return nil, fmt.Errorf("tool %q declared by both %q and %q", tool.Name, owner, id)
			}
			toolOwner[tool.Name] = id
			snap.routing[tool.Name] = effectiveRouting(tool)
		}
	}

	for _, id := range ids {
		if err := validateAgent(snap, agents[id]); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// effectiveRouting applies the name-prefix convention when a tool declares no
// routing: enter_<agent> and start_flow_<flow> are routed accordingly, all
// other tools are service calls.
func effectiveRouting(tool *config.ToolConfig) config.RoutingConfig {
	if tool.Routing != nil {
		routing := *tool.Routing
		if routing.Target == "" {
			routing.Target = inferTarget(tool.Name, routing.RoutingType)
		}
		return routing
	}
	if target, ok := strings.CutPrefix(tool.Name, "enter_"); ok {
		return config.RoutingConfig{RoutingType: config.RoutingEnterAgent, Target: target}
	}
	if target, ok := strings.CutPrefix(tool.Name, "start_flow_"); ok {
		return config.RoutingConfig{RoutingType: config.RoutingStartFlow, Target: target}
	}
	return config.RoutingConfig{RoutingType: config.RoutingService}
}

func inferTarget(toolName string, routingType config.RoutingType) string {
	switch routingType {
	case config.RoutingEnterAgent:
		if target, ok := strings.CutPrefix(toolName, "enter_"); ok {
			return target
		}
	case config.RoutingStartFlow:
		if target, ok := strings.CutPrefix(toolName, "start_flow_"); ok {
			return target
		}
	}
	return ""
}

func checkParentCycles(agents map[string]*config.AgentConfig) error {
	for id := range agents {
		seen := map[string]bool{}
		current := id
		for current != "" {
			if seen[current] {
				return fmt.Errorf("agent %q: cycle in parent chain", id)
			}
			seen[current] = true
			agent, ok := agents[current]
			if !ok {
				break
			}
			current = agent.ParentAgentID
		}
	}
	return nil
}

var validTriggers = map[config.TransitionTrigger]bool{
	config.TriggerOnUserTurn:   true,
	config.TriggerOnToolResult: true,
	config.TriggerAlways:       true,
}

var reservedTargets = map[string]bool{
	config.TargetExit:    true,
	config.TargetAbandon: true,
	config.TargetGoHome:  true,
}

// validateAgent enforces the cross-reference rules a turn must be able to
// rely on: every state tool exists, every transition target exists, and all
// routing targets resolve.
func validateAgent(snap *snapshot, agent *config.AgentConfig) error {
	toolNames := map[string]bool{}
	for _, tool := range agent.Tools {
		toolNames[tool.Name] = true
	}

	for i := range agent.Subflows {
		flow := &agent.Subflows[i]
		stateIDs := map[string]bool{}
		for j := range flow.States {
			stateIDs[flow.States[j].StateID] = true
		}
		if !stateIDs[flow.InitialState] {
			return fmt.Errorf("agent %q flow %q: initial state %q not found", agent.ConfigID, flow.ConfigID, flow.InitialState)
		}

		for j := range flow.States {
			state := &flow.States[j]
			inlineTools := map[string]bool{}
			for _, tool := range state.StateTools {
				inlineTools[tool.Name] = true
			}
			if state.OnEnter != nil && state.OnEnter.CallTool != nil {
				name := state.OnEnter.CallTool.Name
				if !toolNames[name] && !inlineTools[name] {
					return fmt.Errorf("agent %q flow %q state %q: on_enter tool %q not in agent tool list",
						agent.ConfigID, flow.ConfigID, state.StateID, name)
				}
			}
			for _, tr := range state.Transitions {
				if !validTriggers[tr.Trigger] {
					return fmt.Errorf("agent %q flow %q state %q: invalid transition trigger %q",
						agent.ConfigID, flow.ConfigID, state.StateID, tr.Trigger)
				}
				if !stateIDs[tr.Target] && !reservedTargets[tr.Target] {
					return fmt.Errorf("agent %q flow %q state %q: transition target %q not found",
						agent.ConfigID, flow.ConfigID, state.StateID, tr.Target)
				}
			}
		}
	}

	for i := range agent.Tools {
		tool := &agent.Tools[i]
		routing := snap.routing[tool.Name]
		switch routing.RoutingType {
		case config.RoutingEnterAgent:
			if _, ok := snap.agents[routing.Target]; !ok {
				return fmt.Errorf("agent %q tool %q: enter_agent target %q not found",
					agent.ConfigID, tool.Name, routing.Target)
			}
		case config.RoutingStartFlow:
			owner := agent.ConfigID
			if routing.CrossAgent != "" {
				if _, ok := snap.agents[routing.CrossAgent]; !ok {
					return fmt.Errorf("agent %q tool %q: cross_agent %q not found",
						agent.ConfigID, tool.Name, routing.CrossAgent)
				}
				owner = routing.CrossAgent
			}
			if snap.subflows[owner][routing.Target] == nil {
				return fmt.Errorf("agent %q tool %q: start_flow target %q is not a flow of %q",
					agent.ConfigID, tool.Name, routing.Target, owner)
			}
		}
	}
	return nil
}
