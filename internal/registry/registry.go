// Package registry indexes the loaded agent tree: agents by id, tool routing
// by name, sub-flows by (agent, flow). The registry is immutable between
// reloads; readers always see a complete snapshot.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/vireopay/dialog/internal/config"
	"github.com/vireopay/dialog/internal/observability"
)

// RoutingResult is the resolution of a tool name to a routing action. For
// start_flow the flow itself is left unresolved; the caller owns agent
// context.
type RoutingResult struct {
	Success      bool
	Action       config.RoutingType
	TargetID     string
	CrossAgent   string
	TargetEntity *config.AgentConfig
	Err          string
}

// snapshot is one immutable index over the loaded configs.
type snapshot struct {
	agents   map[string]*config.AgentConfig
	rootID   string
	children map[string][]string
	routing  map[string]config.RoutingConfig
	subflows map[string]map[string]*config.SubflowConfig
}

// Registry provides lookup over agent configuration. Reload swaps the whole
// snapshot atomically; in-flight turns keep the snapshot they started with.
type Registry struct {
	loader *config.Loader
	logger *observability.Logger

	current atomic.Pointer[snapshot]

	initOnce sync.Once
	initErr  error

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New creates a Registry over the given loader.
func New(loader *config.Loader, logger *observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registry{loader: loader, logger: logger}
}

// Initialise loads configs, builds indexes, and validates. Idempotent.
func (r *Registry) Initialise(ctx context.Context) error {
	r.initOnce.Do(func() {
		r.initErr = r.load(ctx, false)
	})
	return r.initErr
}

// Reload re-reads all documents and swaps the snapshot.
func (r *Registry) Reload(ctx context.Context) error {
	return r.load(ctx, true)
}

func (r *Registry) load(ctx context.Context, reload bool) error {
	var (
		agents map[string]*config.AgentConfig
		err    error
	)
	if reload {
		agents, err = r.loader.Reload()
	} else {
		agents, err = r.loader.Load()
	}
	if err != nil {
		return err
	}
	snap, err := buildSnapshot(agents)
	if err != nil {
		return err
	}
	r.current.Store(snap)
	r.logger.Info(ctx, "registry loaded",
		"agents", len(snap.agents), "tools", len(snap.routing), "root", snap.rootID)
	return nil
}

func (r *Registry) snap() *snapshot {
	return r.current.Load()
}

// Agent returns the agent with the given id, or nil.
func (r *Registry) Agent(configID string) *config.AgentConfig {
	return r.snap().agents[configID]
}

// RootAgent returns the single agent without a parent.
func (r *Registry) RootAgent() *config.AgentConfig {
	s := r.snap()
	return s.agents[s.rootID]
}

// Children returns the config ids of an agent's direct children.
func (r *Registry) Children(parentID string) []string {
	return r.snap().children[parentID]
}

// Subflow resolves a flow inside an agent, or nil.
func (r *Registry) Subflow(agentID, subflowID string) *config.SubflowConfig {
	return r.snap().subflows[agentID][subflowID]
}

// FlowState resolves a state of a flow inside an agent, or nil.
func (r *Registry) FlowState(agentID, subflowID, stateID string) *config.SubflowStateConfig {
	flow := r.Subflow(agentID, subflowID)
	if flow == nil {
		return nil
	}
	return flow.State(stateID)
}

// ToolRouting returns the routing for a tool name and whether it is known.
func (r *Registry) ToolRouting(toolName string) (config.RoutingConfig, bool) {
	routing, ok := r.snap().routing[toolName]
	return routing, ok
}

// ResolveRouting maps a tool name to a routing action. Unknown tools resolve
// to service routing so the turn executor can surface the gateway's error.
func (r *Registry) ResolveRouting(toolName string) RoutingResult {
	s := r.snap()
	routing, ok := s.routing[toolName]
	if !ok {
		return RoutingResult{Success: true, Action: config.RoutingService}
	}
	switch routing.RoutingType {
	case config.RoutingEnterAgent:
		target, ok := s.agents[routing.Target]
		if !ok {
			return RoutingResult{Err: fmt.Sprintf("routing target agent %q not found", routing.Target)}
		}
		return RoutingResult{
			Success: true, Action: config.RoutingEnterAgent,
			TargetID: routing.Target, TargetEntity: target,
		}
	case config.RoutingStartFlow:
		return RoutingResult{
			Success: true, Action: config.RoutingStartFlow,
			TargetID: routing.Target, CrossAgent: routing.CrossAgent,
		}
	case config.RoutingNavigation:
		return RoutingResult{Success: true, Action: config.RoutingNavigation, TargetID: routing.Target}
	case config.RoutingService:
		return RoutingResult{Success: true, Action: config.RoutingService}
	default:
		return RoutingResult{Err: fmt.Sprintf("unknown routing type %q for tool %q", routing.RoutingType, toolName)}
	}
}

// Watch reloads the registry when files under dir change. Errors during a
// reload keep the previous snapshot.
func (r *Registry) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	r.watcher = watcher
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if !strings.HasSuffix(event.Name, ".json") {
					continue
				}
				if err := r.Reload(ctx); err != nil {
					r.logger.Error(ctx, "config reload failed, keeping previous snapshot", "error", err)
					continue
				}
				r.logger.Info(ctx, "configuration reloaded", "trigger", event.Name)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn(ctx, "config watcher error", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Close stops the config watcher, if one is running.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}
	err := r.watcher.Close()
	<-r.done
	return err
}
