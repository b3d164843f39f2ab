// Package state is the single writer of session state during a turn. Every
// mutation of the agent stack, the active flow, and the pending confirmation
// goes through Manager.
package state

import (
	"context"
	"time"

	"github.com/vireopay/dialog/internal/config"
	"github.com/vireopay/dialog/internal/observability"
	"github.com/vireopay/dialog/pkg/models"
)

// Manager mutates one session. It holds no state of its own; the session is
// owned by the in-flight turn that constructed the manager.
type Manager struct {
	session *models.Session
	logger  *observability.Logger
	now     func() time.Time
}

// NewManager wraps a session for mutation.
func NewManager(session *models.Session, logger *observability.Logger) *Manager {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Manager{session: session, logger: logger, now: time.Now}
}

// Session returns the managed session.
func (m *Manager) Session() *models.Session { return m.session }

// PushAgent appends a frame and clears the flow and any pending
// confirmation; entering an agent always starts from a clean slate.
func (m *Manager) PushAgent(ctx context.Context, agentID, reason string) {
	m.session.AgentStack = append(m.session.AgentStack, models.AgentFrame{
		AgentConfigID: agentID,
		EnteredAt:     m.now(),
		EntryReason:   reason,
	})
	m.clearTransient()
	m.logger.Debug(ctx, "agent pushed",
		"session_id", m.session.ID, "agent_id", agentID, "depth", m.session.StackDepth())
}

// PopAgent removes the top frame. On a stack of depth 1 it is a no-op apart
// from clearing transient state.
func (m *Manager) PopAgent(ctx context.Context) {
	if m.session.StackDepth() > 1 {
		m.session.AgentStack = m.session.AgentStack[:m.session.StackDepth()-1]
	}
	m.clearTransient()
	m.logger.Debug(ctx, "agent popped",
		"session_id", m.session.ID, "agent_id", m.session.ActiveAgentID(), "depth", m.session.StackDepth())
}

// GoHome reduces the stack to the root frame.
func (m *Manager) GoHome(ctx context.Context) {
	if m.session.StackDepth() > 1 {
		m.session.AgentStack = m.session.AgentStack[:1]
	}
	m.clearTransient()
	m.logger.Debug(ctx, "went home", "session_id", m.session.ID, "agent_id", m.session.ActiveAgentID())
}

// Escalate marks the session for human handoff.
func (m *Manager) Escalate(ctx context.Context, reason string) {
	m.session.Status = models.StatusEscalated
	m.clearTransient()
	m.logger.Info(ctx, "session escalated", "session_id", m.session.ID, "reason", reason)
}

// EnterSubflow starts a flow at its initial state. initialData may be nil.
func (m *Manager) EnterSubflow(ctx context.Context, flow *config.SubflowConfig, initialData map[string]any) {
	if initialData == nil {
		initialData = map[string]any{}
	}
	m.session.CurrentFlow = &models.FlowState{
		FlowConfigID:   flow.ConfigID,
		CurrentStateID: flow.InitialState,
		StateData:      initialData,
		EnteredAt:      m.now(),
	}
	m.session.PendingConfirmation = nil
	m.logger.Debug(ctx, "subflow entered",
		"session_id", m.session.ID, "flow_id", flow.ConfigID, "state_id", flow.InitialState)
}

// TransitionState moves the flow to a sibling state. Entering a final state
// closes the flow.
func (m *Manager) TransitionState(ctx context.Context, targetStateID string, target *config.SubflowStateConfig) {
	if m.session.CurrentFlow == nil {
		return
	}
	m.session.CurrentFlow.CurrentStateID = targetStateID
	m.logger.Debug(ctx, "flow transitioned",
		"session_id", m.session.ID, "flow_id", m.session.CurrentFlow.FlowConfigID, "state_id", targetStateID)
	if target != nil && target.IsFinal {
		m.ExitFlow(ctx)
	}
}

// ExitFlow closes the active flow, if any.
func (m *Manager) ExitFlow(ctx context.Context) {
	if m.session.CurrentFlow == nil {
		return
	}
	m.logger.Debug(ctx, "flow exited",
		"session_id", m.session.ID, "flow_id", m.session.CurrentFlow.FlowConfigID)
	m.session.CurrentFlow = nil
}

// UpdateFlowData shallow-merges patch into the flow's collected data.
func (m *Manager) UpdateFlowData(patch map[string]any) {
	if m.session.CurrentFlow == nil || len(patch) == 0 {
		return
	}
	if m.session.CurrentFlow.StateData == nil {
		m.session.CurrentFlow.StateData = map[string]any{}
	}
	for k, v := range patch {
		m.session.CurrentFlow.StateData[k] = v
	}
}

// SetPendingConfirmation records that a side-effecting tool awaits user
// approval.
func (m *Manager) SetPendingConfirmation(toolName string, params map[string]any, display string, expiresIn time.Duration) {
	m.session.PendingConfirmation = &models.PendingConfirmation{
		ToolName:       toolName,
		ToolParams:     params,
		DisplayMessage: display,
		ExpiresAt:      m.now().Add(expiresIn),
	}
}

// ClearPendingConfirmation drops the pending confirmation, if any.
func (m *Manager) ClearPendingConfirmation() {
	m.session.PendingConfirmation = nil
}

// IsConfirmationExpired reports whether the pending confirmation has lapsed.
// No confirmation or a missing expiry counts as expired.
func (m *Manager) IsConfirmationExpired() bool {
	return m.session.PendingConfirmation.Expired(m.now())
}

func (m *Manager) clearTransient() {
	m.session.CurrentFlow = nil
	m.session.PendingConfirmation = nil
}
