package routing

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vireopay/dialog/internal/config"
	"github.com/vireopay/dialog/internal/registry"
	"github.com/vireopay/dialog/internal/state"
	"github.com/vireopay/dialog/pkg/models"
)

const rootDoc = `{
  "config_id": "root",
  "name": "Main Assistant",
  "model_config": {"model": "claude-sonnet-4-20250514"},
  "tools": [
    {"name": "enter_remittances", "description": "Route to remittances."},
    {
      "name": "start_flow_recarga",
      "description": "Start a top-up.",
      "routing": {"routing_type": "start_flow", "target": "recarga", "cross_agent": "topups"}
    }
  ]
}`

const remittancesDoc = `{
  "config_id": "remittances",
  "name": "Remittances",
  "parent_agent_id": "root",
  "context_requirements": ["recipient_list"],
  "model_config": {"model": "claude-sonnet-4-20250514"},
  "tools": [{"name": "get_exchange_rate", "description": "Quote a rate."}]
}`

const topupsDoc = `{
  "config_id": "topups",
  "name": "Top-ups",
  "parent_agent_id": "root",
  "context_requirements": ["frequent_numbers"],
  "model_config": {"model": "claude-sonnet-4-20250514"},
  "subflows": [
    {
      "config_id": "recarga",
      "initial_state": "collect_phone",
      "data_schema": ["phone_number", "amount", "carrier_id"],
      "states": [{"state_id": "collect_phone"}]
    }
  ]
}`

func newTestHandler(t *testing.T) (*Handler, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()
	for name, doc := range map[string]string{
		"root.json":        rootDoc,
		"remittances.json": remittancesDoc,
		"topups.json":      topupsDoc,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	reg := registry.New(config.NewLoader(dir, nil), nil)
	if err := reg.Initialise(context.Background()); err != nil {
		t.Fatalf("Initialise: %v", err)
	}
	return NewHandler(reg, &config.Messages{}, nil), reg
}

func rootedSession() *models.Session {
	return &models.Session{
		ID:     "s1",
		UserID: "u1",
		Status: models.StatusActive,
		AgentStack: []models.AgentFrame{
			{AgentConfigID: "root", EnteredAt: time.Now()},
		},
	}
}

func TestServiceToolIsNotHandled(t *testing.T) {
	h, reg := newTestHandler(t)
	session := rootedSession()
	mgr := state.NewManager(session, nil)

	outcome := h.HandleToolRouting(context.Background(), "get_exchange_rate", nil, mgr, reg.RootAgent(), "en")
	if outcome.Handled || outcome.StateChanged {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestEnterAgent(t *testing.T) {
	h, reg := newTestHandler(t)
	session := rootedSession()
	mgr := state.NewManager(session, nil)

	outcome := h.HandleToolRouting(context.Background(), "enter_remittances", nil, mgr, reg.RootAgent(), "en")
	if !outcome.Handled || !outcome.StateChanged {
		t.Fatalf("outcome = %+v", outcome)
	}
	if session.ActiveAgentID() != "remittances" || session.StackDepth() != 2 {
		t.Fatalf("stack = %v", session.AgentStack)
	}
	if len(outcome.ContextRequirements) != 1 || outcome.ContextRequirements[0] != "recipient_list" {
		t.Fatalf("context requirements = %v", outcome.ContextRequirements)
	}
}

func TestCrossAgentStartFlow(t *testing.T) {
	h, reg := newTestHandler(t)
	session := rootedSession()
	mgr := state.NewManager(session, nil)

	outcome := h.HandleToolRouting(context.Background(), "start_flow_recarga",
		map[string]any{"phone_number": "+5215512345678", "amount": 100.0},
		mgr, reg.RootAgent(), "es")

	if !outcome.Handled || !outcome.StateChanged {
		t.Fatalf("outcome = %+v", outcome)
	}
	if session.ActiveAgentID() != "topups" || session.StackDepth() != 2 {
		t.Fatalf("stack = %v", session.AgentStack)
	}
	flow := session.CurrentFlow
	if flow == nil || flow.FlowConfigID != "recarga" || flow.CurrentStateID != "collect_phone" {
		t.Fatalf("flow = %+v", flow)
	}
	if flow.StateData["phone_number"] != "+5215512345678" || flow.StateData["amount"] != 100.0 {
		t.Fatalf("state data = %v", flow.StateData)
	}
}

func TestNavigationAndEscalation(t *testing.T) {
	h, reg := newTestHandler(t)
	session := rootedSession()
	mgr := state.NewManager(session, nil)
	ctx := context.Background()

	h.HandleToolRouting(ctx, "enter_remittances", nil, mgr, reg.RootAgent(), "en")
	outcome := h.HandleToolRouting(ctx, "up_one_level", nil, mgr, reg.Agent("remittances"), "en")
	if !outcome.StateChanged || session.ActiveAgentID() != "root" {
		t.Fatalf("up_one_level: %+v, stack = %v", outcome, session.AgentStack)
	}

	h.HandleToolRouting(ctx, "enter_remittances", nil, mgr, reg.RootAgent(), "en")
	outcome = h.HandleToolRouting(ctx, "go_home", nil, mgr, reg.Agent("remittances"), "en")
	if !outcome.StateChanged || session.StackDepth() != 1 {
		t.Fatalf("go_home: %+v", outcome)
	}

	outcome = h.HandleToolRouting(ctx, "escalate_to_human",
		map[string]any{"reason": "user request"}, mgr, reg.RootAgent(), "en")
	if outcome.ResponseText == "" {
		t.Fatal("escalation must carry a fixed sentence")
	}
	if session.Status != models.StatusEscalated {
		t.Fatalf("status = %q", session.Status)
	}
}

func TestExtractInitialDataAliases(t *testing.T) {
	flow := &config.SubflowConfig{
		ConfigID:     "send_money_flow",
		InitialState: "s",
		DataSchema:   []string{"recipient_id", "amount", "loan_id"},
	}
	got := extractInitialData(flow, map[string]any{
		"recipient_id": "rec_1",
		"amount_usd":   200.0,
		"snpl_loan_id": "loan_3",
		"unrelated":    "x",
	})
	if got["recipient_id"] != "rec_1" || got["amount"] != 200.0 || got["loan_id"] != "loan_3" {
		t.Fatalf("initial data = %v", got)
	}
	if _, leaked := got["unrelated"]; leaked {
		t.Fatal("params outside the schema must not leak into flow data")
	}
}
