package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vireopay/dialog/internal/config"
	"github.com/vireopay/dialog/internal/contextbuilder"
	"github.com/vireopay/dialog/internal/llm"
	"github.com/vireopay/dialog/internal/observability"
	"github.com/vireopay/dialog/internal/orchestrator"
	"github.com/vireopay/dialog/internal/registry"
	"github.com/vireopay/dialog/internal/routing"
	"github.com/vireopay/dialog/internal/sessions"
	"github.com/vireopay/dialog/internal/tools"
	"github.com/vireopay/dialog/pkg/models"
)

const rootDoc = `{
  "config_id": "root",
  "name": "Main Assistant",
  "model_config": {"model": "test-model"},
  "navigation_flags": {"can_escalate": true}
}`

type echoProvider struct{}

func (echoProvider) Name() string { return "echo" }
func (echoProvider) Complete(ctx context.Context, req *contextbuilder.Request) (*llm.Completion, error) {
	return &llm.Completion{Text: "Hello!"}, nil
}

type nopDispatcher struct{}

func (nopDispatcher) Call(ctx context.Context, toolName string, params map[string]any, userID, language string) *models.ToolResult {
	return &models.ToolResult{Success: true, Data: map[string]any{}}
}

type fixture struct {
	server *Server
	store  *sessions.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "root.json"), []byte(rootDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	reg := registry.New(config.NewLoader(dir, nil), nil)
	if err := reg.Initialise(context.Background()); err != nil {
		t.Fatalf("registry: %v", err)
	}

	store := sessions.NewMemoryStore()
	messages := &config.Messages{}
	prompts := &config.Prompts{Base: map[string]string{"en": "You are a helpful assistant."}}
	orch := orchestrator.New(orchestrator.Deps{
		Store:    store,
		Locker:   sessions.NewSessionLocker(time.Second),
		Registry: reg,
		Builder:  contextbuilder.NewBuilder(prompts, messages, config.DefaultTokenBudgets(), nil),
		Provider: echoProvider{},
		Executor: tools.NewExecutor(nopDispatcher{}, nil, nil),
		Router:   routing.NewHandler(reg, messages, nil),
		Messages: messages,
		Config: &config.Config{
			DefaultModel:      "test-model",
			HistoryWindow:     20,
			MaxRecursionDepth: 4,
			ConfirmationTTL:   5 * time.Minute,
		},
	})

	server := NewServer(Options{
		Orchestrator: orch,
		Store:        store,
		Registry:     reg,
		Logger:       observability.NopLogger(),
		Gatherer:     prometheus.NewRegistry(),
	})
	return &fixture{server: server, store: store}
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatMessage(t *testing.T) {
	f := newFixture(t)
	h := f.server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/chat/message", `{"user_id":"u1","message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp models.TurnResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AssistantMessage != "Hello!" || resp.SessionID == "" || resp.AgentID != "root" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestChatMessageValidation(t *testing.T) {
	f := newFixture(t)
	h := f.server.Handler()

	for _, body := range []string{``, `{}`, `{"user_id":"u1"}`, `{"message":"hi"}`, `not json`} {
		rec := doJSON(t, h, http.MethodPost, "/chat/message", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	h := f.server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/chat/session", `{"user_id":"u1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var session models.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatal(err)
	}
	if session.ActiveAgentID() != "root" || session.Status != models.StatusActive {
		t.Fatalf("session = %+v", session)
	}

	rec = doJSON(t, h, http.MethodGet, "/chat/session/"+session.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/chat/session/"+session.ID+"/end", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("end status = %d", rec.Code)
	}
	got, err := f.store.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}

	rec = doJSON(t, h, http.MethodGet, "/chat/session/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing session status = %d", rec.Code)
	}
}

func TestConversationBrowsing(t *testing.T) {
	f := newFixture(t)
	h := f.server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/chat/message", `{"user_id":"u1","message":"hi"}`)
	var turn models.TurnResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &turn); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, h, http.MethodGet, "/conversations?user_id=u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Sessions []models.Session `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0].ID != turn.SessionID {
		t.Fatalf("sessions = %+v", list.Sessions)
	}

	rec = doJSON(t, h, http.MethodGet, "/conversations", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("list without user_id status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/conversations/"+turn.SessionID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("transcript status = %d", rec.Code)
	}
	var convo struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &convo); err != nil {
		t.Fatal(err)
	}
	if len(convo.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(convo.Messages))
	}

	rec = doJSON(t, h, http.MethodGet, "/conversations/"+turn.SessionID+"/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d", rec.Code)
	}
	var events struct {
		Events []models.AgentEvent `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatal(err)
	}
	if len(events.Events) == 0 {
		t.Fatal("events must be recorded")
	}
}

type downGateway struct{}

func (downGateway) Health(ctx context.Context) error { return errors.New("connection refused") }

type upGateway struct{}

func (upGateway) Health(ctx context.Context) error { return nil }

func TestHealth(t *testing.T) {
	f := newFixture(t)
	f.server.gateway = upGateway{}
	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	f.server.gateway = downGateway{}
	rec = doJSON(t, f.server.Handler(), http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "degraded") {
		t.Fatalf("body = %s", rec.Body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
