// Package web publishes the engine's HTTP API: the chat endpoints, the
// conversation browser, health, and Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vireopay/dialog/internal/observability"
	"github.com/vireopay/dialog/internal/orchestrator"
	"github.com/vireopay/dialog/internal/registry"
	"github.com/vireopay/dialog/internal/sessions"
	"github.com/vireopay/dialog/pkg/models"
)

// maxRequestBody bounds inbound JSON payloads.
const maxRequestBody = 64 << 10

// HealthChecker probes one downstream dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server handles the inbound HTTP API.
type Server struct {
	orch           *orchestrator.Orchestrator
	store          sessions.Store
	registry       *registry.Registry
	gateway        HealthChecker
	logger         *observability.Logger
	gatherer       prometheus.Gatherer
	healthTimeout  time.Duration
	defaultListLim int
}

// Options configures a Server. Gateway and Gatherer may be nil.
type Options struct {
	Orchestrator  *orchestrator.Orchestrator
	Store         sessions.Store
	Registry      *registry.Registry
	Gateway       HealthChecker
	Logger        *observability.Logger
	Gatherer      prometheus.Gatherer
	HealthTimeout time.Duration
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	timeout := opts.HealthTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		orch:           opts.Orchestrator,
		store:          opts.Store,
		registry:       opts.Registry,
		gateway:        opts.Gateway,
		logger:         logger,
		gatherer:       gatherer,
		healthTimeout:  timeout,
		defaultListLim: 50,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/message", s.handleChatMessage)
	mux.HandleFunc("POST /chat/session", s.handleCreateSession)
	mux.HandleFunc("GET /chat/session/{id}", s.handleGetSession)
	mux.HandleFunc("POST /chat/session/{id}/end", s.handleEndSession)
	mux.HandleFunc("GET /conversations", s.handleListConversations)
	mux.HandleFunc("GET /conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("GET /conversations/{id}/events", s.handleGetEvents)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

type chatMessageRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	var req chatMessageRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "user_id and message are required")
		return
	}

	resp, err := s.orch.HandleMessage(r.Context(), req.UserID, req.SessionID, req.Message)
	if err != nil {
		if errors.Is(err, sessions.ErrLockTimeout) {
			s.writeError(w, http.StatusConflict, "another turn is in progress for this session")
			return
		}
		s.logger.Error(r.Context(), "turn failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "turn failed")
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type createSessionRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	root := s.registry.RootAgent()
	if root == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no root agent configured")
		return
	}
	session, _, err := s.store.GetOrCreate(r.Context(), "", req.UserID, root.ConfigID)
	if err != nil {
		s.logger.Error(r.Context(), "session create failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "session create failed")
		return
	}
	s.writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	session.Status = models.StatusCompleted
	if err := s.store.Update(r.Context(), session); err != nil {
		s.logger.Error(r.Context(), "session end failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "session end failed")
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}
	list, err := s.store.ListByUser(r.Context(), userID, s.defaultListLim)
	if err != nil {
		s.logger.Error(r.Context(), "conversation list failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "conversation list failed")
		return
	}
	if list == nil {
		list = []*models.Session{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	history, err := s.store.GetHistory(r.Context(), session.ID, 0)
	if err != nil {
		s.logger.Error(r.Context(), "history load failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "history load failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session":  session,
		"messages": history,
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	events, err := s.store.GetEvents(r.Context(), session.ID, 0)
	if err != nil {
		s.logger.Error(r.Context(), "event load failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "event load failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.healthTimeout)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		healthy = false
	} else {
		checks["store"] = "ok"
	}
	if s.gateway != nil {
		if err := s.gateway.Health(ctx); err != nil {
			checks["gateway"] = err.Error()
			healthy = false
		} else {
			checks["gateway"] = "ok"
		}
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	s.writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*models.Session, bool) {
	id := r.PathValue("id")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "session id is required")
		return nil, false
	}
	session, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found")
			return nil, false
		}
		s.logger.Error(r.Context(), "session load failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "session load failed")
		return nil, false
	}
	return session, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(context.Background(), "response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
