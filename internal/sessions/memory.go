package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vireopay/dialog/pkg/models"
)

// maxMessagesPerSession bounds stored messages per session; older entries
// are trimmed once exceeded.
const maxMessagesPerSession = 1000

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*models.Session
	messages  map[string][]models.Message
	contexts  map[string]*models.UserContext
	compacted map[string]*models.CompactedHistory
	events    map[string][]models.AgentEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  map[string]*models.Session{},
		messages:  map[string][]models.Message{},
		contexts:  map[string]*models.UserContext{},
		compacted: map[string]*models.CompactedHistory{},
		events:    map[string][]models.AgentEvent{},
	}
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, sessionID, userID, rootAgentID string) (*models.Session, bool, error) {
	if userID == "" {
		return nil, false, errors.New("user id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessionID != "" {
		if session, ok := m.sessions[sessionID]; ok {
			if session.UserID != userID {
				return nil, false, ErrNotFound
			}
			return cloneSession(session), false, nil
		}
		// Unknown id: fall through and start a fresh session.
	}

	now := time.Now()
	session := &models.Session{
		ID:     uuid.NewString(),
		UserID: userID,
		Status: models.StatusActive,
		AgentStack: []models.AgentFrame{
			{AgentConfigID: rootAgentID, EnteredAt: now, EntryReason: "session_start"},
		},
		CreatedAt:         now,
		LastInteractionAt: now,
	}
	m.sessions[session.ID] = cloneSession(session)
	return session, true, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) Update(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sessions[session.ID]
	if !ok {
		return ErrNotFound
	}
	clone := cloneSession(session)
	clone.CreatedAt = existing.CreatedAt
	clone.LastInteractionAt = time.Now()
	m.sessions[clone.ID] = clone
	session.LastInteractionAt = clone.LastInteractionAt
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Session
	for _, session := range m.sessions {
		if session.UserID == userID {
			out = append(out, cloneSession(session))
		}
	}
	// Newest first.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].LastInteractionAt.After(out[i].LastInteractionAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.SessionID == "" {
		return errors.New("message with session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[msg.SessionID]
	if !ok {
		return ErrNotFound
	}
	clone := *msg
	if clone.ID == "" {
		clone.ID = uuid.NewString()
		msg.ID = clone.ID
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
		msg.CreatedAt = clone.CreatedAt
	}
	msgs := append(m.messages[msg.SessionID], clone)
	if len(msgs) > maxMessagesPerSession {
		msgs = msgs[len(msgs)-maxMessagesPerSession:]
	}
	m.messages[msg.SessionID] = msgs
	session.MessageCount++
	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *MemoryStore) GetUserContext(ctx context.Context, userID string) (*models.UserContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uc, ok := m.contexts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *uc
	return &clone, nil
}

func (m *MemoryStore) PutUserContext(ctx context.Context, uc *models.UserContext) error {
	if uc == nil || uc.UserID == "" {
		return errors.New("user context with user id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *uc
	clone.UpdatedAt = time.Now()
	m.contexts[uc.UserID] = &clone
	return nil
}

func (m *MemoryStore) GetCompacted(ctx context.Context, userID string) (*models.CompactedHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.compacted[userID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *ch
	return &clone, nil
}

func (m *MemoryStore) PutCompacted(ctx context.Context, ch *models.CompactedHistory) error {
	if ch == nil || ch.UserID == "" {
		return errors.New("compacted history with user id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *ch
	if clone.LastCompactedAt.IsZero() {
		clone.LastCompactedAt = time.Now()
	}
	m.compacted[ch.UserID] = &clone
	return nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, ev *models.AgentEvent) error {
	if ev == nil || ev.SessionID == "" {
		return errors.New("event with session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *ev
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	m.events[ev.SessionID] = append(m.events[ev.SessionID], clone)
	return nil
}

func (m *MemoryStore) GetEvents(ctx context.Context, sessionID string, limit int) ([]models.AgentEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.events[sessionID]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]models.AgentEvent, len(events))
	copy(out, events)
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// cloneSession deep-copies a session so callers cannot mutate stored state.
func cloneSession(session *models.Session) *models.Session {
	if session == nil {
		return nil
	}
	clone := *session
	clone.AgentStack = append([]models.AgentFrame(nil), session.AgentStack...)
	if session.CurrentFlow != nil {
		flow := *session.CurrentFlow
		flow.StateData = deepCloneMap(session.CurrentFlow.StateData)
		clone.CurrentFlow = &flow
	}
	if session.PendingConfirmation != nil {
		pc := *session.PendingConfirmation
		pc.ToolParams = deepCloneMap(session.PendingConfirmation.ToolParams)
		clone.PendingConfirmation = &pc
	}
	return &clone
}

// deepCloneMap copies a JSON-shaped map through encoding to avoid shared
// nested containers.
func deepCloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		out := make(map[string]any, len(in))
		for k, v := range in {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	return out
}
