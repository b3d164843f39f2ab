package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/vireopay/dialog/pkg/models"
)

// PostgresStore is the production Store backed by Postgres. Structured
// session fields (agent stack, flow, confirmation) live in JSONB columns.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and verifies connectivity.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing pool, used by tests.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	status TEXT NOT NULL,
	agent_stack JSONB NOT NULL DEFAULT '[]',
	current_flow JSONB,
	pending_confirmation JSONB,
	message_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	last_interaction_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions (user_id, last_interaction_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions (id),
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, created_at);

CREATE TABLE IF NOT EXISTS user_contexts (
	user_id TEXT PRIMARY KEY,
	profile JSONB NOT NULL DEFAULT '{}',
	product_summaries JSONB,
	behavioral_summary TEXT,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS compacted_history (
	user_id TEXT PRIMARY KEY,
	compacted_text TEXT NOT NULL,
	last_compacted_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_events (
	turn_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	type TEXT NOT NULL,
	payload JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_events_session ON agent_events (session_id, created_at);
`

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, sessionID, userID, rootAgentID string) (*models.Session, bool, error) {
	if userID == "" {
		return nil, false, errors.New("user id is required")
	}
	if sessionID != "" {
		session, err := s.Get(ctx, sessionID)
		switch {
		case err == nil:
			if session.UserID != userID {
				return nil, false, ErrNotFound
			}
			return session, false, nil
		case errors.Is(err, ErrNotFound):
			// Unknown id: start a fresh session.
		default:
			return nil, false, err
		}
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
	stack, err := json.Marshal(session.AgentStack)
	if err != nil {
		return nil, false, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, status, agent_stack, current_flow, pending_confirmation, message_count, created_at, last_interaction_at)
		VALUES ($1, $2, $3, $4, NULL, NULL, 0, $5, $6)`,
		session.ID, session.UserID, session.Status, stack, session.CreatedAt, session.LastInteractionAt)
	if err != nil {
		return nil, false, fmt.Errorf("insert session: %w", err)
	}
	return session, true, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, agent_stack, current_flow, pending_confirmation, message_count, created_at, last_interaction_at
		FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (s *PostgresStore) Update(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	stack, err := json.Marshal(session.AgentStack)
	if err != nil {
		return err
	}
	flow, err := marshalNullable(session.CurrentFlow)
	if err != nil {
		return err
	}
	confirmation, err := marshalNullable(session.PendingConfirmation)
	if err != nil {
		return err
	}
	session.LastInteractionAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = $2, agent_stack = $3, current_flow = $4, pending_confirmation = $5, message_count = $6, last_interaction_at = $7
		WHERE id = $1`,
		session.ID, session.Status, stack, flow, confirmation, session.MessageCount, session.LastInteractionAt)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, status, agent_stack, current_flow, pending_confirmation, message_count, created_at, last_interaction_at
		FROM sessions WHERE user_id = $1
		ORDER BY last_interaction_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.SessionID == "" {
		return errors.New("message with session id is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	metadata, err := marshalNullable(msg.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, user_id, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.SessionID, msg.UserID, msg.Role, msg.Content, metadata, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET message_count = message_count + 1 WHERE id = $1`, msg.SessionID)
	return err
}

func (s *PostgresStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, session_id, user_id, role, content, metadata, created_at
			FROM (
				SELECT id, session_id, user_id, role, content, metadata, created_at
				FROM messages WHERE session_id = $1
				ORDER BY created_at DESC LIMIT $2
			) recent ORDER BY created_at ASC`, sessionID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, session_id, user_id, role, content, metadata, created_at
			FROM messages WHERE session_id = $1
			ORDER BY created_at ASC`, sessionID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var msg models.Message
		var metadata []byte
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.UserID, &msg.Role, &msg.Content, &metadata, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
				return nil, fmt.Errorf("decode message metadata: %w", err)
			}
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetUserContext(ctx context.Context, userID string) (*models.UserContext, error) {
	var (
		uc        models.UserContext
		profile   []byte
		summaries []byte
		summary   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, profile, product_summaries, behavioral_summary, updated_at
		FROM user_contexts WHERE user_id = $1`, userID).
		Scan(&uc.UserID, &profile, &summaries, &summary, &uc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(profile, &uc.Profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if len(summaries) > 0 {
		if err := json.Unmarshal(summaries, &uc.ProductSummaries); err != nil {
			return nil, fmt.Errorf("decode product summaries: %w", err)
		}
	}
	uc.BehavioralSummary = summary.String
	return &uc, nil
}

func (s *PostgresStore) PutUserContext(ctx context.Context, uc *models.UserContext) error {
	if uc == nil || uc.UserID == "" {
		return errors.New("user context with user id is required")
	}
	profile, err := json.Marshal(uc.Profile)
	if err != nil {
		return err
	}
	summaries, err := marshalNullable(uc.ProductSummaries)
	if err != nil {
		return err
	}
	uc.UpdatedAt = time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_contexts (user_id, profile, product_summaries, behavioral_summary, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET profile = $2, product_summaries = $3, behavioral_summary = $4, updated_at = $5`,
		uc.UserID, profile, summaries, uc.BehavioralSummary, uc.UpdatedAt)
	return err
}

func (s *PostgresStore) GetCompacted(ctx context.Context, userID string) (*models.CompactedHistory, error) {
	var ch models.CompactedHistory
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, compacted_text, last_compacted_at
		FROM compacted_history WHERE user_id = $1`, userID).
		Scan(&ch.UserID, &ch.CompactedText, &ch.LastCompactedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *PostgresStore) PutCompacted(ctx context.Context, ch *models.CompactedHistory) error {
	if ch == nil || ch.UserID == "" {
		return errors.New("compacted history with user id is required")
	}
	if ch.LastCompactedAt.IsZero() {
		ch.LastCompactedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO compacted_history (user_id, compacted_text, last_compacted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET compacted_text = $2, last_compacted_at = $3`,
		ch.UserID, ch.CompactedText, ch.LastCompactedAt)
	return err
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev *models.AgentEvent) error {
	if ev == nil || ev.SessionID == "" {
		return errors.New("event with session id is required")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	payload, err := marshalNullable(ev.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_events (turn_id, session_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.TurnID, ev.SessionID, ev.Type, payload, ev.CreatedAt)
	return err
}

func (s *PostgresStore) GetEvents(ctx context.Context, sessionID string, limit int) ([]models.AgentEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_id, session_id, type, payload, created_at
		FROM agent_events WHERE session_id = $1
		ORDER BY created_at ASC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AgentEvent
	for rows.Next() {
		var (
			ev      models.AgentEvent
			payload []byte
		)
		if err := rows.Scan(&ev.TurnID, &ev.SessionID, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("decode event payload: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		session      models.Session
		stack        []byte
		flow         []byte
		confirmation []byte
	)
	err := row.Scan(&session.ID, &session.UserID, &session.Status, &stack, &flow, &confirmation,
		&session.MessageCount, &session.CreatedAt, &session.LastInteractionAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stack, &session.AgentStack); err != nil {
		return nil, fmt.Errorf("decode agent stack: %w", err)
	}
	if len(flow) > 0 {
		if err := json.Unmarshal(flow, &session.CurrentFlow); err != nil {
			return nil, fmt.Errorf("decode current flow: %w", err)
		}
	}
	if len(confirmation) > 0 {
		if err := json.Unmarshal(confirmation, &session.PendingConfirmation); err != nil {
			return nil, fmt.Errorf("decode pending confirmation: %w", err)
		}
	}
	return &session, nil
}

// marshalNullable encodes v to JSON, mapping nil pointers and empty maps to
// SQL NULL.
func marshalNullable(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *models.FlowState:
		if t == nil {
			return nil, nil
		}
	case *models.PendingConfirmation:
		if t == nil {
			return nil, nil
		}
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string]map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}
