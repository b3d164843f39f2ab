// Package sessions persists conversation state: sessions, messages, user
// contexts, compacted history, and the per-turn event trace. A memory store
// backs tests and local runs; Postgres backs production.
package sessions

import (
	"context"
	"errors"

	"github.com/vireopay/dialog/pkg/models"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("sessions: not found")

// Store is the interface for conversation persistence.
type Store interface {
	// Session CRUD. GetOrCreate returns the existing session when sessionID
	// names one owned by userID; an empty or unknown id creates a session
	// rooted at rootAgentID. The bool reports whether a session was created.
	GetOrCreate(ctx context.Context, sessionID, userID, rootAgentID string) (*models.Session, bool, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.Session, error)

	// Message history, append-only and ordered by creation time. A positive
	// limit returns the most recent limit messages; limit <= 0 returns the
	// full history.
	AppendMessage(ctx context.Context, msg *models.Message) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]models.Message, error)

	// Per-user context and compacted summary.
	GetUserContext(ctx context.Context, userID string) (*models.UserContext, error)
	PutUserContext(ctx context.Context, uc *models.UserContext) error
	GetCompacted(ctx context.Context, userID string) (*models.CompactedHistory, error)
	PutCompacted(ctx context.Context, ch *models.CompactedHistory) error

	// Event trace for debugging and audit.
	AppendEvent(ctx context.Context, ev *models.AgentEvent) error
	GetEvents(ctx context.Context, sessionID string, limit int) ([]models.AgentEvent, error)

	Ping(ctx context.Context) error
	Close() error
}
