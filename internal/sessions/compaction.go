package sessions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vireopay/dialog/internal/observability"
	"github.com/vireopay/dialog/pkg/models"
)

// Summarizer condenses a transcript into a short running summary. The
// previous summary, if any, is passed so context is carried forward.
type Summarizer interface {
	Summarize(ctx context.Context, previous, transcript string) (string, error)
}

// Compactor folds older conversation history into a per-user summary once a
// session's message count crosses the threshold. The most recent keepLast
// messages stay verbatim.
type Compactor struct {
	store      Store
	summarizer Summarizer
	threshold  int
	keepLast   int
	logger     *observability.Logger
}

func NewCompactor(store Store, summarizer Summarizer, threshold, keepLast int, logger *observability.Logger) *Compactor {
	if threshold <= 0 {
		threshold = 30
	}
	if keepLast <= 0 || keepLast >= threshold {
		keepLast = 10
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Compactor{
		store:      store,
		summarizer: summarizer,
		threshold:  threshold,
		keepLast:   keepLast,
		logger:     logger,
	}
}

// ShouldCompact reports whether the session has accumulated enough messages.
func (c *Compactor) ShouldCompact(session *models.Session) bool {
	return session != nil && session.MessageCount >= c.threshold
}

// Compact summarises everything except the most recent keepLast messages and
// stores the result as the user's compacted history. Failures are logged and
// returned; the conversation is never blocked on compaction.
func (c *Compactor) Compact(ctx context.Context, session *models.Session) error {
	history, err := c.store.GetHistory(ctx, session.ID, 0)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(history) <= c.keepLast {
		return nil
	}
	older := history[:len(history)-c.keepLast]

	var previous string
	if existing, err := c.store.GetCompacted(ctx, session.UserID); err == nil {
		previous = existing.CompactedText
	}

	summary, err := c.summarizer.Summarize(ctx, previous, renderTranscript(older))
	if err != nil {
		c.logger.Warn(ctx, "history compaction failed", "session_id", session.ID, "error", err)
		return err
	}
	if err := c.store.PutCompacted(ctx, &models.CompactedHistory{
		UserID:          session.UserID,
		CompactedText:   summary,
		LastCompactedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("store compacted history: %w", err)
	}
	c.logger.Info(ctx, "history compacted",
		"session_id", session.ID, "messages", len(older), "kept", c.keepLast)
	return nil
}

func renderTranscript(msgs []models.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	return sb.String()
}
