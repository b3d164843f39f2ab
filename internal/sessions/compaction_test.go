package sessions

import (
	"context"
	"strings"
	"testing"

	"github.com/vireopay/dialog/pkg/models"
)

type fakeSummarizer struct {
	calls      int
	lastPrev   string
	lastInput  string
	summaryOut string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, previous, transcript string) (string, error) {
	f.calls++
	f.lastPrev = previous
	f.lastInput = transcript
	return f.summaryOut, nil
}

func TestCompactorThreshold(t *testing.T) {
	c := NewCompactor(NewMemoryStore(), &fakeSummarizer{}, 30, 10, nil)
	if c.ShouldCompact(&models.Session{MessageCount: 29}) {
		t.Fatal("should not compact below threshold")
	}
	if !c.ShouldCompact(&models.Session{MessageCount: 30}) {
		t.Fatal("should compact at threshold")
	}
}

func TestCompactorKeepsRecentMessages(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	session, _, _ := store.GetOrCreate(ctx, "", "u1", "root")

	for i := 0; i < 15; i++ {
		content := "old message"
		if i >= 10 {
			content = "recent message"
		}
		if err := store.AppendMessage(ctx, &models.Message{
			SessionID: session.ID, UserID: "u1", Role: models.RoleUser, Content: content,
		}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	sum := &fakeSummarizer{summaryOut: "user sent several remittances"}
	c := NewCompactor(store, sum, 12, 5, nil)
	session, _ = store.Get(ctx, session.ID)
	if err := c.Compact(ctx, session); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	if sum.calls != 1 {
		t.Fatalf("summarizer calls = %d", sum.calls)
	}
	if strings.Contains(sum.lastInput, "recent message") {
		t.Fatalf("transcript should exclude the kept tail:\n%s", sum.lastInput)
	}
	if !strings.Contains(sum.lastInput, "old message") {
		t.Fatalf("transcript missing older messages:\n%s", sum.lastInput)
	}

	ch, err := store.GetCompacted(ctx, "u1")
	if err != nil || ch.CompactedText != "user sent several remittances" {
		t.Fatalf("compacted = %v, %v", ch, err)
	}
}

func TestCompactorCarriesPreviousSummary(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	session, _, _ := store.GetOrCreate(ctx, "", "u1", "root")
	_ = store.PutCompacted(ctx, &models.CompactedHistory{UserID: "u1", CompactedText: "earlier summary"})

	for i := 0; i < 10; i++ {
		_ = store.AppendMessage(ctx, &models.Message{
			SessionID: session.ID, UserID: "u1", Role: models.RoleUser, Content: "msg",
		})
	}

	sum := &fakeSummarizer{summaryOut: "updated"}
	c := NewCompactor(store, sum, 8, 3, nil)
	session, _ = store.Get(ctx, session.ID)
	if err := c.Compact(ctx, session); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if sum.lastPrev != "earlier summary" {
		t.Fatalf("previous summary = %q", sum.lastPrev)
	}
}
