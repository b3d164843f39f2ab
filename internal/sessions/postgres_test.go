package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/vireopay/dialog/pkg/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStoreWithDB(db), mock
}

func TestPostgresGetSession(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	stack, _ := json.Marshal([]models.AgentFrame{{AgentConfigID: "root", EnteredAt: now}})
	flow, _ := json.Marshal(models.FlowState{FlowConfigID: "send_money_flow", CurrentStateID: "collect_amount"})

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "status", "agent_stack", "current_flow", "pending_confirmation",
		"message_count", "created_at", "last_interaction_at",
	}).AddRow("s1", "u1", "active", stack, flow, nil, 4, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions WHERE id = $1")).
		WithArgs("s1").
		WillReturnRows(rows)

	session, err := store.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if session.ActiveAgentID() != "root" {
		t.Fatalf("active agent = %q", session.ActiveAgentID())
	}
	if session.CurrentFlow == nil || session.CurrentFlow.CurrentStateID != "collect_amount" {
		t.Fatalf("flow = %+v", session.CurrentFlow)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresGetSessionNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgresUpdateSession(t *testing.T) {
	store, mock := newMockStore(t)
	session := &models.Session{
		ID:     "s1",
		UserID: "u1",
		Status: models.StatusActive,
		AgentStack: []models.AgentFrame{
			{AgentConfigID: "root"}, {AgentConfigID: "remittances"},
		},
		MessageCount: 6,
	}

	mock.ExpectExec("UPDATE sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Update(context.Background(), session); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresUpdateMissingSession(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE sessions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Update(context.Background(), &models.Session{ID: "gone"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgresAppendMessage(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO messages").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sessions SET message_count").
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg := &models.Message{SessionID: "s1", UserID: "u1", Role: models.RoleUser, Content: "hola"}
	if err := store.AppendMessage(context.Background(), msg); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if msg.ID == "" || msg.CreatedAt.IsZero() {
		t.Fatal("expected generated id and timestamp")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresGetHistoryWindow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "session_id", "user_id", "role", "content", "metadata", "created_at",
	}).
		AddRow("m59", "s1", "u1", "user", "penultimate", nil, now).
		AddRow("m60", "s1", "u1", "assistant", "latest", nil, now.Add(time.Millisecond))

	mock.ExpectQuery(`ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("s1", 2).
		WillReturnRows(rows)

	history, err := store.GetHistory(context.Background(), "s1", 2)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 2 || history[1].Content != "latest" {
		t.Fatalf("history = %+v", history)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresGetHistoryUnbounded(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "session_id", "user_id", "role", "content", "metadata", "created_at",
	})
	for i := 0; i < 60; i++ {
		rows.AddRow(fmt.Sprintf("m%02d", i),
			"s1", "u1", "user", "message", nil, now.Add(time.Duration(i)*time.Millisecond))
	}

	mock.ExpectQuery(`FROM messages WHERE session_id = \$1\s+ORDER BY created_at ASC`).
		WithArgs("s1").
		WillReturnRows(rows)

	history, err := store.GetHistory(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 60 {
		t.Fatalf("history = %d messages, want the full 60", len(history))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresGetCompactedNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM compacted_history").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	if _, err := store.GetCompacted(context.Background(), "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
