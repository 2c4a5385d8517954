package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/relaydb/dbagent/internal/models"
)

func setupMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &PostgresStore{db: db}, mock
}

func TestCreateSessionRequiresID(t *testing.T) {
	store, _ := setupMockStore(t)
	err := store.CreateSession(context.Background(), &models.Session{Name: "no id"})
	if err == nil {
		t.Fatal("expected error for missing session ID")
	}
}

func TestCreateSessionSuccess(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now()
	session := &models.Session{ID: "s1", Name: "first", CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("s1", "first", session.ConnectionID, session.ProviderID, false, now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectQuery("SELECT id, name, connection_id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSetCurrentSessionClearsThenSets(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sessions SET is_current = false").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE sessions SET is_current = true").
		WithArgs(sqlmock.AnyArg(), "s2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.SetCurrentSession(context.Background(), "s2"); err != nil {
		t.Fatalf("SetCurrentSession: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSetCurrentSessionNotFoundRollsBack(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sessions SET is_current = false").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE sessions SET is_current = true").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.SetCurrentSession(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAddMessageRequiresIDAndSession(t *testing.T) {
	store, _ := setupMockStore(t)

	if err := store.AddMessage(context.Background(), &models.ChatMessage{SessionID: "s1"}); err == nil {
		t.Error("expected error for missing message ID")
	}
	if err := store.AddMessage(context.Background(), &models.ChatMessage{ID: "m1"}); err == nil {
		t.Error("expected error for missing session ID")
	}
}

func TestAddMessageCommitsInOneTransaction(t *testing.T) {
	store, mock := setupMockStore(t)
	msg := &models.ChatMessage{
		ID:        "m1",
		SessionID: "s1",
		Role:      models.RoleUser,
		Content:   "hello",
		CreatedAt: time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chat_messages").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE sessions SET updated_at").
		WithArgs(sqlmock.AnyArg(), "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.AddMessage(context.Background(), msg); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAddMessageRollsBackOnInsertError(t *testing.T) {
	store, mock := setupMockStore(t)
	msg := &models.ChatMessage{ID: "m1", SessionID: "s1", Role: models.RoleUser, CreatedAt: time.Now()}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chat_messages").
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	if err := store.AddMessage(context.Background(), msg); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDeleteOldestNZeroIsNoop(t *testing.T) {
	store, _ := setupMockStore(t)
	n, err := store.DeleteOldestN(context.Background(), "s1", 0)
	if err != nil || n != 0 {
		t.Errorf("got (%d, %v), want (0, nil)", n, err)
	}
}

func TestCleanupDeletesByAge(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectExec("DELETE FROM audit_logs WHERE created_at").
		WithArgs(30).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.Cleanup(context.Background(), 30)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 3 {
		t.Errorf("Cleanup removed %d rows, want 3", n)
	}
}
