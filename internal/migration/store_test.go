package migration

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/relaydb/dbagent/internal/models"
)

func setupStoreMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestCreateTask_ScansGeneratedFields(t *testing.T) {
	s, mock := setupStoreMock(t)
	now := time.Now()
	mock.ExpectQuery(`INSERT INTO migration_tasks`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(1), now, now))

	task := &models.MigrationTask{Name: "t1", SourceEngine: models.EngineMySQL, TargetEngine: models.EnginePostgreSQL}
	if err := s.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.ID != 1 {
		t.Fatalf("task.ID = %d, want 1", task.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetTask_NotFoundReturnsSentinel(t *testing.T) {
	s, mock := setupStoreMock(t)
	mock.ExpectQuery(`SELECT .* FROM migration_tasks WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetTask(context.Background(), 99)
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAddItemsBatch_InsertsWithinTransaction(t *testing.T) {
	s, mock := setupStoreMock(t)
	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO migration_items`)
	mock.ExpectQuery(`INSERT INTO migration_items`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(`INSERT INTO migration_items`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectCommit()

	items := []*models.MigrationItem{
		{TaskID: 1, ObjectType: models.ObjectTable, ObjectName: "a", ExecutionOrder: 1},
		{TaskID: 1, ObjectType: models.ObjectTable, ObjectName: "b", ExecutionOrder: 2, DependsOn: []string{"a"}},
	}
	if err := s.AddItemsBatch(context.Background(), items); err != nil {
		t.Fatalf("add items batch: %v", err)
	}
	if items[0].ID != 1 || items[1].ID != 2 {
		t.Fatalf("item IDs = %d, %d, want 1, 2", items[0].ID, items[1].ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAddItemsBatch_EmptyIsNoOp(t *testing.T) {
	s, mock := setupStoreMock(t)
	if err := s.AddItemsBatch(context.Background(), nil); err != nil {
		t.Fatalf("add items batch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected mock interaction: %v", err)
	}
}

func TestGetNextPendingItem_NotFoundReturnsSentinel(t *testing.T) {
	s, mock := setupStoreMock(t)
	mock.ExpectQuery(`WHERE task_id = \$1 AND status = 'pending'`).
		WithArgs(int64(1)).
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetNextPendingItem(context.Background(), 1)
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateItemStatus_NotFoundWhenNoRowsAffected(t *testing.T) {
	s, mock := setupStoreMock(t)
	mock.ExpectExec(`UPDATE migration_items SET status`).
		WithArgs(int64(1), models.MigrationItemCompleted, "").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateItemStatus(context.Background(), 1, models.MigrationItemCompleted, "")
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestIncrementItemRetry_ResetsStatusToPending(t *testing.T) {
	s, mock := setupStoreMock(t)
	mock.ExpectExec(`UPDATE migration_items SET retry_count = retry_count \+ 1`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.IncrementItemRetry(context.Background(), 5); err != nil {
		t.Fatalf("increment item retry: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
