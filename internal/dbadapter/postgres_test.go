package dbadapter

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/relaydb/dbagent/internal/models"
	"github.com/relaydb/dbagent/internal/sqlanalyzer"
)

func setupPostgresMock(t *testing.T) (*PostgresAdapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &PostgresAdapter{db: db, analyzer: sqlanalyzer.New(models.EnginePostgreSQL), features: map[string]bool{}}, mock
}

func TestExecuteSafeQueryRejectsMutation(t *testing.T) {
	a, _ := setupPostgresMock(t)
	result := a.ExecuteSafeQuery(context.Background(), "DELETE FROM users")
	if result.Status != StatusError {
		t.Fatalf("status = %v, want error", result.Status)
	}
}

func TestExecuteSafeQueryAutoPrependsSelect(t *testing.T) {
	a, mock := setupPostgresMock(t)
	mock.ExpectQuery(`SELECT id, name FROM users`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "alice"))

	result := a.ExecuteSafeQuery(context.Background(), "id, name FROM users")
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v, want success: %s", result.Status, result.Error)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(result.Rows))
	}
}

func TestExecuteSQLReadOnlyRunsImmediately(t *testing.T) {
	a, mock := setupPostgresMock(t)
	mock.ExpectQuery(`SELECT \* FROM users`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	result := a.ExecuteSQL(context.Background(), "SELECT * FROM users", false)
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v, want success: %s", result.Status, result.Error)
	}
}

func TestExecuteSQLMutationRequiresConfirmation(t *testing.T) {
	a, _ := setupPostgresMock(t)
	result := a.ExecuteSQL(context.Background(), "DELETE FROM users WHERE id = 1", false)
	if result.Status != StatusPendingConfirmation {
		t.Fatalf("status = %v, want pending_confirmation", result.Status)
	}
}

func TestExecuteSQLConfirmedRunsInTransaction(t *testing.T) {
	a, mock := setupPostgresMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result := a.ExecuteSQL(context.Background(), "DELETE FROM users WHERE id = 1", true)
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v, want success: %s", result.Status, result.Error)
	}
	if result.AffectedRows != 1 {
		t.Errorf("affected rows = %d, want 1", result.AffectedRows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestExecuteSQLAutocommitStatementSkipsTransaction(t *testing.T) {
	a, mock := setupPostgresMock(t)
	mock.ExpectExec("CREATE DATABASE reporting").WillReturnResult(sqlmock.NewResult(0, 0))

	result := a.ExecuteSQL(context.Background(), "CREATE DATABASE reporting", true)
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v, want success: %s", result.Status, result.Error)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestExecuteSQLRollsBackOnError(t *testing.T) {
	a, mock := setupPostgresMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM users").WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	result := a.ExecuteSQL(context.Background(), "DELETE FROM users WHERE id = 1", true)
	if result.Status != StatusError {
		t.Fatalf("status = %v, want error", result.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateIndexRewritesConcurrently(t *testing.T) {
	a, mock := setupPostgresMock(t)
	mock.ExpectExec(`CREATE INDEX CONCURRENTLY idx_users_email ON users \(email\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	result := a.CreateIndex(context.Background(), "CREATE INDEX idx_users_email ON users (email)", true)
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v, want success: %s", result.Status, result.Error)
	}
	if result.Note == "" {
		t.Error("expected a note explaining the concurrent rewrite")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateIndexRejectsNonIndexStatement(t *testing.T) {
	a, _ := setupPostgresMock(t)
	result := a.CreateIndex(context.Background(), "DROP TABLE users", false)
	if result.Status != StatusError {
		t.Fatalf("status = %v, want error", result.Status)
	}
}

func TestGetForeignKeyDependenciesToleratesCycles(t *testing.T) {
	tables := []string{"a", "b", "c"}
	edges := []ForeignKeyEdge{
		{Table: "a", References: "b"},
		{Table: "b", References: "c"},
		{Table: "c", References: "a"},
	}
	order := topologicalSortTables(tables, edges)
	if len(order) != 3 {
		t.Fatalf("got %d tables in order, want 3", len(order))
	}
}

func TestRunExplainFlagsFullTableScan(t *testing.T) {
	a, mock := setupPostgresMock(t)
	mock.ExpectQuery("EXPLAIN").WillReturnRows(
		sqlmock.NewRows([]string{"QUERY PLAN"}).
			AddRow("Seq Scan on orders  (cost=0.00..50000.00 rows=500000 width=20)"))

	result := a.RunExplain(context.Background(), "SELECT * FROM orders", false)
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v, want success: %s", result.Status, result.Error)
	}
	if len(result.Issues) == 0 {
		t.Error("expected at least one issue for a large sequential scan")
	}
}
