package dbadapter

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/relaydb/dbagent/internal/models"
	"github.com/relaydb/dbagent/internal/sqlanalyzer"
)

func setupMySQLMock(t *testing.T) (*MySQLAdapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	a := &MySQLAdapter{
		db:       db,
		cfg:      MySQLConfig{Database: "shop"},
		analyzer: sqlanalyzer.New(models.EngineMySQL),
		features: map[string]bool{"online_ddl": true, "performance_schema": true},
	}
	return a, mock
}

func TestMySQLCreateIndexUsesOnlineDDLWhenAvailable(t *testing.T) {
	a, mock := setupMySQLMock(t)
	mock.ExpectExec(`CREATE INDEX idx_orders_user ON orders \(user_id\), ALGORITHM=INPLACE, LOCK=NONE`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	result := a.CreateIndex(context.Background(), "CREATE INDEX idx_orders_user ON orders (user_id)", true)
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v, want success: %s", result.Status, result.Error)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMySQLCreateIndexFallsBackWithoutOnlineDDL(t *testing.T) {
	a, mock := setupMySQLMock(t)
	a.features["online_ddl"] = false
	mock.ExpectExec(`CREATE INDEX idx_orders_user ON orders \(user_id\)$`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	result := a.CreateIndex(context.Background(), "CREATE INDEX idx_orders_user ON orders (user_id)", true)
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v, want success: %s", result.Status, result.Error)
	}
	if result.Note == "" {
		t.Error("expected a note explaining the lack of online DDL support")
	}
}

func TestMySQLIdentifySlowQueriesReportsWhenPerformanceSchemaOff(t *testing.T) {
	a, _ := setupMySQLMock(t)
	a.features["performance_schema"] = false

	result := a.IdentifySlowQueries(context.Background(), 100, 10)
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v, want success", result.Status)
	}
	if result.Note == "" {
		t.Error("expected a note explaining performance_schema is disabled")
	}
}

func TestMySQLExecuteSQLMutationRequiresConfirmation(t *testing.T) {
	a, _ := setupMySQLMock(t)
	result := a.ExecuteSQL(context.Background(), "UPDATE orders SET status = 'shipped' WHERE id = 1", false)
	if result.Status != StatusPendingConfirmation {
		t.Fatalf("status = %v, want pending_confirmation", result.Status)
	}
}

func TestVersionAtLeast(t *testing.T) {
	tests := []struct {
		version string
		major   int
		minor   int
		want    bool
	}{
		{"8.0.34", 5, 6, true},
		{"5.6.10", 5, 6, true},
		{"5.5.62", 5, 6, false},
		{"", 5, 6, false},
	}
	for _, tt := range tests {
		if got := versionAtLeast(tt.version, tt.major, tt.minor); got != tt.want {
			t.Errorf("versionAtLeast(%q, %d, %d) = %v, want %v", tt.version, tt.major, tt.minor, got, tt.want)
		}
	}
}
