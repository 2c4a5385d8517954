package migration

import (
	"strings"
	"testing"

	"github.com/relaydb/dbagent/internal/models"
)

func TestConvertDDL_MySQLToPostgres_RewritesColumnTypes(t *testing.T) {
	ddl := "CREATE TABLE orders (" +
		"id INT AUTO_INCREMENT, " +
		"is_paid TINYINT(1), " +
		"placed_at DATETIME, " +
		"notes LONGTEXT, " +
		"payload JSON, " +
		"status ENUM('new','shipped')" +
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"

	result := ConvertDDL(ddl, models.EngineMySQL, models.EnginePostgreSQL, models.ObjectTable)
	if result.Skipped() {
		t.Fatalf("did not expect a skip, got reason %q", result.SkipReason)
	}
	for _, want := range []string{"SERIAL", "BOOLEAN", "TIMESTAMP", "TEXT", "JSONB", "VARCHAR(50)"} {
		if !strings.Contains(result.DDL, want) {
			t.Errorf("converted DDL missing %q: %s", want, result.DDL)
		}
	}
	for _, unwanted := range []string{"ENGINE=", "CHARSET", "AUTO_INCREMENT"} {
		if strings.Contains(result.DDL, unwanted) {
			t.Errorf("converted DDL still contains %q: %s", unwanted, result.DDL)
		}
	}
	if len(result.Notes) == 0 {
		t.Error("expected conversion notes to be recorded")
	}
}

func TestConvertDDL_MySQLToPostgres_FulltextIndexSkipped(t *testing.T) {
	result := ConvertDDL("CREATE FULLTEXT INDEX idx_body ON articles (body)", models.EngineMySQL, models.EnginePostgreSQL, models.ObjectIndex)
	if !result.Skipped() {
		t.Fatal("expected FULLTEXT index to be skipped")
	}
	if !strings.Contains(result.SkipReason, "not supported") {
		t.Errorf("skip reason = %q, want it to mention 'not supported'", result.SkipReason)
	}
}

func TestConvertDDL_GaussDBReusesMySQLToPostgresPack(t *testing.T) {
	ddl := "CREATE TABLE t (id INT AUTO_INCREMENT)"
	pg := ConvertDDL(ddl, models.EngineMySQL, models.EnginePostgreSQL, models.ObjectTable)
	gauss := ConvertDDL(ddl, models.EngineMySQL, models.EngineGaussDB, models.ObjectTable)
	if pg.DDL != gauss.DDL {
		t.Fatalf("MySQL->PostgreSQL and MySQL->GaussDB diverged: %q vs %q", pg.DDL, gauss.DDL)
	}
}

func TestConvertDDL_OracleToPostgres_RewritesNumericAndText(t *testing.T) {
	ddl := "CREATE TABLE accounts (" +
		"id NUMBER(10), " +
		"balance NUMBER(19), " +
		"rate NUMBER(5,2), " +
		"name VARCHAR2(100), " +
		"notes CLOB, " +
		"photo BLOB, " +
		"created_at DATE DEFAULT SYSDATE)"

	result := ConvertDDL(ddl, models.EngineOracle, models.EnginePostgreSQL, models.ObjectTable)
	if result.Skipped() {
		t.Fatalf("did not expect a skip, got %q", result.SkipReason)
	}
	for _, want := range []string{"INTEGER", "BIGINT", "NUMERIC(5,2)", "VARCHAR(100)", "TEXT", "BYTEA", "CURRENT_TIMESTAMP"} {
		if !strings.Contains(result.DDL, want) {
			t.Errorf("converted DDL missing %q: %s", want, result.DDL)
		}
	}
}

func TestConvertDDL_OracleToGaussDB_RenamesPackagesAndFlagsConnectBy(t *testing.T) {
	ddl := "BEGIN DBMS_OUTPUT.PUT_LINE('hi'); v := DBMS_RANDOM.VALUE; END;\n" +
		"SELECT * FROM employees START WITH manager_id IS NULL CONNECT BY PRIOR employee_id = manager_id"

	result := ConvertDDL(ddl, models.EngineOracle, models.EngineGaussDB, models.ObjectProcedure)
	if result.Skipped() {
		t.Fatalf("did not expect a skip, got %q", result.SkipReason)
	}
	if !strings.Contains(result.DDL, "DBE_OUTPUT.PUT_LINE") {
		t.Errorf("expected DBMS_OUTPUT -> DBE_OUTPUT rename, got %s", result.DDL)
	}
	if !strings.Contains(result.DDL, "DBE_RANDOM.GET_VALUE") {
		t.Errorf("expected DBMS_RANDOM.VALUE -> DBE_RANDOM.GET_VALUE rename, got %s", result.DDL)
	}
	foundConnectByNote := false
	for _, n := range result.Notes {
		if strings.Contains(n, "CONNECT BY") {
			foundConnectByNote = true
		}
	}
	if !foundConnectByNote {
		t.Error("expected a note flagging CONNECT BY for manual rewrite")
	}
}

func TestConvertDDL_SameEngine_PassesThroughUnchanged(t *testing.T) {
	ddl := "CREATE TABLE t (id INT)"
	result := ConvertDDL(ddl, models.EnginePostgreSQL, models.EnginePostgreSQL, models.ObjectTable)
	if result.DDL != ddl {
		t.Fatalf("expected pass-through, got %q", result.DDL)
	}
	if len(result.Notes) != 0 {
		t.Fatalf("expected no notes for a same-engine pass-through, got %v", result.Notes)
	}
}

func TestConvertDDL_UnsupportedPairSkipsWithReason(t *testing.T) {
	result := ConvertDDL("CREATE TABLE t (id INT)", models.EngineSQLServer, models.EngineOracle, models.ObjectTable)
	if !result.Skipped() {
		t.Fatal("expected an unsupported engine pair to skip")
	}
	if !strings.Contains(result.SkipReason, "no conversion rules") {
		t.Errorf("skip reason = %q", result.SkipReason)
	}
}

func TestRuleSummary_ListsRewriteNotes(t *testing.T) {
	summary := RuleSummary(models.EngineMySQL, models.EnginePostgreSQL)
	if !strings.Contains(summary, "AUTO_INCREMENT") {
		t.Errorf("expected rule summary to mention AUTO_INCREMENT, got %s", summary)
	}
}

func TestRuleSummary_UnsupportedPairSaysSo(t *testing.T) {
	summary := RuleSummary(models.EngineSQLServer, models.EngineOracle)
	if !strings.Contains(summary, "No documented conversion rules") {
		t.Errorf("expected a no-rules message, got %s", summary)
	}
}
