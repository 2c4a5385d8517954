package dbadapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/relaydb/dbagent/internal/models"
	"github.com/relaydb/dbagent/internal/sqlanalyzer"
)

// MSSQLConfig holds connection parameters for SQL Server.
type MSSQLConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// MSSQLAdapter implements Adapter for SQL Server.
//
// Like OracleAdapter, this wraps an already-open *sql.DB rather than
// opening one itself: no pure-Go SQL Server driver is part of this
// module's dependency set, so the caller opens the pool against
// github.com/denisenkom/go-mssqldb under driver name "sqlserver" and
// hands it in here. Everything downstream of the pool is fully
// implemented against that seam.
type MSSQLAdapter struct {
	db       *sql.DB
	cfg      MSSQLConfig
	analyzer *sqlanalyzer.Analyzer
	features map[string]bool
	version  string
	edition  string
}

// NewMSSQLAdapter wraps an already-open *sql.DB and runs one-time
// feature detection.
func NewMSSQLAdapter(ctx context.Context, db *sql.DB, cfg MSSQLConfig) (*MSSQLAdapter, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlserver: %w", err)
	}
	a := &MSSQLAdapter{
		db:       db,
		cfg:      cfg,
		analyzer: sqlanalyzer.New(models.EngineSQLServer),
		features: map[string]bool{},
	}
	a.detectFeatures(ctx)
	return a, nil
}

func (a *MSSQLAdapter) detectFeatures(ctx context.Context) {
	if err := a.db.QueryRowContext(ctx, `SELECT @@VERSION`).Scan(&a.version); err != nil {
		a.version = ""
	}
	if err := a.db.QueryRowContext(ctx, `SELECT SERVERPROPERTY('Edition')`).Scan(&a.edition); err != nil {
		a.edition = ""
	}
	a.features["online_index"] = strings.Contains(a.edition, "Enterprise") || strings.Contains(a.edition, "Developer")
	a.features["dmv_query_stats"] = true
}

func (a *MSSQLAdapter) Engine() models.EngineKind { return models.EngineSQLServer }
func (a *MSSQLAdapter) Close() error              { return a.db.Close() }

func (a *MSSQLAdapter) GetDBInfo(ctx context.Context) Result {
	return Result{
		Status: StatusSuccess,
		DBInfo: &DBInfo{Engine: models.EngineSQLServer, Version: a.version, DisplayName: "SQL Server", Features: a.features},
	}
}

func (a *MSSQLAdapter) ListTables(ctx context.Context, schema string) Result {
	if schema == "" {
		schema = "dbo"
	}
	return a.queryToResult(ctx, `
		SELECT table_name, table_schema FROM information_schema.tables
		WHERE table_schema = @p1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, schema)
}

func (a *MSSQLAdapter) DescribeTable(ctx context.Context, table, schema string) Result {
	if schema == "" {
		schema = "dbo"
	}
	return a.queryToResult(ctx, `
		SELECT c.column_name, c.data_type, c.is_nullable, COALESCE(c.column_default, ''),
		       CAST(CASE WHEN pk.column_name IS NOT NULL THEN 1 ELSE 0 END AS BIT) AS is_primary
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT ku.table_schema, ku.table_name, ku.column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage ku
				ON tc.constraint_name = ku.constraint_name
			WHERE tc.constraint_type = 'PRIMARY KEY'
		) pk ON pk.table_schema = c.table_schema AND pk.table_name = c.table_name AND pk.column_name = c.column_name
		WHERE c.table_schema = @p1 AND c.table_name = @p2
		ORDER BY c.ordinal_position`, schema, table)
}

func (a *MSSQLAdapter) GetSampleData(ctx context.Context, table, schema string, limit int) Result {
	if limit <= 0 {
		limit = 10
	}
	ident := quoteMSSQLIdent(table)
	if schema != "" {
		ident = quoteMSSQLIdent(schema) + "." + ident
	}
	return a.queryToResult(ctx, fmt.Sprintf("SELECT TOP %d * FROM %s", limit, ident))
}

func (a *MSSQLAdapter) ListDatabases(ctx context.Context) Result {
	return a.queryToResult(ctx, `SELECT name FROM sys.databases ORDER BY name`)
}

func (a *MSSQLAdapter) ExecuteSafeQuery(ctx context.Context, sqlText string) Result {
	rewritten := AutoPrependSelect(sqlText)
	if !IsReadOnlyStatement(rewritten) {
		return Result{Status: StatusError, Error: "execute_safe_query only accepts read-only statements"}
	}
	return a.queryToResult(ctx, rewritten)
}

func (a *MSSQLAdapter) ExecuteSQL(ctx context.Context, sqlText string, confirmed bool) Result {
	if IsReadOnlyStatement(sqlText) {
		return a.queryToResult(ctx, sqlText)
	}
	perf := a.CheckQueryPerformance(ctx, sqlText)
	if perf.Status == StatusSuccess && len(perf.Issues) > 0 && !confirmed {
		return Result{Status: StatusPendingPerformanceConfirm, Issues: perf.Issues}
	}
	if !confirmed {
		return Result{Status: StatusPendingConfirmation}
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return errorResult(err)
	}
	res, err := tx.ExecContext(ctx, sqlText)
	if err != nil {
		tx.Rollback()
		return errorResult(err)
	}
	if err := tx.Commit(); err != nil {
		return errorResult(err)
	}
	affected, _ := res.RowsAffected()
	return Result{Status: StatusSuccess, AffectedRows: affected}
}

func (a *MSSQLAdapter) RunExplain(ctx context.Context, sqlText string, analyze bool) Result {
	if _, err := a.db.ExecContext(ctx, "SET SHOWPLAN_TEXT ON"); err != nil {
		return errorResult(err)
	}
	defer a.db.ExecContext(ctx, "SET SHOWPLAN_TEXT OFF")

	rows, err := a.db.QueryContext(ctx, sqlText)
	if err != nil {
		return errorResult(err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return errorResult(err)
		}
		lines = append(lines, line)
	}

	result := Result{Status: StatusSuccess, Plan: lines}
	if containsFold(lines, "Table Scan") || containsFold(lines, "Clustered Index Scan") {
		result.Issues = append(result.Issues, "plan includes a table or clustered index scan; consider a covering index")
	}
	return result
}

func containsFold(lines []string, needle string) bool {
	for _, l := range lines {
		if strings.Contains(strings.ToLower(l), strings.ToLower(needle)) {
			return true
		}
	}
	return false
}

func (a *MSSQLAdapter) CreateIndex(ctx context.Context, sqlText string, concurrent bool) Result {
	if !IsCreateIndexStatement(sqlText) {
		return Result{Status: StatusError, Error: "create_index requires a CREATE INDEX statement"}
	}
	rewritten := sqlText
	note := ""
	if concurrent && a.features["online_index"] {
		rewritten = strings.TrimRight(strings.TrimSpace(sqlText), ";") + " WITH (ONLINE = ON)"
		note = "rewritten with WITH (ONLINE = ON); requires Enterprise or Developer edition"
	} else if concurrent {
		note = "online index builds require Enterprise or Developer edition; running as a regular blocking CREATE INDEX"
	}
	if _, err := a.db.ExecContext(ctx, rewritten); err != nil {
		return errorResult(err)
	}
	return Result{Status: StatusSuccess, Note: note}
}

func (a *MSSQLAdapter) AnalyzeTable(ctx context.Context, table, schema string) Result {
	ident := quoteMSSQLIdent(table)
	if schema != "" {
		ident = quoteMSSQLIdent(schema) + "." + ident
	}
	if _, err := a.db.ExecContext(ctx, "UPDATE STATISTICS "+ident); err != nil {
		return errorResult(err)
	}
	return successResult()
}

func (a *MSSQLAdapter) CheckIndexUsage(ctx context.Context, table, schema string) Result {
	return a.queryToResult(ctx, `
		SELECT i.name AS index_name, s.user_seeks, s.user_scans, s.user_lookups
		FROM sys.dm_db_index_usage_stats s
		JOIN sys.indexes i ON i.object_id = s.object_id AND i.index_id = s.index_id
		WHERE s.object_id = OBJECT_ID(@p1)`, table)
}

func (a *MSSQLAdapter) GetTableStats(ctx context.Context, table, schema string) Result {
	return a.queryToResult(ctx, `
		SELECT p.rows, au.total_pages * 8 AS total_kb
		FROM sys.partitions p
		JOIN sys.allocation_units au ON au.container_id = p.partition_id
		WHERE p.object_id = OBJECT_ID(@p1) AND p.index_id IN (0, 1)`, table)
}

func (a *MSSQLAdapter) GetRunningQueries(ctx context.Context) Result {
	return a.queryToResult(ctx, `
		SELECT r.session_id, r.status, t.text AS query_text, r.start_time
		FROM sys.dm_exec_requests r
		CROSS APPLY sys.dm_exec_sql_text(r.sql_handle) t
		WHERE r.session_id > 50`)
}

func (a *MSSQLAdapter) IdentifySlowQueries(ctx context.Context, minMS int, limit int) Result {
	if limit <= 0 {
		limit = 20
	}
	return a.queryToResult(ctx, fmt.Sprintf(`
		SELECT TOP %d t.text AS query_text, qs.execution_count,
		       qs.total_elapsed_time / qs.execution_count / 1000 AS avg_ms
		FROM sys.dm_exec_query_stats qs
		CROSS APPLY sys.dm_exec_sql_text(qs.sql_handle) t
		WHERE qs.total_elapsed_time / qs.execution_count / 1000 >= %d
		ORDER BY avg_ms DESC`, limit, minMS))
}

func (a *MSSQLAdapter) GetAllObjects(ctx context.Context, schema string, objectTypes []models.MigrationObjectType) ([]SchemaObject, error) {
	if schema == "" {
		schema = "dbo"
	}
	want := make(map[models.MigrationObjectType]bool, len(objectTypes))
	for _, t := range objectTypes {
		want[t] = true
	}
	include := func(t models.MigrationObjectType) bool { return len(want) == 0 || want[t] }

	var objects []SchemaObject
	if include(models.ObjectTable) {
		rows, err := a.db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables WHERE table_schema = @p1 AND table_type = 'BASE TABLE'`, schema)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return nil, err
			}
			objects = append(objects, SchemaObject{Type: models.ObjectTable, Name: name, Schema: schema})
		}
		rows.Close()
	}
	if include(models.ObjectView) {
		rows, err := a.db.QueryContext(ctx, `SELECT table_name FROM information_schema.views WHERE table_schema = @p1`, schema)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return nil, err
			}
			objects = append(objects, SchemaObject{Type: models.ObjectView, Name: name, Schema: schema})
		}
		rows.Close()
	}
	return objects, nil
}

func (a *MSSQLAdapter) GetObjectDDL(ctx context.Context, objectType models.MigrationObjectType, name, schema string) (string, error) {
	if schema == "" {
		schema = "dbo"
	}
	switch objectType {
	case models.ObjectView, models.ObjectFunction, models.ObjectProcedure, models.ObjectTrigger:
		var ddl string
		fullName := schema + "." + name
		if err := a.db.QueryRowContext(ctx, `SELECT OBJECT_DEFINITION(OBJECT_ID(@p1))`, fullName).Scan(&ddl); err != nil {
			return "", err
		}
		return ddl, nil
	default:
		return "", fmt.Errorf("get_object_ddl: unsupported object type %q for sqlserver (no sp_helptext-free table DDL reconstruction)", objectType)
	}
}

func (a *MSSQLAdapter) GetObjectDependencies(ctx context.Context, schema string) ([]ForeignKeyEdge, error) {
	edges, _, err := a.GetForeignKeyDependencies(ctx, schema)
	return edges, err
}

func (a *MSSQLAdapter) GetForeignKeyDependencies(ctx context.Context, schema string) ([]ForeignKeyEdge, []string, error) {
	if schema == "" {
		schema = "dbo"
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT
			tp.name AS table_name, cp.name AS column_name,
			tr.name AS referenced_table, cr.name AS referenced_column
		FROM sys.foreign_key_columns fkc
		JOIN sys.tables tp ON tp.object_id = fkc.parent_object_id
		JOIN sys.columns cp ON cp.object_id = fkc.parent_object_id AND cp.column_id = fkc.parent_column_id
		JOIN sys.tables tr ON tr.object_id = fkc.referenced_object_id
		JOIN sys.columns cr ON cr.object_id = fkc.referenced_object_id AND cr.column_id = fkc.referenced_column_id
		JOIN sys.schemas s ON s.schema_id = tp.schema_id
		WHERE s.name = @p1`, schema)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var edges []ForeignKeyEdge
	for rows.Next() {
		var e ForeignKeyEdge
		if err := rows.Scan(&e.Table, &e.Column, &e.References, &e.RefColumn); err != nil {
			return nil, nil, err
		}
		edges = append(edges, e)
	}

	tableRows, err := a.db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables WHERE table_schema = @p1 AND table_type = 'BASE TABLE'`, schema)
	if err != nil {
		return nil, nil, err
	}
	defer tableRows.Close()
	var tables []string
	for tableRows.Next() {
		var name string
		if err := tableRows.Scan(&name); err != nil {
			return nil, nil, err
		}
		tables = append(tables, name)
	}

	return edges, topologicalSortTables(tables, edges), nil
}

func (a *MSSQLAdapter) CheckQueryPerformance(ctx context.Context, sqlText string) Result {
	if !a.analyzer.IsAnalyticalQuery(sqlText) {
		return successResult()
	}
	explain := a.RunExplain(ctx, sqlText, false)
	if explain.Status != StatusSuccess {
		return explain
	}
	status := StatusSuccess
	var issues []string
	if len(explain.Issues) > 0 {
		status = StatusPendingPerformanceConfirm
		issues = explain.Issues
	}
	return Result{Status: status, Issues: issues}
}

func (a *MSSQLAdapter) queryToResult(ctx context.Context, query string, args ...any) Result {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return errorResult(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return errorResult(err)
	}

	result := Result{Status: StatusSuccess, Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return errorResult(err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		result.Rows = append(result.Rows, row)
	}
	return result
}

func quoteMSSQLIdent(ident string) string {
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}
