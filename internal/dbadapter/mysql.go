package dbadapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/relaydb/dbagent/internal/models"
	"github.com/relaydb/dbagent/internal/sqlanalyzer"
)

// MySQLConfig holds connection parameters for MySQL.
type MySQLConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// DefaultMySQLConfig returns sane local-development defaults.
func DefaultMySQLConfig() MySQLConfig {
	return MySQLConfig{Host: "localhost", Port: 3306, User: "root", Database: "mysql"}
}

func (c MySQLConfig) dsn() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", c.User, c.Password, c.Host, c.Port, c.Database)
}

// MySQLAdapter implements Adapter for MySQL.
type MySQLAdapter struct {
	db       *sql.DB
	cfg      MySQLConfig
	analyzer *sqlanalyzer.Analyzer
	features map[string]bool
	version  string
}

// NewMySQLAdapter opens a connection pool and runs one-time feature
// detection.
func NewMySQLAdapter(ctx context.Context, cfg MySQLConfig) (*MySQLAdapter, error) {
	db, err := sql.Open("mysql", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	a := &MySQLAdapter{
		db:       db,
		cfg:      cfg,
		analyzer: sqlanalyzer.New(models.EngineMySQL),
		features: map[string]bool{},
	}
	a.detectFeatures(ctx)
	return a, nil
}

func (a *MySQLAdapter) detectFeatures(ctx context.Context) {
	var version string
	if err := a.db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err == nil {
		a.version = version
	}

	var performanceSchemaOn string
	err := a.db.QueryRowContext(ctx, `SELECT @@performance_schema`).Scan(&performanceSchemaOn)
	a.features["performance_schema"] = err == nil && performanceSchemaOn == "1"

	a.features["online_ddl"] = versionAtLeast(version, 5, 6)
	a.features["information_schema"] = true
}

func versionAtLeast(version string, major, minor int) bool {
	var m, n int
	if _, err := fmt.Sscanf(version, "%d.%d", &m, &n); err != nil {
		return false
	}
	if m != major {
		return m > major
	}
	return n >= minor
}

func (a *MySQLAdapter) Engine() models.EngineKind { return models.EngineMySQL }
func (a *MySQLAdapter) Close() error              { return a.db.Close() }

func (a *MySQLAdapter) GetDBInfo(ctx context.Context) Result {
	return Result{
		Status: StatusSuccess,
		DBInfo: &DBInfo{Engine: models.EngineMySQL, Version: a.version, DisplayName: "MySQL", Features: a.features},
	}
}

func (a *MySQLAdapter) ListTables(ctx context.Context, schema string) Result {
	if schema == "" {
		schema = a.cfg.Database
	}
	return a.queryToResult(ctx, `
		SELECT table_name, table_schema FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
		ORDER BY table_name`, schema)
}

func (a *MySQLAdapter) DescribeTable(ctx context.Context, table, schema string) Result {
	if schema == "" {
		schema = a.cfg.Database
	}
	return a.queryToResult(ctx, `
		SELECT column_name, column_type, is_nullable, COALESCE(column_default, ''),
		       column_key = 'PRI' AS is_primary
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, schema, table)
}

func (a *MySQLAdapter) GetSampleData(ctx context.Context, table, schema string, limit int) Result {
	if limit <= 0 {
		limit = 10
	}
	ident := quoteBacktick(table)
	if schema != "" {
		ident = quoteBacktick(schema) + "." + ident
	}
	return a.queryToResult(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", ident, limit))
}

func (a *MySQLAdapter) ListDatabases(ctx context.Context) Result {
	return a.queryToResult(ctx, `SHOW DATABASES`)
}

func (a *MySQLAdapter) ExecuteSafeQuery(ctx context.Context, sqlText string) Result {
	rewritten := AutoPrependSelect(sqlText)
	if !IsReadOnlyStatement(rewritten) {
		return Result{Status: StatusError, Error: "execute_safe_query only accepts read-only statements"}
	}
	return a.queryToResult(ctx, rewritten)
}

func (a *MySQLAdapter) ExecuteSQL(ctx context.Context, sqlText string, confirmed bool) Result {
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

	if RequiresAutocommit(sqlText) {
		res, err := a.db.ExecContext(ctx, sqlText)
		if err != nil {
			return errorResult(err)
		}
		affected, _ := res.RowsAffected()
		return Result{Status: StatusSuccess, AffectedRows: affected}
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

func (a *MySQLAdapter) RunExplain(ctx context.Context, sqlText string, analyze bool) Result {
	prefix := "EXPLAIN"
	if analyze {
		prefix = "EXPLAIN ANALYZE"
	}
	rows, err := a.db.QueryContext(ctx, prefix+" "+sqlText)
	if err != nil {
		return errorResult(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return errorResult(err)
	}

	var planRows []sqlanalyzer.MySQLPlanRow
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return errorResult(err)
		}
		var step sqlanalyzer.MySQLPlanRow
		for i, c := range cols {
			switch strings.ToLower(c) {
			case "table":
				step.Table = vals[i].String
			case "type":
				step.AccessType = vals[i].String
			case "rows":
				fmt.Sscanf(vals[i].String, "%d", &step.Rows)
			case "extra":
				step.Extra = vals[i].String
			}
		}
		planRows = append(planRows, step)
	}

	analysis := a.analyzer.ParseExplainOutput(sqlanalyzer.PlanInput{Status: "success", MySQLRows: planRows})
	result := Result{Status: StatusSuccess}
	for _, row := range planRows {
		result.MySQLPlan = append(result.MySQLPlan, MySQLPlanStep{Table: row.Table, AccessType: row.AccessType, Rows: row.Rows, Extra: row.Extra})
	}
	for _, issue := range analysis.Issues {
		result.Issues = append(result.Issues, issue.Message)
	}
	return result
}

func (a *MySQLAdapter) CreateIndex(ctx context.Context, sqlText string, concurrent bool) Result {
	if !IsCreateIndexStatement(sqlText) {
		return Result{Status: StatusError, Error: "create_index requires a CREATE INDEX statement"}
	}
	rewritten := sqlText
	note := ""
	if concurrent && a.features["online_ddl"] {
		rewritten = strings.TrimRight(strings.TrimSpace(sqlText), ";") + ", ALGORITHM=INPLACE, LOCK=NONE"
		note = "rewritten with ALGORITHM=INPLACE, LOCK=NONE for an online index build"
	} else if concurrent {
		note = "online DDL requires MySQL 5.6+; running as a regular blocking CREATE INDEX"
	}
	if _, err := a.db.ExecContext(ctx, rewritten); err != nil {
		return errorResult(err)
	}
	return Result{Status: StatusSuccess, Note: note}
}

func (a *MySQLAdapter) AnalyzeTable(ctx context.Context, table, schema string) Result {
	ident := quoteBacktick(table)
	if schema != "" {
		ident = quoteBacktick(schema) + "." + ident
	}
	if _, err := a.db.ExecContext(ctx, "ANALYZE TABLE "+ident); err != nil {
		return errorResult(err)
	}
	return successResult()
}

func (a *MySQLAdapter) CheckIndexUsage(ctx context.Context, table, schema string) Result {
	if !a.features["performance_schema"] {
		return Result{Status: StatusSuccess, Note: "performance_schema is disabled; index usage stats unavailable"}
	}
	if schema == "" {
		schema = a.cfg.Database
	}
	return a.queryToResult(ctx, `
		SELECT index_name, count_star, count_read, count_write
		FROM performance_schema.table_io_waits_summary_by_index_usage
		WHERE object_schema = ? AND object_name = ?`, schema, table)
}

func (a *MySQLAdapter) GetTableStats(ctx context.Context, table, schema string) Result {
	if schema == "" {
		schema = a.cfg.Database
	}
	return a.queryToResult(ctx, `
		SELECT table_rows, data_length, index_length, update_time
		FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ?`, schema, table)
}

func (a *MySQLAdapter) GetRunningQueries(ctx context.Context) Result {
	return a.queryToResult(ctx, `SHOW FULL PROCESSLIST`)
}

func (a *MySQLAdapter) IdentifySlowQueries(ctx context.Context, minMS int, limit int) Result {
	if limit <= 0 {
		limit = 20
	}
	if !a.features["performance_schema"] {
		return Result{Status: StatusSuccess, Note: "performance_schema is disabled; slow-query history unavailable"}
	}
	minSeconds := float64(minMS) / 1000.0
	return a.queryToResult(ctx, fmt.Sprintf(`
		SELECT digest_text, count_star, avg_timer_wait / 1000000000 AS avg_ms
		FROM performance_schema.events_statements_summary_by_digest
		WHERE avg_timer_wait / 1000000000000 >= %f
		ORDER BY avg_timer_wait DESC
		LIMIT %d`, minSeconds, limit))
}

func (a *MySQLAdapter) GetAllObjects(ctx context.Context, schema string, objectTypes []models.MigrationObjectType) ([]SchemaObject, error) {
	if schema == "" {
		schema = a.cfg.Database
	}
	want := make(map[models.MigrationObjectType]bool, len(objectTypes))
	for _, t := range objectTypes {
		want[t] = true
	}
	include := func(t models.MigrationObjectType) bool { return len(want) == 0 || want[t] }

	var objects []SchemaObject
	if include(models.ObjectTable) {
		rows, err := a.db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_type = 'BASE TABLE'`, schema)
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
		rows, err := a.db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_type = 'VIEW'`, schema)
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

func (a *MySQLAdapter) GetObjectDDL(ctx context.Context, objectType models.MigrationObjectType, name, schema string) (string, error) {
	ident := quoteBacktick(name)
	if schema != "" {
		ident = quoteBacktick(schema) + "." + ident
	}
	switch objectType {
	case models.ObjectTable:
		var tableName, ddl string
		if err := a.db.QueryRowContext(ctx, "SHOW CREATE TABLE "+ident).Scan(&tableName, &ddl); err != nil {
			return "", err
		}
		return ddl, nil
	case models.ObjectView:
		var viewName, ddl, charset, collation string
		if err := a.db.QueryRowContext(ctx, "SHOW CREATE VIEW "+ident).Scan(&viewName, &ddl, &charset, &collation); err != nil {
			return "", err
		}
		return ddl, nil
	default:
		return "", fmt.Errorf("get_object_ddl: unsupported object type %q for mysql", objectType)
	}
}

func (a *MySQLAdapter) GetObjectDependencies(ctx context.Context, schema string) ([]ForeignKeyEdge, error) {
	edges, _, err := a.GetForeignKeyDependencies(ctx, schema)
	return edges, err
}

func (a *MySQLAdapter) GetForeignKeyDependencies(ctx context.Context, schema string) ([]ForeignKeyEdge, []string, error) {
	if schema == "" {
		schema = a.cfg.Database
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT table_name, column_name, referenced_table_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ? AND referenced_table_name IS NOT NULL`, schema)
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

	tableRows, err := a.db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_type = 'BASE TABLE'`, schema)
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

func (a *MySQLAdapter) CheckQueryPerformance(ctx context.Context, sqlText string) Result {
	if !a.analyzer.IsAnalyticalQuery(sqlText) {
		return successResult()
	}
	explain := a.RunExplain(ctx, sqlText, false)
	if explain.Status != StatusSuccess {
		return explain
	}
	var rows []sqlanalyzer.MySQLPlanRow
	for _, step := range explain.MySQLPlan {
		rows = append(rows, sqlanalyzer.MySQLPlanRow{Table: step.Table, AccessType: step.AccessType, Rows: step.Rows, Extra: step.Extra})
	}
	analysis := a.analyzer.ParseExplainOutput(sqlanalyzer.PlanInput{Status: "success", MySQLRows: rows})
	var issues []string
	for _, issue := range analysis.Issues {
		issues = append(issues, issue.Message)
	}
	status := StatusSuccess
	if analysis.ShouldConfirm {
		status = StatusPendingPerformanceConfirm
	}
	return Result{Status: status, Issues: issues}
}

func (a *MySQLAdapter) queryToResult(ctx context.Context, query string, args ...any) Result {
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

func quoteBacktick(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}
