package dbadapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/relaydb/dbagent/internal/models"
	"github.com/relaydb/dbagent/internal/sqlanalyzer"
)

// PostgresConfig holds connection parameters for PostgreSQL and GaussDB,
// which is wire-compatible with PostgreSQL's simple-query protocol.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// IsGaussDB flips a handful of feature-detection and DDL decisions
	// that differ between stock PostgreSQL and Huawei GaussDB, which is
	// PostgreSQL wire-compatible but distributed under the hood.
	IsGaussDB bool
}

// DefaultPostgresConfig returns sane local-development defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Database: "postgres",
		SSLMode:  "disable",
	}
}

func (c PostgresConfig) dsn() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// PostgresAdapter implements Adapter for PostgreSQL and GaussDB.
type PostgresAdapter struct {
	db       *sql.DB
	cfg      PostgresConfig
	analyzer *sqlanalyzer.Analyzer
	features map[string]bool
	version  string
}

// NewPostgresAdapter opens a connection pool and runs one-time feature
// detection.
func NewPostgresAdapter(ctx context.Context, cfg PostgresConfig) (*PostgresAdapter, error) {
	db, err := sql.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	engine := models.EnginePostgreSQL
	if cfg.IsGaussDB {
		engine = models.EngineGaussDB
	}

	a := &PostgresAdapter{
		db:       db,
		cfg:      cfg,
		analyzer: sqlanalyzer.New(engine),
		features: map[string]bool{},
	}
	a.detectFeatures(ctx)
	return a, nil
}

func (a *PostgresAdapter) detectFeatures(ctx context.Context) {
	var version string
	if err := a.db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err == nil {
		a.version = version
	}

	var hasStatStatements bool
	err := a.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'pg_stat_statements')`).Scan(&hasStatStatements)
	a.features["pg_stat_statements"] = err == nil && hasStatStatements

	a.features["pg_stat_activity"] = true
	a.features["concurrent_index"] = true
	a.features["distributed"] = a.cfg.IsGaussDB
}

func (a *PostgresAdapter) Engine() models.EngineKind {
	if a.cfg.IsGaussDB {
		return models.EngineGaussDB
	}
	return models.EnginePostgreSQL
}

func (a *PostgresAdapter) Close() error {
	return a.db.Close()
}

func (a *PostgresAdapter) GetDBInfo(ctx context.Context) Result {
	displayName := "PostgreSQL"
	if a.cfg.IsGaussDB {
		displayName = "GaussDB"
	}
	return Result{
		Status: StatusSuccess,
		DBInfo: &DBInfo{
			Engine:      a.Engine(),
			Version:     a.version,
			DisplayName: displayName,
			Features:    a.features,
		},
	}
}

func (a *PostgresAdapter) ListTables(ctx context.Context, schema string) Result {
	if schema == "" {
		schema = "public"
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, schema)
	if err != nil {
		return errorResult(err)
	}
	defer rows.Close()

	var result Result
	result.Status = StatusSuccess
	result.Columns = []string{"name", "schema"}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return errorResult(err)
		}
		result.Rows = append(result.Rows, map[string]any{"name": name, "schema": schema})
	}
	return result
}

func (a *PostgresAdapter) DescribeTable(ctx context.Context, table, schema string) Result {
	if schema == "" {
		schema = "public"
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT c.column_name, c.data_type, c.is_nullable, COALESCE(c.column_default, ''),
		       COALESCE((
		         SELECT true FROM information_schema.key_column_usage k
		         JOIN information_schema.table_constraints tc
		           ON tc.constraint_name = k.constraint_name AND tc.constraint_type = 'PRIMARY KEY'
		         WHERE k.table_schema = c.table_schema AND k.table_name = c.table_name
		           AND k.column_name = c.column_name
		         LIMIT 1
		       ), false) AS is_primary
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`, schema, table)
	if err != nil {
		return errorResult(err)
	}
	defer rows.Close()

	var result Result
	result.Status = StatusSuccess
	result.Columns = []string{"name", "type", "nullable", "default", "is_primary"}
	for rows.Next() {
		var name, dataType, nullable, def string
		var isPrimary bool
		if err := rows.Scan(&name, &dataType, &nullable, &def, &isPrimary); err != nil {
			return errorResult(err)
		}
		result.Rows = append(result.Rows, map[string]any{
			"name": name, "type": dataType, "nullable": nullable == "YES",
			"default": def, "is_primary": isPrimary,
		})
	}
	return result
}

func (a *PostgresAdapter) GetSampleData(ctx context.Context, table, schema string, limit int) Result {
	if limit <= 0 {
		limit = 10
	}
	if schema == "" {
		schema = "public"
	}
	query := fmt.Sprintf("SELECT * FROM %s.%s LIMIT %d", quoteIdent(schema), quoteIdent(table), limit)
	return a.queryToResult(ctx, query)
}

func (a *PostgresAdapter) ListDatabases(ctx context.Context) Result {
	return a.queryToResult(ctx, `SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname`)
}

func (a *PostgresAdapter) ExecuteSafeQuery(ctx context.Context, sqlText string) Result {
	rewritten := AutoPrependSelect(sqlText)
	if !IsReadOnlyStatement(rewritten) {
		return Result{Status: StatusError, Error: "execute_safe_query only accepts read-only statements"}
	}
	return a.queryToResult(ctx, rewritten)
}

func (a *PostgresAdapter) ExecuteSQL(ctx context.Context, sqlText string, confirmed bool) Result {
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

func (a *PostgresAdapter) RunExplain(ctx context.Context, sqlText string, analyze bool) Result {
	prefix := "EXPLAIN"
	if analyze {
		prefix = "EXPLAIN (ANALYZE, FORMAT TEXT)"
	}
	rows, err := a.db.QueryContext(ctx, prefix+" "+sqlText)
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

	analysis := a.analyzer.ParseExplainOutput(sqlanalyzer.PlanInput{Status: "success", Lines: lines})
	result := Result{Status: StatusSuccess, Plan: lines}
	for _, issue := range analysis.Issues {
		result.Issues = append(result.Issues, issue.Message)
	}
	return result
}

func (a *PostgresAdapter) CreateIndex(ctx context.Context, sqlText string, concurrent bool) Result {
	if !IsCreateIndexStatement(sqlText) {
		return Result{Status: StatusError, Error: "create_index requires a CREATE INDEX statement"}
	}
	rewritten := sqlText
	note := ""
	if concurrent {
		upper := strings.ToUpper(sqlText)
		if !strings.Contains(upper, "CONCURRENTLY") {
			rewritten = strings.Replace(sqlText, "INDEX", "INDEX CONCURRENTLY", 1)
			note = "rewritten to use CREATE INDEX CONCURRENTLY to avoid locking writes"
		}
		// CONCURRENTLY cannot run inside a transaction block; ExecContext on
		// the pool runs it in its own autocommit statement.
		if _, err := a.db.ExecContext(ctx, rewritten); err != nil {
			return errorResult(err)
		}
		return Result{Status: StatusSuccess, Note: note}
	}
	if _, err := a.db.ExecContext(ctx, rewritten); err != nil {
		return errorResult(err)
	}
	return successResult()
}

func (a *PostgresAdapter) AnalyzeTable(ctx context.Context, table, schema string) Result {
	if schema == "" {
		schema = "public"
	}
	if _, err := a.db.ExecContext(ctx, fmt.Sprintf("ANALYZE %s.%s", quoteIdent(schema), quoteIdent(table))); err != nil {
		return errorResult(err)
	}
	return successResult()
}

func (a *PostgresAdapter) CheckIndexUsage(ctx context.Context, table, schema string) Result {
	if schema == "" {
		schema = "public"
	}
	return a.queryToResult(ctx, fmt.Sprintf(`
		SELECT indexrelname, idx_scan, idx_tup_read, idx_tup_fetch
		FROM pg_stat_user_indexes
		WHERE relname = '%s' AND schemaname = '%s'
		ORDER BY idx_scan`, escapeLiteral(table), escapeLiteral(schema)))
}

func (a *PostgresAdapter) GetTableStats(ctx context.Context, table, schema string) Result {
	if schema == "" {
		schema = "public"
	}
	return a.queryToResult(ctx, fmt.Sprintf(`
		SELECT n_live_tup, n_dead_tup, last_vacuum, last_autovacuum, last_analyze
		FROM pg_stat_user_tables
		WHERE relname = '%s' AND schemaname = '%s'`, escapeLiteral(table), escapeLiteral(schema)))
}

func (a *PostgresAdapter) GetRunningQueries(ctx context.Context) Result {
	if a.features["pg_stat_statements"] {
		return a.queryToResult(ctx, `
			SELECT pid, state, query, query_start FROM pg_stat_activity
			WHERE state != 'idle' ORDER BY query_start`)
	}
	res := a.queryToResult(ctx, `
		SELECT pid, state, query, query_start FROM pg_stat_activity
		WHERE state != 'idle' ORDER BY query_start`)
	if res.Status == StatusSuccess {
		res.Note = "pg_stat_statements not installed; falling back to pg_stat_activity"
	}
	return res
}

func (a *PostgresAdapter) IdentifySlowQueries(ctx context.Context, minMS int, limit int) Result {
	if limit <= 0 {
		limit = 20
	}
	if !a.features["pg_stat_statements"] {
		return Result{Status: StatusSuccess, Note: "pg_stat_statements extension not installed; slow-query history unavailable"}
	}
	return a.queryToResult(ctx, fmt.Sprintf(`
		SELECT query, calls, total_exec_time, mean_exec_time
		FROM pg_stat_statements
		WHERE mean_exec_time >= %d
		ORDER BY mean_exec_time DESC
		LIMIT %d`, minMS, limit))
}

func (a *PostgresAdapter) GetAllObjects(ctx context.Context, schema string, objectTypes []models.MigrationObjectType) ([]SchemaObject, error) {
	if schema == "" {
		schema = "public"
	}
	want := make(map[models.MigrationObjectType]bool, len(objectTypes))
	for _, t := range objectTypes {
		want[t] = true
	}
	include := func(t models.MigrationObjectType) bool {
		return len(want) == 0 || want[t]
	}

	var objects []SchemaObject
	if include(models.ObjectTable) {
		rows, err := a.db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables WHERE table_schema = $1 AND table_type = 'BASE TABLE'`, schema)
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
		rows, err := a.db.QueryContext(ctx, `SELECT table_name FROM information_schema.views WHERE table_schema = $1`, schema)
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
	if include(models.ObjectSequence) {
		rows, err := a.db.QueryContext(ctx, `SELECT sequence_name FROM information_schema.sequences WHERE sequence_schema = $1`, schema)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return nil, err
			}
			objects = append(objects, SchemaObject{Type: models.ObjectSequence, Name: name, Schema: schema})
		}
		rows.Close()
	}
	return objects, nil
}

func (a *PostgresAdapter) GetObjectDDL(ctx context.Context, objectType models.MigrationObjectType, name, schema string) (string, error) {
	if schema == "" {
		schema = "public"
	}
	switch objectType {
	case models.ObjectTable:
		return a.tableDDL(ctx, name, schema)
	default:
		return "", fmt.Errorf("get_object_ddl: unsupported object type %q for postgresql", objectType)
	}
}

func (a *PostgresAdapter) tableDDL(ctx context.Context, table, schema string) (string, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schema, table)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name, dataType, nullable string
		var def sql.NullString
		if err := rows.Scan(&name, &dataType, &nullable, &def); err != nil {
			return "", err
		}
		col := fmt.Sprintf("  %s %s", quoteIdent(name), dataType)
		if nullable == "NO" {
			col += " NOT NULL"
		}
		if def.Valid {
			col += " DEFAULT " + def.String
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("table %s.%s not found", schema, table)
	}
	return fmt.Sprintf("CREATE TABLE %s.%s (\n%s\n);", quoteIdent(schema), quoteIdent(table), strings.Join(cols, ",\n")), nil
}

func (a *PostgresAdapter) GetObjectDependencies(ctx context.Context, schema string) ([]ForeignKeyEdge, error) {
	edges, _, err := a.GetForeignKeyDependencies(ctx, schema)
	return edges, err
}

func (a *PostgresAdapter) GetForeignKeyDependencies(ctx context.Context, schema string) ([]ForeignKeyEdge, []string, error) {
	if schema == "" {
		schema = "public"
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT
			tc.table_name, kcu.column_name,
			ccu.table_name AS foreign_table, ccu.column_name AS foreign_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1`, schema)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var edges []ForeignKeyEdge
	tableSet := map[string]bool{}
	for rows.Next() {
		var e ForeignKeyEdge
		if err := rows.Scan(&e.Table, &e.Column, &e.References, &e.RefColumn); err != nil {
			return nil, nil, err
		}
		edges = append(edges, e)
		tableSet[e.Table] = true
		tableSet[e.References] = true
	}

	tableRows, err := a.db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables WHERE table_schema = $1 AND table_type = 'BASE TABLE'`, schema)
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

	order := topologicalSortTables(tables, edges)
	return edges, order, nil
}

func (a *PostgresAdapter) CheckQueryPerformance(ctx context.Context, sqlText string) Result {
	if !a.analyzer.IsAnalyticalQuery(sqlText) {
		return successResult()
	}
	explain := a.RunExplain(ctx, sqlText, false)
	if explain.Status != StatusSuccess {
		return explain
	}
	analysis := a.analyzer.ParseExplainOutput(sqlanalyzer.PlanInput{Status: "success", Lines: explain.Plan})
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

func (a *PostgresAdapter) queryToResult(ctx context.Context, query string) Result {
	rows, err := a.db.QueryContext(ctx, query)
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

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
