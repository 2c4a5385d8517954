package dbadapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/relaydb/dbagent/internal/models"
	"github.com/relaydb/dbagent/internal/sqlanalyzer"
)

// OracleConfig holds connection parameters for Oracle.
type OracleConfig struct {
	Host    string
	Port    int
	User    string
	Password string
	Service string
}

// OracleAdapter implements Adapter for Oracle.
//
// No pure-Go Oracle driver ships in this module's dependency set, so
// unlike PostgresAdapter and MySQLAdapter this adapter does not open its
// own *sql.DB: NewOracleAdapter takes an already-open pool, which the
// caller opens against whatever database/sql driver it has registered
// (github.com/godror/godror is the usual choice) under driver name
// "godror". Everything downstream of the pool — query shape, EXPLAIN
// parsing, feature detection — is fully implemented against that seam.
type OracleAdapter struct {
	db       *sql.DB
	cfg      OracleConfig
	analyzer *sqlanalyzer.Analyzer
	features map[string]bool
	version  string
}

// NewOracleAdapter wraps an already-open *sql.DB and runs one-time
// feature detection.
func NewOracleAdapter(ctx context.Context, db *sql.DB, cfg OracleConfig) (*OracleAdapter, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping oracle: %w", err)
	}
	a := &OracleAdapter{
		db:       db,
		cfg:      cfg,
		analyzer: sqlanalyzer.New(models.EngineOracle),
		features: map[string]bool{},
	}
	a.detectFeatures(ctx)
	return a, nil
}

func (a *OracleAdapter) detectFeatures(ctx context.Context) {
	if err := a.db.QueryRowContext(ctx, `SELECT banner FROM v$version WHERE ROWNUM = 1`).Scan(&a.version); err != nil {
		a.version = ""
	}

	var canSeeVSQL int
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM v$sql WHERE ROWNUM = 1`).Scan(&canSeeVSQL)
	a.features["v_sql"] = err == nil
	a.features["v_session"] = true
}

func (a *OracleAdapter) Engine() models.EngineKind { return models.EngineOracle }
func (a *OracleAdapter) Close() error              { return a.db.Close() }

func (a *OracleAdapter) GetDBInfo(ctx context.Context) Result {
	return Result{
		Status: StatusSuccess,
		DBInfo: &DBInfo{Engine: models.EngineOracle, Version: a.version, DisplayName: "Oracle", Features: a.features},
	}
}

func (a *OracleAdapter) ListTables(ctx context.Context, schema string) Result {
	if schema == "" {
		return a.queryToResult(ctx, `SELECT table_name FROM user_tables ORDER BY table_name`)
	}
	return a.queryToResult(ctx, `SELECT table_name FROM all_tables WHERE owner = :1 ORDER BY table_name`, strings.ToUpper(schema))
}

func (a *OracleAdapter) DescribeTable(ctx context.Context, table, schema string) Result {
	owner := schema
	query := `
		SELECT column_name, data_type, nullable,
		       (SELECT 'Y' FROM user_cons_columns ucc
		          JOIN user_constraints uc ON uc.constraint_name = ucc.constraint_name
		         WHERE uc.constraint_type = 'P' AND ucc.table_name = cols.table_name
		           AND ucc.column_name = cols.column_name AND ROWNUM = 1) AS is_pk
		FROM user_tab_columns cols WHERE table_name = :1 ORDER BY column_id`
	if owner != "" {
		return a.queryToResult(ctx, strings.Replace(query, "user_tab_columns", "all_tab_columns", 1)+" AND owner = :2", strings.ToUpper(table), strings.ToUpper(owner))
	}
	return a.queryToResult(ctx, query, strings.ToUpper(table))
}

func (a *OracleAdapter) GetSampleData(ctx context.Context, table, schema string, limit int) Result {
	if limit <= 0 {
		limit = 10
	}
	ident := quoteOracleIdent(table)
	if schema != "" {
		ident = quoteOracleIdent(schema) + "." + ident
	}
	return a.queryToResult(ctx, fmt.Sprintf("SELECT * FROM %s WHERE ROWNUM <= %d", ident, limit))
}

func (a *OracleAdapter) ListDatabases(ctx context.Context) Result {
	return Result{Status: StatusSuccess, Note: "Oracle organizes by schema, not database; use list_tables with a schema instead"}
}

func (a *OracleAdapter) ExecuteSafeQuery(ctx context.Context, sqlText string) Result {
	rewritten := AutoPrependSelect(sqlText)
	if !IsReadOnlyStatement(rewritten) {
		return Result{Status: StatusError, Error: "execute_safe_query only accepts read-only statements"}
	}
	return a.queryToResult(ctx, rewritten)
}

func (a *OracleAdapter) ExecuteSQL(ctx context.Context, sqlText string, confirmed bool) Result {
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

func (a *OracleAdapter) RunExplain(ctx context.Context, sqlText string, analyze bool) Result {
	if _, err := a.db.ExecContext(ctx, "EXPLAIN PLAN FOR "+sqlText); err != nil {
		return errorResult(err)
	}
	rows, err := a.db.QueryContext(ctx, `SELECT plan_table_output FROM TABLE(DBMS_XPLAN.DISPLAY())`)
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

func (a *OracleAdapter) CreateIndex(ctx context.Context, sqlText string, concurrent bool) Result {
	if !IsCreateIndexStatement(sqlText) {
		return Result{Status: StatusError, Error: "create_index requires a CREATE INDEX statement"}
	}
	rewritten := sqlText
	note := ""
	if concurrent {
		upper := strings.ToUpper(sqlText)
		if !strings.Contains(upper, "ONLINE") {
			rewritten = strings.TrimRight(strings.TrimSpace(sqlText), ";") + " ONLINE"
			note = "rewritten with ONLINE to avoid a DML lock during the build"
		}
	}
	if _, err := a.db.ExecContext(ctx, rewritten); err != nil {
		return errorResult(err)
	}
	return Result{Status: StatusSuccess, Note: note}
}

func (a *OracleAdapter) AnalyzeTable(ctx context.Context, table, schema string) Result {
	owner := "NULL"
	if schema != "" {
		owner = "'" + escapeLiteral(strings.ToUpper(schema)) + "'"
	}
	stmt := fmt.Sprintf("BEGIN DBMS_STATS.GATHER_TABLE_STATS(ownname => %s, tabname => '%s'); END;", owner, escapeLiteral(strings.ToUpper(table)))
	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		return errorResult(err)
	}
	return successResult()
}

func (a *OracleAdapter) CheckIndexUsage(ctx context.Context, table, schema string) Result {
	return a.queryToResult(ctx, `
		SELECT index_name, monitoring, used FROM v$object_usage WHERE table_name = :1`, strings.ToUpper(table))
}

func (a *OracleAdapter) GetTableStats(ctx context.Context, table, schema string) Result {
	return a.queryToResult(ctx, `
		SELECT num_rows, blocks, last_analyzed FROM user_tables WHERE table_name = :1`, strings.ToUpper(table))
}

func (a *OracleAdapter) GetRunningQueries(ctx context.Context) Result {
	if a.features["v_sql"] {
		return a.queryToResult(ctx, `SELECT sql_id, sql_text, executions FROM v$sql WHERE ROWNUM <= 50`)
	}
	res := a.queryToResult(ctx, `SELECT sid, serial#, status, sql_id FROM v$session WHERE status = 'ACTIVE'`)
	if res.Status == StatusSuccess {
		res.Note = "v$sql not visible with current privileges; falling back to v$session"
	}
	return res
}

func (a *OracleAdapter) IdentifySlowQueries(ctx context.Context, minMS int, limit int) Result {
	if limit <= 0 {
		limit = 20
	}
	if !a.features["v_sql"] {
		return Result{Status: StatusSuccess, Note: "v$sql not visible with current privileges; slow-query history unavailable"}
	}
	return a.queryToResult(ctx, fmt.Sprintf(`
		SELECT sql_text, executions, elapsed_time / executions / 1000 AS avg_ms
		FROM v$sql
		WHERE executions > 0 AND elapsed_time / executions / 1000 >= %d
		ORDER BY avg_ms DESC FETCH FIRST %d ROWS ONLY`, minMS, limit))
}

func (a *OracleAdapter) GetAllObjects(ctx context.Context, schema string, objectTypes []models.MigrationObjectType) ([]SchemaObject, error) {
	want := make(map[models.MigrationObjectType]bool, len(objectTypes))
	for _, t := range objectTypes {
		want[t] = true
	}
	include := func(t models.MigrationObjectType) bool { return len(want) == 0 || want[t] }

	typeMap := map[models.MigrationObjectType]string{
		models.ObjectTable:     "TABLE",
		models.ObjectView:      "VIEW",
		models.ObjectSequence:  "SEQUENCE",
		models.ObjectFunction:  "FUNCTION",
		models.ObjectProcedure: "PROCEDURE",
		models.ObjectTrigger:   "TRIGGER",
	}

	var objects []SchemaObject
	for objType, oracleType := range typeMap {
		if !include(objType) {
			continue
		}
		query := `SELECT object_name FROM user_objects WHERE object_type = :1`
		args := []any{oracleType}
		if schema != "" {
			query = `SELECT object_name FROM all_objects WHERE object_type = :1 AND owner = :2`
			args = append(args, strings.ToUpper(schema))
		}
		rows, err := a.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return nil, err
			}
			objects = append(objects, SchemaObject{Type: objType, Name: name, Schema: schema})
		}
		rows.Close()
	}
	return objects, nil
}

func (a *OracleAdapter) GetObjectDDL(ctx context.Context, objectType models.MigrationObjectType, name, schema string) (string, error) {
	typeMap := map[models.MigrationObjectType]string{
		models.ObjectTable:     "TABLE",
		models.ObjectView:      "VIEW",
		models.ObjectSequence:  "SEQUENCE",
		models.ObjectFunction:  "FUNCTION",
		models.ObjectProcedure: "PROCEDURE",
		models.ObjectTrigger:   "TRIGGER",
	}
	oracleType, ok := typeMap[objectType]
	if !ok {
		return "", fmt.Errorf("get_object_ddl: unsupported object type %q for oracle", objectType)
	}
	var ddl string
	query := `SELECT DBMS_METADATA.GET_DDL(:1, :2) FROM dual`
	args := []any{oracleType, strings.ToUpper(name)}
	if schema != "" {
		query = `SELECT DBMS_METADATA.GET_DDL(:1, :2, :3) FROM dual`
		args = append(args, strings.ToUpper(schema))
	}
	if err := a.db.QueryRowContext(ctx, query, args...).Scan(&ddl); err != nil {
		return "", err
	}
	return ddl, nil
}

func (a *OracleAdapter) GetObjectDependencies(ctx context.Context, schema string) ([]ForeignKeyEdge, error) {
	edges, _, err := a.GetForeignKeyDependencies(ctx, schema)
	return edges, err
}

func (a *OracleAdapter) GetForeignKeyDependencies(ctx context.Context, schema string) ([]ForeignKeyEdge, []string, error) {
	query := `
		SELECT a.table_name, a.column_name, c_pk.table_name, b.column_name
		FROM user_cons_columns a
		JOIN user_constraints c ON a.constraint_name = c.constraint_name
		JOIN user_constraints c_pk ON c.r_constraint_name = c_pk.constraint_name
		JOIN user_cons_columns b ON b.constraint_name = c_pk.constraint_name AND b.position = a.position
		WHERE c.constraint_type = 'R'`
	if schema != "" {
		query = strings.Replace(query, "user_cons_columns", "all_cons_columns", -1)
		query = strings.Replace(query, "user_constraints", "all_constraints", -1)
		query += ` AND c.owner = :1`
	}
	var rows *sql.Rows
	var err error
	if schema != "" {
		rows, err = a.db.QueryContext(ctx, query, strings.ToUpper(schema))
	} else {
		rows, err = a.db.QueryContext(ctx, query)
	}
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

	tablesResult := a.ListTables(ctx, schema)
	var tables []string
	for _, row := range tablesResult.Rows {
		if name, ok := row["table_name"].(string); ok {
			tables = append(tables, name)
		} else if name, ok := row["TABLE_NAME"].(string); ok {
			tables = append(tables, name)
		}
	}
	if len(tables) == 0 {
		for t := range tableSet {
			tables = append(tables, t)
		}
	}

	return edges, topologicalSortTables(tables, edges), nil
}

func (a *OracleAdapter) CheckQueryPerformance(ctx context.Context, sqlText string) Result {
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

func (a *OracleAdapter) queryToResult(ctx context.Context, query string, args ...any) Result {
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
			row[strings.ToLower(c)] = vals[i]
		}
		result.Rows = append(result.Rows, row)
	}
	return result
}

func quoteOracleIdent(ident string) string {
	return `"` + strings.ToUpper(strings.ReplaceAll(ident, `"`, `""`)) + `"`
}
