// Package dbadapter implements the uniform capability surface each
// supported relational engine exposes to the conversation engine: table
// introspection, safe/unsafe SQL execution with confirmation gating,
// EXPLAIN, index creation, and the migration-support object enumeration
// used by the migration handler.
package dbadapter

import (
	"context"
	"regexp"
	"strings"

	"github.com/relaydb/dbagent/internal/models"
)

// Status is the outcome tag every adapter operation returns. Adapters
// never propagate a database error as a Go error across this boundary —
// errors are folded into a Result with StatusError so the conversation
// engine can feed them back to the LLM uniformly.
type Status string

const (
	StatusSuccess                     Status = "success"
	StatusError                       Status = "error"
	StatusPendingConfirmation         Status = "pending_confirmation"
	StatusPendingPerformanceConfirm   Status = "pending_performance_confirmation"
)

// Result is the tagged envelope every Adapter method returns.
type Result struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
	Note   string `json:"note,omitempty"`

	Columns []string         `json:"columns,omitempty"`
	Rows    []map[string]any `json:"rows,omitempty"`

	AffectedRows int64 `json:"affected_rows,omitempty"`

	// Plan holds line-oriented EXPLAIN text (PostgreSQL/GaussDB/Oracle).
	Plan []string `json:"plan,omitempty"`
	// MySQLPlan holds MySQL's structured per-row EXPLAIN output.
	MySQLPlan []MySQLPlanStep `json:"mysql_plan,omitempty"`

	Issues []string `json:"issues,omitempty"`

	DBInfo *DBInfo `json:"db_info,omitempty"`
}

func errorResult(err error) Result {
	return Result{Status: StatusError, Error: err.Error()}
}

func successResult() Result {
	return Result{Status: StatusSuccess}
}

// MySQLPlanStep is one row of MySQL's structured EXPLAIN output.
type MySQLPlanStep struct {
	Table      string `json:"table"`
	AccessType string `json:"type"`
	Rows       int    `json:"rows"`
	Extra      string `json:"extra"`
}

// DBInfo summarizes an engine connection's identity and feature flags,
// computed once at connect time and cached for the adapter's lifetime.
type DBInfo struct {
	Engine       models.EngineKind `json:"engine"`
	Version      string            `json:"version"`
	DisplayName  string            `json:"display_name"`
	Features     map[string]bool   `json:"features"`
}

// Table is one entry from list_tables.
type Table struct {
	Name   string `json:"name"`
	Schema string `json:"schema,omitempty"`
}

// ColumnInfo is one entry from describe_table.
type ColumnInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	Default    string `json:"default,omitempty"`
	IsPrimary  bool   `json:"is_primary"`
}

// SchemaObject is one item returned by get_all_objects.
type SchemaObject struct {
	Type   models.MigrationObjectType `json:"type"`
	Name   string                     `json:"name"`
	Schema string                     `json:"schema,omitempty"`
}

// ForeignKeyEdge is one FK relationship: Table depends on References.
type ForeignKeyEdge struct {
	Table      string `json:"table"`
	Column     string `json:"column"`
	References string `json:"references"`
	RefColumn  string `json:"ref_column"`
}

// Adapter is the capability surface every supported engine implements.
// No method returns a Go error for a query-execution failure — those are
// reported via Result.Status == StatusError. A non-nil error return means
// a programming/contract violation (nil adapter state, bad arguments),
// which the caller should treat as a bug, not a user-facing failure.
type Adapter interface {
	Engine() models.EngineKind
	Close() error

	GetDBInfo(ctx context.Context) Result
	ListTables(ctx context.Context, schema string) Result
	DescribeTable(ctx context.Context, table, schema string) Result
	GetSampleData(ctx context.Context, table, schema string, limit int) Result
	ListDatabases(ctx context.Context) Result

	ExecuteSafeQuery(ctx context.Context, sql string) Result
	ExecuteSQL(ctx context.Context, sql string, confirmed bool) Result
	RunExplain(ctx context.Context, sql string, analyze bool) Result
	CreateIndex(ctx context.Context, sql string, concurrent bool) Result

	AnalyzeTable(ctx context.Context, table, schema string) Result
	CheckIndexUsage(ctx context.Context, table, schema string) Result
	GetTableStats(ctx context.Context, table, schema string) Result
	GetRunningQueries(ctx context.Context) Result
	IdentifySlowQueries(ctx context.Context, minMS int, limit int) Result

	GetAllObjects(ctx context.Context, schema string, objectTypes []models.MigrationObjectType) ([]SchemaObject, error)
	GetObjectDDL(ctx context.Context, objectType models.MigrationObjectType, name, schema string) (string, error)
	GetObjectDependencies(ctx context.Context, schema string) ([]ForeignKeyEdge, error)
	GetForeignKeyDependencies(ctx context.Context, schema string) ([]ForeignKeyEdge, []string, error)

	CheckQueryPerformance(ctx context.Context, sql string) Result
}

// readOnlyPrefixes are the statement prefixes execute_safe_query accepts
// without modification (beyond the auto-SELECT heuristic).
var readOnlyPrefixes = []string{"SELECT", "WITH", "SHOW", "EXPLAIN", "DESCRIBE", "DESC"}

// IsReadOnlyStatement reports whether sql begins with a read-only prefix.
func IsReadOnlyStatement(sql string) bool {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}

// bareProjectionRe recognizes a comma/paren/AS-bearing expression list that
// the auto-prepend heuristic treats as an implied SELECT.
var bareProjectionRe = regexp.MustCompile(`(?i)(,|\(| AS )`)

// AutoPrependSelect implements the execute_safe_query heuristic: text that
// isn't already a read-only statement but looks like a bare projection
// list gets a SELECT prepended.
func AutoPrependSelect(sql string) string {
	trimmed := strings.TrimSpace(sql)
	if IsReadOnlyStatement(trimmed) {
		return trimmed
	}
	if bareProjectionRe.MatchString(trimmed) {
		return "SELECT " + trimmed
	}
	return trimmed
}

// autocommitOnlyPattern matches statements that cannot run inside a
// transaction on most engines and must execute in autocommit mode.
var autocommitOnlyPattern = regexp.MustCompile(`(?i)^\s*(CREATE\s+DATABASE|DROP\s+DATABASE|VACUUM|ALTER\s+SYSTEM|CREATE\s+TABLESPACE|DROP\s+TABLESPACE)\b`)

// RequiresAutocommit reports whether sql must run outside a transaction.
func RequiresAutocommit(sql string) bool {
	return autocommitOnlyPattern.MatchString(sql)
}

// createIndexPrefixRe enforces create_index's "must actually be a CREATE
// INDEX" contract before any dialect-specific rewrite runs.
var createIndexPrefixRe = regexp.MustCompile(`(?i)^\s*CREATE\s+(UNIQUE\s+)?INDEX\b`)

// IsCreateIndexStatement reports whether sql is a CREATE INDEX statement.
func IsCreateIndexStatement(sql string) bool {
	return createIndexPrefixRe.MatchString(sql)
}

// topologicalSortTables orders table names so that any table depending on
// another (via edges) comes after it. Cycles are tolerated by dropping the
// back-edge that would re-visit a table already on the current path,
// rather than failing the whole sort.
func topologicalSortTables(tables []string, edges []ForeignKeyEdge) []string {
	deps := make(map[string]map[string]bool, len(tables))
	for _, t := range tables {
		deps[t] = map[string]bool{}
	}
	for _, e := range edges {
		if e.Table == e.References {
			continue
		}
		if _, ok := deps[e.Table]; ok {
			if _, ok := deps[e.References]; ok {
				deps[e.Table][e.References] = true
			}
		}
	}

	var order []string
	visited := map[string]bool{}
	onPath := map[string]bool{}

	var visit func(t string)
	visit = func(t string) {
		if visited[t] {
			return
		}
		if onPath[t] {
			// Cycle detected: break it by skipping this back-edge.
			return
		}
		onPath[t] = true
		for dep := range deps[t] {
			visit(dep)
		}
		onPath[t] = false
		visited[t] = true
		order = append(order, t)
	}

	for _, t := range tables {
		visit(t)
	}
	return order
}
