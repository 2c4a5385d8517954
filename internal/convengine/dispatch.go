package convengine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaydb/dbagent/internal/audit"
	"github.com/relaydb/dbagent/internal/dbadapter"
	"github.com/relaydb/dbagent/internal/migration"
	"github.com/relaydb/dbagent/internal/models"
	"github.com/relaydb/dbagent/internal/skills"
)

// dispatchResult is the uniform envelope Dispatch returns for every tool
// call, mirroring the tagged-result error kinds of spec.md §7. The engine
// marshals it to JSON as the tool result message content.
type dispatchResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Content   string `json:"content,omitempty"`
	Source    string `json:"source,omitempty"`

	Instructions string   `json:"instructions,omitempty"`
	AllowedTools []string `json:"allowed_tools,omitempty"`

	Result *dbadapter.Result `json:"result,omitempty"`
	Extra  json.RawMessage   `json:"extra,omitempty"`
}

func (d dispatchResult) marshal() string {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Sprintf(`{"status":"error","error":%q}`, err.Error())
	}
	return string(b)
}

func errDispatch(err error) dispatchResult {
	return dispatchResult{Status: "error", Error: err.Error()}
}

// dbBuiltinNames is every tool name owned directly by the current DB
// adapter (spec.md §4.6 list i).
var dbBuiltinNames = map[string]bool{
	"list_tables": true, "describe_table": true, "get_sample_data": true,
	"execute_safe_query": true, "execute_sql": true, "run_explain": true,
	"create_index": true, "analyze_table": true, "check_index_usage": true,
	"get_table_stats": true, "identify_slow_queries": true,
	"get_running_queries": true, "list_databases": true, "switch_database": true,
}

var migrationToolNames = map[string]bool{
	"analyze_source_database": true, "create_migration_plan": true,
	"get_migration_plan": true, "get_migration_status": true,
	"execute_migration_item": true, "execute_migration_batch": true,
	"compare_databases": true, "generate_migration_report": true,
	"skip_migration_item": true, "retry_failed_items": true,
	"request_migration_setup": true,
}

// args is a convenience unmarshaler for a tool call's JSON arguments.
func args(raw json.RawMessage) map[string]any {
	var m map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &m)
	}
	return m
}

func argString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func argBool(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func argInt(m map[string]any, key string, def int) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return def
}

// Dispatch routes one tool call to its owning collaborator and returns the
// uniform result the turn loop appends as a tool message. It never panics
// or returns a bare Go error for a business failure — those are folded
// into dispatchResult.Status == "error" so the LLM can see and react to
// them, per spec.md §7.
func (e *Engine) dispatch(ctx context.Context, call models.ToolCall) dispatchResult {
	start := time.Now()

	if e.argValidator != nil {
		if err := e.argValidator.validate(call.Name, e.toolSchemas[call.Name], call.Arguments); err != nil {
			return dispatchResult{Status: "error", Error: err.Error(), Retryable: true}
		}
	}

	a := args(call.Arguments)

	switch {
	case dbBuiltinNames[call.Name]:
		return e.dispatchDBTool(ctx, call.Name, a, start)
	case migrationToolNames[call.Name]:
		return e.dispatchMigrationTool(ctx, call.Name, a)
	case call.Name == "request_user_input":
		return dispatchResult{Status: "form_input_requested", Content: string(call.Arguments)}
	case isSkillTool(call.Name):
		return e.dispatchSkill(ctx, call.Name, a)
	case e.toolServers != nil && e.toolServers.IsKnownTool(call.Name):
		result, err := e.toolServers.Call(ctx, call.Name, call.Arguments)
		if err != nil {
			return errDispatch(err)
		}
		return result
	default:
		return dispatchResult{Status: "error", Error: fmt.Sprintf("unknown tool %q", call.Name)}
	}
}

// isSkillTool reports whether name follows the skill_<name> convention.
func isSkillTool(name string) bool {
	return len(name) > len(skillToolPrefix) && name[:len(skillToolPrefix)] == skillToolPrefix
}

const skillToolPrefix = "skill_"

func (e *Engine) dispatchSkill(ctx context.Context, toolName string, a map[string]any) dispatchResult {
	name := toolName[len(skillToolPrefix):]
	entry, ok := e.skillLookup(name)
	if !ok {
		return dispatchResult{Status: "error", Error: fmt.Sprintf("unknown skill %q", name)}
	}
	argStr, _ := a["arguments"].(string)
	result := skills.Execute(ctx, entry, entry.Content, argStr, e.skillCallContext, e.execManager)
	return dispatchResult{Status: "success", Instructions: result.Instructions, AllowedTools: result.AllowedTools}
}

// dispatchDBTool calls the active adapter, applying the SQL Analyzer gate
// for execute_safe_query, the auto-execute-migration override for
// execute_sql, and emitting the SQL/tool audit record on every path.
func (e *Engine) dispatchDBTool(ctx context.Context, name string, a map[string]any, start time.Time) dispatchResult {
	if e.adapter == nil {
		return dispatchResult{Status: "error", Error: "no active database connection"}
	}

	var result dbadapter.Result
	var sqlText string

	switch name {
	case "list_tables":
		result = e.adapter.ListTables(ctx, argString(a, "schema"))
	case "describe_table":
		result = e.adapter.DescribeTable(ctx, argString(a, "table"), argString(a, "schema"))
	case "get_sample_data":
		result = e.adapter.GetSampleData(ctx, argString(a, "table"), argString(a, "schema"), argInt(a, "limit", 10))
	case "list_databases":
		result = e.adapter.ListDatabases(ctx)
	case "switch_database":
		// Database selection is a connection-level concern; adapters treat
		// it as a no-op success if they don't support mid-session switching.
		result = e.adapter.ListDatabases(ctx)
	case "execute_safe_query":
		sqlText = argString(a, "sql")
		if perf := e.adapter.CheckQueryPerformance(ctx, sqlText); perf.Status == dbadapter.StatusPendingPerformanceConfirm {
			e.pendingOps = append(e.pendingOps, models.PendingOperation{
				Kind:     models.PendingExecuteSafeQueryForced,
				ToolCall: models.ToolCall{Name: name, Arguments: mustJSON(a)},
				Issues:   perf.Issues,
			})
			return toDispatchResult(perf)
		}
		result = e.adapter.ExecuteSafeQuery(ctx, sqlText)
	case "execute_sql":
		sqlText = argString(a, "sql")
		confirmed := argBool(a, "confirmed")
		if e.autoExecuteMigration {
			confirmed = true
		}
		result = e.adapter.ExecuteSQL(ctx, sqlText, confirmed)
	case "run_explain":
		sqlText = argString(a, "sql")
		result = e.adapter.RunExplain(ctx, sqlText, argBool(a, "analyze"))
	case "create_index":
		sqlText = argString(a, "sql")
		result = e.adapter.CreateIndex(ctx, sqlText, argBool(a, "concurrent"))
	case "analyze_table":
		result = e.adapter.AnalyzeTable(ctx, argString(a, "table"), argString(a, "schema"))
	case "check_index_usage":
		result = e.adapter.CheckIndexUsage(ctx, argString(a, "table"), argString(a, "schema"))
	case "get_table_stats":
		result = e.adapter.GetTableStats(ctx, argString(a, "table"), argString(a, "schema"))
	case "identify_slow_queries":
		result = e.adapter.IdentifySlowQueries(ctx, argInt(a, "min_ms", 100), argInt(a, "limit", 20))
	case "get_running_queries":
		result = e.adapter.GetRunningQueries(ctx)
	}

	e.auditDBCall(ctx, name, sqlText, a, result, start)
	return toDispatchResult(result)
}

// sqlAuditNames emit SQL audit records (with execution time); every other
// tool emits a plain tool-call record, per spec.md §4.10.
var sqlAuditNames = map[string]bool{"run_explain": true, "execute_safe_query": true, "execute_sql": true}

func (e *Engine) auditDBCall(ctx context.Context, name, sqlText string, a map[string]any, result dbadapter.Result, start time.Time) {
	if e.audit == nil {
		return
	}
	status := models.AuditSuccess
	summary := result.Note
	if result.Status == dbadapter.StatusError {
		status = models.AuditError
		summary = result.Error
	}
	category := models.AuditToolCall
	if sqlAuditNames[name] {
		category = models.AuditSQLExecute
	}
	elapsed := time.Since(start).Milliseconds()
	_ = e.audit.Record(ctx, audit.RecordInput{
		SessionID:       e.sessionID,
		Category:        category,
		Action:          name,
		SQLText:         sqlText,
		Parameters:      a,
		ResultStatus:    status,
		ResultSummary:   summary,
		AffectedRows:    int64Ptr(result.AffectedRows),
		ExecutionTimeMs: &elapsed,
		UserConfirmed:   argBool(a, "confirmed") || e.autoExecuteMigration,
	})
}

func int64Ptr(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// toDispatchResult maps an adapter Result onto the tool-call-facing
// envelope, translating its status tags 1:1 (spec.md §7).
func toDispatchResult(r dbadapter.Result) dispatchResult {
	out := dispatchResult{Result: &r}
	switch r.Status {
	case dbadapter.StatusSuccess:
		out.Status = "success"
	case dbadapter.StatusPendingConfirmation:
		out.Status = "pending_confirmation"
	case dbadapter.StatusPendingPerformanceConfirm:
		out.Status = "pending_performance_confirmation"
	default:
		out.Status = "error"
		out.Error = r.Error
	}
	return out
}

// dispatchMigrationTool routes a migration tool call to the Migration
// Handler and notifies the caller-supplied progress observer afterward.
func (e *Engine) dispatchMigrationTool(ctx context.Context, name string, a map[string]any) dispatchResult {
	if name == "request_migration_setup" {
		return dispatchResult{Status: "migration_setup_requested", Content: mustJSONString(a)}
	}
	if e.migration == nil {
		return dispatchResult{Status: "error", Error: "migration handler not configured"}
	}

	var out dispatchResult
	switch name {
	case "analyze_source_database":
		res, err := e.migration.AnalyzeSourceDatabase(ctx, e.sourceAdapter(), argString(a, "schema"), nil)
		out = fromAny(res, err)
	case "create_migration_plan":
		res, err := e.migration.CreateMigrationPlan(ctx, int64(argInt(a, "task_id", 0)), e.sourceAdapter(), argString(a, "schema"))
		out = fromAny(res, err)
	case "get_migration_plan":
		res, err := e.migration.GetMigrationPlan(ctx, int64(argInt(a, "task_id", 0)))
		out = fromAny(res, err)
	case "get_migration_status":
		res, err := e.migration.GetMigrationStatus(ctx, int64(argInt(a, "task_id", 0)))
		out = fromAny(res, err)
	case "execute_migration_item":
		// Confirmation is enforced inside ExecuteSQL itself: under
		// auto_execute_migration every execute_sql the handler issues goes
		// through dispatchDBTool's override, so there is nothing to force here.
		res, err := e.migration.ExecuteMigrationItem(ctx, int64(argInt(a, "item_id", 0)), e.adapter, e.sourceEngine, e.targetEngine)
		if err == nil && e.metrics != nil {
			e.metrics.RecordMigrationItem(res.ObjectType, res.Status)
		}
		out = fromAny(res, err)
	case "execute_migration_batch":
		res, err := e.migration.ExecuteMigrationBatch(ctx, int64(argInt(a, "task_id", 0)), argInt(a, "batch_size", 10), e.adapter, e.sourceEngine, e.targetEngine)
		if err == nil && e.metrics != nil {
			for _, item := range res.Results {
				e.metrics.RecordMigrationItem(item.ObjectType, item.Status)
			}
		}
		out = fromAny(res, err)
	case "compare_databases":
		res, err := e.migration.CompareDatabases(ctx, int64(argInt(a, "task_id", 0)), e.sourceAdapter(), e.adapter)
		out = fromAny(res, err)
	case "generate_migration_report":
		res, err := e.migration.GenerateMigrationReport(ctx, int64(argInt(a, "task_id", 0)))
		out = fromAny(res, err)
		e.autoExecuteMigration = false
	case "skip_migration_item":
		res, err := e.migration.SkipMigrationItem(ctx, int64(argInt(a, "item_id", 0)), argString(a, "reason"))
		out = fromAny(res, err)
	case "retry_failed_items":
		res, err := e.migration.RetryFailedItems(ctx, int64(argInt(a, "task_id", 0)))
		out = fromAny(res, err)
	default:
		out = dispatchResult{Status: "error", Error: fmt.Sprintf("unknown migration tool %q", name)}
	}

	if e.onMigrationProgress != nil {
		e.onMigrationProgress(name, out)
	}
	return out
}

// sourceAdapter returns the source-side adapter for migration calls that
// need it; engines running a single adapter treat it as the active one.
func (e *Engine) sourceAdapter() dbadapter.Adapter {
	if e.sourceDBAdapter != nil {
		return e.sourceDBAdapter
	}
	return e.adapter
}

func fromAny(v any, err error) dispatchResult {
	if err != nil {
		return errDispatch(err)
	}
	b, merr := json.Marshal(v)
	if merr != nil {
		return errDispatch(merr)
	}
	return dispatchResult{Status: "success", Extra: b}
}

func mustJSONString(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
