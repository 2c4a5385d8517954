// Package i18n provides the localization seam the tool catalog and
// user-facing engine messages need: a message-key to per-language string
// table with default-language fallback and positional argument
// formatting. Only English strings are populated; the table shape itself
// (and the lookup key) is what downstream code depends on.
package i18n

import "fmt"

// DefaultLanguage is used when a requested language has no table entry.
const DefaultLanguage = "en"

// Catalog is a message-key to localized-string table, one per language.
var Catalog = map[string]map[string]string{
	"en": {
		"llm_error":              "The language model returned an error",
		"max_iterations_reached": "Reached the maximum number of turns without a final answer",
		"confirm_prompt":         "This operation requires confirmation before it runs",
		"performance_warning":    "This query was flagged by the performance analyzer",
		"migration_progress":     "Migration task %s: %d completed, %d failed, %d skipped",
		"execution_feedback":     "Here is what happened: %s",
		"unknown_tool":           "Unknown tool: %s",
		"interrupted":            "Turn paused; waiting for the next instruction",

		"tool.list_tables":             "List the tables visible in a schema on the active database connection.",
		"tool.describe_table":          "Describe a table's columns, types, keys, and indexes.",
		"tool.get_sample_data":         "Fetch a small sample of rows from a table.",
		"tool.execute_safe_query":      "Run a read-only SELECT/WITH/SHOW query, flagged for confirmation if the analyzer judges it heavy.",
		"tool.execute_sql":             "Run an arbitrary SQL statement; mutations require confirmation unless auto-execute is active.",
		"tool.run_explain":             "Run EXPLAIN (optionally ANALYZE) on a query and return the plan.",
		"tool.create_index":            "Create an index, optionally CONCURRENTLY/online where the engine supports it.",
		"tool.analyze_table":           "Refresh planner statistics for a table.",
		"tool.check_index_usage":       "Report which indexes on a table are used versus unused.",
		"tool.get_table_stats":         "Report row count, size, and bloat estimates for a table.",
		"tool.identify_slow_queries":   "List recent queries slower than a minimum duration.",
		"tool.get_running_queries":     "List queries currently executing on the connection.",
		"tool.list_databases":          "List databases reachable from the active connection.",
		"tool.switch_database":         "Switch the active connection to a different database.",
		"tool.analyze_source_database": "Inventory a source database's schema objects for migration planning.",
		"tool.create_migration_plan":   "Build an ordered migration plan from a source inventory to the target engine.",
		"tool.get_migration_plan":      "Fetch a previously created migration plan.",
		"tool.get_migration_status":    "Report a migration task's progress counters.",
		"tool.execute_migration_item":  "Execute a single migration plan item against the target database.",
		"tool.execute_migration_batch": "Execute up to N pending migration items in order.",
		"tool.compare_databases":       "Compare source and target schemas for drift after migration.",
		"tool.generate_migration_report": "Produce a summary report of a migration task's outcome.",
		"tool.skip_migration_item":     "Mark a migration item as intentionally skipped with a reason.",
		"tool.retry_failed_items":      "Requeue a migration task's failed items for another attempt.",
		"tool.request_migration_setup": "Ask the operator to configure a migration task before planning can begin.",
		"tool.request_user_input":      "Ask the operator a clarifying question and wait for a reply.",
	},
}

// T looks up key in the table for lang, falling back to DefaultLanguage and
// finally to the key itself, then formats it with args via fmt.Sprintf.
func T(lang, key string, args ...any) string {
	table, ok := Catalog[lang]
	if !ok {
		table = Catalog[DefaultLanguage]
	}
	text, ok := table[key]
	if !ok {
		if fallback, ok := Catalog[DefaultLanguage][key]; ok {
			text = fallback
		} else {
			text = key
		}
	}
	if len(args) == 0 {
		return text
	}
	return fmt.Sprintf(text, args...)
}

// AvailableLanguages lists the languages with at least a partial table,
// mirroring the original implementation's language-switch affordance.
func AvailableLanguages() []string {
	langs := make([]string, 0, len(Catalog))
	for lang := range Catalog {
		langs = append(langs, lang)
	}
	return langs
}
