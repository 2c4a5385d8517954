// Package toolregistry builds the tool catalog sent to the LLM on every
// turn: the union of DB builtins, migration tools, the request_user_input
// interaction tool, each connected external tool-server's tools, and each
// user-invocable-by-model skill, all with localized descriptions.
package toolregistry

import (
	"encoding/json"

	"github.com/relaydb/dbagent/internal/convengine"
	"github.com/relaydb/dbagent/internal/i18n"
	"github.com/relaydb/dbagent/internal/skills"
)

// schema builds a JSON-schema "object" parameter block from a property map
// and a required-field list, skipping the allocation ceremony of building
// this by hand at every call site below.
func schema(props map[string]prop, required ...string) json.RawMessage {
	properties := make(map[string]map[string]any, len(props))
	for name, p := range props {
		entry := map[string]any{"type": p.typ}
		if p.description != "" {
			entry["description"] = p.description
		}
		properties[name] = entry
	}
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	b, _ := json.Marshal(doc)
	return b
}

type prop struct {
	typ         string
	description string
}

// builtin is one statically-known tool definition before localization.
type builtin struct {
	name       string
	descKey    string
	parameters json.RawMessage
}

// dbBuiltins mirrors dispatch.go's dbBuiltinNames set; the two lists must
// stay in lockstep by hand since the catalog and the dispatcher are
// deliberately kept as separate, independently-testable concerns.
var dbBuiltins = []builtin{
	{"list_tables", "tool.list_tables", schema(map[string]prop{
		"schema": {"string", "Schema to list tables from; defaults to the connection's default schema."},
	})},
	{"describe_table", "tool.describe_table", schema(map[string]prop{
		"table":  {"string", "Table name."},
		"schema": {"string", "Schema the table lives in."},
	}, "table")},
	{"get_sample_data", "tool.get_sample_data", schema(map[string]prop{
		"table":  {"string", "Table name."},
		"schema": {"string", "Schema the table lives in."},
		"limit":  {"integer", "Maximum rows to return; defaults to 10."},
	}, "table")},
	{"execute_safe_query", "tool.execute_safe_query", schema(map[string]prop{
		"sql": {"string", "A read-only SELECT/WITH/SHOW statement."},
	}, "sql")},
	{"execute_sql", "tool.execute_sql", schema(map[string]prop{
		"sql":       {"string", "Any SQL statement."},
		"confirmed": {"boolean", "Set true once the operator has approved a mutating statement."},
	}, "sql")},
	{"run_explain", "tool.run_explain", schema(map[string]prop{
		"sql":     {"string", "Query to explain."},
		"analyze": {"boolean", "Run EXPLAIN ANALYZE instead of a plan-only EXPLAIN."},
	}, "sql")},
	{"create_index", "tool.create_index", schema(map[string]prop{
		"sql":        {"string", "CREATE INDEX statement."},
		"concurrent": {"boolean", "Build the index without blocking writes, where the engine supports it."},
	}, "sql")},
	{"analyze_table", "tool.analyze_table", schema(map[string]prop{
		"table":  {"string", "Table name."},
		"schema": {"string", "Schema the table lives in."},
	}, "table")},
	{"check_index_usage", "tool.check_index_usage", schema(map[string]prop{
		"table":  {"string", "Table name."},
		"schema": {"string", "Schema the table lives in."},
	}, "table")},
	{"get_table_stats", "tool.get_table_stats", schema(map[string]prop{
		"table":  {"string", "Table name."},
		"schema": {"string", "Schema the table lives in."},
	}, "table")},
	{"identify_slow_queries", "tool.identify_slow_queries", schema(map[string]prop{
		"min_ms": {"integer", "Minimum duration in milliseconds; defaults to 100."},
		"limit":  {"integer", "Maximum queries to return; defaults to 20."},
	})},
	{"get_running_queries", "tool.get_running_queries", schema(map[string]prop{})},
	{"list_databases", "tool.list_databases", schema(map[string]prop{})},
	{"switch_database", "tool.switch_database", schema(map[string]prop{
		"database": {"string", "Database name to switch to."},
	}, "database")},
}

var migrationBuiltins = []builtin{
	{"analyze_source_database", "tool.analyze_source_database", schema(map[string]prop{
		"schema": {"string", "Source schema to inventory."},
	})},
	{"create_migration_plan", "tool.create_migration_plan", schema(map[string]prop{
		"task_id": {"integer", "Migration task id."},
		"schema":  {"string", "Source schema to plan from."},
	}, "task_id")},
	{"get_migration_plan", "tool.get_migration_plan", schema(map[string]prop{
		"task_id": {"integer", "Migration task id."},
	}, "task_id")},
	{"get_migration_status", "tool.get_migration_status", schema(map[string]prop{
		"task_id": {"integer", "Migration task id."},
	}, "task_id")},
	{"execute_migration_item", "tool.execute_migration_item", schema(map[string]prop{
		"item_id": {"integer", "Migration item id."},
	}, "item_id")},
	{"execute_migration_batch", "tool.execute_migration_batch", schema(map[string]prop{
		"task_id":    {"integer", "Migration task id."},
		"batch_size": {"integer", "How many pending items to execute; defaults to 10."},
	}, "task_id")},
	{"compare_databases", "tool.compare_databases", schema(map[string]prop{
		"task_id": {"integer", "Migration task id."},
	}, "task_id")},
	{"generate_migration_report", "tool.generate_migration_report", schema(map[string]prop{
		"task_id": {"integer", "Migration task id."},
	}, "task_id")},
	{"skip_migration_item", "tool.skip_migration_item", schema(map[string]prop{
		"item_id": {"integer", "Migration item id."},
		"reason":  {"string", "Why the item is being skipped."},
	}, "item_id", "reason")},
	{"retry_failed_items", "tool.retry_failed_items", schema(map[string]prop{
		"task_id": {"integer", "Migration task id."},
	}, "task_id")},
	{"request_migration_setup", "tool.request_migration_setup", schema(map[string]prop{
		"reason": {"string", "What configuration is still needed."},
	})},
}

var interactionBuiltins = []builtin{
	{"request_user_input", "tool.request_user_input", schema(map[string]prop{
		"question": {"string", "The question to ask the operator."},
	}, "question")},
}

const skillToolPrefix = "skill_"

// Build assembles the full catalog for one turn: builtins, migration tools,
// interaction tools, every connected external tool-server's tools, and
// every model-invocable skill. language controls description localization.
func Build(language string, toolServers externalToolLister, entries map[string]*skills.SkillEntry) []convengine.ToolDef {
	var out []convengine.ToolDef
	out = appendBuiltins(out, language, dbBuiltins)
	out = appendBuiltins(out, language, migrationBuiltins)
	out = appendBuiltins(out, language, interactionBuiltins)

	if toolServers != nil {
		out = append(out, toolServers.ListTools()...)
	}

	for name, entry := range entries {
		if !entry.IsModelInvocable() {
			continue
		}
		out = append(out, convengine.ToolDef{
			Name:        skillToolPrefix + name,
			Description: entry.Description,
			Parameters: schema(map[string]prop{
				"arguments": {"string", "Free-form arguments passed through to the skill's instructions."},
			}),
		})
	}
	return out
}

// externalToolLister is the subset of convengine.ToolServerManager the
// registry needs; declared locally so tests can fake it without importing
// the MCP stack.
type externalToolLister interface {
	ListTools() []convengine.ToolDef
}

func appendBuiltins(out []convengine.ToolDef, language string, defs []builtin) []convengine.ToolDef {
	for _, b := range defs {
		out = append(out, convengine.ToolDef{
			Name:        b.name,
			Description: i18n.T(language, b.descKey),
			Parameters:  b.parameters,
		})
	}
	return out
}
