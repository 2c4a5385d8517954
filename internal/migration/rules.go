// Package migration implements the heterogeneous schema migration
// planner/executor (C9): enumerating source objects, ordering them by
// dependency, converting DDL between dialects, and driving confirm-or-auto
// execution against a target adapter.
package migration

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/relaydb/dbagent/internal/models"
)

// Rewrite is one ordered regex substitution applied during DDL conversion.
// Note documents the human-readable reason for the rewrite, surfaced in a
// MigrationItem's ConversionNotes.
type Rewrite struct {
	Pattern     *regexp.Regexp
	Replacement string
	Note        string
}

// ConversionResult is the outcome of converting one object's DDL.
type ConversionResult struct {
	DDL        string
	Notes      []string
	SkipReason string
}

// Skipped reports whether the conversion produced no usable target DDL.
func (r ConversionResult) Skipped() bool {
	return r.SkipReason != ""
}

type rulePack struct {
	rewrites []Rewrite
	// skip reports a skip reason for constructs this pack cannot convert,
	// inspecting the already-rewritten DDL.
	skip func(ddl string, objectType models.MigrationObjectType) string
}

var fulltextIndexRe = regexp.MustCompile(`(?i)CREATE\s+FULLTEXT\s+INDEX`)
var enumColumnRe = regexp.MustCompile(`(?i)\bENUM\s*\([^)]*\)`)
var connectByRe = regexp.MustCompile(`(?i)\bCONNECT\s+BY\b`)

// mysqlToPostgresPack implements the MySQL -> PostgreSQL pack from
// spec.md §4.9, also reused verbatim for MySQL -> GaussDB (GaussDB is
// PostgreSQL wire- and DDL-compatible for this rule set).
func mysqlToPostgresPack() rulePack {
	return rulePack{
		rewrites: []Rewrite{
			{regexp.MustCompile(`(?i)\bINT\s+AUTO_INCREMENT\b`), "SERIAL", "INT AUTO_INCREMENT -> SERIAL"},
			{regexp.MustCompile(`(?i)\bBIGINT\s+AUTO_INCREMENT\b`), "BIGSERIAL", "BIGINT AUTO_INCREMENT -> BIGSERIAL"},
			{regexp.MustCompile(`(?i)\bSMALLINT\s+AUTO_INCREMENT\b`), "SMALLSERIAL", "SMALLINT AUTO_INCREMENT -> SMALLSERIAL"},
			{regexp.MustCompile(`(?i)\bTINYINT\(1\)\b`), "BOOLEAN", "TINYINT(1) -> BOOLEAN"},
			{regexp.MustCompile(`(?i)\bDATETIME\b`), "TIMESTAMP", "DATETIME -> TIMESTAMP"},
			{regexp.MustCompile(`(?i)\b(LONGTEXT|MEDIUMTEXT|TINYTEXT)\b`), "TEXT", "LONG/MEDIUM/TINYTEXT -> TEXT"},
			{regexp.MustCompile(`(?i)\b(LONGBLOB|MEDIUMBLOB|TINYBLOB|BLOB)\b`), "BYTEA", "BLOB family -> BYTEA"},
			{regexp.MustCompile(`(?i)\bJSON\b`), "JSONB", "JSON -> JSONB"},
			{regexp.MustCompile(`(?i)\s+UNSIGNED\b`), "", "stripped UNSIGNED (no PostgreSQL equivalent)"},
			{regexp.MustCompile(`(?i)\s+ZEROFILL\b`), "", "stripped ZEROFILL"},
			{regexp.MustCompile(`(?i)\s*ENGINE\s*=\s*\w+`), "", "stripped ENGINE="},
			{regexp.MustCompile(`(?i)\s*(DEFAULT\s+)?CHARSET\s*=\s*\w+`), "", "stripped CHARSET="},
			{regexp.MustCompile(`(?i)\s*COLLATE\s*=?\s*\w+`), "", "stripped COLLATE="},
			{regexp.MustCompile(`(?i)\s*ROW_FORMAT\s*=\s*\w+`), "", "stripped ROW_FORMAT="},
			{regexp.MustCompile(`(?i)\s*AUTO_INCREMENT\s*=\s*\d+`), "", "stripped AUTO_INCREMENT="},
			{regexp.MustCompile(`(?i)\s*COMMENT\s+'[^']*'`), "", "stripped inline COMMENT"},
			{enumColumnRe, "VARCHAR(50)", "ENUM -> VARCHAR(50) (value-range constraint lost)"},
		},
		skip: func(ddl string, objectType models.MigrationObjectType) string {
			if objectType == models.ObjectIndex && fulltextIndexRe.MatchString(ddl) {
				return "FULLTEXT index not supported in PostgreSQL"
			}
			return ""
		},
	}
}

// oracleToPostgresPack implements the Oracle -> PostgreSQL pack.
func oracleToPostgresPack() rulePack {
	return rulePack{
		rewrites: []Rewrite{
			{regexp.MustCompile(`(?i)\bNUMBER\(10\)\b`), "INTEGER", "NUMBER(10) -> INTEGER"},
			{regexp.MustCompile(`(?i)\bNUMBER\(19\)\b`), "BIGINT", "NUMBER(19) -> BIGINT"},
			{regexp.MustCompile(`(?i)\bNUMBER\((\d+)\s*,\s*(\d+)\)`), "NUMERIC($1,$2)", "NUMBER(p,s) -> NUMERIC(p,s)"},
			{regexp.MustCompile(`(?i)\bVARCHAR2\b`), "VARCHAR", "VARCHAR2 -> VARCHAR"},
			{regexp.MustCompile(`(?i)\b(N?CLOB)\b`), "TEXT", "CLOB/NCLOB -> TEXT"},
			{regexp.MustCompile(`(?i)\b(BLOB|RAW(\(\d+\))?)\b`), "BYTEA", "BLOB/RAW -> BYTEA"},
			{regexp.MustCompile(`(?i)\bSYSTIMESTAMP\b`), "CURRENT_TIMESTAMP", "SYSTIMESTAMP -> CURRENT_TIMESTAMP"},
			{regexp.MustCompile(`(?i)\bSYSDATE\b`), "CURRENT_TIMESTAMP", "SYSDATE -> CURRENT_TIMESTAMP"},
		},
		skip: func(ddl string, objectType models.MigrationObjectType) string {
			return ""
		},
	}
}

// oracleToGaussDBPack extends oracleToPostgresPack with the advanced
// package renames and syntax fixes from original_source/migration_rules.py.
func oracleToGaussDBPack() rulePack {
	base := oracleToPostgresPack()
	extra := []Rewrite{
		{regexp.MustCompile(`DBMS_LOB\.`), "DBE_LOB.", "DBMS_LOB -> DBE_LOB"},
		{regexp.MustCompile(`DBMS_OUTPUT\.`), "DBE_OUTPUT.", "DBMS_OUTPUT -> DBE_OUTPUT"},
		{regexp.MustCompile(`DBMS_RANDOM\.SEED\b`), "DBE_RANDOM.SET_SEED", "DBMS_RANDOM.SEED -> DBE_RANDOM.SET_SEED"},
		{regexp.MustCompile(`DBMS_RANDOM\.VALUE\b`), "DBE_RANDOM.GET_VALUE", "DBMS_RANDOM.VALUE -> DBE_RANDOM.GET_VALUE"},
		{regexp.MustCompile(`DBMS_RANDOM\.`), "DBE_RANDOM.", "DBMS_RANDOM -> DBE_RANDOM"},
		{regexp.MustCompile(`UTL_RAW\.`), "DBE_RAW.", "UTL_RAW -> DBE_RAW"},
		{regexp.MustCompile(`DBMS_SQL\.`), "DBE_SQL.", "DBMS_SQL -> DBE_SQL"},
		{regexp.MustCompile(`!\s+=`), "!=", "fixed '! =' (GaussDB reads '!' as factorial when spaced)"},
		{regexp.MustCompile(`(?i)VARCHAR2\((\d+)\s+CHAR\)`), "VARCHAR2($1 * 4)", "VARCHAR2(n CHAR) -> VARCHAR2(n*4) (UTF8 byte estimate)"},
	}
	base.rewrites = append(base.rewrites, extra...)
	baseSkip := base.skip
	base.skip = func(ddl string, objectType models.MigrationObjectType) string {
		if reason := baseSkip(ddl, objectType); reason != "" {
			return reason
		}
		return ""
	}
	return base
}

func rulePackFor(source, target models.EngineKind) (rulePack, bool) {
	switch {
	case source == models.EngineMySQL && target == models.EnginePostgreSQL:
		return mysqlToPostgresPack(), true
	case source == models.EngineMySQL && target == models.EngineGaussDB:
		return mysqlToPostgresPack(), true
	case source == models.EngineOracle && target == models.EnginePostgreSQL:
		return oracleToPostgresPack(), true
	case source == models.EngineOracle && target == models.EngineGaussDB:
		return oracleToGaussDBPack(), true
	default:
		return rulePack{}, false
	}
}

// ConvertDDL is the rule-based rewriter keyed on (source, target, object
// type): an ordered list of regex substitutions, each recording a
// human-readable note. CONNECT BY is detected and flagged, never
// auto-rewritten, matching the original implementation.
func ConvertDDL(sourceDDL string, source, target models.EngineKind, objectType models.MigrationObjectType) ConversionResult {
	if source == target {
		return ConversionResult{DDL: sourceDDL}
	}

	pack, ok := rulePackFor(source, target)
	if !ok {
		return ConversionResult{
			SkipReason: fmt.Sprintf("no conversion rules for %s -> %s", source, target),
		}
	}

	ddl := sourceDDL
	var notes []string
	for _, rw := range pack.rewrites {
		if rw.Pattern.MatchString(ddl) {
			ddl = rw.Pattern.ReplaceAllString(ddl, rw.Replacement)
			notes = append(notes, rw.Note)
		}
	}

	if pack.skip != nil {
		if reason := pack.skip(sourceDDL, objectType); reason != "" {
			return ConversionResult{SkipReason: reason, Notes: notes}
		}
	}

	if connectByRe.MatchString(strings.ToUpper(sourceDDL)) {
		notes = append(notes, "CONNECT BY detected: rewrite manually as WITH RECURSIVE, not auto-converted")
	}

	return ConversionResult{DDL: ddl, Notes: notes}
}

// RuleSummary renders a short operator/LLM-facing description of the
// conversion rules in effect for a source/target pair, so the migration
// tool catalog descriptions can let the model self-correct conversion
// mistakes (supplemented from original_source's format_rules_for_prompt).
func RuleSummary(source, target models.EngineKind) string {
	pack, ok := rulePackFor(source, target)
	if !ok || len(pack.rewrites) == 0 {
		return fmt.Sprintf("No documented conversion rules for %s -> %s; conversion will pass DDL through unchanged and may require manual review.", source, target)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s -> %s conversion rules:\n", source, target)
	for _, rw := range pack.rewrites {
		fmt.Fprintf(&b, "- %s\n", rw.Note)
	}
	return b.String()
}
