// Package sqlanalyzer classifies SELECT statements as analytical and
// parses engine-native EXPLAIN output into actionable performance issues,
// used by the database adapters to decide whether a query needs
// confirmation before it runs.
package sqlanalyzer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/relaydb/dbagent/internal/models"
)

// IssueLevel ranks how serious a detected performance issue is.
type IssueLevel string

const (
	LevelCritical IssueLevel = "critical"
	LevelWarning  IssueLevel = "warning"
	LevelInfo     IssueLevel = "info"
)

// Issue is one finding from parsing an EXPLAIN plan.
type Issue struct {
	Level      IssueLevel `json:"level"`
	Type       string     `json:"type"`
	Table      string     `json:"table,omitempty"`
	Index      string     `json:"index,omitempty"`
	Rows       int        `json:"rows,omitempty"`
	Message    string     `json:"message"`
	Suggestion string     `json:"suggestion"`
}

// PerformanceSummary aggregates the plan-wide numbers the issues were
// derived from.
type PerformanceSummary struct {
	ScanTypes     []string `json:"scan_types,omitempty"`
	TotalCost     *float64 `json:"total_cost,omitempty"`
	EstimatedRows *int     `json:"estimated_rows,omitempty"`
	TotalRows     int      `json:"total_rows,omitempty"`
}

// Thresholds are the row/cost limits that turn a plan feature into an
// Issue. Values mirror the engine-agnostic defaults; callers running
// against unusually large tables may widen them per connection.
type Thresholds struct {
	FullScanRows    int
	LargeRows       int
	HighCost        int
	NestedLoopRows  int
}

// DefaultThresholds returns the stock limits used across all engines.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FullScanRows:   10000,
		LargeRows:      100000,
		HighCost:       10000,
		NestedLoopRows: 1000,
	}
}

// analyticalPatterns are the keyword/shape signals that make a SELECT
// "analytical" (worth a pre-flight EXPLAIN before running it unconfirmed).
var analyticalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bJOIN\b`),
	regexp.MustCompile(`(?i)\bLEFT\s+JOIN\b`),
	regexp.MustCompile(`(?i)\bRIGHT\s+JOIN\b`),
	regexp.MustCompile(`(?i)\bINNER\s+JOIN\b`),
	regexp.MustCompile(`(?i)\bOUTER\s+JOIN\b`),
	regexp.MustCompile(`(?i)\bCROSS\s+JOIN\b`),
	regexp.MustCompile(`(?i)\bGROUP\s+BY\b`),
	regexp.MustCompile(`(?i)\bORDER\s+BY\b`),
	regexp.MustCompile(`(?i)\bDISTINCT\b`),
	regexp.MustCompile(`(?i)\bUNION\b`),
	regexp.MustCompile(`(?i)\bINTERSECT\b`),
	regexp.MustCompile(`(?i)\bEXCEPT\b`),
	regexp.MustCompile(`(?i)\bWITH\s+\w+\s+AS\b`),
	regexp.MustCompile(`(?i)\bOVER\s*\(`),
	regexp.MustCompile(`(?i)\bROW_NUMBER\s*\(`),
	regexp.MustCompile(`(?i)\bRANK\s*\(`),
	regexp.MustCompile(`(?i)\bDENSE_RANK\s*\(`),
	regexp.MustCompile(`(?i)\bLAG\s*\(`),
	regexp.MustCompile(`(?i)\bLEAD\s*\(`),
	regexp.MustCompile(`(?i)\bSUM\s*\(`),
	regexp.MustCompile(`(?i)\bCOUNT\s*\(`),
	regexp.MustCompile(`(?i)\bAVG\s*\(`),
	regexp.MustCompile(`(?i)\bMIN\s*\(`),
	regexp.MustCompile(`(?i)\bMAX\s*\(`),
}

var (
	whereRe    = regexp.MustCompile(`(?i)\bWHERE\b`)
	limitRe    = regexp.MustCompile(`(?i)\bLIMIT\b`)
	topRe      = regexp.MustCompile(`(?i)\bTOP\s+\d+\b`)
	selectRe   = regexp.MustCompile(`(?i)\bSELECT\b`)
	singleQuot = regexp.MustCompile(`'[^']*'`)
	doubleQuot = regexp.MustCompile(`"[^"]*"`)
)

// Analyzer is bound to one engine; thresholds and plan syntax differ per
// engine so a single stateless function set isn't enough.
type Analyzer struct {
	engine     models.EngineKind
	thresholds Thresholds
}

// New builds an Analyzer for the given engine with default thresholds.
func New(engine models.EngineKind) *Analyzer {
	return &Analyzer{engine: engine, thresholds: DefaultThresholds()}
}

// NewWithThresholds builds an Analyzer with caller-supplied thresholds.
func NewWithThresholds(engine models.EngineKind, thresholds Thresholds) *Analyzer {
	return &Analyzer{engine: engine, thresholds: thresholds}
}

// IsAnalyticalQuery reports whether sql should be treated as an
// analytical query: only SELECTs are considered, and only those that
// carry an analytical keyword, a subquery, or are an unbounded full scan.
func (a *Analyzer) IsAnalyticalQuery(sql string) bool {
	upper := strings.ToUpper(sql)
	if !strings.HasPrefix(strings.TrimSpace(upper), "SELECT") {
		return false
	}

	for _, pattern := range analyticalPatterns {
		if pattern.MatchString(upper) {
			return true
		}
	}

	if hasSubquery(sql) {
		return true
	}

	return isFullTableScanWithoutFilter(upper)
}

func hasSubquery(sql string) bool {
	upper := strings.ToUpper(sql)
	cleaned := singleQuot.ReplaceAllString(upper, "''")
	cleaned = doubleQuot.ReplaceAllString(cleaned, `""`)
	return len(selectRe.FindAllString(cleaned, -1)) > 1
}

func isFullTableScanWithoutFilter(upper string) bool {
	return !whereRe.MatchString(upper) && !limitRe.MatchString(upper) && !topRe.MatchString(upper)
}

// PlanInput carries the raw shape of an EXPLAIN result as returned by a
// database adapter's run_explain operation. Lines holds plan text for
// engines that emit line-oriented plans (PostgreSQL, GaussDB, Oracle);
// MySQLRows holds MySQL's structured per-step rows.
type PlanInput struct {
	Status    string
	Error     string
	Lines     []string
	MySQLRows []MySQLPlanRow
}

// MySQLPlanRow is one row of MySQL's EXPLAIN output.
type MySQLPlanRow struct {
	Table      string
	AccessType string
	Rows       int
	Extra      string
}

// AnalysisResult is the outcome of parsing one EXPLAIN plan.
type AnalysisResult struct {
	HasIssues          bool               `json:"has_issues"`
	Issues             []Issue            `json:"issues"`
	PerformanceSummary PerformanceSummary `json:"performance_summary"`
	ShouldConfirm      bool               `json:"should_confirm"`
}

// ParseExplainOutput detects performance issues in an EXPLAIN plan.
// ShouldConfirm is true exactly when at least one issue is critical.
func (a *Analyzer) ParseExplainOutput(input PlanInput) AnalysisResult {
	if input.Status != "success" {
		return AnalysisResult{PerformanceSummary: PerformanceSummary{}}
	}
	if len(input.Lines) == 0 && len(input.MySQLRows) == 0 {
		return AnalysisResult{PerformanceSummary: PerformanceSummary{}}
	}

	var issues []Issue
	var summary PerformanceSummary

	switch a.engine {
	case models.EngineMySQL:
		issues, summary = a.parseMySQLPlan(input.MySQLRows)
	case models.EngineOracle:
		issues, summary = a.parseOraclePlan(input.Lines)
	default: // postgresql, gaussdb, sqlserver fall back to the postgres-shaped parser
		issues, summary = a.parsePostgreSQLPlan(input.Lines)
	}

	hasCritical := false
	for _, issue := range issues {
		if issue.Level == LevelCritical {
			hasCritical = true
			break
		}
	}

	return AnalysisResult{
		HasIssues:          len(issues) > 0,
		Issues:             issues,
		PerformanceSummary: summary,
		ShouldConfirm:      hasCritical,
	}
}

func hasIssueType(issues []Issue, issueType string) bool {
	for _, issue := range issues {
		if issue.Type == issueType {
			return true
		}
	}
	return false
}

// FormatIssuesForDisplay renders issues as a short operator-facing report.
func FormatIssuesForDisplay(issues []Issue) string {
	if len(issues) == 0 {
		return ""
	}

	var critical, warning []Issue
	for _, issue := range issues {
		switch issue.Level {
		case LevelCritical:
			critical = append(critical, issue)
		case LevelWarning:
			warning = append(warning, issue)
		}
	}

	var b strings.Builder
	if len(critical) > 0 {
		fmt.Fprintf(&b, "Found %d critical issue(s):\n", len(critical))
		for _, issue := range critical {
			fmt.Fprintf(&b, "  - %s\n    Suggestion: %s\n", issue.Message, issue.Suggestion)
		}
	}
	if len(warning) > 0 {
		fmt.Fprintf(&b, "Found %d warning(s):\n", len(warning))
		for _, issue := range warning {
			fmt.Fprintf(&b, "  - %s\n    Suggestion: %s\n", issue.Message, issue.Suggestion)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
