package sqlanalyzer

import (
	"fmt"
	"strings"
)

// parseMySQLPlan handles MySQL's structured per-row EXPLAIN output.
func (a *Analyzer) parseMySQLPlan(rows []MySQLPlanRow) ([]Issue, PerformanceSummary) {
	var issues []Issue
	summary := PerformanceSummary{}

	for _, row := range rows {
		table := row.Table
		if table == "" {
			table = "unknown"
		}
		accessType := strings.ToUpper(row.AccessType)
		rowCount := row.Rows

		summary.TotalRows += rowCount
		summary.ScanTypes = append(summary.ScanTypes, accessType+" on "+table)

		switch {
		case accessType == "ALL" && rowCount > a.thresholds.FullScanRows:
			issues = append(issues, Issue{
				Level:      LevelCritical,
				Type:       "full_table_scan",
				Table:      table,
				Rows:       rowCount,
				Message:    fmt.Sprintf("table %s is fully scanned (type=ALL), estimated %d rows", table, rowCount),
				Suggestion: "add an index on the filtered columns",
			})
		case accessType == "INDEX" && rowCount > a.thresholds.FullScanRows:
			issues = append(issues, Issue{
				Level:      LevelWarning,
				Type:       "index_scan",
				Table:      table,
				Rows:       rowCount,
				Message:    fmt.Sprintf("table %s is fully index-scanned (type=INDEX), %d rows", table, rowCount),
				Suggestion: "narrow the query conditions to use a more selective index lookup",
			})
		}

		if strings.Contains(row.Extra, "Using filesort") && rowCount > a.thresholds.NestedLoopRows {
			issues = append(issues, Issue{
				Level:      LevelWarning,
				Type:       "filesort",
				Table:      table,
				Message:    fmt.Sprintf("table %s uses filesort over %d rows", table, rowCount),
				Suggestion: "add an index on the ORDER BY columns",
			})
		}

		if strings.Contains(row.Extra, "Using temporary") {
			issues = append(issues, Issue{
				Level:      LevelWarning,
				Type:       "temporary_table",
				Table:      table,
				Message:    fmt.Sprintf("table %s uses a temporary table", table),
				Suggestion: "consider restructuring the GROUP BY or DISTINCT",
			})
		}
	}

	if summary.TotalRows > a.thresholds.LargeRows && !hasIssueType(issues, "full_table_scan") {
		issues = append(issues, Issue{
			Level:      LevelWarning,
			Type:       "large_result_set",
			Rows:       summary.TotalRows,
			Message:    fmt.Sprintf("estimated rows processed is large: %d rows", summary.TotalRows),
			Suggestion: "add more filter conditions or use LIMIT",
		})
	}

	return issues, summary
}
