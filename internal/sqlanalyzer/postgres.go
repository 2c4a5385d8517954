package sqlanalyzer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	pgCostRe       = regexp.MustCompile(`cost=[\d.]+\.\.([\d.]+)`)
	pgSeqScanRe    = regexp.MustCompile(`(?is)Seq Scan on (\w+).*?rows=(\d+)`)
	pgRowsRe       = regexp.MustCompile(`rows=(\d+)`)
	pgNestedLoopRe = regexp.MustCompile(`(?is)Nested Loop.*?rows=(\d+)`)
)

// parsePostgreSQLPlan handles both PostgreSQL's and GaussDB's EXPLAIN text.
func (a *Analyzer) parsePostgreSQLPlan(lines []string) ([]Issue, PerformanceSummary) {
	var issues []Issue
	summary := PerformanceSummary{}
	planText := strings.Join(lines, "\n")

	if m := pgCostRe.FindStringSubmatch(planText); m != nil {
		cost, _ := strconv.ParseFloat(m[1], 64)
		summary.TotalCost = &cost
		if int(cost) > a.thresholds.HighCost {
			issues = append(issues, Issue{
				Level:      LevelWarning,
				Type:       "high_cost",
				Message:    fmt.Sprintf("execution cost is high: %.0f", cost),
				Suggestion: "consider adding an index or narrowing the query conditions",
			})
		}
	}

	for _, m := range pgSeqScanRe.FindAllStringSubmatch(planText, -1) {
		table := m[1]
		rows, _ := strconv.Atoi(m[2])
		summary.ScanTypes = append(summary.ScanTypes, "Seq Scan on "+table)

		if rows > a.thresholds.FullScanRows {
			issues = append(issues, Issue{
				Level:      LevelCritical,
				Type:       "full_table_scan",
				Table:      table,
				Rows:       rows,
				Message:    fmt.Sprintf("table %s is fully scanned, estimated %d rows", table, rows),
				Suggestion: "add an index on the filtered columns",
			})
		}
	}

	maxRows := 0
	for _, m := range pgRowsRe.FindAllStringSubmatch(planText, -1) {
		rows, _ := strconv.Atoi(m[1])
		if rows > maxRows {
			maxRows = rows
		}
	}
	summary.EstimatedRows = &maxRows
	if maxRows > a.thresholds.LargeRows && !hasIssueType(issues, "full_table_scan") {
		issues = append(issues, Issue{
			Level:      LevelWarning,
			Type:       "large_result_set",
			Rows:       maxRows,
			Message:    fmt.Sprintf("estimated result set is large: %d rows", maxRows),
			Suggestion: "add more filter conditions or use LIMIT",
		})
	}

	for _, m := range pgNestedLoopRe.FindAllStringSubmatch(planText, -1) {
		rows, _ := strconv.Atoi(m[1])
		if rows > a.thresholds.NestedLoopRows {
			issues = append(issues, Issue{
				Level:      LevelWarning,
				Type:       "nested_loop",
				Rows:       rows,
				Message:    fmt.Sprintf("nested loop join has a large outer row count: %d rows", rows),
				Suggestion: "consider a hash or merge join, or add an index on the join columns",
			})
		}
	}

	return issues, summary
}
