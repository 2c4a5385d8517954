package sqlanalyzer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	oracleCostRe        = regexp.MustCompile(`Cost\s*\(%CPU\):\s*(\d+)`)
	oracleFullScanRe    = regexp.MustCompile(`(?i)TABLE ACCESS FULL\s*\|\s*(\w+)`)
	oracleIdxFullScanRe = regexp.MustCompile(`(?i)INDEX FULL SCAN\s*\|\s*(\w+)`)
	oracleNestedLoopRe  = regexp.MustCompile(`(?i)NESTED LOOPS`)
	oracleSortRe        = regexp.MustCompile(`(?i)SORT\s+(ORDER BY|GROUP BY|AGGREGATE|UNIQUE)`)
	oracleRowsRe        = regexp.MustCompile(`Rows:\s*(\d+)`)
)

// parseOraclePlan handles Oracle's DBMS_XPLAN text output.
func (a *Analyzer) parseOraclePlan(lines []string) ([]Issue, PerformanceSummary) {
	var issues []Issue
	summary := PerformanceSummary{}
	planText := strings.Join(lines, "\n")

	if m := oracleCostRe.FindStringSubmatch(planText); m != nil {
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

	for _, m := range oracleFullScanRe.FindAllStringSubmatch(planText, -1) {
		table := m[1]
		summary.ScanTypes = append(summary.ScanTypes, "TABLE ACCESS FULL on "+table)

		rows := 0
		if rowsMatch := regexp.MustCompile(`(?is)` + regexp.QuoteMeta(table) + `.*?Rows:\s*(\d+)`).FindStringSubmatch(planText); rowsMatch != nil {
			rows, _ = strconv.Atoi(rowsMatch[1])
		}

		switch {
		case rows > a.thresholds.FullScanRows:
			issues = append(issues, Issue{
				Level:      LevelCritical,
				Type:       "full_table_scan",
				Table:      table,
				Rows:       rows,
				Message:    fmt.Sprintf("table %s is fully scanned (TABLE ACCESS FULL), estimated %d rows", table, rows),
				Suggestion: "add an index on the filtered columns",
			})
		case rows == 0:
			issues = append(issues, Issue{
				Level:      LevelWarning,
				Type:       "full_table_scan",
				Table:      table,
				Message:    fmt.Sprintf("table %s is fully scanned (TABLE ACCESS FULL)", table),
				Suggestion: "add an index on the filtered columns",
			})
		}
	}

	for _, m := range oracleIdxFullScanRe.FindAllStringSubmatch(planText, -1) {
		index := m[1]
		summary.ScanTypes = append(summary.ScanTypes, "INDEX FULL SCAN on "+index)
		issues = append(issues, Issue{
			Level:      LevelWarning,
			Type:       "index_full_scan",
			Index:      index,
			Message:    fmt.Sprintf("index full scan on %s", index),
			Suggestion: "narrow the query conditions to use a more selective index lookup",
		})
	}

	if oracleNestedLoopRe.MatchString(planText) {
		maxRows := 0
		for _, m := range oracleRowsRe.FindAllStringSubmatch(planText, -1) {
			rows, _ := strconv.Atoi(m[1])
			if rows > maxRows {
				maxRows = rows
			}
		}
		if maxRows > a.thresholds.NestedLoopRows {
			issues = append(issues, Issue{
				Level:      LevelWarning,
				Type:       "nested_loop",
				Rows:       maxRows,
				Message:    fmt.Sprintf("nested loop join involves a large data volume: %d rows", maxRows),
				Suggestion: "consider a hash join, or add an index on the join columns",
			})
		}
	}

	for _, m := range oracleSortRe.FindAllStringSubmatch(planText, -1) {
		issues = append(issues, Issue{
			Level:      LevelInfo,
			Type:       "sort_operation",
			Message:    fmt.Sprintf("sort operation (SORT %s)", m[1]),
			Suggestion: "if the data volume is large, consider an index to avoid sorting",
		})
	}

	allMatches := oracleRowsRe.FindAllStringSubmatch(planText, -1)
	if len(allMatches) > 0 {
		maxRows := 0
		for _, m := range allMatches {
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
				Suggestion: "add more filter conditions or use pagination",
			})
		}
	}

	return issues, summary
}
