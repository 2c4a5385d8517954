package sqlanalyzer

import (
	"strings"
	"testing"

	"github.com/relaydb/dbagent/internal/models"
)

func TestIsAnalyticalQuery(t *testing.T) {
	a := New(models.EnginePostgreSQL)

	tests := []struct {
		name string
		sql  string
		want bool
	}{
		{"plain select with limit", "SELECT id FROM users LIMIT 10", false},
		{"select with where", "SELECT id FROM users WHERE id = 1", false},
		{"join", "SELECT u.id FROM users u JOIN orders o ON o.user_id = u.id", true},
		{"group by", "SELECT count(*) FROM orders GROUP BY user_id", true},
		{"subquery", "SELECT id FROM users WHERE id IN (SELECT user_id FROM orders)", true},
		{"unbounded full scan", "SELECT * FROM users", true},
		{"not a select", "DELETE FROM users WHERE id = 1", false},
		{"aggregate function", "SELECT sum(amount) FROM orders WHERE id = 1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.IsAnalyticalQuery(tt.sql); got != tt.want {
				t.Errorf("IsAnalyticalQuery(%q) = %v, want %v", tt.sql, got, tt.want)
			}
		})
	}
}

func TestParseExplainOutputPostgres(t *testing.T) {
	a := New(models.EnginePostgreSQL)

	result := a.ParseExplainOutput(PlanInput{
		Status: "success",
		Lines: []string{
			"Seq Scan on orders  (cost=0.00..50000.00 rows=500000 width=20)",
		},
	})

	if !result.HasIssues {
		t.Fatal("expected issues for a large sequential scan")
	}
	if !result.ShouldConfirm {
		t.Error("expected ShouldConfirm true due to critical full table scan")
	}

	var sawFullScan bool
	for _, issue := range result.Issues {
		if issue.Type == "full_table_scan" {
			sawFullScan = true
			if issue.Level != LevelCritical {
				t.Errorf("full_table_scan level = %v, want critical", issue.Level)
			}
		}
	}
	if !sawFullScan {
		t.Error("expected a full_table_scan issue")
	}
}

func TestParseExplainOutputNonSuccessIsNoIssues(t *testing.T) {
	a := New(models.EnginePostgreSQL)
	result := a.ParseExplainOutput(PlanInput{Status: "error", Error: "connection closed"})
	if result.HasIssues || result.ShouldConfirm {
		t.Errorf("expected no issues on a failed explain, got %+v", result)
	}
}

func TestParseExplainOutputMySQLFullScan(t *testing.T) {
	a := New(models.EngineMySQL)

	result := a.ParseExplainOutput(PlanInput{
		Status: "success",
		MySQLRows: []MySQLPlanRow{
			{Table: "orders", AccessType: "ALL", Rows: 20000, Extra: "Using where"},
		},
	})

	if !result.ShouldConfirm {
		t.Fatal("expected a critical issue for a full ALL scan over 20000 rows")
	}
}

func TestParseExplainOutputMySQLFilesort(t *testing.T) {
	a := New(models.EngineMySQL)

	result := a.ParseExplainOutput(PlanInput{
		Status: "success",
		MySQLRows: []MySQLPlanRow{
			{Table: "orders", AccessType: "ref", Rows: 5000, Extra: "Using filesort"},
		},
	})

	var sawFilesort bool
	for _, issue := range result.Issues {
		if issue.Type == "filesort" {
			sawFilesort = true
		}
	}
	if !sawFilesort {
		t.Error("expected a filesort issue")
	}
	if result.ShouldConfirm {
		t.Error("filesort alone should not force confirmation (warning, not critical)")
	}
}

func TestParseExplainOutputOracleFullScan(t *testing.T) {
	a := New(models.EngineOracle)

	result := a.ParseExplainOutput(PlanInput{
		Status: "success",
		Lines: []string{
			"| 1 | TABLE ACCESS FULL | ORDERS | Rows: 50000 | Cost (%CPU): 20000 (0)|",
		},
	})

	if !result.ShouldConfirm {
		t.Fatal("expected a critical full table scan issue for Oracle")
	}
}

func TestFormatIssuesForDisplayEmpty(t *testing.T) {
	if got := FormatIssuesForDisplay(nil); got != "" {
		t.Errorf("FormatIssuesForDisplay(nil) = %q, want empty", got)
	}
}

func TestFormatIssuesForDisplayGroupsByLevel(t *testing.T) {
	issues := []Issue{
		{Level: LevelCritical, Message: "full scan", Suggestion: "add index"},
		{Level: LevelWarning, Message: "large result", Suggestion: "add limit"},
	}
	out := FormatIssuesForDisplay(issues)
	if out == "" {
		t.Fatal("expected non-empty output")
	}
	if !strings.Contains(out, "critical issue") || !strings.Contains(out, "warning") {
		t.Errorf("output missing expected sections: %q", out)
	}
}
