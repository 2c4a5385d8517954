package tokencounter

import (
	"encoding/json"
	"testing"

	"github.com/relaydb/dbagent/internal/models"
)

func TestCount(t *testing.T) {
	c := New()
	if got := c.Count(""); got != 0 {
		t.Fatalf("empty text: got %d, want 0", got)
	}
	if got := c.Count("ab"); got != 1 {
		t.Fatalf("short text: got %d, want 1 (rounds up)", got)
	}
	if got := c.Count("12345678"); got != 2 {
		t.Fatalf("8 chars: got %d, want 2", got)
	}
}

func TestCountMessages(t *testing.T) {
	c := New()
	messages := []*models.ChatMessage{
		{Role: models.RoleUser, Content: "list the tables"},
		{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCall{
				{ID: "1", Name: "list_tables", Arguments: json.RawMessage(`{"schema":"public"}`)},
			},
		},
		nil,
	}
	if got := c.CountMessages(messages); got == 0 {
		t.Fatalf("expected nonzero token estimate")
	}
}

func TestContextLimit(t *testing.T) {
	cases := map[string]int{
		"claude-sonnet-4-20250514": 200_000,
		"gpt-4o-mini":              128_000,
		"deepseek-chat":            64_000,
		"gemini-1.5-pro":           1_000_000,
		"qwen2.5-72b":              32_000,
		"some-unknown-model":       genericLimit,
	}
	for model, want := range cases {
		if got := ContextLimit(model); got != want {
			t.Errorf("ContextLimit(%q) = %d, want %d", model, got, want)
		}
	}
}

func TestThreshold(t *testing.T) {
	if got := Threshold("claude-sonnet-4", 0); got != 160_000 {
		t.Fatalf("default fraction: got %d, want 160000", got)
	}
	if got := Threshold("claude-sonnet-4", 0.5); got != 100_000 {
		t.Fatalf("explicit fraction: got %d, want 100000", got)
	}
}
