package skills

import (
	"context"
	"testing"
)

func TestSubstituteArguments(t *testing.T) {
	body := "Analyze this join: $ARGUMENTS and suggest indexes. First table is $1, second is $ARGUMENTS[1]."
	got := substituteArguments(body, `orders "line items"`)
	want := `Analyze this join: orders "line items" and suggest indexes. First table is orders, second is line items.`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSubstituteArguments_OutOfRange(t *testing.T) {
	got := substituteArguments("second: $2", "only-one")
	if got != "second: " {
		t.Fatalf("expected out-of-range token to resolve empty, got %q", got)
	}
}

func TestSubstituteVariables(t *testing.T) {
	t.Setenv("SKILL_FALLBACK_VAR", "from-env")
	body := "connection=${CONN_NAME} fallback=${SKILL_FALLBACK_VAR} missing=${NOT_SET_ANYWHERE}"
	got := substituteVariables(body, map[string]string{"CONN_NAME": "prod-pg"})
	want := "connection=prod-pg fallback=from-env missing="
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSubstituteCommands_NilManager(t *testing.T) {
	got := substituteCommands(context.Background(), "today is !`date +%Y`", nil)
	if got != "today is " {
		t.Fatalf("expected empty expansion with nil manager, got %q", got)
	}
}

func TestExecute_FullPipeline(t *testing.T) {
	entry := &SkillEntry{
		Name:         "tune-join",
		Description:  "suggest indexes for a join",
		AllowedTools: AllowedToolsList{"execute_safe_query", "run_explain"},
	}
	body := "Analyze this join: $ARGUMENTS and suggest indexes."
	result := Execute(context.Background(), entry, body, "orders line_items", nil, nil)
	want := "Analyze this join: orders line_items and suggest indexes."
	if result.Instructions != want {
		t.Fatalf("Instructions = %q, want %q", result.Instructions, want)
	}
	if len(result.AllowedTools) != 2 {
		t.Fatalf("expected 2 allowed tools, got %v", result.AllowedTools)
	}
}

func TestAllowedToolsList_UnmarshalCommaString(t *testing.T) {
	data := []byte(`---
name: tune-join
description: test
allowed-tools: execute_safe_query, run_explain
---
body
`)
	entry, err := ParseSkill(data, "/tmp")
	if err != nil {
		t.Fatalf("ParseSkill error: %v", err)
	}
	if len(entry.AllowedTools) != 2 || entry.AllowedTools[0] != "execute_safe_query" {
		t.Fatalf("unexpected AllowedTools: %v", entry.AllowedTools)
	}
}

func TestSkillEntry_InvocationDefaults(t *testing.T) {
	entry := &SkillEntry{}
	if !entry.IsUserInvocable() {
		t.Fatalf("expected user-invocable to default true")
	}
	if !entry.IsModelInvocable() {
		t.Fatalf("expected disable-model-invocation to default false")
	}
}
