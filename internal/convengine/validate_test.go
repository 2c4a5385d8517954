package convengine

import (
	"encoding/json"
	"testing"
)

func TestArgValidator_AllowsMissingSchema(t *testing.T) {
	v := newArgValidator()
	if err := v.validate("some_tool", nil, json.RawMessage(`{"anything": true}`)); err != nil {
		t.Fatalf("expected no error for unscoped tool, got %v", err)
	}
}

func TestArgValidator_RejectsMissingRequiredField(t *testing.T) {
	v := newArgValidator()
	schema := json.RawMessage(`{"type":"object","properties":{"table":{"type":"string"}},"required":["table"]}`)
	if err := v.validate("describe_table", schema, json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected validation error for missing required field")
	}
}

func TestArgValidator_AcceptsValidArguments(t *testing.T) {
	v := newArgValidator()
	schema := json.RawMessage(`{"type":"object","properties":{"table":{"type":"string"}},"required":["table"]}`)
	if err := v.validate("describe_table", schema, json.RawMessage(`{"table":"users"}`)); err != nil {
		t.Fatalf("expected valid arguments to pass, got %v", err)
	}
}

func TestArgValidator_RejectsWrongType(t *testing.T) {
	v := newArgValidator()
	schema := json.RawMessage(`{"type":"object","properties":{"limit":{"type":"integer"}}}`)
	if err := v.validate("get_sample_data", schema, json.RawMessage(`{"limit":"ten"}`)); err == nil {
		t.Fatal("expected validation error for wrong type")
	}
}

func TestArgValidator_CachesCompiledSchema(t *testing.T) {
	v := newArgValidator()
	schema := json.RawMessage(`{"type":"object","properties":{"table":{"type":"string"}}}`)
	if err := v.validate("list_tables", schema, json.RawMessage(`{"table":"a"}`)); err != nil {
		t.Fatalf("first validate: %v", err)
	}
	if err := v.validate("list_tables", schema, json.RawMessage(`{"table":"b"}`)); err != nil {
		t.Fatalf("second validate (cached schema): %v", err)
	}
}
