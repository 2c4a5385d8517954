package toolregistry

import (
	"testing"

	"github.com/relaydb/dbagent/internal/convengine"
	"github.com/relaydb/dbagent/internal/skills"
)

type fakeToolServers struct {
	tools []convengine.ToolDef
}

func (f *fakeToolServers) ListTools() []convengine.ToolDef { return f.tools }

func TestBuild_IncludesAllDBAndMigrationBuiltins(t *testing.T) {
	out := Build("en", nil, nil)
	names := map[string]bool{}
	for _, t := range out {
		names[t.Name] = true
	}
	for _, want := range []string{
		"list_tables", "execute_sql", "execute_safe_query", "switch_database",
		"create_migration_plan", "generate_migration_report", "request_migration_setup",
		"request_user_input",
	} {
		if !names[want] {
			t.Fatalf("expected tool %q in catalog", want)
		}
	}
}

func TestBuild_DescriptionsAreLocalized(t *testing.T) {
	out := Build("en", nil, nil)
	for _, tool := range out {
		if tool.Name == "list_tables" {
			if tool.Description == "" {
				t.Fatalf("expected non-empty localized description")
			}
			return
		}
	}
	t.Fatalf("list_tables not found")
}

func TestBuild_SkipsNonModelInvocableSkills(t *testing.T) {
	entries := map[string]*skills.SkillEntry{
		"visible": {Name: "visible", Description: "a visible skill"},
		"hidden":  {Name: "hidden", Description: "a hidden skill", DisableModelInvocation: true},
	}
	out := Build("en", nil, entries)
	found := map[string]bool{}
	for _, tool := range out {
		found[tool.Name] = true
	}
	if !found["skill_visible"] {
		t.Fatalf("expected skill_visible in catalog")
	}
	if found["skill_hidden"] {
		t.Fatalf("did not expect skill_hidden in catalog")
	}
}

func TestBuild_IncludesExternalToolServerTools(t *testing.T) {
	servers := &fakeToolServers{tools: []convengine.ToolDef{{Name: "srv__ping", Description: "ping"}}}
	out := Build("en", servers, nil)
	for _, tool := range out {
		if tool.Name == "srv__ping" {
			return
		}
	}
	t.Fatalf("expected external tool srv__ping in catalog")
}
