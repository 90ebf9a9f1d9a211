package tools

import (
	"context"
	"testing"

	"github.com/asteroniris-dev/asteroniris/internal/config"
	"github.com/asteroniris-dev/asteroniris/internal/providers"
)

type namedTool struct{ name string }

func (t *namedTool) Name() string        { return t.name }
func (t *namedTool) Description() string { return t.name }
func (t *namedTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *namedTool) Execute(_ context.Context, _ map[string]interface{}) *Result {
	return NewResult("ok")
}

func policyTestRegistry() *Registry {
	r := NewRegistry()
	for _, name := range []string{
		"read_file", "write_file", "exec",
		"web_search", "web_fetch", "browser",
		"memory_store", "memory_recall", "memory_forget", "memory_governance",
		"sessions_list", "session_status",
	} {
		r.Register(&namedTool{name: name})
	}
	return r
}

func defNames(defs []providers.ToolDefinition) map[string]bool {
	names := make(map[string]bool, len(defs))
	for _, d := range defs {
		names[d.Function.Name] = true
	}
	return names
}

func TestFilterToolsFullProfileReturnsEverything(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{})
	reg := policyTestRegistry()
	defs := pe.FilterTools(reg, "main", "anthropic", nil, nil, false, false)
	if len(defs) != len(reg.List()) {
		t.Fatalf("empty policy should allow everything: got %d of %d", len(defs), len(reg.List()))
	}
}

func TestFilterToolsProfileExpandsGroups(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{Profile: "research"})
	defs := pe.FilterTools(policyTestRegistry(), "main", "anthropic", nil, nil, false, false)
	names := defNames(defs)
	for _, want := range []string{"web_search", "web_fetch", "memory_recall", "browser"} {
		if !names[want] {
			t.Errorf("research profile should include %s", want)
		}
	}
	if names["exec"] || names["write_file"] {
		t.Errorf("research profile must not include exec/write_file: %v", names)
	}
}

func TestFilterToolsDenyOverridesAllow(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{
		Allow: []string{"group:fs", "group:runtime"},
		Deny:  []string{"exec"},
	})
	names := defNames(pe.FilterTools(policyTestRegistry(), "main", "anthropic", nil, nil, false, false))
	if !names["read_file"] || !names["write_file"] {
		t.Fatalf("fs group should survive: %v", names)
	}
	if names["exec"] {
		t.Fatal("deny must strip exec even when its group is allowed")
	}
}

func TestFilterToolsGroupAllowlistIntersects(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{})
	// The channel allowlist enters as the group-level allow; file_read is
	// an alias of read_file.
	names := defNames(pe.FilterTools(policyTestRegistry(), "main", "anthropic", nil,
		[]string{"file_read", "web_search"}, false, false))
	if len(names) != 2 || !names["read_file"] || !names["web_search"] {
		t.Fatalf("expected exactly read_file+web_search, got %v", names)
	}
}

func TestFilterToolsPerProviderOverride(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{
		ByProvider: map[string]*config.ToolPolicySpec{
			"openai": {Allow: []string{"group:web"}},
		},
	})
	reg := policyTestRegistry()

	openai := defNames(pe.FilterTools(reg, "main", "openai", nil, nil, false, false))
	if len(openai) != 2 || !openai["web_search"] || !openai["web_fetch"] {
		t.Fatalf("openai should be narrowed to the web group, got %v", openai)
	}

	anthropic := pe.FilterTools(reg, "main", "anthropic", nil, nil, false, false)
	if len(anthropic) != len(reg.List()) {
		t.Fatalf("other providers keep the full set, got %d", len(anthropic))
	}
}

func TestFilterToolsSubagentDeny(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{})
	names := defNames(pe.FilterTools(policyTestRegistry(), "sub", "anthropic", nil, nil, true, true))
	for _, denied := range []string{"exec", "memory_governance", "memory_forget", "browser", "write_file"} {
		if names[denied] {
			t.Errorf("subagent should not see %s", denied)
		}
	}
	if !names["read_file"] || !names["memory_recall"] {
		t.Errorf("subagent should keep read-only tools: %v", names)
	}
}

func TestFilterToolsAlsoAllowAddsBack(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{
		Profile:   "minimal",
		AlsoAllow: []string{"web_search"},
	})
	names := defNames(pe.FilterTools(policyTestRegistry(), "main", "anthropic", nil, nil, false, false))
	if len(names) != 2 || !names["session_status"] || !names["web_search"] {
		t.Fatalf("expected minimal profile plus web_search, got %v", names)
	}
}
