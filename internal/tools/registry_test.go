package tools

import (
	"context"
	"testing"
)

type stubTool struct {
	name   string
	calls  int
	result *Result
}

func (s *stubTool) Name() string                 { return s.name }
func (s *stubTool) Description() string          { return "stub tool for tests" }
func (s *stubTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (s *stubTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	s.calls++
	if s.result != nil {
		return s.result
	}
	return NewResult("ok")
}

type recordingMiddleware struct {
	before []string
	after  []string
	block  string
}

func (m *recordingMiddleware) BeforeExecute(ctx context.Context, toolName string, args map[string]interface{}) (context.Context, *MiddlewareDecision) {
	m.before = append(m.before, toolName)
	if m.block != "" && toolName == m.block {
		return ctx, Block("blocked by test middleware: " + toolName)
	}
	return ctx, nil
}

func (m *recordingMiddleware) AfterExecute(ctx context.Context, toolName string, args map[string]interface{}, result *Result) {
	m.after = append(m.after, toolName)
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	result := r.Execute(context.Background(), "does_not_exist", nil)
	if !result.IsError {
		t.Fatalf("expected error result for unknown tool")
	}
}

func TestExecuteRunsMiddlewareAndTool(t *testing.T) {
	mw := &recordingMiddleware{}
	r := NewRegistry(mw)
	tool := &stubTool{name: "echo"}
	r.Register(tool)

	result := r.Execute(context.Background(), "echo", map[string]interface{}{})
	if result.IsError {
		t.Fatalf("unexpected error result: %v", result.ForLLM)
	}
	if tool.calls != 1 {
		t.Fatalf("expected tool to be called once, got %d", tool.calls)
	}
	if len(mw.before) != 1 || mw.before[0] != "echo" {
		t.Fatalf("expected BeforeExecute to run once for echo, got %v", mw.before)
	}
	if len(mw.after) != 1 || mw.after[0] != "echo" {
		t.Fatalf("expected AfterExecute to run once for echo, got %v", mw.after)
	}
}

func TestMiddlewareBlockShortCircuits(t *testing.T) {
	mw := &recordingMiddleware{block: "danger"}
	r := NewRegistry(mw)
	tool := &stubTool{name: "danger"}
	r.Register(tool)

	result := r.Execute(context.Background(), "danger", map[string]interface{}{})
	if !result.IsError {
		t.Fatalf("expected blocked result to be an error result")
	}
	if tool.calls != 0 {
		t.Fatalf("expected tool not to run when blocked, got %d calls", tool.calls)
	}
	if len(mw.after) != 1 {
		t.Fatalf("expected AfterExecute still to run once even when blocked, got %v", mw.after)
	}
}

func TestRegisterUnregisterGetList(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "a"})
	r.Register(&stubTool{name: "b"})
	if got := r.List(); len(got) != 2 {
		t.Fatalf("expected 2 tools, got %v", got)
	}
	if _, ok := r.Get("a"); !ok {
		t.Fatalf("expected to find tool a")
	}
	r.Unregister("a")
	if _, ok := r.Get("a"); ok {
		t.Fatalf("expected tool a to be gone after Unregister")
	}
	if got := r.List(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("expected only tool b left, got %v", got)
	}
}

func TestToolServerRestrictsOutsideAllowedSet(t *testing.T) {
	backing := NewRegistry()
	backing.Register(&stubTool{name: "allowed_tool"})
	backing.Register(&stubTool{name: "forbidden_tool"})

	server := NewToolServer(backing, []string{"allowed_tool"})
	if _, ok := server.Get("forbidden_tool"); ok {
		t.Fatalf("expected forbidden_tool to be hidden by the tool server")
	}
	result := server.Execute(context.Background(), "forbidden_tool", nil)
	if !result.IsError {
		t.Fatalf("expected forbidden_tool execution to fail")
	}

	result = server.Execute(context.Background(), "allowed_tool", map[string]interface{}{})
	if result.IsError {
		t.Fatalf("expected allowed_tool to run: %v", result.ForLLM)
	}
}

func TestSpecsForContextFiltersByAllowlist(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "a"})
	r.Register(&stubTool{name: "b"})

	all := r.SpecsForContext(nil)
	if len(all) != 2 {
		t.Fatalf("expected both tools with no restriction, got %d", len(all))
	}
	filtered := r.SpecsForContext([]string{"a"})
	if len(filtered) != 1 || filtered[0].Function.Name != "a" {
		t.Fatalf("expected only tool a, got %v", filtered)
	}
}
