package tools

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/asteroniris-dev/asteroniris/internal/memory"
	"github.com/asteroniris-dev/asteroniris/internal/store"
)

func newMemStore(t *testing.T) *memory.Store {
	t.Helper()
	mem, err := memory.Open(filepath.Join(t.TempDir(), "brain.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mem.Close() })
	return mem
}

func TestMemoryStoreRecallForgetFlow(t *testing.T) {
	mem := newMemStore(t)
	policyCtx := memory.PolicyContext{}
	ctx := store.WithUserID(context.Background(), "user:1")

	storeTool := NewMemoryStoreTool(mem, policyCtx)
	result := storeTool.Execute(ctx, map[string]interface{}{
		"slot_key": "profile.email", "value": "ada@example.com",
	})
	if result.IsError {
		t.Fatalf("store: %s", result.ForLLM)
	}

	recallTool := NewMemoryRecallTool(mem, policyCtx)
	result = recallTool.Execute(ctx, map[string]interface{}{"query": "email"})
	if result.IsError {
		t.Fatalf("recall: %s", result.ForLLM)
	}
	if !strings.Contains(result.ForLLM, "ada@example.com") {
		t.Fatalf("recall missed the stored value: %s", result.ForLLM)
	}

	forgetTool := NewMemoryForgetTool(mem, policyCtx)
	result = forgetTool.Execute(ctx, map[string]interface{}{
		"slot_key": "profile.email", "mode": "Hard", "reason": "user request",
	})
	if result.IsError {
		t.Fatalf("forget: %s", result.ForLLM)
	}

	slot, err := mem.ResolveSlot("user:1", "profile.email")
	if err != nil {
		t.Fatal(err)
	}
	if slot != nil {
		t.Fatal("hard forget must remove the slot")
	}
	result = recallTool.Execute(ctx, map[string]interface{}{"query": "email"})
	if strings.Contains(result.ForLLM, "ada@example.com") {
		t.Fatal("recall returned a hard-forgotten slot")
	}
}

func TestMemoryToolsEnforceEntityScope(t *testing.T) {
	mem := newMemStore(t)
	ctx := store.WithUserID(context.Background(), "user:1")

	recallTool := NewMemoryRecallTool(mem, memory.PolicyContext{})
	result := recallTool.Execute(ctx, map[string]interface{}{
		"query": "anything", "entity_id": "user:2",
	})
	if !result.IsError || !strings.Contains(result.ForLLM, "out of scope") {
		t.Fatalf("cross-entity recall must be denied, got %q", result.ForLLM)
	}

	// Granting visibility lifts the denial.
	granted := NewMemoryRecallTool(mem, memory.PolicyContext{VisibleEntities: map[string]bool{"user:2": true}})
	result = granted.Execute(ctx, map[string]interface{}{
		"query": "anything", "entity_id": "user:2",
	})
	if result.IsError {
		t.Fatalf("granted recall should pass the scope gate: %s", result.ForLLM)
	}
}

func TestMemoryStoreToolRequiresEntity(t *testing.T) {
	mem := newMemStore(t)
	storeTool := NewMemoryStoreTool(mem, memory.PolicyContext{})
	result := storeTool.Execute(context.Background(), map[string]interface{}{
		"slot_key": "x", "value": "y",
	})
	if !result.IsError {
		t.Fatal("no entity in scope should be an error")
	}
}
