package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/asteroniris-dev/asteroniris/internal/memory"
	"github.com/asteroniris-dev/asteroniris/internal/store"
)

// The memory_* tools are thin wrappers over the memory store. Every call is
// scoped by the active tenant policy: the calling entity (tool context user
// id, or the explicit entity_id argument) may only touch data the policy
// context grants it.

// resolveMemoryEntity picks the entity for a memory tool call: an explicit
// entity_id argument wins, otherwise the request's user id from context.
func resolveMemoryEntity(ctx context.Context, args map[string]interface{}) string {
	if id, _ := args["entity_id"].(string); id != "" {
		return id
	}
	return store.UserIDFromContext(ctx)
}

// MemoryStoreTool appends a fact/preference event and updates its belief
// slot.
type MemoryStoreTool struct {
	store     *memory.Store
	policyCtx memory.PolicyContext
}

func NewMemoryStoreTool(mem *memory.Store, policyCtx memory.PolicyContext) *MemoryStoreTool {
	return &MemoryStoreTool{store: mem, policyCtx: policyCtx}
}

func (t *MemoryStoreTool) Name() string { return "memory_store" }

func (t *MemoryStoreTool) Description() string {
	return "Save a durable fact, preference, or event about an entity. Use dotted slot keys like profile.email or preferences.tone."
}

func (t *MemoryStoreTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"slot_key": map[string]interface{}{
				"type":        "string",
				"description": "Dotted namespace key, e.g. profile.email",
			},
			"value": map[string]interface{}{"type": "string"},
			"entity_id": map[string]interface{}{
				"type":        "string",
				"description": "Defaults to the current user.",
			},
			"privacy": map[string]interface{}{
				"type": "string",
				"enum": []string{"Public", "Private", "Sensitive"},
			},
			"confidence": map[string]interface{}{
				"type":        "number",
				"description": "0..1, defaults to 0.9 for explicit user statements.",
			},
		},
		"required": []string{"slot_key", "value"},
	}
}

func (t *MemoryStoreTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	slotKey, _ := args["slot_key"].(string)
	value, _ := args["value"].(string)
	if slotKey == "" || value == "" {
		return ErrorResult("slot_key and value are required")
	}

	entityID := resolveMemoryEntity(ctx, args)
	if entityID == "" {
		return ErrorResult("no entity in scope: pass entity_id")
	}
	caller := store.UserIDFromContext(ctx)
	if caller == "" {
		caller = entityID
	}
	if !t.policyCtx.EnforceRecallScope(caller, entityID) {
		return ErrorResult(fmt.Sprintf("entity %q is out of scope for this caller", entityID))
	}

	privacy := memory.PrivacyPrivate
	if p, _ := args["privacy"].(string); p != "" {
		privacy = memory.Privacy(p)
	}
	confidence := 0.9
	if c, ok := args["confidence"].(float64); ok && c > 0 && c <= 1 {
		confidence = c
	}

	event, err := t.store.AppendEvent(memory.MemoryEventInput{
		EntityID:   entityID,
		SlotKey:    slotKey,
		EventType:  memory.FactAdded,
		Value:      value,
		Source:     memory.SourceExplicitUser,
		Privacy:    privacy,
		Confidence: confidence,
		MemLayer:   memory.LayerLongTerm,
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("memory store failed: %v", err))
	}
	return NewResult(fmt.Sprintf("Stored %s for %s (event %d)", slotKey, entityID, event.ID))
}

// MemoryRecallTool runs a scoped recall and returns ranked items.
type MemoryRecallTool struct {
	store     *memory.Store
	policyCtx memory.PolicyContext
}

func NewMemoryRecallTool(mem *memory.Store, policyCtx memory.PolicyContext) *MemoryRecallTool {
	return &MemoryRecallTool{store: mem, policyCtx: policyCtx}
}

func (t *MemoryRecallTool) Name() string { return "memory_recall" }

func (t *MemoryRecallTool) Description() string {
	return "Search stored memory for an entity. Returns the best-matching slots ranked by relevance, importance, and recency."
}

func (t *MemoryRecallTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
			"entity_id": map[string]interface{}{
				"type":        "string",
				"description": "Defaults to the current user.",
			},
			"limit": map[string]interface{}{"type": "integer"},
		},
		"required": []string{"query"},
	}
}

func (t *MemoryRecallTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	entityID := resolveMemoryEntity(ctx, args)
	if entityID == "" {
		return ErrorResult("no entity in scope: pass entity_id")
	}
	caller := store.UserIDFromContext(ctx)
	if caller == "" {
		caller = entityID
	}
	if !t.policyCtx.EnforceRecallScope(caller, entityID) {
		return ErrorResult(fmt.Sprintf("entity %q is out of scope for this caller", entityID))
	}

	limit := 10
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	items, err := t.store.RecallScoped(memory.RecallQuery{
		EntityID:      entityID,
		Query:         query,
		Limit:         limit,
		PolicyContext: t.policyCtx,
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("memory recall failed: %v", err))
	}
	if len(items) == 0 {
		return NewResult("No matching memories.")
	}

	type recalled struct {
		SlotKey string  `json:"slot_key"`
		Value   string  `json:"value"`
		Score   float64 `json:"score"`
	}
	out := make([]recalled, 0, len(items))
	for _, item := range items {
		out = append(out, recalled{SlotKey: item.SlotKey, Value: item.Value, Score: item.Score})
	}
	payload, _ := json.Marshal(out)
	return NewResult(string(payload))
}

// MemoryForgetTool tombstones or hard-deletes a slot.
type MemoryForgetTool struct {
	store     *memory.Store
	policyCtx memory.PolicyContext
}

func NewMemoryForgetTool(mem *memory.Store, policyCtx memory.PolicyContext) *MemoryForgetTool {
	return &MemoryForgetTool{store: mem, policyCtx: policyCtx}
}

func (t *MemoryForgetTool) Name() string { return "memory_forget" }

func (t *MemoryForgetTool) Description() string {
	return "Forget a stored memory slot. Tombstone hides it but keeps history; Hard removes the events as well."
}

func (t *MemoryForgetTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"slot_key": map[string]interface{}{"type": "string"},
			"entity_id": map[string]interface{}{
				"type":        "string",
				"description": "Defaults to the current user.",
			},
			"mode": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"Tombstone", "Hard"},
				"description": "Defaults to Tombstone.",
			},
			"reason": map[string]interface{}{"type": "string"},
		},
		"required": []string{"slot_key"},
	}
}

func (t *MemoryForgetTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	slotKey, _ := args["slot_key"].(string)
	if slotKey == "" {
		return ErrorResult("slot_key is required")
	}
	entityID := resolveMemoryEntity(ctx, args)
	if entityID == "" {
		return ErrorResult("no entity in scope: pass entity_id")
	}
	caller := store.UserIDFromContext(ctx)
	if caller == "" {
		caller = entityID
	}
	if !t.policyCtx.EnforceRecallScope(caller, entityID) {
		return ErrorResult(fmt.Sprintf("entity %q is out of scope for this caller", entityID))
	}

	mode := memory.ForgetTombstone
	if m, _ := args["mode"].(string); m == string(memory.ForgetHard) {
		mode = memory.ForgetHard
	}
	reason, _ := args["reason"].(string)

	outcome, err := t.store.ForgetSlot(entityID, slotKey, mode, reason)
	if err != nil {
		return ErrorResult(fmt.Sprintf("memory forget failed: %v", err))
	}
	if !outcome.Removed {
		return NewResult(fmt.Sprintf("Nothing to forget: %s has no slot %s", entityID, slotKey))
	}
	msg := fmt.Sprintf("Forgot %s for %s (%s)", slotKey, entityID, mode)
	if outcome.Degraded {
		msg += " — some derived artifacts could not be purged"
	}
	return NewResult(msg)
}
