package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/asteroniris-dev/asteroniris/internal/memory"
)

// MemoryGovernanceTool is the DSAR surface over the memory store: inspect
// lists an entity's current belief slots, export produces the same list as
// a JSON document suitable for handing to a data subject, and delete runs
// a tombstone or hard forget. Every call is logged to the store's
// append-only governance audit log regardless of outcome.
type MemoryGovernanceTool struct {
	store *memory.Store
}

func NewMemoryGovernanceTool(store *memory.Store) *MemoryGovernanceTool {
	return &MemoryGovernanceTool{store: store}
}

func (t *MemoryGovernanceTool) Name() string { return "memory_governance" }

func (t *MemoryGovernanceTool) Description() string {
	return "Inspect, export, or delete an entity's stored memory (DSAR). Private/Sensitive values are redacted from export unless sensitive_fields_included=true."
}

func (t *MemoryGovernanceTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []string{"inspect", "export", "delete"},
			},
			"entity_id": map[string]interface{}{"type": "string"},
			"slot_key": map[string]interface{}{
				"type":        "string",
				"description": "Required for delete; the slot to remove.",
			},
			"mode": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"Tombstone", "Hard"},
				"description": "delete mode; defaults to Tombstone.",
			},
			"reason": map[string]interface{}{"type": "string"},
			"sensitive_fields_included": map[string]interface{}{
				"type":        "boolean",
				"description": "When true, export includes Private/Sensitive slot values unredacted.",
			},
		},
		"required": []string{"operation", "entity_id"},
	}
}

func (t *MemoryGovernanceTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	operation, _ := args["operation"].(string)
	entityID, _ := args["entity_id"].(string)
	if entityID == "" {
		return ErrorResult("entity_id is required")
	}

	var result *Result
	switch operation {
	case "inspect":
		result = t.inspect(entityID, true)
	case "export":
		includeSensitive, _ := args["sensitive_fields_included"].(bool)
		result = t.inspect(entityID, includeSensitive)
	case "delete":
		slotKey, _ := args["slot_key"].(string)
		mode, _ := args["mode"].(string)
		reason, _ := args["reason"].(string)
		result = t.delete(entityID, slotKey, mode, reason)
	default:
		return ErrorResult(fmt.Sprintf("unknown operation %q, must be inspect/export/delete", operation))
	}

	if err := t.store.RecordGovernanceAction(entityID, operation, "agent", operation); err != nil {
		return ErrorResult(fmt.Sprintf("governance action audit failed: %v", err))
	}
	return result
}

func (t *MemoryGovernanceTool) inspect(entityID string, includeSensitive bool) *Result {
	slots, err := t.store.ListEntitySlots(entityID)
	if err != nil {
		return ErrorResult(err.Error())
	}

	type redactedSlot struct {
		SlotKey    string  `json:"slot_key"`
		Value      string  `json:"value"`
		Confidence float64 `json:"confidence"`
		Source     string  `json:"source"`
		Privacy    string  `json:"privacy"`
	}
	out := make([]redactedSlot, 0, len(slots))
	for _, s := range slots {
		value := s.Value
		if !includeSensitive && (s.Privacy == memory.PrivacyPrivate || s.Privacy == memory.PrivacySensitive) {
			value = "[redacted]"
		}
		out = append(out, redactedSlot{
			SlotKey: s.SlotKey, Value: value, Confidence: s.Confidence,
			Source: string(s.Source), Privacy: string(s.Privacy),
		})
	}
	payload, _ := json.Marshal(map[string]interface{}{"entity_id": entityID, "slots": out})
	return NewResult(string(payload))
}

func (t *MemoryGovernanceTool) delete(entityID, slotKey, mode, reason string) *Result {
	if slotKey == "" {
		return ErrorResult("slot_key is required for delete")
	}
	forgetMode := memory.ForgetTombstone
	if mode == string(memory.ForgetHard) {
		forgetMode = memory.ForgetHard
	}
	if reason == "" {
		reason = "DSAR delete request"
	}
	outcome, err := t.store.ForgetSlot(entityID, slotKey, forgetMode, reason)
	if err != nil {
		return ErrorResult(err.Error())
	}
	payload, _ := json.Marshal(outcome)
	return NewResult(string(payload))
}
