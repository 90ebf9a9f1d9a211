package supervisor

import (
	"context"
	"sync"
)

// Branch is per-entity conversation state: a rolling provider-message
// history and a turn counter, serialising every message from one entity
// through the same Worker.
type Branch struct {
	mu        sync.Mutex
	entityID  string
	history   []ConversationMessage
	turnCount uint32
	worker    Worker
}

func NewBranch(entityID string, worker Worker) *Branch {
	return &Branch{entityID: entityID, worker: worker}
}

// ProcessMessage runs the worker for message, then appends the user message
// and (if non-empty) the assistant reply to history.
func (b *Branch) ProcessMessage(ctx context.Context, message, systemPrompt, model string, temperature float64, policy ChannelPolicy) (TurnResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.turnCount++
	params := TurnParams{
		EntityID: b.entityID, SystemPrompt: systemPrompt, UserMessage: message,
		Model: model, Temperature: temperature, ConversationHistory: append([]ConversationMessage{}, b.history...),
		AutonomyCeiling: policy.AutonomyFloor, AllowedTools: policy.AllowedTools(),
	}

	result, err := b.worker.RunTurn(ctx, params)
	if err != nil {
		return TurnResult{}, err
	}

	b.history = append(b.history, ConversationMessage{Role: "user", Text: message})
	if result.FinalText != "" {
		b.history = append(b.history, ConversationMessage{Role: "assistant", Text: result.FinalText})
	}

	return result, nil
}

func (b *Branch) HistoryLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.history)
}

func (b *Branch) EntityID() string { return b.entityID }

func (b *Branch) TurnCount() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.turnCount
}

func (b *Branch) SetHistory(history []ConversationMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = history
}
