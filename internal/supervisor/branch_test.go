package supervisor

import (
	"context"
	"testing"
)

func TestNewBranchStartsEmpty(t *testing.T) {
	branch := NewBranch("user:1", &stubWorker{})
	if branch.EntityID() != "user:1" {
		t.Fatalf("got entity id=%q", branch.EntityID())
	}
	if branch.TurnCount() != 0 || branch.HistoryLen() != 0 {
		t.Fatalf("expected fresh branch to be empty")
	}
}

func TestSetHistoryReplacesConversation(t *testing.T) {
	branch := NewBranch("user:1", &stubWorker{})
	branch.SetHistory([]ConversationMessage{
		{Role: "user", Text: "hello"},
		{Role: "assistant", Text: "hi"},
	})
	if branch.HistoryLen() != 2 {
		t.Fatalf("got history len=%d", branch.HistoryLen())
	}
}

func TestProcessMessageSkipsEmptyAssistantReply(t *testing.T) {
	branch := NewBranch("user:1", &stubWorker{reply: ""})
	if _, err := branch.ProcessMessage(context.Background(), "hello", "prompt", "model", 0.7, ChannelPolicy{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if branch.HistoryLen() != 1 {
		t.Fatalf("expected only the user message to be appended, got len=%d", branch.HistoryLen())
	}
}
