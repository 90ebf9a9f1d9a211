package supervisor

import (
	"context"
	"sort"
	"testing"

	"github.com/asteroniris-dev/asteroniris/internal/bus"
)

type stubWorker struct {
	reply string
	calls int
}

func (w *stubWorker) RunTurn(_ context.Context, _ TurnParams) (TurnResult, error) {
	w.calls++
	return TurnResult{FinalText: w.reply}, nil
}

type recordingPublisher struct {
	events []bus.Event
}

func (p *recordingPublisher) Subscribe(string, bus.EventHandler) {}
func (p *recordingPublisher) Unsubscribe(string)                 {}
func (p *recordingPublisher) Broadcast(event bus.Event)          { p.events = append(p.events, event) }

func TestNewChannelProcessStartsEmpty(t *testing.T) {
	proc := NewChannelProcess(&stubWorker{}, &recordingPublisher{}, "You are helpful.", "test-model", 0.7)
	if proc.BranchCount() != 0 {
		t.Fatalf("expected 0 branches")
	}
	if len(proc.ActiveEntities()) != 0 {
		t.Fatalf("expected no active entities")
	}
}

func TestCloseBranchReturnsFalseForNonexistent(t *testing.T) {
	proc := NewChannelProcess(&stubWorker{}, &recordingPublisher{}, "prompt", "model", 0.7)
	if proc.CloseBranch("nobody") {
		t.Fatalf("expected false for nonexistent branch")
	}
}

func TestHandleMessageCreatesBranchAndEmitsEvent(t *testing.T) {
	pub := &recordingPublisher{}
	worker := &stubWorker{reply: "hi there"}
	proc := NewChannelProcess(worker, pub, "prompt", "model", 0.7)

	result, err := proc.HandleMessage(context.Background(), "user:1", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FinalText != "hi there" {
		t.Fatalf("got %+v", result)
	}
	if proc.BranchCount() != 1 {
		t.Fatalf("expected 1 branch")
	}
	if len(pub.events) != 1 || pub.events[0].Name != EventBranchCreated {
		t.Fatalf("expected a branch_created event, got %+v", pub.events)
	}
}

func TestCloseBranchEmitsEvent(t *testing.T) {
	pub := &recordingPublisher{}
	proc := NewChannelProcess(&stubWorker{}, pub, "prompt", "model", 0.7)

	if _, err := proc.HandleMessage(context.Background(), "user:1", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !proc.CloseBranch("user:1") {
		t.Fatalf("expected branch to be closed")
	}
	if proc.BranchCount() != 0 {
		t.Fatalf("expected 0 branches after close")
	}

	var sawClosed bool
	for _, e := range pub.events {
		if e.Name == EventBranchClosed {
			sawClosed = true
		}
	}
	if !sawClosed {
		t.Fatalf("expected a branch_closed event, got %+v", pub.events)
	}
}

func TestActiveEntitiesReturnsKeys(t *testing.T) {
	proc := NewChannelProcess(&stubWorker{}, &recordingPublisher{}, "prompt", "model", 0.7)
	if _, err := proc.HandleMessage(context.Background(), "user:a", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := proc.HandleMessage(context.Background(), "user:b", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entities := proc.ActiveEntities()
	sort.Strings(entities)
	if len(entities) != 2 || entities[0] != "user:a" || entities[1] != "user:b" {
		t.Fatalf("got %v", entities)
	}
}

func TestHandleMessageSerialisesPerEntity(t *testing.T) {
	worker := &stubWorker{reply: "ok"}
	proc := NewChannelProcess(worker, &recordingPublisher{}, "prompt", "model", 0.7)

	for i := 0; i < 3; i++ {
		if _, err := proc.HandleMessage(context.Background(), "user:1", "hi"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	branch, err := proc.Branch("user:1")
	if err != nil {
		t.Fatalf("branch lookup: %v", err)
	}
	if branch.TurnCount() != 3 {
		t.Fatalf("got turn count=%d, want 3", branch.TurnCount())
	}
	if branch.HistoryLen() != 6 {
		t.Fatalf("got history len=%d, want 6 (3 user + 3 assistant)", branch.HistoryLen())
	}
}
