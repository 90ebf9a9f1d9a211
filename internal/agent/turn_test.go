package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/asteroniris-dev/asteroniris/internal/config"
	"github.com/asteroniris-dev/asteroniris/internal/memory"
	"github.com/asteroniris-dev/asteroniris/internal/providers"
	"github.com/asteroniris-dev/asteroniris/internal/security"
	"github.com/asteroniris-dev/asteroniris/internal/supervisor"
)

type fakeProvider struct {
	replies []string
	calls   int
	err     error
}

func (f *fakeProvider) Chat(_ context.Context, _ providers.ChatRequest) (*providers.ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	i := f.calls - 1
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	return &providers.ChatResponse{Content: f.replies[i], FinishReason: "stop"}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, _ func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return f.Chat(ctx, req)
}

func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Name() string         { return "fake" }

func newTestPolicy(t *testing.T, autonomy string) *security.Policy {
	t.Helper()
	return security.New(config.SecurityConfig{Autonomy: autonomy}, t.TempDir())
}

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.Open(filepath.Join(t.TempDir(), "brain.db"))
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunTurnPersonaTwoCallSuccess(t *testing.T) {
	answer := &fakeProvider{replies: []string{"hello there"}}
	reflect := &fakeProvider{replies: []string{`{"current_objective":"help the user","open_threads":["follow up tomorrow"]}`}}
	mem := newTestStore(t)

	turn := &Turn{
		AnswerProvider: answer, ReflectProvider: reflect,
		Policy: newTestPolicy(t, "full"), Memory: mem,
		Persona: PersonaPolicy{Enabled: true}, Autosave: true,
	}

	result, err := turn.RunTurn(context.Background(), supervisor.TurnParams{
		EntityID: "user:1", SystemPrompt: "be helpful", UserMessage: "hi", Model: "fake-model", Temperature: 0.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FinalText != "hello there" {
		t.Fatalf("got %q", result.FinalText)
	}
	if answer.calls != 1 || reflect.calls != 1 {
		t.Fatalf("expected exactly 1 answer call and 1 reflect call, got answer=%d reflect=%d", answer.calls, reflect.calls)
	}

	slot, err := mem.ResolveSlot("user:1", personaStateSlotKey)
	if err != nil {
		t.Fatalf("resolve state header: %v", err)
	}
	if slot == nil {
		t.Fatalf("expected state header to be persisted")
	}
}

func TestRunTurnPersonaReflectFailurePreservesAnswer(t *testing.T) {
	answer := &fakeProvider{replies: []string{"the answer stands"}}
	reflect := &fakeProvider{replies: []string{"not json at all"}}
	mem := newTestStore(t)

	turn := &Turn{
		AnswerProvider: answer, ReflectProvider: reflect,
		Policy: newTestPolicy(t, "full"), Memory: mem,
		Persona: PersonaPolicy{Enabled: true},
	}

	result, err := turn.RunTurn(context.Background(), supervisor.TurnParams{EntityID: "user:1", UserMessage: "hi", Model: "fake-model"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FinalText != "the answer stands" {
		t.Fatalf("reflect failure must not affect the answer, got %q", result.FinalText)
	}

	slot, err := mem.ResolveSlot("user:1", personaStateSlotKey)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if slot != nil {
		t.Fatalf("a failed parse must not persist a state header")
	}
}

func intPtr(v int) *int { return &v }

func TestRunTurnPolicyGateDeniesBeforeAnyProviderCall(t *testing.T) {
	answer := &fakeProvider{replies: []string{"should never be seen"}}
	// An hourly action budget of zero permits nothing: the very first turn
	// is denied at the policy gate, before the provider is ever called.
	zero := 0
	turn := &Turn{
		AnswerProvider: answer,
		Policy:         security.New(config.SecurityConfig{Autonomy: "full", ActionRateLimit: &zero}, t.TempDir()),
	}

	_, err := turn.RunTurn(context.Background(), supervisor.TurnParams{EntityID: "user:1", UserMessage: "hi", Model: "fake-model"})
	if err == nil {
		t.Fatalf("expected the turn to be denied by the zero action budget")
	}
	if !strings.Contains(err.Error(), "action limit exceeded") {
		t.Fatalf("expected 'action limit exceeded' in %q", err.Error())
	}
	if answer.calls != 0 {
		t.Fatalf("a policy denial must happen before any provider call, got %d provider calls", answer.calls)
	}
}

func TestRunTurnHourlyCapExhaustionDeniesSubsequentTurns(t *testing.T) {
	answer := &fakeProvider{replies: []string{"first turn answer"}}
	turn := &Turn{
		AnswerProvider: answer,
		Policy:         security.New(config.SecurityConfig{Autonomy: "full", ActionRateLimit: intPtr(1)}, t.TempDir()),
	}
	ctx := context.Background()
	params := supervisor.TurnParams{EntityID: "user:1", UserMessage: "hi", Model: "fake-model"}

	if _, err := turn.RunTurn(ctx, params); err != nil {
		t.Fatalf("first turn should succeed: %v", err)
	}
	if answer.calls != 1 {
		t.Fatalf("expected 1 call after first turn, got %d", answer.calls)
	}

	if _, err := turn.RunTurn(ctx, params); err == nil {
		t.Fatalf("expected the second turn to be denied by the hourly action cap")
	}
	if answer.calls != 1 {
		t.Fatalf("a policy denial must happen before any provider call, got %d provider calls", answer.calls)
	}
}

func TestRunTurnVerifyRepairEscalatesAfterMaxAttempts(t *testing.T) {
	answer := &fakeProvider{err: errors.New("connection reset")}
	mem := newTestStore(t)

	turn := &Turn{
		AnswerProvider: answer, Policy: newTestPolicy(t, "full"), Memory: mem,
		VerifyRepair: VerifyRepairPolicy{MaxAttempts: 3, MaxRepairDepth: 2},
	}

	_, err := turn.RunTurn(context.Background(), supervisor.TurnParams{EntityID: "user:1", UserMessage: "hi", Model: "fake-model"})
	if err == nil {
		t.Fatalf("expected an error after exhausting attempts")
	}
	msg := err.Error()
	for _, want := range []string{"reason=max_attempts_reached", "attempts=3", "failure_class=transient_failure"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected error to contain %q, got %q", want, msg)
		}
	}
	if answer.calls != 3 {
		t.Fatalf("expected exactly 3 provider calls, got %d", answer.calls)
	}

	slot, err := mem.ResolveSlot("user:1", VerifyRepairEscalationSlotKey)
	if err != nil {
		t.Fatalf("resolve escalation slot: %v", err)
	}
	if slot == nil {
		t.Fatalf("expected an escalation note to be persisted")
	}
}
