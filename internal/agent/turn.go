package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/asteroniris-dev/asteroniris/internal/bootstrap"
	"github.com/asteroniris-dev/asteroniris/internal/bus"
	"github.com/asteroniris-dev/asteroniris/internal/cron"
	"github.com/asteroniris-dev/asteroniris/internal/memory"
	"github.com/asteroniris-dev/asteroniris/internal/providers"
	"github.com/asteroniris-dev/asteroniris/internal/security"
	"github.com/asteroniris-dev/asteroniris/internal/skills"
	"github.com/asteroniris-dev/asteroniris/internal/supervisor"
	"github.com/asteroniris-dev/asteroniris/internal/tools"
	"github.com/asteroniris-dev/asteroniris/internal/tracing"
)

// Lifecycle event names broadcast around a turn (C6 step 1 and the
// verify/repair escalation path).
const (
	EventIntentCreated       = "intent_created"
	EventIntentPolicyDenied  = "intent_policy_denied"
	EventVerifyRepairEscalated = "verify_repair_escalated"
)

// VerifyRepairEscalationSlotKey is the belief slot an exhausted verify/repair
// loop writes its escalation note to, so a human (or the cortex bulletin)
// sees it on the next recall rather than it vanishing with the failed turn.
const VerifyRepairEscalationSlotKey = "verify_repair.escalation"

// personaStateSlotKey is where the persona reflect/writeback pass (step 8)
// persists its StateHeader. It is a belief slot like any other, not a
// separate table: the turn wrapper is the only reader/writer.
const personaStateSlotKey = "persona.state_header"

const assistantSummaryMaxChars = 280

// consolidationEvery is the event-count interval between queued memory
// consolidation passes for an entity.
const consolidationEvery = 20

// StateHeader is the small persistent note a persona-enabled turn updates
// after answering: what the agent is currently working towards for this
// entity, not the full belief-slot graph.
type StateHeader struct {
	CurrentObjective string    `json:"current_objective"`
	Mood             string    `json:"mood,omitempty"`
	OpenThreads      []string  `json:"open_threads,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TurnCallAccounting tracks provider calls spent on one turn attempt.
// Invariant: AnswerCalls+ReflectCalls never exceeds BudgetLimit.
type TurnCallAccounting struct {
	BudgetLimit  int
	AnswerCalls  int
	ReflectCalls int
}

func (a *TurnCallAccounting) spend(n int) bool {
	if a.AnswerCalls+a.ReflectCalls+n > a.BudgetLimit {
		return false
	}
	return true
}

// failureClass buckets a turn failure for the verify/repair loop.
type failureClass string

const (
	classTransient   failureClass = "transient_failure"
	classPolicyLimit failureClass = "policy_limit"
	classNonRetryable failureClass = "non_retryable"
)

// classifyFailure matches the verify/repair contract: any failure whose
// message mentions an action limit is a policy_limit and is never retried;
// a security-policy denial that isn't an action-limit message is treated
// the same way (no amount of repairing changes a policy verdict); anything
// else is assumed transient and worth one more attempt.
func classifyFailure(err error) failureClass {
	if err == nil {
		return classTransient
	}
	msg := err.Error()
	if strings.Contains(msg, "action limit") {
		return classPolicyLimit
	}
	if security.IsPolicyDenial(err) {
		return classNonRetryable
	}
	return classTransient
}

// VerifyRepairPolicy bounds the turn retry loop.
type VerifyRepairPolicy struct {
	MaxAttempts    int
	MaxRepairDepth int
}

// DefaultVerifyRepairPolicy matches the runtime's documented defaults.
func DefaultVerifyRepairPolicy() VerifyRepairPolicy {
	return VerifyRepairPolicy{MaxAttempts: 3, MaxRepairDepth: 2}
}

// PersonaPolicy turns on the reflect/writeback pass (step 8).
type PersonaPolicy struct {
	Enabled bool
	// ReflectModel overrides Turn.Model for the reflect call; empty keeps
	// the answer model.
	ReflectModel string
}

// Turn is C6: the main-session per-message turn. It implements
// supervisor.Worker so a Branch can drive it directly.
type Turn struct {
	AnswerProvider  providers.Provider
	ReflectProvider providers.Provider

	Registry          *tools.Registry
	ToolPolicy        *tools.PolicyEngine
	MaxToolIterations int

	// Workspace, Skills, and ContextFiles flow into the tool loop's system
	// prompt when the caller doesn't supply one of its own.
	Workspace    string
	Skills       *skills.Loader
	ContextFiles []bootstrap.ContextFile

	// Tracing, when set, opens a trace per answer call with nested
	// LLM/tool spans.
	Tracing *tracing.Collector

	Policy *security.Policy
	Memory *memory.Store

	Persona      PersonaPolicy
	VerifyRepair VerifyRepairPolicy

	// Autosave controls steps 3/9: appending the user/assistant turn to
	// the belief-slot store and triggering the post-turn consolidation
	// checkpoint. Off by default for callers that manage memory themselves.
	Autosave bool

	Events        bus.EventPublisher
	Consolidation *cron.Store

	PolicyContext memory.PolicyContext
}

// RunTurn implements supervisor.Worker. It wraps runOnce in the
// verify/repair retry loop (spec step sequence + retry contract).
func (t *Turn) RunTurn(ctx context.Context, params supervisor.TurnParams) (supervisor.TurnResult, error) {
	policy := t.VerifyRepair
	if policy.MaxAttempts <= 0 {
		policy = DefaultVerifyRepairPolicy()
	}

	attempts := 0
	repairDepth := 0
	for {
		attempts++
		result, err := t.runOnce(ctx, params)
		if err == nil {
			return result, nil
		}

		class := classifyFailure(err)

		if class != classTransient {
			return t.escalate(ctx, params.EntityID, "non_retryable", attempts, class, err)
		}
		if attempts >= policy.MaxAttempts {
			return t.escalate(ctx, params.EntityID, "max_attempts_reached", attempts, class, err)
		}
		repairDepth++
		if repairDepth > policy.MaxRepairDepth {
			return t.escalate(ctx, params.EntityID, "max_repair_depth_reached", attempts, class, err)
		}
	}
}

func (t *Turn) escalate(ctx context.Context, entityID, reason string, attempts int, class failureClass, cause error) (supervisor.TurnResult, error) {
	note := fmt.Sprintf("turn escalated: reason=%s, attempts=%d, failure_class=%s, cause=%s", reason, attempts, class, cause)

	if t.Memory != nil && entityID != "" {
		if _, err := t.Memory.AppendEvent(memory.MemoryEventInput{
			EntityID:  entityID,
			SlotKey:   VerifyRepairEscalationSlotKey,
			EventType: memory.FactUpdated,
			Value:     note,
			Source:    memory.SourceSystem,
			Privacy:   memory.PrivacyPrivate,
			MemLayer:  memory.LayerWorking,
		}); err != nil {
			slog.Warn("turn: failed to persist verify/repair escalation", "entity", entityID, "error", err)
		}
	}
	if t.Events != nil {
		t.Events.Broadcast(bus.Event{Name: EventVerifyRepairEscalated, Payload: map[string]string{
			"entity_id": entityID, "reason": reason, "failure_class": string(class),
		}})
	}

	return supervisor.TurnResult{}, fmt.Errorf("%s: %w", note, cause)
}

// runOnce performs the ten-step per-turn algorithm once, with no retry of
// its own.
func (t *Turn) runOnce(ctx context.Context, params supervisor.TurnParams) (supervisor.TurnResult, error) {
	entityID := params.EntityID

	if t.Events != nil {
		t.Events.Broadcast(bus.Event{Name: EventIntentCreated, Payload: map[string]string{"entity_id": entityID}})
	}

	budgetLimit := 1
	if t.Persona.Enabled {
		budgetLimit = 2
	}
	accounting := &TurnCallAccounting{BudgetLimit: budgetLimit}

	if !t.PolicyContext.EnforceRecallScope(entityID, entityID) {
		return supervisor.TurnResult{}, fmt.Errorf("turn: entity %q is not in scope for its own recall", entityID)
	}

	if t.Autosave && t.Memory != nil {
		if _, err := t.Memory.AppendEvent(memory.MemoryEventInput{
			EntityID: entityID, SlotKey: "conversation.last_user_message",
			EventType: memory.FactUpdated, Value: params.UserMessage,
			Source: memory.SourceExplicitUser, Privacy: memory.PrivacyPublic, MemLayer: memory.LayerWorking,
		}); err != nil {
			slog.Warn("turn: autosave user message failed", "entity", entityID, "error", err)
		}
	}

	systemPrompt := params.SystemPrompt
	if t.Memory != nil {
		preamble, err := t.recallPreamble(entityID)
		if err != nil {
			slog.Warn("turn: recall failed, continuing without memory preamble", "entity", entityID, "error", err)
		} else if preamble != "" {
			systemPrompt = preamble + "\n\n" + systemPrompt
		}
	}

	if err := t.checkChannelAutonomyCeiling(params.AutonomyCeiling); err != nil {
		if t.Events != nil {
			t.Events.Broadcast(bus.Event{Name: EventIntentPolicyDenied, Payload: map[string]string{
				"entity_id": entityID, "reason": err.Error(),
			}})
		}
		return supervisor.TurnResult{}, err
	}

	if t.Policy != nil {
		if err := t.Policy.ConsumeActionAndCost(entityID, 0); err != nil {
			if t.Events != nil {
				t.Events.Broadcast(bus.Event{Name: EventIntentPolicyDenied, Payload: map[string]string{
					"entity_id": entityID, "reason": err.Error(),
				}})
			}
			return supervisor.TurnResult{}, err
		}
	}

	if !accounting.spend(1) {
		return supervisor.TurnResult{}, fmt.Errorf("turn: answer call would exceed budget of %d", accounting.BudgetLimit)
	}
	accounting.AnswerCalls++

	temperature := params.Temperature
	if t.Policy != nil {
		clamped := t.Policy.ClampTemperature(temperature)
		if clamped != temperature {
			slog.Info("turn: temperature clamped to autonomy band", "entity", entityID, "requested", temperature, "clamped", clamped)
			temperature = clamped
		}
	}

	if t.AnswerProvider == nil {
		return supervisor.TurnResult{}, fmt.Errorf("turn: no answer provider configured")
	}
	responseText, err := t.chatWithTools(ctx, t.AnswerProvider, systemPrompt, params.ConversationHistory, params.UserMessage, params.Model, temperature, params.AllowedTools)
	if err != nil {
		return supervisor.TurnResult{}, err
	}

	if t.Persona.Enabled && t.ReflectProvider != nil {
		if accounting.spend(1) {
			accounting.ReflectCalls++
			t.reflectAndWriteback(ctx, entityID, params, responseText)
		} else {
			slog.Warn("turn: persona reflect skipped, over call budget", "entity", entityID)
		}
	}

	if t.Autosave && t.Memory != nil {
		if _, err := t.Memory.AppendEvent(memory.MemoryEventInput{
			EntityID: entityID, SlotKey: "conversation.last_assistant_message",
			EventType: memory.FactUpdated, Value: ellipsise(responseText, assistantSummaryMaxChars),
			Source: memory.SourceSystem, Privacy: memory.PrivacyPublic, MemLayer: memory.LayerWorking,
		}); err != nil {
			slog.Warn("turn: autosave assistant message failed", "entity", entityID, "error", err)
		}
		t.enqueueConsolidation(entityID)
	}

	return supervisor.TurnResult{FinalText: responseText}, nil
}

func (t *Turn) recallPreamble(entityID string) (string, error) {
	items, err := t.Memory.RecallScoped(memory.RecallQuery{
		EntityID: entityID, Query: "", Limit: 10, PolicyContext: t.PolicyContext,
	})
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString("## Relevant Memory\n")
	for _, item := range items {
		fmt.Fprintf(&b, "- %s: %s\n", item.SlotKey, item.Value)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// reflectAndWriteback asks the reflect provider for a strict-JSON
// StateHeader and only persists it on a clean parse; any failure here
// leaves the already-produced answer untouched, it only gets logged.
func (t *Turn) reflectAndWriteback(ctx context.Context, entityID string, params supervisor.TurnParams, answer string) {
	model := t.Persona.ReflectModel
	if model == "" {
		model = params.Model
	}

	prompt := "Reply with a single JSON object only, no prose, no code fences, matching " +
		`{"current_objective": string, "mood": string, "open_threads": [string]}` +
		". Base it on the exchange that just happened."
	history := append(append([]supervisor.ConversationMessage{}, params.ConversationHistory...),
		supervisor.ConversationMessage{Role: "user", Text: params.UserMessage},
		supervisor.ConversationMessage{Role: "assistant", Text: answer},
	)

	raw, err := t.chatOnce(ctx, t.ReflectProvider, prompt, history, "", model, 0)
	if err != nil {
		slog.Warn("turn: persona reflect call failed", "entity", entityID, "error", err)
		return
	}

	var header StateHeader
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &header); err != nil {
		slog.Warn("turn: persona reflect returned non-JSON, state header not updated", "entity", entityID, "error", err)
		return
	}
	header.UpdatedAt = time.Now().UTC()

	encoded, err := json.Marshal(header)
	if err != nil {
		slog.Warn("turn: failed to encode state header", "entity", entityID, "error", err)
		return
	}

	if t.Memory == nil {
		return
	}
	if _, err := t.Memory.AppendEvent(memory.MemoryEventInput{
		EntityID: entityID, SlotKey: personaStateSlotKey,
		EventType: memory.FactUpdated, Value: string(encoded),
		Source: memory.SourceInferred, Privacy: memory.PrivacyPrivate, MemLayer: memory.LayerLongTerm,
	}); err != nil {
		slog.Warn("turn: failed to persist state header", "entity", entityID, "error", err)
	}
}

// enqueueConsolidation schedules an agent-origin consolidation pass when the
// entity's event count reaches a memory checkpoint (every
// consolidationEvery-th event); other autosaved turns queue nothing. Agent jobs
// only ever run plans, so the pass travels as a single-step plan whose
// tool call recalls the entity's recent slots; the recall itself refreshes
// retrieval-unit recency and surfaces contradictions for the next turn.
func (t *Turn) enqueueConsolidation(entityID string) {
	if t.Consolidation == nil {
		return
	}

	// Event count is the checkpoint signal: only every consolidationEvery
	// events is a pass worth queueing, not every turn.
	if t.Memory != nil {
		count, err := t.Memory.CountEvents(entityID)
		if err != nil {
			slog.Warn("turn: consolidation checkpoint count failed", "entity", entityID, "error", err)
			return
		}
		if count == 0 || count%consolidationEvery != 0 {
			return
		}
	}
	now := time.Now().UTC()

	plan := cron.Plan{
		ID:          fmt.Sprintf("consolidate-%s-%d", entityID, now.UnixNano()),
		Description: "memory consolidation checkpoint",
		Steps: []cron.PlanStep{{
			ID:          "recall",
			Description: "refresh recent memory for " + entityID,
			Action: cron.StepAction{
				Kind:     cron.ActionToolCall,
				ToolName: "memory_recall",
				Args:     map[string]interface{}{"entity_id": entityID, "query": "", "limit": float64(20)},
			},
		}},
	}
	encoded, err := json.Marshal(plan)
	if err != nil {
		slog.Warn("turn: failed to encode consolidation plan", "entity", entityID, "error", err)
		return
	}

	job := cron.Job{
		ID:          fmt.Sprintf("consolidate-%s-%d", entityID, now.UnixNano()),
		Expression:  "* * * * *",
		Command:     "plan:" + string(encoded),
		CreatedAt:   now,
		NextRun:     now,
		JobKind:     "memory_consolidation",
		Origin:      cron.OriginAgent,
		MaxAttempts: 1,
	}
	if err := t.Consolidation.Enqueue(job); err != nil {
		slog.Warn("turn: failed to enqueue memory consolidation", "entity", entityID, "error", err)
	}
}

// checkChannelAutonomyCeiling rejects the turn if the issuing channel's
// autonomy floor, combined with the global policy level, caps out at
// ReadOnly (C8 ChannelPolicy: effective autonomy = min(global, floor)).
func (t *Turn) checkChannelAutonomyCeiling(ceiling *security.AutonomyLevel) error {
	if ceiling == nil || t.Policy == nil {
		return nil
	}
	effective := t.Policy.Level()
	if *ceiling < effective {
		effective = *ceiling
	}
	if effective == security.AutonomyReadOnly {
		return fmt.Errorf("blocked by security policy: channel autonomy floor caps this turn at read_only, no actions permitted")
	}
	return nil
}

// chatWithTools runs the tool loop for one answer call, bounded by
// MaxToolIterations and filtered to allowedTools when non-empty.
func (t *Turn) chatWithTools(ctx context.Context, provider providers.Provider, systemPrompt string, history []supervisor.ConversationMessage, userMessage, model string, temperature float64, allowedTools []string) (string, error) {
	loop := NewLoop(LoopConfig{
		ID:            "main",
		Provider:      provider,
		Model:         model,
		Tools:         t.Registry,
		ToolPolicy:    t.ToolPolicy,
		MaxIterations: t.MaxToolIterations,
		Workspace:      t.Workspace,
		SkillsLoader:   t.Skills,
		HasMemory:      t.Memory != nil,
		ContextFiles:   t.ContextFiles,
		TraceCollector: t.Tracing,
	})

	result, err := loop.Run(ctx, RunRequest{
		SystemPrompt:        systemPrompt,
		Message:             userMessage,
		ConversationHistory: historyToProviderMessages(history),
		Temperature:         temperature,
		AllowedTools:        allowedTools,
	})
	if err != nil {
		return "", err
	}

	switch result.StopReason {
	case StopRateLimited:
		// Propagate the contract string so verify/repair classifies this
		// as a policy limit and never retries.
		return "", fmt.Errorf("turn: tool loop stopped: %s", security.EntityRateLimitSubstring)
	case StopMaxIterations:
		slog.Warn("turn: tool loop hit iteration cap", "iterations", result.Iterations)
	}
	return result.Content, nil
}

// chatOnce is a single non-tool-calling call, used by the reflect pass.
func (t *Turn) chatOnce(ctx context.Context, provider providers.Provider, systemPrompt string, history []supervisor.ConversationMessage, userMessage, model string, temperature float64) (string, error) {
	messages := toProviderMessages(systemPrompt, history, userMessage)
	resp, err := provider.Chat(ctx, providers.ChatRequest{
		Messages: messages, Model: model,
		Options: map[string]interface{}{providers.OptTemperature: temperature},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func toProviderMessages(systemPrompt string, history []supervisor.ConversationMessage, userMessage string) []providers.Message {
	messages := make([]providers.Message, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})
	}
	for _, m := range history {
		messages = append(messages, providers.Message{Role: m.Role, Content: m.Text})
	}
	if userMessage != "" {
		messages = append(messages, providers.Message{Role: "user", Content: userMessage})
	}
	return messages
}

func historyToProviderMessages(history []supervisor.ConversationMessage) []providers.Message {
	if len(history) == 0 {
		return nil
	}
	messages := make([]providers.Message, 0, len(history))
	for _, m := range history {
		messages = append(messages, providers.Message{Role: m.Role, Content: m.Text})
	}
	return messages
}

func ellipsise(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
