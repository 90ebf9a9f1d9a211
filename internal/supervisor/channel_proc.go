package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/asteroniris-dev/asteroniris/internal/bus"
	"github.com/asteroniris-dev/asteroniris/internal/security"
)

const (
	EventBranchCreated         = "branch_created"
	EventBranchClosed          = "branch_closed"
	EventCortexBulletinUpdated = "cortex_bulletin_updated"
)

// Worker runs one conversational turn for a branch: system prompt + user
// message + running history in, reply text out. internal/agent's turn
// wrapper (C6) implements this.
type Worker interface {
	RunTurn(ctx context.Context, params TurnParams) (TurnResult, error)
}

// TurnParams is everything a Worker needs to answer one message.
type TurnParams struct {
	EntityID           string
	SystemPrompt       string
	UserMessage        string
	Model              string
	Temperature        float64
	ConversationHistory []ConversationMessage

	// AutonomyCeiling is the issuing channel's autonomy floor (nil = no
	// ceiling beyond the global policy). A Worker combines this with the
	// global autonomy level by taking the stricter of the two.
	AutonomyCeiling *security.AutonomyLevel
	// AllowedTools restricts which tools the turn may call; empty means
	// unrestricted.
	AllowedTools []string
}

// ConversationMessage is one turn of rolling branch history.
type ConversationMessage struct {
	Role string // "user" or "assistant"
	Text string
}

// TurnResult is a Worker's answer plus whatever the caller needs to append
// to branch history.
type TurnResult struct {
	FinalText string
}

// ChannelProcess routes incoming messages to per-entity Branches, creating
// one on first contact.
type ChannelProcess struct {
	mu                sync.Mutex
	branches          map[string]*Branch
	worker            Worker
	events            bus.EventPublisher
	systemPrompt      string
	defaultModel      string
	defaultTemperature float64
	policy            ChannelPolicy
}

func NewChannelProcess(worker Worker, events bus.EventPublisher, systemPrompt, defaultModel string, defaultTemperature float64) *ChannelProcess {
	return &ChannelProcess{
		branches: make(map[string]*Branch), worker: worker, events: events,
		systemPrompt: systemPrompt, defaultModel: defaultModel, defaultTemperature: defaultTemperature,
	}
}

// WithChannelPolicy attaches the channel's autonomy floor and tool
// allowlist (C8 ChannelPolicy); every subsequent turn on this process
// carries it.
func (p *ChannelProcess) WithChannelPolicy(policy ChannelPolicy) *ChannelProcess {
	p.policy = policy
	return p
}

// HandleMessage routes message to entityID's branch, creating it if this is
// the first message from that entity.
func (p *ChannelProcess) HandleMessage(ctx context.Context, entityID, message string) (TurnResult, error) {
	p.mu.Lock()
	branch, ok := p.branches[entityID]
	if !ok {
		branch = NewBranch(entityID, p.worker)
		p.branches[entityID] = branch
		if p.events != nil {
			p.events.Broadcast(bus.Event{Name: EventBranchCreated, Payload: map[string]string{"entity_id": entityID}})
		}
	}
	p.mu.Unlock()

	return branch.ProcessMessage(ctx, message, p.systemPrompt, p.defaultModel, p.defaultTemperature, p.policy)
}

// CloseBranch removes entityID's branch, reporting whether it existed.
func (p *ChannelProcess) CloseBranch(entityID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.branches[entityID]; !ok {
		return false
	}
	delete(p.branches, entityID)
	if p.events != nil {
		p.events.Broadcast(bus.Event{Name: EventBranchClosed, Payload: map[string]string{"entity_id": entityID}})
	}
	return true
}

// ActiveEntities returns the entity ids with a live branch.
func (p *ChannelProcess) ActiveEntities() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	entities := make([]string, 0, len(p.branches))
	for id := range p.branches {
		entities = append(entities, id)
	}
	return entities
}

func (p *ChannelProcess) BranchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.branches)
}

// Branch returns the branch for entityID for inspection (history length,
// turn count), or an error if none exists.
func (p *ChannelProcess) Branch(entityID string) (*Branch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	branch, ok := p.branches[entityID]
	if !ok {
		return nil, fmt.Errorf("supervisor: no branch for entity %q", entityID)
	}
	return branch, nil
}
