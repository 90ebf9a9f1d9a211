// Package memory implements the durable, policy-scoped belief-slot store
// (C3): an append-only event log, the belief slots folded from it, and the
// scoped recall/forget/ingest surface the agent loop and scheduler consume.
package memory

import "time"

// EventType classifies a MemoryEvent.
type EventType string

const (
	FactAdded          EventType = "FactAdded"
	FactUpdated        EventType = "FactUpdated"
	FactContradicted   EventType = "FactContradicted"
	SummaryCompacted   EventType = "SummaryCompacted"
	ContradictionMarked EventType = "ContradictionMarked"
)

// Source classifies where a fact came from.
type Source string

const (
	SourceExplicitUser     Source = "ExplicitUser"
	SourceSystem           Source = "System"
	SourceInferred         Source = "Inferred"
	SourceExternalSecondary Source = "ExternalSecondary"
)

// Privacy classifies visibility of a fact.
type Privacy string

const (
	PrivacyPublic    Privacy = "Public"
	PrivacyPrivate   Privacy = "Private"
	PrivacySensitive Privacy = "Sensitive"
)

// Layer classifies which memory tier an event belongs to.
type Layer string

const (
	LayerWorking  Layer = "Working"
	LayerLongTerm Layer = "LongTerm"
)

// MemoryEvent is one immutable, append-only row. Supersession of a prior
// fact is expressed by writing a new event with the same EntityID/SlotKey,
// never by mutating an existing row.
type MemoryEvent struct {
	ID         int64
	EntityID   string
	SlotKey    string
	EventType  EventType
	Value      string
	Source     Source
	Privacy    Privacy
	Confidence float64
	Importance float64
	Provenance string
	OccurredAt time.Time
	MemLayer   Layer
}

// MemoryEventInput is the caller-supplied shape for AppendEvent; ID and
// OccurredAt (when zero) are assigned by the store.
type MemoryEventInput struct {
	EntityID   string
	SlotKey    string
	EventType  EventType
	Value      string
	Source     Source
	Privacy    Privacy
	Confidence float64
	Importance float64
	Provenance string
	OccurredAt time.Time
	MemLayer   Layer
}

// BeliefSlot is the derived, current resolved value for an (entity,
// slot_key) pair.
type BeliefSlot struct {
	EntityID             string
	SlotKey              string
	Value                string
	Confidence           float64
	Source               Source
	Privacy              Privacy
	UpdatedAt            time.Time
	Tombstoned           bool
	ContradictionPenalty float64
}

// SourceKind classifies where a retrieval unit's signal originated.
type SourceKind string

const (
	SourceKindAPI          SourceKind = "Api"
	SourceKindNews         SourceKind = "News"
	SourceKindConversation SourceKind = "Conversation"
	SourceKindManual       SourceKind = "Manual"
)

// SignalTier classifies how much weight a retrieval unit's signal carries.
type SignalTier string

const (
	SignalTierRaw      SignalTier = "raw"
	SignalTierPromoted SignalTier = "promoted"
)

// PromotionStatus tracks a retrieval unit's lifecycle through scoring.
type PromotionStatus string

const (
	PromotionCandidate PromotionStatus = "candidate"
	PromotionPromoted  PromotionStatus = "promoted"
	PromotionDemoted   PromotionStatus = "demoted"
)

// RetrievalUnit carries the scoring metadata recall ranking consumes,
// keyed to the same (entity, slot) pair as a BeliefSlot.
type RetrievalUnit struct {
	EntityID             string
	SlotKey              string
	SourceKind           SourceKind
	SignalTier           SignalTier
	PromotionStatus      PromotionStatus
	ContradictionPenalty float64
	RetentionExpiresAt   *time.Time
}

// PolicyContext scopes what an entity id is allowed to see during recall.
// The zero value only ever grants an entity visibility into its own data.
type PolicyContext struct {
	// VisibleEntities additionally grants visibility into these entity ids,
	// e.g. a tenant-wide view or a shared-household scope.
	VisibleEntities map[string]bool
}

// EnforceRecallScope reports whether requestingEntity may see data scoped
// to targetEntity.
func (p PolicyContext) EnforceRecallScope(requestingEntity, targetEntity string) bool {
	if requestingEntity == targetEntity {
		return true
	}
	return p.VisibleEntities != nil && p.VisibleEntities[targetEntity]
}

// RecallQuery parameterises RecallScoped.
type RecallQuery struct {
	EntityID      string
	Query         string
	Limit         int
	PolicyContext PolicyContext
}

// RecallItem is one scored result from RecallScoped.
type RecallItem struct {
	EntityID string
	SlotKey  string
	Value    string
	Score    float64
}

// ForgetMode selects how ForgetSlot removes a slot.
type ForgetMode string

const (
	ForgetTombstone ForgetMode = "Tombstone"
	ForgetHard      ForgetMode = "Hard"
)

// ForgetOutcome reports the result of a ForgetSlot call.
type ForgetOutcome struct {
	Removed   bool
	Degraded  bool
	Reason    string
}

// SignalEnvelope is the ingestion pipeline's input shape.
type SignalEnvelope struct {
	SourceKind SourceKind
	SourceRef  string
	Content    string
	EntityID   string
	Privacy    Privacy
	Metadata   map[string]string
	Language   string
}

// IngestResult reports whether Ingest accepted a SignalEnvelope.
type IngestResult struct {
	Accepted    bool
	SlotKey     string
	Reason      string
	WaitSeconds float64
}
