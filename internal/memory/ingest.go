package memory

import (
	"fmt"
	"sync"
	"time"
)

// minIntervalFor returns the minimum spacing between ingests of the same
// source kind, matching the per-source-kind cadence the ingestion
// pipeline enforces: API/X sources move fast (10s), RSS/News sources are
// slower-moving (30s).
func minIntervalFor(kind SourceKind) time.Duration {
	switch kind {
	case SourceKindNews:
		return 30 * time.Second
	default:
		return 10 * time.Second
	}
}

// ingestTracker is a process-local, in-memory rate limiter keyed by
// (source_kind, source_ref). It is intentionally not persisted: a process
// restart resets the cooldown window, which only ever makes ingestion
// more permissive, never less — an accepted tradeoff rather than an
// oversight.
type ingestTracker struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func newIngestTracker() *ingestTracker {
	return &ingestTracker{lastSeen: make(map[string]time.Time)}
}

func (t *ingestTracker) key(kind SourceKind, ref string) string {
	return string(kind) + "|" + ref
}

// check reports whether a write for (kind, ref) is allowed right now,
// and if not, how long the caller must wait.
func (t *ingestTracker) check(kind SourceKind, ref string, now time.Time) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := t.key(kind, ref)
	last, ok := t.lastSeen[key]
	if !ok {
		t.lastSeen[key] = now
		return true, 0
	}
	minInterval := minIntervalFor(kind)
	elapsed := now.Sub(last)
	if elapsed < minInterval {
		return false, minInterval - elapsed
	}
	t.lastSeen[key] = now
	return true, 0
}

// Ingest accepts a SignalEnvelope as a memory write, subject to the
// per-source-kind rate limiter. The slot key is derived from source kind
// and ref: "external.<kind>.<ref>" follows the dotted-namespace
// convention the belief-slot model uses elsewhere (e.g. profile.email).
func (s *Store) Ingest(env SignalEnvelope) (IngestResult, error) {
	if env.EntityID == "" {
		return IngestResult{Accepted: false, Reason: "entity_id is required"}, nil
	}
	now := time.Now().UTC()
	allowed, wait := s.ingest.check(env.SourceKind, env.SourceRef, now)
	if !allowed {
		return IngestResult{Accepted: false, Reason: "rate_limited", WaitSeconds: wait.Seconds()}, nil
	}

	slotKey := fmt.Sprintf("external.%s.%s", lowerSourceKind(env.SourceKind), env.SourceRef)
	privacy := env.Privacy
	if privacy == "" {
		privacy = PrivacyPublic
	}
	_, err := s.AppendEvent(MemoryEventInput{
		EntityID:   env.EntityID,
		SlotKey:    slotKey,
		EventType:  FactAdded,
		Value:      env.Content,
		Source:     SourceExternalSecondary,
		Privacy:    privacy,
		Confidence: 0.6,
		Importance: 0.4,
		Provenance: env.SourceRef,
		OccurredAt: now,
		MemLayer:   LayerWorking,
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("memory: ingest append: %w", err)
	}
	return IngestResult{Accepted: true, SlotKey: slotKey}, nil
}

func lowerSourceKind(k SourceKind) string {
	switch k {
	case SourceKindAPI:
		return "api"
	case SourceKindNews:
		return "news"
	case SourceKindConversation:
		return "conversation"
	case SourceKindManual:
		return "manual"
	default:
		return "unknown"
	}
}
