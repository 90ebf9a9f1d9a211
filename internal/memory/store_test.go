package memory

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "brain.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndResolveSlot(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AppendEvent(MemoryEventInput{
		EntityID: "user-1", SlotKey: "profile.email", EventType: FactAdded,
		Value: "a@example.com", Source: SourceExplicitUser, Privacy: PrivacyPrivate,
		Confidence: 0.9, Importance: 0.5,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	slot, err := s.ResolveSlot("user-1", "profile.email")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if slot == nil || slot.Value != "a@example.com" {
		t.Fatalf("got %+v, want resolved a@example.com", slot)
	}
}

func TestResolveSlotMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	slot, err := s.ResolveSlot("user-1", "profile.email")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if slot != nil {
		t.Fatalf("expected nil for unknown slot, got %+v", slot)
	}
}

func TestLatestEventWins(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AppendEvent(MemoryEventInput{EntityID: "u1", SlotKey: "profile.name", EventType: FactAdded, Value: "Alice", Source: SourceExplicitUser, Privacy: PrivacyPublic, Confidence: 0.8}); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if _, err := s.AppendEvent(MemoryEventInput{EntityID: "u1", SlotKey: "profile.name", EventType: FactUpdated, Value: "Alicia", Source: SourceExplicitUser, Privacy: PrivacyPublic, Confidence: 0.9}); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	slot, err := s.ResolveSlot("u1", "profile.name")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if slot.Value != "Alicia" {
		t.Fatalf("got %q, want latest write Alicia", slot.Value)
	}
}

func TestForgetSlotTombstoneHidesButKeepsEvents(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AppendEvent(MemoryEventInput{EntityID: "u1", SlotKey: "profile.city", EventType: FactAdded, Value: "Berlin", Source: SourceExplicitUser, Privacy: PrivacyPublic}); err != nil {
		t.Fatalf("append: %v", err)
	}
	outcome, err := s.ForgetSlot("u1", "profile.city", ForgetTombstone, "user requested deletion")
	if err != nil {
		t.Fatalf("forget: %v", err)
	}
	if !outcome.Removed {
		t.Fatalf("expected tombstone to report removed")
	}
	slot, err := s.ResolveSlot("u1", "profile.city")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if slot != nil {
		t.Fatalf("expected tombstoned slot to resolve to nil, got %+v", slot)
	}
	count, err := s.CountEvents("u1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected tombstone to preserve event history, got count=%d", count)
	}
}

func TestForgetSlotHardDeletesEvents(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AppendEvent(MemoryEventInput{EntityID: "u1", SlotKey: "profile.city", EventType: FactAdded, Value: "Berlin", Source: SourceExplicitUser, Privacy: PrivacyPublic}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.ForgetSlot("u1", "profile.city", ForgetHard, "gdpr erasure"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	count, err := s.CountEvents("u1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected hard forget to remove events, got count=%d", count)
	}
}

func TestRecallScopedEnforcesEntityIsolation(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AppendEvent(MemoryEventInput{EntityID: "u1", SlotKey: "profile.note", EventType: FactAdded, Value: "likes coffee", Source: SourceExplicitUser, Privacy: PrivacyPublic, Confidence: 0.7}); err != nil {
		t.Fatalf("append u1: %v", err)
	}
	if _, err := s.AppendEvent(MemoryEventInput{EntityID: "u2", SlotKey: "profile.note", EventType: FactAdded, Value: "likes tea", Source: SourceExplicitUser, Privacy: PrivacyPublic, Confidence: 0.7}); err != nil {
		t.Fatalf("append u2: %v", err)
	}

	items, err := s.RecallScoped(RecallQuery{EntityID: "u1", Limit: 10})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	for _, item := range items {
		if item.EntityID != "u1" {
			t.Fatalf("expected only u1's data, leaked %+v", item)
		}
	}
	if len(items) != 1 {
		t.Fatalf("expected exactly 1 item for u1, got %d", len(items))
	}
}

func TestIngestRateLimitsSameSourceRef(t *testing.T) {
	s := newTestStore(t)
	result, err := s.Ingest(SignalEnvelope{SourceKind: SourceKindAPI, SourceRef: "feed-1", Content: "first", EntityID: "system"})
	if err != nil {
		t.Fatalf("ingest 1: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("expected first ingest to be accepted")
	}

	result2, err := s.Ingest(SignalEnvelope{SourceKind: SourceKindAPI, SourceRef: "feed-1", Content: "second", EntityID: "system"})
	if err != nil {
		t.Fatalf("ingest 2: %v", err)
	}
	if result2.Accepted {
		t.Fatalf("expected rapid re-ingest of the same source_ref to be rate limited")
	}
	if result2.Reason != "rate_limited" {
		t.Fatalf("got reason %q, want rate_limited", result2.Reason)
	}
}

func TestCountEventsGlobalAndScoped(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AppendEvent(MemoryEventInput{EntityID: "u1", SlotKey: "k", EventType: FactAdded, Value: "v", Source: SourceSystem, Privacy: PrivacyPublic}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.AppendEvent(MemoryEventInput{EntityID: "u2", SlotKey: "k", EventType: FactAdded, Value: "v", Source: SourceSystem, Privacy: PrivacyPublic}); err != nil {
		t.Fatalf("append: %v", err)
	}
	total, err := s.CountEvents("")
	if err != nil || total != 2 {
		t.Fatalf("got total=%d err=%v, want 2", total, err)
	}
	scoped, err := s.CountEvents("u1")
	if err != nil || scoped != 1 {
		t.Fatalf("got scoped=%d err=%v, want 1", scoped, err)
	}
}
