package memory

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/asteroniris-dev/asteroniris/internal/schema"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the C3 memory store: an append-only event log, the belief
// slots folded from it, and the retrieval-unit scoring metadata recall
// ranking consumes. Backed by a single SQLite file, matching the
// modernc.org/sqlite driver (no CGo).
type Store struct {
	db     *sql.DB
	ingest *ingestTracker
}

// Open opens (creating if absent) the SQLite-backed memory store at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("memory: create dir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers from multiple connections
	if err := schema.Apply(db, migrationsFS, "migrations", "memory"); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, ingest: newIngestTracker()}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendEvent inserts an immutable event row and atomically folds it into
// the entity/slot's belief slot and retrieval-unit metadata.
func (s *Store) AppendEvent(in MemoryEventInput) (MemoryEvent, error) {
	if in.EntityID == "" || in.SlotKey == "" {
		return MemoryEvent{}, fmt.Errorf("memory: entity_id and slot_key are required")
	}
	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return MemoryEvent{}, fmt.Errorf("memory: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO memory_events (entity_id, slot_key, event_type, value, source, privacy, confidence, importance, provenance, occurred_at, mem_layer)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.EntityID, in.SlotKey, string(in.EventType), in.Value, string(in.Source), string(in.Privacy),
		in.Confidence, in.Importance, in.Provenance, occurredAt.Unix(), string(in.MemLayer),
	)
	if err != nil {
		return MemoryEvent{}, fmt.Errorf("memory: insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return MemoryEvent{}, fmt.Errorf("memory: read inserted id: %w", err)
	}

	penalty := 0.0
	if in.EventType == ContradictionMarked {
		row := tx.QueryRow(`SELECT contradiction_penalty FROM belief_slots WHERE entity_id = ? AND slot_key = ?`, in.EntityID, in.SlotKey)
		_ = row.Scan(&penalty)
		penalty += 0.25
	}

	tombstoned := 0
	if _, err := tx.Exec(
		`INSERT INTO belief_slots (entity_id, slot_key, value, confidence, source, privacy, updated_at, tombstoned, contradiction_penalty)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(entity_id, slot_key) DO UPDATE SET
		   value = excluded.value,
		   confidence = excluded.confidence,
		   source = excluded.source,
		   privacy = excluded.privacy,
		   updated_at = excluded.updated_at,
		   tombstoned = ?,
		   contradiction_penalty = excluded.contradiction_penalty`,
		in.EntityID, in.SlotKey, in.Value, in.Confidence, string(in.Source), string(in.Privacy), occurredAt.Unix(), tombstoned, penalty, tombstoned,
	); err != nil {
		return MemoryEvent{}, fmt.Errorf("memory: upsert belief slot: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO retrieval_units (entity_id, slot_key, source_kind, signal_tier, promotion_status, contradiction_penalty)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(entity_id, slot_key) DO UPDATE SET contradiction_penalty = excluded.contradiction_penalty`,
		in.EntityID, in.SlotKey, string(SourceKindManual), string(SignalTierRaw), string(PromotionCandidate), penalty,
	); err != nil {
		return MemoryEvent{}, fmt.Errorf("memory: upsert retrieval unit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return MemoryEvent{}, fmt.Errorf("memory: commit: %w", err)
	}

	return MemoryEvent{
		ID: id, EntityID: in.EntityID, SlotKey: in.SlotKey, EventType: in.EventType, Value: in.Value,
		Source: in.Source, Privacy: in.Privacy, Confidence: in.Confidence, Importance: in.Importance,
		Provenance: in.Provenance, OccurredAt: occurredAt, MemLayer: in.MemLayer,
	}, nil
}

// ResolveSlot returns the current resolved value for (entityID, slotKey),
// or nil if there is none or it has been tombstoned/hard-deleted.
func (s *Store) ResolveSlot(entityID, slotKey string) (*BeliefSlot, error) {
	row := s.db.QueryRow(
		`SELECT value, confidence, source, privacy, updated_at, tombstoned, contradiction_penalty
		 FROM belief_slots WHERE entity_id = ? AND slot_key = ?`,
		entityID, slotKey,
	)
	var (
		value, source, privacy string
		confidence, penalty    float64
		updatedAtUnix          int64
		tombstoned             int
	)
	if err := row.Scan(&value, &confidence, &source, &privacy, &updatedAtUnix, &tombstoned, &penalty); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: resolve slot: %w", err)
	}
	if tombstoned != 0 {
		return nil, nil
	}
	return &BeliefSlot{
		EntityID: entityID, SlotKey: slotKey, Value: value, Confidence: confidence,
		Source: Source(source), Privacy: Privacy(privacy), UpdatedAt: time.Unix(updatedAtUnix, 0).UTC(),
		ContradictionPenalty: penalty,
	}, nil
}

// RecallScoped returns belief slots visible to q.EntityID under
// q.PolicyContext, ranked by a score combining lexical match, importance
// proxy (confidence), recency, and contradiction penalty.
func (s *Store) RecallScoped(q RecallQuery) ([]RecallItem, error) {
	visible := []string{q.EntityID}
	for entity, ok := range q.PolicyContext.VisibleEntities {
		if ok {
			visible = append(visible, entity)
		}
	}

	placeholders := make([]string, len(visible))
	args := make([]interface{}, len(visible))
	for i, e := range visible {
		placeholders[i] = "?"
		args[i] = e
	}
	query := fmt.Sprintf(
		`SELECT entity_id, slot_key, value, confidence, updated_at, contradiction_penalty
		 FROM belief_slots WHERE tombstoned = 0 AND entity_id IN (%s)`,
		strings.Join(placeholders, ","),
	)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: recall query: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	needle := strings.ToLower(q.Query)
	var items []RecallItem
	for rows.Next() {
		var (
			entityID, slotKey, value string
			confidence, penalty      float64
			updatedAtUnix            int64
		)
		if err := rows.Scan(&entityID, &slotKey, &value, &confidence, &updatedAtUnix, &penalty); err != nil {
			return nil, fmt.Errorf("memory: scan recall row: %w", err)
		}
		if !q.PolicyContext.EnforceRecallScope(q.EntityID, entityID) {
			continue
		}
		lexical := 0.0
		if needle != "" && strings.Contains(strings.ToLower(value)+" "+strings.ToLower(slotKey), needle) {
			lexical = 1.0
		} else if needle != "" {
			continue
		}
		ageDays := now.Sub(time.Unix(updatedAtUnix, 0)).Hours() / 24
		recency := 1.0 / (1.0 + ageDays)
		score := lexical + 0.5*confidence + 0.3*recency - penalty
		items = append(items, RecallItem{EntityID: entityID, SlotKey: slotKey, Value: value, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items, nil
}

// ForgetSlot removes an (entityID, slotKey) belief slot. Tombstone hides
// the slot from resolution/recall but leaves event history intact; Hard
// additionally deletes the event rows, the slot and its retrieval-unit
// metadata. Both modes write a forget_audit record.
func (s *Store) ForgetSlot(entityID, slotKey string, mode ForgetMode, reason string) (ForgetOutcome, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return ForgetOutcome{}, fmt.Errorf("memory: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE belief_slots SET tombstoned = 1 WHERE entity_id = ? AND slot_key = ?`, entityID, slotKey)
	if err != nil {
		return ForgetOutcome{}, fmt.Errorf("memory: tombstone slot: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ForgetOutcome{Removed: false, Reason: "slot not found"}, nil
	}

	degraded := false
	if mode == ForgetHard {
		if _, err := tx.Exec(`DELETE FROM memory_events WHERE entity_id = ? AND slot_key = ?`, entityID, slotKey); err != nil {
			return ForgetOutcome{}, fmt.Errorf("memory: delete events: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM belief_slots WHERE entity_id = ? AND slot_key = ?`, entityID, slotKey); err != nil {
			return ForgetOutcome{}, fmt.Errorf("memory: delete slot: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM retrieval_units WHERE entity_id = ? AND slot_key = ?`, entityID, slotKey); err != nil {
			// retrieval-unit cache purge failing is non-fatal: the slot
			// and its events are already gone, only scoring metadata
			// lingers, so report degraded rather than failing the call.
			degraded = true
			slog.Warn("memory: retrieval unit purge failed during hard forget", "entity", entityID, "slot", slotKey, "err", err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO forget_audit (entity_id, slot_key, mode, reason, degraded, removed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entityID, slotKey, string(mode), reason, boolToInt(degraded), time.Now().UTC().Unix(),
	); err != nil {
		return ForgetOutcome{}, fmt.Errorf("memory: write forget audit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ForgetOutcome{}, fmt.Errorf("memory: commit: %w", err)
	}
	return ForgetOutcome{Removed: true, Degraded: degraded, Reason: reason}, nil
}

// ListEntitySlots returns every non-tombstoned belief slot owned by
// entityID, used by the memory_governance inspect/export operations (a
// DSAR scoped to a single entity never needs cross-entity visibility, so
// this bypasses RecallScoped's PolicyContext machinery).
func (s *Store) ListEntitySlots(entityID string) ([]BeliefSlot, error) {
	rows, err := s.db.Query(
		`SELECT slot_key, value, confidence, source, privacy, updated_at, contradiction_penalty
		 FROM belief_slots WHERE entity_id = ? AND tombstoned = 0 ORDER BY slot_key`,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: list entity slots: %w", err)
	}
	defer rows.Close()

	var slots []BeliefSlot
	for rows.Next() {
		var (
			slotKey, value, source, privacy string
			confidence, penalty             float64
			updatedAtUnix                   int64
		)
		if err := rows.Scan(&slotKey, &value, &confidence, &source, &privacy, &updatedAtUnix, &penalty); err != nil {
			return nil, fmt.Errorf("memory: scan entity slot: %w", err)
		}
		slots = append(slots, BeliefSlot{
			EntityID: entityID, SlotKey: slotKey, Value: value, Confidence: confidence,
			Source: Source(source), Privacy: Privacy(privacy), UpdatedAt: time.Unix(updatedAtUnix, 0).UTC(),
			ContradictionPenalty: penalty,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}

// RecordGovernanceAction appends an entry to the append-only governance
// audit log backing memory_governance's DSAR accountability requirement.
func (s *Store) RecordGovernanceAction(entityID, action, actor, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO governance_audit (entity_id, action, actor, detail, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		entityID, action, actor, detail, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("memory: write governance audit: %w", err)
	}
	return nil
}

// CountEvents returns the number of events, optionally scoped to a single
// entity, used as a checkpoint signal for consolidation scheduling.
func (s *Store) CountEvents(entityID string) (int, error) {
	var count int
	var err error
	if entityID == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM memory_events`).Scan(&count)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM memory_events WHERE entity_id = ?`, entityID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("memory: count events: %w", err)
	}
	return count, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
