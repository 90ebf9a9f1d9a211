// Package pg implements SessionStore (internal/store) against a managed
// Postgres instance instead of per-session JSON snapshot files, so multiple
// runtime instances can share session state. No config key selects it:
// SessionsConfig carries only the file store's storage path. The caching shape mirrors
// internal/store/file.FileSessionStore: SessionStore's methods carry no
// context and mostly no error return, so reads/writes land in an in-memory
// cache and only Save round-trips to the database.
package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/asteroniris-dev/asteroniris/internal/providers"
	"github.com/asteroniris-dev/asteroniris/internal/store"
)

// PGSessionStore is an in-memory SessionStore cache backed by a "sessions"
// table, synced to Postgres on Save.
type PGSessionStore struct {
	mu       sync.RWMutex
	pool     *pgxpool.Pool
	sessions map[string]*store.SessionData
}

// Open connects to dsn, applies pending migrations, and returns a ready
// PGSessionStore. Call Close when done to release the pool.
func Open(ctx context.Context, dsn string) (*PGSessionStore, error) {
	if err := runMigrations(dsn); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &PGSessionStore{pool: pool, sessions: make(map[string]*store.SessionData)}, nil
}

func (p *PGSessionStore) Close() {
	p.pool.Close()
}

func (p *PGSessionStore) GetOrCreate(key string) *store.SessionData {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[key]; ok {
		return s
	}
	s := p.loadLocked(key)
	if s == nil {
		now := time.Now().UTC()
		s = &store.SessionData{Key: key, Created: now, Updated: now}
	}
	p.sessions[key] = s
	return s
}

func (p *PGSessionStore) loadLocked(key string) *store.SessionData {
	var (
		s        store.SessionData
		userID   *string
		model    *string
		provider *string
		channel  *string
		summary  *string
		label    *string
		spawnBy  *string
		messages []byte
	)
	row := p.pool.QueryRow(context.Background(), `
		SELECT agent_uuid, user_id, model, provider, channel, summary, label, spawned_by,
		       spawn_depth, input_tokens, output_tokens, compaction_count,
		       memory_flush_compaction_count, memory_flush_at, context_window,
		       last_prompt_tokens, last_message_count, messages, created_at, updated_at
		FROM sessions WHERE key = $1`, key)
	var agentUUID *uuid.UUID
	err := row.Scan(&agentUUID, &userID, &model, &provider, &channel, &summary, &label, &spawnBy,
		&s.SpawnDepth, &s.InputTokens, &s.OutputTokens, &s.CompactionCount,
		&s.MemoryFlushCompactionCount, &s.MemoryFlushAt, &s.ContextWindow,
		&s.LastPromptTokens, &s.LastMessageCount, &messages, &s.Created, &s.Updated)
	if err != nil {
		return nil
	}
	s.Key = key
	if agentUUID != nil {
		s.AgentUUID = *agentUUID
	}
	if userID != nil {
		s.UserID = *userID
	}
	if model != nil {
		s.Model = *model
	}
	if provider != nil {
		s.Provider = *provider
	}
	if channel != nil {
		s.Channel = *channel
	}
	if summary != nil {
		s.Summary = *summary
	}
	if label != nil {
		s.Label = *label
	}
	if spawnBy != nil {
		s.SpawnedBy = *spawnBy
	}
	if len(messages) > 0 {
		_ = json.Unmarshal(messages, &s.Messages)
	}
	return &s
}

func (p *PGSessionStore) AddMessage(key string, msg providers.Message) {
	s := p.GetOrCreate(key)
	p.mu.Lock()
	defer p.mu.Unlock()
	s.Messages = append(s.Messages, msg)
	s.Updated = time.Now().UTC()
}

func (p *PGSessionStore) GetHistory(key string) []providers.Message {
	s := p.GetOrCreate(key)
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]providers.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

func (p *PGSessionStore) GetSummary(key string) string {
	return p.GetOrCreate(key).Summary
}

func (p *PGSessionStore) SetSummary(key, summary string) {
	s := p.GetOrCreate(key)
	p.mu.Lock()
	s.Summary = summary
	p.mu.Unlock()
}

func (p *PGSessionStore) SetLabel(key, label string) {
	s := p.GetOrCreate(key)
	p.mu.Lock()
	s.Label = label
	p.mu.Unlock()
}

func (p *PGSessionStore) SetAgentInfo(key string, agentUUID uuid.UUID, userID string) {
	s := p.GetOrCreate(key)
	p.mu.Lock()
	s.AgentUUID = agentUUID
	s.UserID = userID
	p.mu.Unlock()
}

func (p *PGSessionStore) UpdateMetadata(key, model, provider, channel string) {
	s := p.GetOrCreate(key)
	p.mu.Lock()
	s.Model, s.Provider, s.Channel = model, provider, channel
	p.mu.Unlock()
}

func (p *PGSessionStore) AccumulateTokens(key string, input, output int64) {
	s := p.GetOrCreate(key)
	p.mu.Lock()
	s.InputTokens += input
	s.OutputTokens += output
	p.mu.Unlock()
}

func (p *PGSessionStore) IncrementCompaction(key string) {
	s := p.GetOrCreate(key)
	p.mu.Lock()
	s.CompactionCount++
	p.mu.Unlock()
}

func (p *PGSessionStore) GetCompactionCount(key string) int {
	return p.GetOrCreate(key).CompactionCount
}

func (p *PGSessionStore) GetMemoryFlushCompactionCount(key string) int {
	return p.GetOrCreate(key).MemoryFlushCompactionCount
}

func (p *PGSessionStore) SetMemoryFlushDone(key string) {
	s := p.GetOrCreate(key)
	p.mu.Lock()
	s.MemoryFlushCompactionCount = s.CompactionCount
	s.MemoryFlushAt = time.Now().UTC().Unix()
	p.mu.Unlock()
}

func (p *PGSessionStore) SetSpawnInfo(key, spawnedBy string, depth int) {
	s := p.GetOrCreate(key)
	p.mu.Lock()
	s.SpawnedBy, s.SpawnDepth = spawnedBy, depth
	p.mu.Unlock()
}

func (p *PGSessionStore) SetContextWindow(key string, cw int) {
	s := p.GetOrCreate(key)
	p.mu.Lock()
	s.ContextWindow = cw
	p.mu.Unlock()
}

func (p *PGSessionStore) GetContextWindow(key string) int {
	return p.GetOrCreate(key).ContextWindow
}

func (p *PGSessionStore) SetLastPromptTokens(key string, tokens, msgCount int) {
	s := p.GetOrCreate(key)
	p.mu.Lock()
	s.LastPromptTokens, s.LastMessageCount = tokens, msgCount
	p.mu.Unlock()
}

func (p *PGSessionStore) GetLastPromptTokens(key string) (int, int) {
	s := p.GetOrCreate(key)
	p.mu.RLock()
	defer p.mu.RUnlock()
	return s.LastPromptTokens, s.LastMessageCount
}

func (p *PGSessionStore) TruncateHistory(key string, keepLast int) {
	s := p.GetOrCreate(key)
	p.mu.Lock()
	defer p.mu.Unlock()
	if keepLast <= 0 || len(s.Messages) <= keepLast {
		return
	}
	s.Messages = s.Messages[len(s.Messages)-keepLast:]
}

func (p *PGSessionStore) Reset(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now().UTC()
	p.sessions[key] = &store.SessionData{Key: key, Created: now, Updated: now}
}

func (p *PGSessionStore) Delete(key string) error {
	p.mu.Lock()
	delete(p.sessions, key)
	p.mu.Unlock()
	_, err := p.pool.Exec(context.Background(), `DELETE FROM sessions WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("pg: delete %s: %w", key, err)
	}
	return nil
}

// List queries rows already persisted via Save; a session created this
// process and never saved won't appear until it is. (FileSessionStore.List
// differs: it lists its in-memory sessions, saved or not.)
func (p *PGSessionStore) List(agentID string) []store.SessionInfo {
	ctx := context.Background()
	var rows pgx.Rows
	var err error
	if id, parseErr := uuid.Parse(agentID); parseErr == nil {
		rows, err = p.pool.Query(ctx, `SELECT key, jsonb_array_length(messages), created_at, updated_at
			FROM sessions WHERE agent_uuid = $1 ORDER BY updated_at DESC`, id)
	} else {
		rows, err = p.pool.Query(ctx, `SELECT key, jsonb_array_length(messages), created_at, updated_at
			FROM sessions ORDER BY updated_at DESC`)
	}
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []store.SessionInfo
	for rows.Next() {
		var info store.SessionInfo
		if err := rows.Scan(&info.Key, &info.MessageCount, &info.Created, &info.Updated); err != nil {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Updated.After(out[j].Updated) })
	return out
}

func (p *PGSessionStore) ListPaged(opts store.SessionListOpts) store.SessionListResult {
	all := p.List(opts.AgentID)
	total := len(all)
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return store.SessionListResult{Sessions: all[start:end], Total: total}
}

func (p *PGSessionStore) Save(key string) error {
	p.mu.RLock()
	s, ok := p.sessions[key]
	p.mu.RUnlock()
	if !ok {
		return nil
	}
	messages, err := json.Marshal(s.Messages)
	if err != nil {
		return fmt.Errorf("pg: marshal messages for %s: %w", key, err)
	}

	var agentUUID *uuid.UUID
	if s.AgentUUID != uuid.Nil {
		agentUUID = &s.AgentUUID
	}

	_, err = p.pool.Exec(context.Background(), `
		INSERT INTO sessions (key, agent_uuid, user_id, model, provider, channel, summary, label,
			spawned_by, spawn_depth, input_tokens, output_tokens, compaction_count,
			memory_flush_compaction_count, memory_flush_at, context_window,
			last_prompt_tokens, last_message_count, messages, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		ON CONFLICT (key) DO UPDATE SET
			agent_uuid = EXCLUDED.agent_uuid, user_id = EXCLUDED.user_id, model = EXCLUDED.model,
			provider = EXCLUDED.provider, channel = EXCLUDED.channel, summary = EXCLUDED.summary,
			label = EXCLUDED.label, spawned_by = EXCLUDED.spawned_by, spawn_depth = EXCLUDED.spawn_depth,
			input_tokens = EXCLUDED.input_tokens, output_tokens = EXCLUDED.output_tokens,
			compaction_count = EXCLUDED.compaction_count,
			memory_flush_compaction_count = EXCLUDED.memory_flush_compaction_count,
			memory_flush_at = EXCLUDED.memory_flush_at, context_window = EXCLUDED.context_window,
			last_prompt_tokens = EXCLUDED.last_prompt_tokens, last_message_count = EXCLUDED.last_message_count,
			messages = EXCLUDED.messages, updated_at = EXCLUDED.updated_at`,
		s.Key, agentUUID, nullIfEmpty(s.UserID), nullIfEmpty(s.Model), nullIfEmpty(s.Provider),
		nullIfEmpty(s.Channel), nullIfEmpty(s.Summary), nullIfEmpty(s.Label), nullIfEmpty(s.SpawnedBy),
		s.SpawnDepth, s.InputTokens, s.OutputTokens, s.CompactionCount, s.MemoryFlushCompactionCount,
		s.MemoryFlushAt, s.ContextWindow, s.LastPromptTokens, s.LastMessageCount, messages,
		s.Created, s.Updated)
	if err != nil {
		return fmt.Errorf("pg: save %s: %w", key, err)
	}
	return nil
}

func (p *PGSessionStore) LastUsedChannel(agentID string) (string, string) {
	all := p.List(agentID)
	if len(all) == 0 {
		return "", ""
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.sessions[all[0].Key]; ok {
		return s.Channel, s.Key
	}
	return "", ""
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
