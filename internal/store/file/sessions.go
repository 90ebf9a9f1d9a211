// Package file implements SessionStore backed by a JSON snapshot file per
// session key: an in-memory map fronting per-session files, flushed by an
// explicit Save.
package file

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/asteroniris-dev/asteroniris/internal/providers"
	"github.com/asteroniris-dev/asteroniris/internal/store"
)

// FileSessionStore is an in-memory SessionStore that snapshots each session
// to "<dir>/<sanitized-key>.json" on Save.
type FileSessionStore struct {
	mu       sync.RWMutex
	dir      string
	sessions map[string]*store.SessionData
}

// NewFileSessionStore creates a store rooted at dir, creating it if absent.
func NewFileSessionStore(dir string) *FileSessionStore {
	_ = os.MkdirAll(dir, 0755)
	return &FileSessionStore{dir: dir, sessions: make(map[string]*store.SessionData)}
}

func (f *FileSessionStore) pathFor(key string) string {
	return filepath.Join(f.dir, sanitizeKey(key)+".json")
}

func sanitizeKey(key string) string {
	b := make([]rune, 0, len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b = append(b, r)
		default:
			b = append(b, '_')
		}
	}
	return string(b)
}

func (f *FileSessionStore) GetOrCreate(key string) *store.SessionData {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[key]; ok {
		return s
	}
	s := f.loadLocked(key)
	if s == nil {
		now := time.Now().UTC()
		s = &store.SessionData{Key: key, Created: now, Updated: now}
	}
	f.sessions[key] = s
	return s
}

func (f *FileSessionStore) loadLocked(key string) *store.SessionData {
	data, err := os.ReadFile(f.pathFor(key))
	if err != nil {
		return nil
	}
	var s store.SessionData
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	return &s
}

func (f *FileSessionStore) AddMessage(key string, msg providers.Message) {
	s := f.GetOrCreate(key)
	f.mu.Lock()
	defer f.mu.Unlock()
	s.Messages = append(s.Messages, msg)
	s.Updated = time.Now().UTC()
}

func (f *FileSessionStore) GetHistory(key string) []providers.Message {
	s := f.GetOrCreate(key)
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]providers.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

func (f *FileSessionStore) GetSummary(key string) string {
	return f.GetOrCreate(key).Summary
}

func (f *FileSessionStore) SetSummary(key, summary string) {
	s := f.GetOrCreate(key)
	f.mu.Lock()
	s.Summary = summary
	f.mu.Unlock()
}

func (f *FileSessionStore) SetLabel(key, label string) {
	s := f.GetOrCreate(key)
	f.mu.Lock()
	s.Label = label
	f.mu.Unlock()
}

// SetAgentInfo records the agent UUID and user id on the session; they are
// written out with the session on the next Save.
func (f *FileSessionStore) SetAgentInfo(key string, agentUUID uuid.UUID, userID string) {
	s := f.GetOrCreate(key)
	f.mu.Lock()
	s.AgentUUID = agentUUID
	s.UserID = userID
	f.mu.Unlock()
}

func (f *FileSessionStore) UpdateMetadata(key, model, provider, channel string) {
	s := f.GetOrCreate(key)
	f.mu.Lock()
	s.Model, s.Provider, s.Channel = model, provider, channel
	f.mu.Unlock()
}

func (f *FileSessionStore) AccumulateTokens(key string, input, output int64) {
	s := f.GetOrCreate(key)
	f.mu.Lock()
	s.InputTokens += input
	s.OutputTokens += output
	f.mu.Unlock()
}

func (f *FileSessionStore) IncrementCompaction(key string) {
	s := f.GetOrCreate(key)
	f.mu.Lock()
	s.CompactionCount++
	f.mu.Unlock()
}

func (f *FileSessionStore) GetCompactionCount(key string) int {
	return f.GetOrCreate(key).CompactionCount
}

func (f *FileSessionStore) GetMemoryFlushCompactionCount(key string) int {
	return f.GetOrCreate(key).MemoryFlushCompactionCount
}

func (f *FileSessionStore) SetMemoryFlushDone(key string) {
	s := f.GetOrCreate(key)
	f.mu.Lock()
	s.MemoryFlushCompactionCount = s.CompactionCount
	s.MemoryFlushAt = time.Now().UTC().Unix()
	f.mu.Unlock()
}

func (f *FileSessionStore) SetSpawnInfo(key, spawnedBy string, depth int) {
	s := f.GetOrCreate(key)
	f.mu.Lock()
	s.SpawnedBy, s.SpawnDepth = spawnedBy, depth
	f.mu.Unlock()
}

func (f *FileSessionStore) SetContextWindow(key string, cw int) {
	s := f.GetOrCreate(key)
	f.mu.Lock()
	s.ContextWindow = cw
	f.mu.Unlock()
}

func (f *FileSessionStore) GetContextWindow(key string) int {
	return f.GetOrCreate(key).ContextWindow
}

func (f *FileSessionStore) SetLastPromptTokens(key string, tokens, msgCount int) {
	s := f.GetOrCreate(key)
	f.mu.Lock()
	s.LastPromptTokens, s.LastMessageCount = tokens, msgCount
	f.mu.Unlock()
}

func (f *FileSessionStore) GetLastPromptTokens(key string) (int, int) {
	s := f.GetOrCreate(key)
	f.mu.RLock()
	defer f.mu.RUnlock()
	return s.LastPromptTokens, s.LastMessageCount
}

func (f *FileSessionStore) TruncateHistory(key string, keepLast int) {
	s := f.GetOrCreate(key)
	f.mu.Lock()
	defer f.mu.Unlock()
	if keepLast <= 0 || len(s.Messages) <= keepLast {
		return
	}
	s.Messages = s.Messages[len(s.Messages)-keepLast:]
}

func (f *FileSessionStore) Reset(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	f.sessions[key] = &store.SessionData{Key: key, Created: now, Updated: now}
}

func (f *FileSessionStore) Delete(key string) error {
	f.mu.Lock()
	delete(f.sessions, key)
	f.mu.Unlock()
	err := os.Remove(f.pathFor(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *FileSessionStore) List(agentID string) []store.SessionInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]store.SessionInfo, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, store.SessionInfo{Key: s.Key, MessageCount: len(s.Messages), Created: s.Created, Updated: s.Updated})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Updated.After(out[j].Updated) })
	return out
}

func (f *FileSessionStore) ListPaged(opts store.SessionListOpts) store.SessionListResult {
	all := f.List(opts.AgentID)
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

func (f *FileSessionStore) Save(key string) error {
	f.mu.RLock()
	s, ok := f.sessions[key]
	f.mu.RUnlock()
	if !ok {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(f.pathFor(key), data, 0600)
}

func (f *FileSessionStore) LastUsedChannel(agentID string) (string, string) {
	all := f.List(agentID)
	if len(all) == 0 {
		return "", ""
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if s, ok := f.sessions[all[0].Key]; ok {
		return s.Channel, s.Key
	}
	return "", ""
}
