package supervisor

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/asteroniris-dev/asteroniris/internal/memory"
)

func newTestMemory(t *testing.T) *memory.Store {
	t.Helper()
	mem, err := memory.Open(filepath.Join(t.TempDir(), "brain.db"))
	if err != nil {
		t.Fatalf("memory.Open: %v", err)
	}
	t.Cleanup(func() { mem.Close() })
	return mem
}

func TestGenerateBulletinEmptyWhenNoMemories(t *testing.T) {
	mem := newTestMemory(t)
	bulletin, err := GenerateBulletin(context.Background(), mem, "system")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bulletin != "" {
		t.Fatalf("expected empty bulletin, got %q", bulletin)
	}
}

func TestGenerateBulletinRendersRecentItems(t *testing.T) {
	mem := newTestMemory(t)
	_, err := mem.AppendEvent(memory.MemoryEventInput{
		EntityID: "system", SlotKey: "recent important context", EventType: memory.SummaryCompacted, Value: "server restarted",
	})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}

	bulletin, err := GenerateBulletin(context.Background(), mem, "system")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(bulletin, "## Recent Context\n") {
		t.Fatalf("got %q", bulletin)
	}
	if !strings.Contains(bulletin, "server restarted") {
		t.Fatalf("got %q", bulletin)
	}
}

func TestBulletinCacheLoadDefaultsEmpty(t *testing.T) {
	cache := &BulletinCache{}
	if cache.Load() != "" {
		t.Fatalf("expected empty default")
	}
}

func TestRunCortexLoopPopulatesCacheAndExitsOnCancel(t *testing.T) {
	mem := newTestMemory(t)
	_, err := mem.AppendEvent(memory.MemoryEventInput{
		EntityID: "system", SlotKey: "recent important context", EventType: memory.SummaryCompacted, Value: "loop tick",
	})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}

	cache := &BulletinCache{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunCortexLoop(ctx, mem, cache, "system", 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for cache.Load() == "" {
		select {
		case <-deadline:
			t.Fatalf("bulletin was never populated")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("RunCortexLoop did not exit after cancel")
	}
}
