package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/asteroniris-dev/asteroniris/internal/memory"
)

const cortexRecallLimit = 10

// BulletinCache holds the most recently rendered cortex bulletin behind an
// atomic pointer so readers never observe a half-written value.
type BulletinCache struct {
	value atomic.Pointer[string]
}

func (c *BulletinCache) Load() string {
	if p := c.value.Load(); p != nil {
		return *p
	}
	return ""
}

func (c *BulletinCache) store(bulletin string) {
	c.value.Store(&bulletin)
}

// GenerateBulletin recalls recent high-signal memory for entityID and
// renders it as a "## Recent Context" bulletin of dashed lines. Returns ""
// when nothing relevant is found.
func GenerateBulletin(ctx context.Context, mem *memory.Store, entityID string) (string, error) {
	_ = ctx
	items, err := mem.RecallScoped(memory.RecallQuery{
		EntityID: entityID, Query: "recent important context", Limit: cortexRecallLimit,
	})
	if err != nil {
		return "", fmt.Errorf("cortex recall: %w", err)
	}
	if len(items) == 0 {
		return "", nil
	}

	var lines []string
	for _, item := range items {
		lines = append(lines, "- "+item.Value)
	}
	return "## Recent Context\n" + strings.Join(lines, "\n"), nil
}

// RunCortexLoop ticks every interval, regenerating the bulletin for
// entityID into cache, until ctx is cancelled.
func RunCortexLoop(ctx context.Context, mem *memory.Store, cache *BulletinCache, entityID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bulletin, err := GenerateBulletin(ctx, mem, entityID)
			if err != nil {
				slog.Warn("supervisor: cortex bulletin generation failed", "error", err)
				continue
			}
			if bulletin != "" {
				cache.store(bulletin)
			}
		}
	}
}
