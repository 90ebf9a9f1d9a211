// Package typing keeps a channel's typing indicator alive while an agent
// run is in flight. Platforms expire indicators after a few seconds
// (Telegram 5s, Discord 10s), so the controller re-fires StartFn on a
// keepalive interval and auto-stops after MaxDuration as a safety net
// against stuck indicators.
package typing

import (
	"log/slog"
	"sync"
	"time"
)

// Options configures a Controller.
type Options struct {
	// MaxDuration is the TTL after which the indicator stops on its own.
	MaxDuration time.Duration
	// KeepaliveInterval is how often StartFn is re-invoked; must be below
	// the platform's indicator expiry.
	KeepaliveInterval time.Duration
	// StartFn fires the platform's typing action once.
	StartFn func() error
}

// Controller drives one typing indicator. Start is idempotent; Stop is safe
// to call multiple times and after TTL expiry.
type Controller struct {
	opts    Options
	mu      sync.Mutex
	stopCh  chan struct{}
	started bool
	stopped bool
}

// New creates a controller; nothing happens until Start.
func New(opts Options) *Controller {
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 4 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 60 * time.Second
	}
	return &Controller{opts: opts, stopCh: make(chan struct{})}
}

// Start fires the indicator immediately and keeps it alive until Stop or
// the TTL elapses.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	if c.opts.StartFn == nil {
		return
	}
	if err := c.opts.StartFn(); err != nil {
		slog.Debug("typing: initial indicator failed", "error", err)
	}

	go c.keepalive()
}

func (c *Controller) keepalive() {
	ticker := time.NewTicker(c.opts.KeepaliveInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(c.opts.MaxDuration)
	defer deadline.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-deadline.C:
			c.Stop()
			return
		case <-ticker.C:
			if err := c.opts.StartFn(); err != nil {
				slog.Debug("typing: keepalive failed", "error", err)
			}
		}
	}
}

// Stop ends the keepalive loop. The platform indicator expires on its own
// shortly after.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.stopCh)
}
