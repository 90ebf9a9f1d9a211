package typing

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestStartFiresImmediatelyAndKeepsAlive(t *testing.T) {
	var calls atomic.Int32
	c := New(Options{
		MaxDuration:       time.Second,
		KeepaliveInterval: 10 * time.Millisecond,
		StartFn: func() error {
			calls.Add(1)
			return nil
		},
	})
	c.Start()
	defer c.Stop()

	deadline := time.After(500 * time.Millisecond)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected >=3 keepalive calls, got %d", calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStopHaltsKeepalive(t *testing.T) {
	var calls atomic.Int32
	c := New(Options{
		MaxDuration:       time.Second,
		KeepaliveInterval: 5 * time.Millisecond,
		StartFn: func() error {
			calls.Add(1)
			return nil
		},
	})
	c.Start()
	time.Sleep(20 * time.Millisecond)
	c.Stop()
	at := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != at {
		t.Fatalf("keepalive continued after Stop: %d -> %d", at, calls.Load())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c := New(Options{StartFn: func() error { return nil }})
	c.Start()
	c.Stop()
	c.Stop() // must not panic
}

func TestTTLAutoStops(t *testing.T) {
	var calls atomic.Int32
	c := New(Options{
		MaxDuration:       30 * time.Millisecond,
		KeepaliveInterval: 5 * time.Millisecond,
		StartFn: func() error {
			calls.Add(1)
			return nil
		},
	})
	c.Start()
	time.Sleep(60 * time.Millisecond)
	at := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != at {
		t.Fatalf("keepalive continued past TTL: %d -> %d", at, calls.Load())
	}
}
