package tracing

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	ctxKeyTraceID ctxKey = iota
	ctxKeyCollector
	ctxKeyParentSpanID
	ctxKeyAnnounceParentSpanID
	ctxKeyDelegateParentTraceID
)

func WithTraceID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKeyTraceID, id)
}

func TraceIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxKeyTraceID).(uuid.UUID)
	return id
}

func WithCollector(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, ctxKeyCollector, c)
}

func CollectorFromContext(ctx context.Context) *Collector {
	c, _ := ctx.Value(ctxKeyCollector).(*Collector)
	return c
}

func WithParentSpanID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKeyParentSpanID, id)
}

func ParentSpanIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxKeyParentSpanID).(uuid.UUID)
	return id
}

// WithAnnounceParentSpanID marks the root span of an externally-triggered
// "announce" run (cron/webhook) so its agent span nests under the caller's
// root span instead of starting a new top-level one.
func WithAnnounceParentSpanID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKeyAnnounceParentSpanID, id)
}

func AnnounceParentSpanIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxKeyAnnounceParentSpanID).(uuid.UUID)
	return id
}

// WithDelegateParentTraceID links a sub-agent's trace to the trace of the
// run that delegated to it.
func WithDelegateParentTraceID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKeyDelegateParentTraceID, id)
}

func DelegateParentTraceIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxKeyDelegateParentTraceID).(uuid.UUID)
	return id
}
