package store

import (
	"context"

	"github.com/google/uuid"
)

// GenNewID returns a fresh random identifier, used for trace/span/plan ids.
func GenNewID() uuid.UUID {
	return uuid.New()
}

type ctxKey int

const (
	ctxKeyAgentID ctxKey = iota
	ctxKeyUserID
	ctxKeyAgentType
	ctxKeySenderID
)

// WithAgentID attaches the running agent's identifier to ctx, so tools and
// middleware can scope file/memory access without threading it explicitly.
func WithAgentID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKeyAgentID, id)
}

func AgentIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxKeyAgentID).(uuid.UUID)
	return id
}

// WithUserID attaches the external user id (e.g. Telegram user id) driving
// this run, used for per-user workspace isolation.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, id)
}

func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyUserID).(string)
	return id
}

// WithAgentType attaches the agent's configured type (e.g. "assistant",
// "cron") for tool-policy routing.
func WithAgentType(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, ctxKeyAgentType, t)
}

func AgentTypeFromContext(ctx context.Context) string {
	t, _ := ctx.Value(ctxKeyAgentType).(string)
	return t
}

// WithSenderID attaches the original message sender id, distinct from
// UserID in group channels where a different member triggered the run.
func WithSenderID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeySenderID, id)
}

func SenderIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeySenderID).(string)
	return id
}
