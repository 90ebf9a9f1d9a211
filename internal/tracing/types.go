// Package tracing records LLM/tool/agent call spans for the tool loop (C5)
// and the turn wrapper (C6), exporting them through OpenTelemetry while also
// keeping a small in-process ring buffer that `doctor` and verbose CLI runs
// can inspect without a collector attached.
package tracing

import (
	"time"

	"github.com/google/uuid"
)

// TraceStatus is the lifecycle state of a root trace.
type TraceStatus string

const (
	TraceStatusRunning   TraceStatus = "running"
	TraceStatusCompleted TraceStatus = "completed"
	TraceStatusError     TraceStatus = "error"
	TraceStatusCancelled TraceStatus = "cancelled"
)

// SpanType classifies what a span recorded.
type SpanType string

const (
	SpanTypeAgent    SpanType = "agent"
	SpanTypeLLMCall  SpanType = "llm_call"
	SpanTypeToolCall SpanType = "tool_call"
)

// SpanStatus is the terminal state of a span.
type SpanStatus string

const (
	SpanStatusCompleted SpanStatus = "completed"
	SpanStatusError     SpanStatus = "error"
)

// SpanLevel mirrors the severity levels used by LLM observability dashboards.
type SpanLevel string

const (
	SpanLevelDefault SpanLevel = "DEFAULT"
	SpanLevelWarning SpanLevel = "WARNING"
	SpanLevelError   SpanLevel = "ERROR"
)

// TraceData is the root record for one agent run.
type TraceData struct {
	ID            uuid.UUID
	RunID         string
	SessionKey    string
	UserID        string
	Channel       string
	Name          string
	InputPreview  string
	OutputPreview string
	Status        TraceStatus
	Error         string
	StartTime     time.Time
	EndTime       *time.Time
	CreatedAt     time.Time
	Tags          []string
	AgentID       *uuid.UUID
	ParentTraceID *uuid.UUID
}

// SpanData is a single LLM call, tool call, or agent span within a trace.
type SpanData struct {
	ID           uuid.UUID
	TraceID      uuid.UUID
	ParentSpanID *uuid.UUID
	AgentID      *uuid.UUID

	SpanType SpanType
	Name     string

	StartTime  time.Time
	EndTime    *time.Time
	DurationMS int
	CreatedAt  time.Time

	Model    string
	Provider string

	ToolName   string
	ToolCallID string

	InputPreview  string
	OutputPreview string
	FinishReason  string

	InputTokens  int
	OutputTokens int
	Metadata     []byte

	Status SpanStatus
	Level  SpanLevel
	Error  string
}
