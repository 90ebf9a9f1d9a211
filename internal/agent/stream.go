package agent

import (
	"strings"

	"github.com/asteroniris-dev/asteroniris/internal/providers"
)

// StreamEventKind enumerates the events a streaming provider call produces.
type StreamEventKind string

const (
	StreamResponseStart    StreamEventKind = "response_start"
	StreamTextDelta        StreamEventKind = "text_delta"
	StreamThinkingDelta    StreamEventKind = "thinking_delta"
	StreamToolCallDelta    StreamEventKind = "tool_call_delta"
	StreamToolCallComplete StreamEventKind = "tool_call_complete"
	StreamDone             StreamEventKind = "done"
)

// StreamEvent is one unit of streaming output. TextDelta/ThinkingDelta carry
// Text; ToolCallDelta carries the partial argument JSON for ToolCallID;
// ToolCallComplete carries the fully-assembled ToolCall; Done carries the
// final usage when the provider reported one.
type StreamEvent struct {
	Kind       StreamEventKind
	Text       string
	ToolCallID string
	ToolName   string
	ArgsDelta  string
	ToolCall   *providers.ToolCall
	Usage      *providers.Usage
	StopReason string
}

// StreamSink receives stream events in provider order. OnEvent must not
// block for long; it runs on the provider read path.
type StreamSink interface {
	OnEvent(event StreamEvent)
}

// StreamSinkFunc adapts a function to StreamSink.
type StreamSinkFunc func(event StreamEvent)

func (f StreamSinkFunc) OnEvent(event StreamEvent) { f(event) }

// StreamCollector folds stream events into the same ChatResponse shape a
// non-streaming call returns, so the tool loop handles both paths
// identically. It is a pure accumulator: feed events in order, then read
// Response.
type StreamCollector struct {
	text      strings.Builder
	thinking  strings.Builder
	toolCalls []providers.ToolCall
	usage     *providers.Usage
	stop      string
	started   bool
}

// Fold applies one event.
func (c *StreamCollector) Fold(event StreamEvent) {
	switch event.Kind {
	case StreamResponseStart:
		c.started = true
	case StreamTextDelta:
		c.text.WriteString(event.Text)
	case StreamThinkingDelta:
		c.thinking.WriteString(event.Text)
	case StreamToolCallDelta:
		// Partial argument JSON; the complete call arrives with
		// ToolCallComplete, so deltas only matter to live sinks.
	case StreamToolCallComplete:
		if event.ToolCall != nil {
			c.toolCalls = append(c.toolCalls, *event.ToolCall)
		}
	case StreamDone:
		if event.Usage != nil {
			c.usage = event.Usage
		}
		if event.StopReason != "" {
			c.stop = event.StopReason
		}
	}
}

// Response materializes the folded response.
func (c *StreamCollector) Response() *providers.ChatResponse {
	stop := c.stop
	if stop == "" {
		stop = "stop"
	}
	if len(c.toolCalls) > 0 {
		stop = "tool_calls"
	}
	return &providers.ChatResponse{
		Content:      c.text.String(),
		Thinking:     c.thinking.String(),
		ToolCalls:    c.toolCalls,
		FinishReason: stop,
		Usage:        c.usage,
	}
}
