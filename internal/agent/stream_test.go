package agent

import (
	"testing"

	"github.com/asteroniris-dev/asteroniris/internal/providers"
)

func TestStreamCollectorFoldsTextDeltas(t *testing.T) {
	c := &StreamCollector{}
	c.Fold(StreamEvent{Kind: StreamResponseStart})
	c.Fold(StreamEvent{Kind: StreamTextDelta, Text: "hello "})
	c.Fold(StreamEvent{Kind: StreamTextDelta, Text: "world"})
	c.Fold(StreamEvent{Kind: StreamDone, StopReason: "stop"})

	resp := c.Response()
	if resp.Content != "hello world" {
		t.Fatalf("content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" || len(resp.ToolCalls) != 0 {
		t.Fatalf("finish=%q toolCalls=%d", resp.FinishReason, len(resp.ToolCalls))
	}
}

func TestStreamCollectorToolCallsForceToolUseStop(t *testing.T) {
	c := &StreamCollector{}
	c.Fold(StreamEvent{Kind: StreamResponseStart})
	c.Fold(StreamEvent{Kind: StreamToolCallDelta, ToolCallID: "a", ArgsDelta: `{"x":`})
	c.Fold(StreamEvent{Kind: StreamToolCallDelta, ToolCallID: "a", ArgsDelta: `1}`})
	c.Fold(StreamEvent{
		Kind:       StreamToolCallComplete,
		ToolCallID: "a",
		ToolName:   "echo",
		ToolCall:   &providers.ToolCall{ID: "a", Name: "echo", Arguments: map[string]interface{}{"x": 1.0}},
	})
	c.Fold(StreamEvent{Kind: StreamDone, StopReason: "stop"})

	resp := c.Response()
	if resp.FinishReason != "tool_calls" {
		t.Fatalf("finish = %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "echo" {
		t.Fatalf("toolCalls = %+v", resp.ToolCalls)
	}
}

func TestStreamCollectorCarriesUsage(t *testing.T) {
	c := &StreamCollector{}
	c.Fold(StreamEvent{Kind: StreamDone, Usage: &providers.Usage{TotalTokens: 9}})
	if resp := c.Response(); resp.Usage == nil || resp.Usage.TotalTokens != 9 {
		t.Fatalf("usage = %+v", c.Response().Usage)
	}
}
