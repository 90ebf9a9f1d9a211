package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/asteroniris-dev/asteroniris/internal/tools"
)

// BridgeTool proxies one remote MCP tool through the local tool registry.
// The schema is whatever the server declared at connect time; arguments are
// treated as runtime values validated against that schema, not as typed
// objects.
type BridgeTool struct {
	serverName string
	tool       mcpgo.Tool
	client     *mcpclient.Client
	name       string
	timeout    time.Duration
	connected  *atomic.Bool
}

// NewBridgeTool wraps an MCP server tool. The registered name is
// "<prefix><tool>" when toolPrefix is set, else "mcp_<server>_<tool>".
func NewBridgeTool(serverName string, tool mcpgo.Tool, client *mcpclient.Client, toolPrefix string, timeoutSec int, connected *atomic.Bool) *BridgeTool {
	name := toolPrefix + tool.Name
	if toolPrefix == "" {
		name = fmt.Sprintf("mcp_%s_%s", sanitizeToolName(serverName), sanitizeToolName(tool.Name))
	}
	if timeoutSec <= 0 {
		timeoutSec = 60
	}
	return &BridgeTool{
		serverName: serverName,
		tool:       tool,
		client:     client,
		name:       name,
		timeout:    time.Duration(timeoutSec) * time.Second,
		connected:  connected,
	}
}

func (t *BridgeTool) Name() string { return t.name }

// OriginalName returns the tool name as declared by the remote MCP server,
// before any prefix was applied.
func (t *BridgeTool) OriginalName() string { return t.tool.Name }

func (t *BridgeTool) Description() string {
	if t.tool.Description != "" {
		return fmt.Sprintf("[%s] %s", t.serverName, t.tool.Description)
	}
	return fmt.Sprintf("[%s] MCP tool %s", t.serverName, t.tool.Name)
}

func (t *BridgeTool) Parameters() map[string]interface{} {
	// Round-trip the declared input schema into the generic map shape the
	// registry expects. A schema that fails to encode degrades to a
	// permissive object schema rather than breaking registration.
	data, err := json.Marshal(t.tool.InputSchema)
	if err == nil {
		var schema map[string]interface{}
		if json.Unmarshal(data, &schema) == nil && schema["type"] != nil {
			return schema
		}
	}
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *BridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if t.connected != nil && !t.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("MCP server %q is not connected", t.serverName))
	}
	if reason, ok := t.validateArgs(args); !ok {
		return tools.ErrorResult(reason)
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = t.tool.Name
	req.Params.Arguments = args

	result, err := t.client.CallTool(callCtx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("MCP call %s/%s failed: %v", t.serverName, t.tool.Name, err))
	}

	text := renderContent(result.Content)
	if result.IsError {
		if text == "" {
			text = "MCP tool reported an error"
		}
		return tools.ErrorResult(text)
	}
	if text == "" {
		text = "(empty result)"
	}
	return tools.NewResult(text)
}

// validateArgs checks required properties and basic type shapes against the
// declared schema. MCP servers do their own deep validation; this catches
// the obvious mistakes locally so they don't cost a round trip.
func (t *BridgeTool) validateArgs(args map[string]interface{}) (string, bool) {
	for _, required := range t.tool.InputSchema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Sprintf("missing required argument %q", required), false
		}
	}
	for name, raw := range t.tool.InputSchema.Properties {
		value, present := args[name]
		if !present || value == nil {
			continue
		}
		prop, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		declared, _ := prop["type"].(string)
		if declared == "" {
			continue
		}
		if !valueMatchesType(value, declared) {
			return fmt.Sprintf("argument %q should be %s", name, declared), false
		}
	}
	return "", true
}

func valueMatchesType(value interface{}, declared string) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "number", "integer":
		switch value.(type) {
		case float64, int, int64, json.Number:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	}
	return true
}

// renderContent flattens MCP content blocks into text for the LLM.
func renderContent(blocks []mcpgo.Content) string {
	var parts []string
	for _, block := range blocks {
		switch c := block.(type) {
		case mcpgo.TextContent:
			parts = append(parts, c.Text)
		case *mcpgo.TextContent:
			parts = append(parts, c.Text)
		default:
			if data, err := json.Marshal(block); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// sanitizeToolName lowercases and squashes characters providers reject in
// tool names.
func sanitizeToolName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
