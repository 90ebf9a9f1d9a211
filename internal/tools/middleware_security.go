package tools

import (
	"context"

	"github.com/asteroniris-dev/asteroniris/internal/security"
)

// commandArgTools and pathArgTools name the tools whose arguments the security
// middleware inspects. New tools that shell out or touch the filesystem
// register their argument key here rather than hard-coding a policy check
// inside the tool itself, keeping C1 enforcement in one place (C4).
var (
	commandArgTools = map[string]string{
		"exec": "command",
	}
	pathArgTools = map[string]string{
		"read_file":  "path",
		"write_file": "path",
	}
)

// SecurityMiddleware enforces C1 at the C4 dispatch boundary: every call
// to a command-running or path-touching tool is checked against the
// active SecurityPolicy before the tool itself ever runs, and every
// action-performing tool call consumes the policy's action/cost budget.
// Read-only tools (the ones absent from both maps and with zero cost) are
// passed straight through.
type SecurityMiddleware struct {
	policy *security.Policy
	// ActionCostCents maps a tool name to the cost-cents it should be
	// charged against the daily cap; tools absent from the map are
	// charged zero.
	ActionCostCents map[string]int
}

// NewSecurityMiddleware builds a SecurityMiddleware bound to policy.
func NewSecurityMiddleware(policy *security.Policy) *SecurityMiddleware {
	return &SecurityMiddleware{policy: policy, ActionCostCents: map[string]int{}}
}

func (m *SecurityMiddleware) BeforeExecute(ctx context.Context, toolName string, args map[string]interface{}) (context.Context, *MiddlewareDecision) {
	if argKey, ok := commandArgTools[toolName]; ok {
		cmd, _ := args[argKey].(string)
		if err := m.policy.IsCommandAllowed(cmd); err != nil {
			return ctx, Block(err.Error())
		}
	}
	if argKey, ok := pathArgTools[toolName]; ok {
		path, _ := args[argKey].(string)
		if err := m.policy.IsPathAllowed(path); err != nil {
			return ctx, Block(err.Error())
		}
	}

	entityID := ToolChannelFromCtx(ctx) + ":" + ToolChatIDFromCtx(ctx)
	if err := m.policy.CanAct(entityID); err != nil {
		return ctx, Block(err.Error())
	}

	isActionTool := toolName != "" && (isCommandTool(toolName) || isPathTool(toolName) || m.ActionCostCents[toolName] > 0)
	if isActionTool {
		cost := m.ActionCostCents[toolName]
		if err := m.policy.ConsumeActionAndCost(entityID, cost); err != nil {
			return ctx, Block(err.Error())
		}
	}
	return ctx, nil
}

// AfterExecute has nothing to record: budget consumption already happened
// in BeforeExecute so a failing tool still counts against the budget,
// matching the "reservation before attempt" semantics of ConsumeActionAndCost.
func (m *SecurityMiddleware) AfterExecute(ctx context.Context, toolName string, args map[string]interface{}, result *Result) {
}

func isCommandTool(name string) bool {
	_, ok := commandArgTools[name]
	return ok
}

func isPathTool(name string) bool {
	_, ok := pathArgTools[name]
	return ok
}
