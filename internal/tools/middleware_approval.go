package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/asteroniris-dev/asteroniris/internal/approval"
	"github.com/asteroniris-dev/asteroniris/internal/security"
)

// approvalTools are the action-performing tools that need a human decision
// under Supervised autonomy. Read-only tools never prompt.
var approvalTools = map[string]approval.RiskLevel{
	"exec":       approval.RiskHigh,
	"write_file": approval.RiskMedium,
	"browser":    approval.RiskMedium,
}

// PermissionGranter is the slice of the permission store this middleware
// needs: pattern-grant lookup plus recording grants minted by an approver.
type PermissionGranter interface {
	IsGranted(tool, argsSummary string) bool
	AddGrant(grant approval.PermissionGrant, entityID string) error
}

// ApprovalMiddleware gates action-performing tools behind an approval
// broker when the effective autonomy level is Supervised. Full autonomy
// skips prompting; ReadOnly never reaches this middleware because the
// security middleware already denied the action.
type ApprovalMiddleware struct {
	policy      *security.Policy
	broker      approval.ApprovalBroker
	permissions PermissionGranter
}

func NewApprovalMiddleware(policy *security.Policy, broker approval.ApprovalBroker, permissions PermissionGranter) *ApprovalMiddleware {
	return &ApprovalMiddleware{policy: policy, broker: broker, permissions: permissions}
}

func (m *ApprovalMiddleware) BeforeExecute(ctx context.Context, toolName string, args map[string]interface{}) (context.Context, *MiddlewareDecision) {
	risk, needsApproval := approvalTools[toolName]
	if !needsApproval || m.broker == nil || m.policy == nil {
		return ctx, nil
	}
	if m.policy.Level() != security.AutonomySupervised {
		return ctx, nil
	}

	summary := summarizeArgs(toolName, args)
	if m.permissions != nil && m.permissions.IsGranted(toolName, summary) {
		return ctx, nil
	}

	entityID := ToolChatIDFromCtx(ctx)
	decision, err := m.broker.RequestApproval(ctx, &approval.ApprovalRequest{
		ToolName:    toolName,
		ArgsSummary: summary,
		RiskLevel:   risk,
		EntityID:    entityID,
		Channel:     ToolChannelFromCtx(ctx),
	})
	if err != nil {
		return ctx, Block(fmt.Sprintf("blocked by security policy: approval request failed: %v", err))
	}

	switch decision.Kind {
	case approval.DecisionApproved:
		return ctx, nil
	case approval.DecisionApprovedWithGrant:
		if m.permissions != nil && decision.Grant != nil {
			if err := m.permissions.AddGrant(*decision.Grant, entityID); err != nil {
				slog.Warn("approval: failed to record grant", "tool", toolName, "error", err)
			}
		}
		return ctx, nil
	default:
		reason := decision.Reason
		if reason == "" {
			reason = "denied by approver"
		}
		return ctx, Block("blocked by security policy: " + reason)
	}
}

func (m *ApprovalMiddleware) AfterExecute(ctx context.Context, toolName string, args map[string]interface{}, result *Result) {
}

// summarizeArgs renders the argument the approver actually cares about:
// the command for exec, the path for file tools, else compact JSON.
func summarizeArgs(toolName string, args map[string]interface{}) string {
	switch toolName {
	case "exec":
		if cmd, _ := args["command"].(string); cmd != "" {
			return cmd
		}
	case "write_file", "read_file":
		if path, _ := args["path"].(string); path != "" {
			return path
		}
	case "browser":
		if url, _ := args["url"].(string); url != "" {
			return url
		}
	}
	encoded, _ := json.Marshal(args)
	return string(encoded)
}
