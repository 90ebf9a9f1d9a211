// Package approval implements the tool-approval brokers consulted when a
// security policy check requires interactive confirmation rather than a
// flat allow/deny (C8's channel-facing half of the autonomy gate).
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RiskLevel classifies how much damage a pending tool call could do, used
// purely for the human-facing prompt text.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// ApprovalRequest describes a single tool call awaiting a decision.
type ApprovalRequest struct {
	IntentID    string
	ToolName    string
	ArgsSummary string
	RiskLevel   RiskLevel
	EntityID    string
	Channel     string
}

// GrantScope controls how long an ApprovedWithGrant decision's permission
// lives once recorded.
type GrantScope string

const (
	GrantScopeSession   GrantScope = "session"
	GrantScopePermanent GrantScope = "permanent"
)

// PermissionGrant is the allowlist entry an approver can mint alongside a
// one-off approval, so the same tool/args pattern skips future prompts.
type PermissionGrant struct {
	Tool    string
	Pattern string
	Scope   GrantScope
}

// DecisionKind is the outcome of an ApprovalBroker.RequestApproval call.
type DecisionKind string

const (
	DecisionApproved           DecisionKind = "approved"
	DecisionDenied             DecisionKind = "denied"
	DecisionApprovedWithGrant  DecisionKind = "approved_with_grant"
)

// ApprovalDecision is the broker's answer. Reason is set for Denied; Grant
// is set for ApprovedWithGrant.
type ApprovalDecision struct {
	Kind   DecisionKind
	Reason string
	Grant  *PermissionGrant
}

func Approved() ApprovalDecision { return ApprovalDecision{Kind: DecisionApproved} }

func Denied(reason string) ApprovalDecision {
	return ApprovalDecision{Kind: DecisionDenied, Reason: reason}
}

func ApprovedWithGrant(grant PermissionGrant) ApprovalDecision {
	return ApprovalDecision{Kind: DecisionApprovedWithGrant, Grant: &grant}
}

// ApprovalBroker requests a human decision for a pending tool call.
type ApprovalBroker interface {
	RequestApproval(ctx context.Context, request *ApprovalRequest) (ApprovalDecision, error)
}

// ChannelApprovalContext carries the bot credentials (if any) a channel's
// approval broker needs to go interactive instead of falling back to
// TextReplyApprovalBroker.
type ChannelApprovalContext struct {
	BotToken  string
	ChannelID string
	Timeout   time.Duration
}

func DefaultChannelApprovalContext() ChannelApprovalContext {
	return ChannelApprovalContext{Timeout: 60 * time.Second}
}

// TextReplyApprovalBroker is the fallback for any channel without an
// interactive broker wired up: it always denies, naming the config knob
// that would let the operator bypass the prompt entirely.
type TextReplyApprovalBroker struct {
	ChannelName string
	Timeout     time.Duration
}

func NewTextReplyApprovalBroker(channelName string, timeout time.Duration) *TextReplyApprovalBroker {
	return &TextReplyApprovalBroker{ChannelName: channelName, Timeout: timeout}
}

func (b *TextReplyApprovalBroker) RequestApproval(_ context.Context, request *ApprovalRequest) (ApprovalDecision, error) {
	slog.Info("tool approval requested via channel (auto-deny until interactive approval implemented)",
		"channel", b.ChannelName, "tool", request.ToolName, "risk", request.RiskLevel, "timeout_secs", int(b.Timeout.Seconds()))

	return Denied(fmt.Sprintf(
		"Channel '%s' approval not yet implemented. Set autonomy_level to 'full' or 'read_only' in config.",
		b.ChannelName,
	)), nil
}
