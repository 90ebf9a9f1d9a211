package approval

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestTextReplyApprovalBrokerAlwaysDenies(t *testing.T) {
	b := NewTextReplyApprovalBroker("email", 5*time.Second)
	decision, err := b.RequestApproval(context.Background(), &ApprovalRequest{ToolName: "shell"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Kind != DecisionDenied {
		t.Fatalf("expected denied, got %+v", decision)
	}
	if !strings.Contains(decision.Reason, "approval not yet implemented") || !strings.Contains(decision.Reason, "autonomy_level") {
		t.Fatalf("reason missing expected phrases: %q", decision.Reason)
	}
	if !strings.Contains(decision.Reason, "'email'") {
		t.Fatalf("reason should name the channel, got %q", decision.Reason)
	}
}

func TestDefaultChannelApprovalContextTimeout(t *testing.T) {
	ctx := DefaultChannelApprovalContext()
	if ctx.Timeout != 60*time.Second {
		t.Fatalf("got timeout=%v, want 60s", ctx.Timeout)
	}
}
