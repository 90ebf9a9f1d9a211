package approval

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestCliApprovalBrokerDefaultTimeout(t *testing.T) {
	b := DefaultCliApprovalBroker()
	if b.Timeout != 30*time.Second {
		t.Fatalf("got timeout=%v, want 30s", b.Timeout)
	}
}

func testRequest() *ApprovalRequest {
	return &ApprovalRequest{
		IntentID: "intent-1", ToolName: "file_write", ArgsSummary: "write 10 bytes to out.txt",
		RiskLevel: RiskMedium, EntityID: "cli:local", Channel: "cli",
	}
}

func TestCliApprovalBrokerApprove(t *testing.T) {
	b := &CliApprovalBroker{Timeout: time.Second, Input: strings.NewReader("a\n"), Output: &bytes.Buffer{}}
	decision, err := b.RequestApproval(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Kind != DecisionApproved {
		t.Fatalf("got %+v", decision)
	}
}

func TestCliApprovalBrokerDeny(t *testing.T) {
	b := &CliApprovalBroker{Timeout: time.Second, Input: strings.NewReader("d\n"), Output: &bytes.Buffer{}}
	decision, _ := b.RequestApproval(context.Background(), testRequest())
	if decision.Kind != DecisionDenied || decision.Reason != "denied by user" {
		t.Fatalf("got %+v", decision)
	}
}

func TestCliApprovalBrokerSessionGrant(t *testing.T) {
	b := &CliApprovalBroker{Timeout: time.Second, Input: strings.NewReader("s\n"), Output: &bytes.Buffer{}}
	decision, _ := b.RequestApproval(context.Background(), testRequest())
	if decision.Kind != DecisionApprovedWithGrant || decision.Grant == nil || decision.Grant.Scope != GrantScopeSession {
		t.Fatalf("got %+v", decision)
	}
}

func TestCliApprovalBrokerUnrecognizedInput(t *testing.T) {
	b := &CliApprovalBroker{Timeout: time.Second, Input: strings.NewReader("z\n"), Output: &bytes.Buffer{}}
	decision, _ := b.RequestApproval(context.Background(), testRequest())
	if decision.Kind != DecisionDenied || !strings.Contains(decision.Reason, "unrecognized input") {
		t.Fatalf("got %+v", decision)
	}
}

type blockingReader struct{}

func (blockingReader) Read(_ []byte) (int, error) {
	select {}
}

func TestCliApprovalBrokerTimesOut(t *testing.T) {
	b := &CliApprovalBroker{Timeout: 10 * time.Millisecond, Input: blockingReader{}, Output: &bytes.Buffer{}}
	decision, err := b.RequestApproval(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Kind != DecisionDenied || decision.Reason != "approval timed out" {
		t.Fatalf("got %+v", decision)
	}
}
