package approval

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mymmrac/telego"
)

func telegramTestRequest() *ApprovalRequest {
	return &ApprovalRequest{
		IntentID: "intent-1", ToolName: "file_write", ArgsSummary: "write 10 bytes to out.txt",
		RiskLevel: RiskMedium, EntityID: "telegram:123", Channel: "telegram",
	}
}

func TestTelegramApprovalBrokerConstructs(t *testing.T) {
	b := NewTelegramApprovalBroker(nil, 42, 9*time.Second)
	if b.ChatID != 42 || b.Timeout != 9*time.Second {
		t.Fatalf("got %+v", b)
	}
}

func TestTelegramApprovalTextContainsRequestFields(t *testing.T) {
	b := NewTelegramApprovalBroker(nil, 42, 30*time.Second)
	text := b.approvalText(telegramTestRequest())
	for _, want := range []string{"Tool: file_write", "Args: write 10 bytes to out.txt", "Risk: Medium", "Entity: telegram:123"} {
		if !strings.Contains(text, want) {
			t.Fatalf("text %q missing %q", text, want)
		}
	}
}

func TestTelegramApprovalKeyboardHasApproveAndDeny(t *testing.T) {
	b := NewTelegramApprovalBroker(nil, 42, 30*time.Second)
	kb := b.approvalKeyboard()
	if len(kb.InlineKeyboard) != 1 || len(kb.InlineKeyboard[0]) != 2 {
		t.Fatalf("unexpected keyboard shape: %+v", kb)
	}
	if kb.InlineKeyboard[0][0].CallbackData != "approve" {
		t.Fatalf("got %+v", kb.InlineKeyboard[0][0])
	}
	if kb.InlineKeyboard[0][1].CallbackData != "deny" {
		t.Fatalf("got %+v", kb.InlineKeyboard[0][1])
	}
}

func TestTelegramTimeoutPathDeniesWithoutNetwork(t *testing.T) {
	b := NewTelegramApprovalBroker(nil, 42, 0)
	decision, err := b.RequestApproval(context.Background(), telegramTestRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Kind != DecisionDenied || decision.Reason != "approval timed out" {
		t.Fatalf("got %+v", decision)
	}
}

func TestExtractCallbackForMessageAcceptsMatching(t *testing.T) {
	update := telego.Update{
		UpdateID: 10,
		CallbackQuery: &telego.CallbackQuery{
			ID:      "cb-1",
			Data:    "approve",
			Message: &telego.Message{MessageID: 42},
		},
	}
	id, data, ok := extractCallbackForMessage(update, 42)
	if !ok || id != "cb-1" || data != "approve" {
		t.Fatalf("got id=%q data=%q ok=%v", id, data, ok)
	}
}

func TestExtractCallbackForMessageIgnoresOtherMessages(t *testing.T) {
	update := telego.Update{
		CallbackQuery: &telego.CallbackQuery{ID: "cb-2", Data: "deny", Message: &telego.Message{MessageID: 77}},
	}
	if _, _, ok := extractCallbackForMessage(update, 42); ok {
		t.Fatalf("expected mismatched message id to be ignored")
	}
}

func TestExtractCallbackForMessageRequiresData(t *testing.T) {
	update := telego.Update{
		CallbackQuery: &telego.CallbackQuery{ID: "cb-3", Message: &telego.Message{MessageID: 42}},
	}
	if _, _, ok := extractCallbackForMessage(update, 42); ok {
		t.Fatalf("expected missing data field to be ignored")
	}
}
