package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// TelegramApprovalBroker posts an inline-keyboard prompt to a chat and polls
// for the operator's callback tap, reusing the same telego.Bot the channel
// itself is long-polling with.
type TelegramApprovalBroker struct {
	Bot     *telego.Bot
	ChatID  int64
	Timeout time.Duration
}

func NewTelegramApprovalBroker(bot *telego.Bot, chatID int64, timeout time.Duration) *TelegramApprovalBroker {
	return &TelegramApprovalBroker{Bot: bot, ChatID: chatID, Timeout: timeout}
}

func (b *TelegramApprovalBroker) approvalKeyboard() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("✅ Approve").WithCallbackData("approve"),
			tu.InlineKeyboardButton("❌ Deny").WithCallbackData("deny"),
		),
	)
}

func (b *TelegramApprovalBroker) approvalText(request *ApprovalRequest) string {
	return fmt.Sprintf("Tool approval required\nTool: %s\nArgs: %s\nRisk: %s\nEntity: %s",
		request.ToolName, request.ArgsSummary, request.RiskLevel, request.EntityID)
}

func (b *TelegramApprovalBroker) sendApprovalMessage(ctx context.Context, request *ApprovalRequest) (int, error) {
	msg := tu.Message(tu.ID(b.ChatID), b.approvalText(request)).WithReplyMarkup(b.approvalKeyboard())
	sent, err := b.Bot.SendMessage(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("send telegram approval message: %w", err)
	}
	return sent.MessageID, nil
}

func extractCallbackForMessage(update telego.Update, targetMessageID int) (callbackID, data string, ok bool) {
	cb := update.CallbackQuery
	if cb == nil || cb.Message == nil {
		return "", "", false
	}
	if cb.Message.GetMessageID() != targetMessageID {
		return "", "", false
	}
	if cb.ID == "" || cb.Data == "" {
		return "", "", false
	}
	return cb.ID, cb.Data, true
}

func (b *TelegramApprovalBroker) pollCallbackQuery(ctx context.Context, targetMessageID int) (string, error) {
	deadline := time.Now().Add(b.Timeout)
	offset := 0

	for time.Now().Before(deadline) {
		updates, err := b.Bot.GetUpdates(ctx, &telego.GetUpdatesParams{
			Offset:         offset,
			Timeout:        1,
			AllowedUpdates: []string{"callback_query"},
		})
		if err != nil {
			return "", fmt.Errorf("poll telegram callback updates: %w", err)
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if callbackID, data, ok := extractCallbackForMessage(update, targetMessageID); ok {
				_ = b.Bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{CallbackQueryID: callbackID})
				return data, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return "", nil
}

func (b *TelegramApprovalBroker) RequestApproval(ctx context.Context, request *ApprovalRequest) (ApprovalDecision, error) {
	if b.Timeout <= 0 {
		return Denied("approval timed out"), nil
	}

	messageID, err := b.sendApprovalMessage(ctx, request)
	if err != nil {
		return ApprovalDecision{}, err
	}
	data, err := b.pollCallbackQuery(ctx, messageID)
	if err != nil {
		return ApprovalDecision{}, err
	}
	switch data {
	case "approve":
		return Approved(), nil
	case "deny":
		return Denied("denied by user"), nil
	case "":
		return Denied("approval timed out"), nil
	default:
		return Denied(fmt.Sprintf("unrecognized approval action: %s", data)), nil
	}
}
