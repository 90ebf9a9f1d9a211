package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	approveEmoji = "✅"
	denyEmoji    = "❌"
)

// DiscordApprovalBroker posts an embed to a channel, reacts to it with the
// two decision emoji, and polls for the operator reacting back.
type DiscordApprovalBroker struct {
	Session   *discordgo.Session
	ChannelID string
	Timeout   time.Duration
}

func NewDiscordApprovalBroker(session *discordgo.Session, channelID string, timeout time.Duration) *DiscordApprovalBroker {
	return &DiscordApprovalBroker{Session: session, ChannelID: channelID, Timeout: timeout}
}

func riskLabel(risk RiskLevel) string {
	if risk == "" {
		return "Low"
	}
	return string(risk)
}

func embedColor(risk RiskLevel) int {
	switch risk {
	case RiskHigh:
		return 0xE74C3C
	case RiskMedium:
		return 0xF1C40F
	default:
		return 0x2ECC71
	}
}

func approvalEmbed(request *ApprovalRequest) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Tool Approval Required",
		Description: fmt.Sprintf("Tool: `%s`\nArgs: `%s`\nRisk: `%s`\nEntity: `%s`",
			request.ToolName, request.ArgsSummary, riskLabel(request.RiskLevel), request.EntityID),
		Color: embedColor(request.RiskLevel),
	}
}

func (b *DiscordApprovalBroker) sendApprovalEmbed(request *ApprovalRequest) (string, error) {
	msg, err := b.Session.ChannelMessageSendEmbed(b.ChannelID, approvalEmbed(request))
	if err != nil {
		return "", fmt.Errorf("send discord approval embed: %w", err)
	}
	return msg.ID, nil
}

func (b *DiscordApprovalBroker) addReactions(messageID string) error {
	for _, emoji := range []string{approveEmoji, denyEmoji} {
		if err := b.Session.MessageReactionAdd(b.ChannelID, messageID, emoji); err != nil {
			return fmt.Errorf("add discord approval reaction %q: %w", emoji, err)
		}
	}
	return nil
}

func hasNonBotReaction(users []*discordgo.User) bool {
	for _, user := range users {
		if user != nil && !user.Bot {
			return true
		}
	}
	return false
}

func (b *DiscordApprovalBroker) pollReaction(messageID, emoji string) (bool, error) {
	users, err := b.Session.MessageReactions(b.ChannelID, messageID, emoji, 10, "", "")
	if err != nil {
		return false, fmt.Errorf("poll discord approval reactions: %w", err)
	}
	return hasNonBotReaction(users), nil
}

func (b *DiscordApprovalBroker) RequestApproval(ctx context.Context, request *ApprovalRequest) (ApprovalDecision, error) {
	if b.Timeout <= 0 {
		return Denied("approval timed out"), nil
	}

	messageID, err := b.sendApprovalEmbed(request)
	if err != nil {
		return ApprovalDecision{}, err
	}
	if err := b.addReactions(messageID); err != nil {
		return ApprovalDecision{}, err
	}

	deadline := time.Now().Add(b.Timeout)
	for time.Now().Before(deadline) {
		approved, err := b.pollReaction(messageID, approveEmoji)
		if err != nil {
			return ApprovalDecision{}, err
		}
		if approved {
			return Approved(), nil
		}
		denied, err := b.pollReaction(messageID, denyEmoji)
		if err != nil {
			return ApprovalDecision{}, err
		}
		if denied {
			return Denied("denied by user"), nil
		}

		select {
		case <-ctx.Done():
			return ApprovalDecision{}, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return Denied("approval timed out"), nil
}
