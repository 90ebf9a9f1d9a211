package approval

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

func discordTestRequest() *ApprovalRequest {
	return &ApprovalRequest{
		IntentID: "intent-1", ToolName: "shell", ArgsSummary: "ls -la",
		RiskLevel: RiskHigh, EntityID: "discord:123", Channel: "discord",
	}
}

func TestDiscordApprovalBrokerConstructs(t *testing.T) {
	b := NewDiscordApprovalBroker(nil, "chan-1", 7*time.Second)
	if b.ChannelID != "chan-1" || b.Timeout != 7*time.Second {
		t.Fatalf("got %+v", b)
	}
}

func TestDiscordApprovalEmbedContainsExpectedFields(t *testing.T) {
	embed := approvalEmbed(discordTestRequest())
	if embed.Title != "Tool Approval Required" {
		t.Fatalf("got title=%q", embed.Title)
	}
	for _, want := range []string{"Tool: `shell`", "Args: `ls -la`", "Risk: `High`", "Entity: `discord:123`"} {
		if !strings.Contains(embed.Description, want) {
			t.Fatalf("description %q missing %q", embed.Description, want)
		}
	}
}

func TestDiscordApprovalEmbedUsesRiskColor(t *testing.T) {
	embed := approvalEmbed(discordTestRequest())
	if embed.Color != 0xE74C3C {
		t.Fatalf("got color=%#x", embed.Color)
	}
}

func TestHasNonBotReactionAcceptsNonBotUser(t *testing.T) {
	users := []*discordgo.User{{ID: "1", Bot: true}, {ID: "2", Bot: false}}
	if !hasNonBotReaction(users) {
		t.Fatalf("expected non-bot reaction to be detected")
	}
}

func TestHasNonBotReactionRejectsBotOnly(t *testing.T) {
	users := []*discordgo.User{{ID: "1", Bot: true}, {ID: "2", Bot: true}}
	if hasNonBotReaction(users) {
		t.Fatalf("expected bot-only reactions to be rejected")
	}
}

func TestDiscordTimeoutPathDeniesWithoutNetwork(t *testing.T) {
	b := NewDiscordApprovalBroker(nil, "chan-1", 0)
	decision, err := b.RequestApproval(context.Background(), discordTestRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Kind != DecisionDenied || decision.Reason != "approval timed out" {
		t.Fatalf("got %+v", decision)
	}
}
