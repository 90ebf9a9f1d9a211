package approval

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/mymmrac/telego"
)

func TestBrokerForChannelTextReplyForPlainChannels(t *testing.T) {
	for _, name := range []string{"email", "irc", "webhook"} {
		b := BrokerForChannel(name, DefaultChannelApprovalContext(), nil, nil)
		if _, ok := b.(*TextReplyApprovalBroker); !ok {
			t.Fatalf("channel %q: expected text-reply broker, got %T", name, b)
		}
	}
}

func TestBrokerForChannelFallsBackWithoutBotContext(t *testing.T) {
	for _, name := range []string{"telegram", "discord"} {
		b := BrokerForChannel(name, DefaultChannelApprovalContext(), nil, nil)
		if _, ok := b.(*TextReplyApprovalBroker); !ok {
			t.Fatalf("channel %q without bot context: expected text-reply broker, got %T", name, b)
		}
	}
}

func TestBrokerForChannelTelegramInteractiveWithContext(t *testing.T) {
	chanCtx := ChannelApprovalContext{BotToken: "tok", ChannelID: "555", Timeout: 5 * time.Second}
	b := BrokerForChannel("telegram", chanCtx, &telego.Bot{}, nil)
	tb, ok := b.(*TelegramApprovalBroker)
	if !ok {
		t.Fatalf("expected telegram broker, got %T", b)
	}
	if tb.ChatID != 555 {
		t.Fatalf("got chat id=%d", tb.ChatID)
	}
}

func TestBrokerForChannelDiscordInteractiveWithContext(t *testing.T) {
	chanCtx := ChannelApprovalContext{BotToken: "tok", ChannelID: "chan-9", Timeout: 5 * time.Second}
	b := BrokerForChannel("discord", chanCtx, nil, &discordgo.Session{})
	db, ok := b.(*DiscordApprovalBroker)
	if !ok {
		t.Fatalf("expected discord broker, got %T", b)
	}
	if db.ChannelID != "chan-9" {
		t.Fatalf("got channel id=%q", db.ChannelID)
	}
}
