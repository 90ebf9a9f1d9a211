package approval

import (
	"strconv"

	"github.com/bwmarrin/discordgo"
	"github.com/mymmrac/telego"
)

// BrokerForChannel picks the approval broker for a channel name: interactive
// telegram/discord brokers when a bot session and channel id are both
// available, TextReplyApprovalBroker otherwise.
func BrokerForChannel(channelName string, chanCtx ChannelApprovalContext, telegramBot *telego.Bot, discordSession *discordgo.Session) ApprovalBroker {
	switch channelName {
	case "discord":
		if discordSession != nil && chanCtx.ChannelID != "" {
			return NewDiscordApprovalBroker(discordSession, chanCtx.ChannelID, chanCtx.Timeout)
		}
	case "telegram":
		if telegramBot != nil && chanCtx.ChannelID != "" {
			if chatID, err := strconv.ParseInt(chanCtx.ChannelID, 10, 64); err == nil {
				return NewTelegramApprovalBroker(telegramBot, chatID, chanCtx.Timeout)
			}
		}
	}
	return NewTextReplyApprovalBroker(channelName, chanCtx.Timeout)
}
