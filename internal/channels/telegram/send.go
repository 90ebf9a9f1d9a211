package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/asteroniris-dev/asteroniris/internal/bus"
	"github.com/asteroniris-dev/asteroniris/internal/channels/typing"
)

// telegramMaxMessageLen is Telegram's hard text-message length limit.
const telegramMaxMessageLen = 4096

// Send delivers an outbound message: stops the typing indicator, replaces
// the "Thinking..." placeholder when one exists, chunks long text, and
// uploads any media attachments.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram bot not running")
	}

	localKey := msg.Metadata["local_key"]
	if localKey == "" {
		localKey = msg.ChatID
	}

	chatID, err := parseRawChatID(localKey)
	if err != nil {
		return fmt.Errorf("telegram send: bad chat id %q: %w", localKey, err)
	}
	chatIDObj := tu.ID(chatID)

	threadID := 0
	if raw := msg.Metadata["message_thread_id"]; raw != "" {
		threadID, _ = strconv.Atoi(raw)
	}
	sendThreadID := resolveThreadIDForSend(threadID)

	if ctrl, ok := c.typingCtrls.LoadAndDelete(localKey); ok {
		ctrl.(*typing.Controller).Stop()
	}
	if stop, ok := c.stopThinking.LoadAndDelete(localKey); ok {
		if cf, ok := stop.(*thinkingCancel); ok {
			cf.Cancel()
		}
	}

	placeholderID := 0
	if pID, ok := c.placeholders.LoadAndDelete(localKey); ok {
		placeholderID = pID.(int)
	}

	content := msg.Content

	// Empty content means the agent suppressed its reply: clean up the
	// placeholder and send nothing.
	if content == "" && len(msg.Media) == 0 {
		if placeholderID > 0 {
			_ = c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{ChatID: chatIDObj, MessageID: placeholderID})
		}
		return nil
	}

	chunks := splitMessage(content, telegramMaxMessageLen)

	for i, chunk := range chunks {
		if i == 0 && placeholderID > 0 {
			// First chunk edits the placeholder in place.
			if _, err := c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
				ChatID: chatIDObj, MessageID: placeholderID, Text: chunk,
			}); err == nil {
				continue
			}
			// Edit can fail (e.g. identical text); fall through to a send.
		}
		out := tu.Message(chatIDObj, chunk)
		if sendThreadID > 0 {
			out.MessageThreadID = sendThreadID
		}
		if _, err := c.bot.SendMessage(ctx, out); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}

	for _, media := range msg.Media {
		if err := c.sendMediaAttachment(ctx, chatIDObj, sendThreadID, media); err != nil {
			slog.Warn("telegram media send failed", "path", media.URL, "error", err)
		}
	}

	return nil
}

// sendMediaAttachment uploads one local media file, picking the Telegram
// method by MIME type.
func (c *Channel) sendMediaAttachment(ctx context.Context, chatID telego.ChatID, threadID int, media bus.MediaAttachment) error {
	f, err := os.Open(media.URL)
	if err != nil {
		return fmt.Errorf("open media: %w", err)
	}
	defer f.Close()
	file := telego.InputFile{File: f}

	switch {
	case strings.HasPrefix(media.ContentType, "image/"):
		params := tu.Photo(chatID, file)
		if media.Caption != "" {
			params.Caption = media.Caption
		}
		if threadID > 0 {
			params.MessageThreadID = threadID
		}
		_, err = c.bot.SendPhoto(ctx, params)
	case strings.HasPrefix(media.ContentType, "audio/"):
		params := tu.Voice(chatID, file)
		if threadID > 0 {
			params.MessageThreadID = threadID
		}
		_, err = c.bot.SendVoice(ctx, params)
	case strings.HasPrefix(media.ContentType, "video/"):
		params := tu.Video(chatID, file)
		if threadID > 0 {
			params.MessageThreadID = threadID
		}
		_, err = c.bot.SendVideo(ctx, params)
	default:
		params := tu.Document(chatID, file)
		if threadID > 0 {
			params.MessageThreadID = threadID
		}
		_, err = c.bot.SendDocument(ctx, params)
	}
	return err
}

// splitMessage chunks text at the platform limit, preferring newline
// boundaries so paragraphs survive intact.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut < limit/2 {
			cut = limit
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// handleCallbackQuery acknowledges inline-keyboard taps that reach the
// channel's update stream. The approval broker polls its own getUpdates
// window for live prompts; anything arriving here is a late tap on an
// expired prompt, acknowledged so the client's spinner clears.
func (c *Channel) handleCallbackQuery(ctx context.Context, cq *telego.CallbackQuery) {
	if cq == nil || cq.ID == "" {
		return
	}
	if err := c.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: cq.ID,
		Text:            "This prompt has expired.",
	}); err != nil {
		slog.Debug("telegram: answer stale callback failed", "error", err)
	}
}
