package supervisor

import (
	"context"
	"log/slog"

	"github.com/asteroniris-dev/asteroniris/internal/bus"
)

// RunInboundPump consumes inbound channel messages from the bus, drives a
// turn on the owning channel's process, and publishes the reply outbound.
// One pump serves every channel. Workers give cross-entity concurrency;
// turns for a single entity stay serialized inside its Branch.
func RunInboundPump(ctx context.Context, msgBus *bus.MessageBus, processes map[string]*ChannelProcess, fallback *ChannelProcess, workers int) {
	if workers <= 0 {
		workers = 4
	}
	jobs := make(chan bus.InboundMessage)

	for i := 0; i < workers; i++ {
		go func() {
			for msg := range jobs {
				handleInbound(ctx, msgBus, processes, fallback, msg)
			}
		}()
	}

	defer close(jobs)
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		select {
		case jobs <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func handleInbound(ctx context.Context, msgBus *bus.MessageBus, processes map[string]*ChannelProcess, fallback *ChannelProcess, msg bus.InboundMessage) {
	process := processes[msg.Channel]
	if process == nil {
		process = fallback
	}
	if process == nil {
		slog.Warn("inbound pump: no process for channel", "channel", msg.Channel)
		return
	}

	entityID := msg.Channel + ":" + msg.SenderID
	if msg.UserID != "" {
		entityID = msg.Channel + ":" + msg.UserID
	}

	result, err := process.HandleMessage(ctx, entityID, msg.Content)
	if err != nil {
		slog.Warn("inbound pump: turn failed", "channel", msg.Channel, "entity", entityID, "error", err)
		msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: "Sorry, something went wrong handling that message.",
		})
		return
	}
	if result.FinalText == "" {
		return
	}
	msgBus.PublishOutbound(bus.OutboundMessage{
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		Content:  result.FinalText,
		Metadata: msg.Metadata,
	})
}
