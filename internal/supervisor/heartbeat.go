package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/asteroniris-dev/asteroniris/internal/config"
)

const defaultHeartbeatPrompt = "Heartbeat check-in: review anything pending for your user. Reply NO_REPLY if there is nothing worth surfacing."

// heartbeatEntity is the principal heartbeat turns run as.
const heartbeatEntity = "system:heartbeat"

// RunHeartbeatLoop periodically pings the agent with the configured
// heartbeat prompt, but only inside the configured active-hours window.
// A nil or zero-interval config disables the loop.
func RunHeartbeatLoop(ctx context.Context, process *ChannelProcess, cfg *config.HeartbeatConfig) {
	if cfg == nil || process == nil {
		return
	}
	every, err := time.ParseDuration(cfg.Every)
	if err != nil || every <= 0 {
		if cfg.Every != "" && cfg.Every != "0m" {
			slog.Warn("heartbeat: invalid interval, disabled", "every", cfg.Every, "error", err)
		}
		return
	}

	prompt := cfg.Prompt
	if prompt == "" {
		prompt = defaultHeartbeatPrompt
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	slog.Info("heartbeat loop started", "every", every)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !withinActiveHours(time.Now(), cfg.ActiveHours) {
				slog.Debug("heartbeat: outside active hours, skipping")
				continue
			}
			result, err := process.HandleMessage(ctx, heartbeatEntity, prompt)
			if err != nil {
				slog.Warn("heartbeat turn failed", "error", err)
				continue
			}
			ack := result.FinalText
			if max := cfg.AckMaxChars; max > 0 && len(ack) > max {
				ack = ack[:max]
			}
			if ack != "" {
				slog.Info("heartbeat ack", "text", ack)
			}
		}
	}
}

// withinActiveHours reports whether now falls inside the configured window.
// An absent window means always active. Windows may wrap midnight
// (start 22:00, end 06:00).
func withinActiveHours(now time.Time, hours *config.ActiveHoursConfig) bool {
	if hours == nil || hours.Start == "" || hours.End == "" {
		return true
	}
	loc := now.Location()
	if hours.Timezone != "" {
		if tz, err := time.LoadLocation(hours.Timezone); err == nil {
			loc = tz
		} else {
			slog.Warn("heartbeat: unknown timezone, using local", "timezone", hours.Timezone)
		}
	}
	local := now.In(loc)

	start, err1 := time.Parse("15:04", hours.Start)
	end, err2 := time.Parse("15:04", hours.End)
	if err1 != nil || err2 != nil {
		slog.Warn("heartbeat: invalid active_hours, treating as always active", "start", hours.Start, "end", hours.End)
		return true
	}

	minutes := local.Hour()*60 + local.Minute()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()

	if startMin <= endMin {
		return minutes >= startMin && minutes < endMin
	}
	return minutes >= startMin || minutes < endMin
}
