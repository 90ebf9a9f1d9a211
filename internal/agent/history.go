package agent

import (
	"log/slog"

	"github.com/asteroniris-dev/asteroniris/internal/config"
	"github.com/asteroniris-dev/asteroniris/internal/providers"
)

// limitHistoryTurns keeps only the last N user turns (and their associated
// assistant/tool messages) from history. A "turn" = one user message plus
// all subsequent non-user messages until the next user message.
func limitHistoryTurns(msgs []providers.Message, limit int) []providers.Message {
	if limit <= 0 || len(msgs) == 0 {
		return msgs
	}

	userCount := 0
	lastUserIndex := len(msgs)

	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			userCount++
			if userCount > limit {
				return msgs[lastUserIndex:]
			}
			lastUserIndex = i
		}
	}

	return msgs
}

// sanitizeHistory repairs tool_use/tool_result pairing in conversation
// history.
//
// Problems this fixes:
//   - Orphaned tool messages at start of history (after truncation)
//   - tool_result without matching tool_use in preceding assistant message
//   - assistant with tool_calls but missing tool_results
func sanitizeHistory(msgs []providers.Message) []providers.Message {
	if len(msgs) == 0 {
		return msgs
	}

	// 1. Skip leading orphaned tool messages (no preceding assistant with tool_calls).
	start := 0
	for start < len(msgs) && msgs[start].Role == "tool" {
		slog.Warn("dropping orphaned tool message at history start",
			"tool_call_id", msgs[start].ToolCallID)
		start++
	}

	if start >= len(msgs) {
		return nil
	}

	// 2. Walk through messages ensuring tool_result follows matching tool_use.
	var result []providers.Message
	for i := start; i < len(msgs); i++ {
		msg := msgs[i]

		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			expectedIDs := make(map[string]bool, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				expectedIDs[tc.ID] = true
			}

			result = append(result, msg)

			// Collect matching tool results that follow
			for i+1 < len(msgs) && msgs[i+1].Role == "tool" {
				i++
				toolMsg := msgs[i]
				if expectedIDs[toolMsg.ToolCallID] {
					result = append(result, toolMsg)
					delete(expectedIDs, toolMsg.ToolCallID)
				} else {
					slog.Warn("dropping mismatched tool result",
						"tool_call_id", toolMsg.ToolCallID)
				}
			}

			// Synthesize missing tool results
			for id := range expectedIDs {
				slog.Warn("synthesizing missing tool result", "tool_call_id", id)
				result = append(result, providers.Message{
					Role:       "tool",
					Content:    "[Tool result missing — history was compacted]",
					ToolCallID: id,
				})
			}
		} else if msg.Role == "tool" {
			slog.Warn("dropping orphaned tool message mid-history",
				"tool_call_id", msg.ToolCallID)
		} else {
			result = append(result, msg)
		}
	}

	return result
}

// prunedToolResultPlaceholder replaces an old tool result's content once the
// pruner hard-clears it out of the context window.
const prunedToolResultPlaceholder = "[Old tool result cleared to save context]"

// pruneContextMessages shrinks old tool-result bodies when the estimated
// token footprint crosses the configured ratios of the context window.
// Above SoftTrimRatio, old tool results are trimmed to head+tail excerpts;
// above HardClearRatio they are replaced with a placeholder. Tool results
// belonging to the last KeepLastAssistants assistant turns are untouched.
func pruneContextMessages(msgs []providers.Message, contextWindow int, cfg *config.ContextPruningConfig) []providers.Message {
	if len(msgs) == 0 || contextWindow <= 0 {
		return msgs
	}
	if cfg != nil && cfg.Mode == "off" {
		return msgs
	}

	softRatio := 0.6
	hardRatio := 0.85
	keepLastAssistants := 2
	minPrunable := 800
	maxChars, headChars, tailChars := 1200, 600, 400
	placeholder := prunedToolResultPlaceholder
	hardClearEnabled := true

	if cfg != nil {
		if cfg.SoftTrimRatio > 0 {
			softRatio = cfg.SoftTrimRatio
		}
		if cfg.HardClearRatio > 0 {
			hardRatio = cfg.HardClearRatio
		}
		if cfg.KeepLastAssistants > 0 {
			keepLastAssistants = cfg.KeepLastAssistants
		}
		if cfg.MinPrunableToolChars > 0 {
			minPrunable = cfg.MinPrunableToolChars
		}
		if st := cfg.SoftTrim; st != nil {
			if st.MaxChars > 0 {
				maxChars = st.MaxChars
			}
			if st.HeadChars > 0 {
				headChars = st.HeadChars
			}
			if st.TailChars > 0 {
				tailChars = st.TailChars
			}
		}
		if hc := cfg.HardClear; hc != nil {
			if hc.Enabled != nil {
				hardClearEnabled = *hc.Enabled
			}
			if hc.Placeholder != "" {
				placeholder = hc.Placeholder
			}
		}
	}

	estimate := EstimateTokens(msgs)
	softLimit := int(float64(contextWindow) * softRatio)
	if estimate <= softLimit {
		return msgs
	}
	hardClear := hardClearEnabled && estimate > int(float64(contextWindow)*hardRatio)

	// Find the cutoff: tool results at or after the Nth-from-last assistant
	// message stay intact.
	cutoff := 0
	assistants := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" {
			assistants++
			if assistants >= keepLastAssistants {
				cutoff = i
				break
			}
		}
	}

	out := make([]providers.Message, len(msgs))
	copy(out, msgs)
	for i := 0; i < cutoff; i++ {
		if out[i].Role != "tool" || len(out[i].Content) < minPrunable {
			continue
		}
		if hardClear {
			out[i].Content = placeholder
			continue
		}
		if len(out[i].Content) > maxChars {
			head := out[i].Content[:headChars]
			tail := out[i].Content[len(out[i].Content)-tailChars:]
			out[i].Content = head + "\n[... trimmed ...]\n" + tail
		}
	}
	return out
}

// EstimateTokensWithCalibration refines the chars/3 heuristic with an
// observed (prompt tokens, message count) sample from a previous request:
// the known prefix is priced at its measured cost and only the delta falls
// back to the heuristic.
func EstimateTokensWithCalibration(msgs []providers.Message, lastPromptTokens, lastMessageCount int) int {
	if lastPromptTokens <= 0 || lastMessageCount <= 0 || lastMessageCount > len(msgs) {
		return EstimateTokens(msgs)
	}
	return lastPromptTokens + EstimateTokens(msgs[lastMessageCount:])
}
