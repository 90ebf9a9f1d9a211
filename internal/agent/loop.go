package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/asteroniris-dev/asteroniris/internal/bootstrap"
	"github.com/asteroniris-dev/asteroniris/internal/config"
	"github.com/asteroniris-dev/asteroniris/internal/providers"
	"github.com/asteroniris-dev/asteroniris/internal/security"
	"github.com/asteroniris-dev/asteroniris/internal/skills"
	"github.com/asteroniris-dev/asteroniris/internal/tools"
	"github.com/asteroniris-dev/asteroniris/internal/tracing"
	"github.com/asteroniris-dev/asteroniris/pkg/protocol"
)

// hardIterationCap bounds the provider↔tool dialogue regardless of what a
// caller requests. A run that hasn't converged in 25 iterations is stuck.
const hardIterationCap = 25

// StopReason says how a tool-loop run terminated.
type StopReason string

const (
	StopCompleted     StopReason = "completed"
	StopMaxIterations StopReason = "max_iterations"
	StopRateLimited   StopReason = "rate_limited"
)

// ToolCallRecord captures one executed tool call for the run transcript.
type ToolCallRecord struct {
	Tool      string                 `json:"tool"`
	Args      map[string]interface{} `json:"args"`
	Result    string                 `json:"result"`
	IsError   bool                   `json:"is_error"`
	Iteration int                    `json:"iteration"`
}

// Loop drives a bounded provider↔tool dialogue to a terminal answer: call
// the model, execute any requested tools through the registry, feed the
// results back, repeat.
type Loop struct {
	id            string
	agentUUID     uuid.UUID // set in managed mode for trace attribution
	provider      providers.Provider
	model         string
	contextWindow int
	maxIterations int
	workspace     string

	tools      *tools.Registry
	toolPolicy *tools.PolicyEngine // optional: layered profile/allow/deny filtering
	activeRuns atomic.Int32

	ownerIDs       []string
	skillsLoader   *skills.Loader
	skillAllowList []string // nil = all, [] = none, ["x","y"] = filter
	hasMemory      bool
	contextFiles   []bootstrap.ContextFile

	contextPruningCfg *config.ContextPruningConfig

	// Event callback for broadcasting run events (run.started, chunk, tool.call, etc.)
	onEvent func(event AgentEvent)

	// Tracing collector (nil in standalone mode)
	traceCollector *tracing.Collector

	// Input scanning and message size limit
	inputGuard      *InputGuard
	injectionAction string // "log", "warn" (default), "block", "off"
	maxMessageChars int    // 0 = use default (32000)
}

// AgentEvent is emitted during loop execution for WS broadcasting.
type AgentEvent struct {
	Type    string      `json:"type"`    // "run.started", "run.completed", "run.failed", "chunk", "tool.call", "tool.result"
	AgentID string      `json:"agentId"`
	RunID   string      `json:"runId"`
	Payload interface{} `json:"payload,omitempty"`
}

// LoopConfig configures a new Loop.
type LoopConfig struct {
	ID            string
	Provider      providers.Provider
	Model         string
	ContextWindow int
	MaxIterations int
	Workspace     string
	Tools         *tools.Registry
	ToolPolicy    *tools.PolicyEngine
	OnEvent       func(AgentEvent)

	OwnerIDs       []string
	SkillsLoader   *skills.Loader
	SkillAllowList []string
	HasMemory      bool
	ContextFiles   []bootstrap.ContextFile

	ContextPruningCfg *config.ContextPruningConfig

	AgentUUID      uuid.UUID
	TraceCollector *tracing.Collector

	InputGuard      *InputGuard
	InjectionAction string
	MaxMessageChars int
}

// NewLoop builds a Loop, clamping the iteration budget to the hard cap.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 || cfg.MaxIterations > hardIterationCap {
		cfg.MaxIterations = hardIterationCap
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 200000
	}

	action := cfg.InjectionAction
	switch action {
	case "log", "warn", "block", "off":
	default:
		action = "warn"
	}
	guard := cfg.InputGuard
	if guard == nil && action != "off" {
		guard = NewInputGuard()
	}

	return &Loop{
		id:                cfg.ID,
		agentUUID:         cfg.AgentUUID,
		provider:          cfg.Provider,
		model:             cfg.Model,
		contextWindow:     cfg.ContextWindow,
		maxIterations:     cfg.MaxIterations,
		workspace:         cfg.Workspace,
		tools:             cfg.Tools,
		toolPolicy:        cfg.ToolPolicy,
		onEvent:           cfg.OnEvent,
		ownerIDs:          cfg.OwnerIDs,
		skillsLoader:      cfg.SkillsLoader,
		skillAllowList:    cfg.SkillAllowList,
		hasMemory:         cfg.HasMemory,
		contextFiles:      cfg.ContextFiles,
		contextPruningCfg: cfg.ContextPruningCfg,
		traceCollector:    cfg.TraceCollector,
		inputGuard:        guard,
		injectionAction:   action,
		maxMessageChars:   cfg.MaxMessageChars,
	}
}

// RunRequest is the input for one tool-loop run.
type RunRequest struct {
	SystemPrompt        string
	Message             string
	Media               []string // local file paths to images (already sanitized)
	ConversationHistory []providers.Message
	Temperature         float64
	MaxIterations       int      // per-request override, clamped to the hard cap; 0 = loop default
	AllowedTools        []string // restricts the tool specs offered; empty = all

	Channel      string
	ChatID       string
	PeerKind     string
	SessionKey   string
	RunID        string
	UserID       string
	HistoryLimit int // max user turns kept from ConversationHistory (0 = all)

	Stream     bool
	StreamSink StreamSink // receives stream events when Stream is set

	ExtraSystemPrompt string
}

// RunResult is the output of a completed run.
type RunResult struct {
	Content    string           `json:"content"`
	RunID      string           `json:"runId"`
	Iterations int              `json:"iterations"`
	StopReason StopReason       `json:"stop_reason"`
	ToolCalls  []ToolCallRecord `json:"tool_calls,omitempty"`
	Usage      *providers.Usage `json:"usage,omitempty"` // nil when no iteration reported tokens
	Media      []MediaResult    `json:"media,omitempty"` // attachments from tool results (MEDIA: prefix)
}

// MediaResult represents a media file produced by a tool during the run.
type MediaResult struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type,omitempty"`
	AsVoice     bool   `json:"as_voice,omitempty"` // send as voice message (Telegram OGG)
}

// Run processes a single message through the loop. It blocks until a
// terminal answer, the iteration cap, or a rate-limit stop.
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	l.activeRuns.Add(1)
	defer l.activeRuns.Add(-1)

	l.emit(AgentEvent{Type: protocol.AgentEventRunStarted, AgentID: l.id, RunID: req.RunID})

	// Open a trace for the run so LLM/tool spans nest under one root.
	var traceID uuid.UUID
	if l.traceCollector != nil {
		traceID = uuid.New()
		now := time.Now().UTC()
		trace := &tracing.TraceData{
			ID:           traceID,
			RunID:        req.RunID,
			SessionKey:   req.SessionKey,
			UserID:       req.UserID,
			Channel:      req.Channel,
			Name:         "chat " + l.id,
			InputPreview: truncateStr(req.Message, 500),
			Status:       tracing.TraceStatusRunning,
			StartTime:    now,
			CreatedAt:    now,
		}
		if err := l.traceCollector.CreateTrace(ctx, trace); err != nil {
			slog.Warn("tracing: failed to create trace", "error", err)
			traceID = uuid.Nil
		} else {
			ctx = tracing.WithTraceID(ctx, traceID)
			ctx = tracing.WithCollector(ctx, l.traceCollector)
			ctx = tracing.WithParentSpanID(ctx, uuid.New())
		}
	}

	runStart := time.Now().UTC()
	result, err := l.runLoop(ctx, req)

	if l.traceCollector != nil && traceID != uuid.Nil {
		l.emitAgentSpan(ctx, runStart, result, err)
	}

	if err != nil {
		l.emit(AgentEvent{
			Type:    protocol.AgentEventRunFailed,
			AgentID: l.id,
			RunID:   req.RunID,
			Payload: map[string]string{"error": err.Error()},
		})
		if l.traceCollector != nil && traceID != uuid.Nil {
			traceCtx := ctx
			status := tracing.TraceStatusError
			if ctx.Err() != nil {
				traceCtx = context.Background()
				status = tracing.TraceStatusCancelled
			}
			l.traceCollector.FinishTrace(traceCtx, traceID, status, err.Error(), "")
		}
		return nil, err
	}

	l.emit(AgentEvent{Type: protocol.AgentEventRunCompleted, AgentID: l.id, RunID: req.RunID})
	if l.traceCollector != nil && traceID != uuid.Nil {
		l.traceCollector.FinishTrace(ctx, traceID, tracing.TraceStatusCompleted, "", truncateStr(result.Content, 500))
	}
	return result, nil
}

func (l *Loop) runLoop(ctx context.Context, req RunRequest) (*RunResult, error) {
	if l.provider == nil {
		return nil, fmt.Errorf("loop: no provider configured")
	}

	// Scan the user message for injection patterns.
	if l.inputGuard != nil {
		if matches := l.inputGuard.Scan(req.Message); len(matches) > 0 {
			matchStr := strings.Join(matches, ",")
			switch l.injectionAction {
			case "block":
				slog.Warn("security.injection_blocked",
					"agent", l.id, "user", req.UserID,
					"patterns", matchStr, "message_len", len(req.Message))
				return nil, fmt.Errorf("message blocked: potential prompt injection detected (%s)", matchStr)
			case "log":
				slog.Info("security.injection_detected",
					"agent", l.id, "user", req.UserID,
					"patterns", matchStr, "message_len", len(req.Message))
			default:
				slog.Warn("security.injection_detected",
					"agent", l.id, "user", req.UserID,
					"patterns", matchStr, "message_len", len(req.Message))
			}
		}
	}

	// Truncate oversized user messages gracefully, telling the model why.
	maxChars := l.maxMessageChars
	if maxChars <= 0 {
		maxChars = 32_000
	}
	if len(req.Message) > maxChars {
		originalLen := len(req.Message)
		req.Message = req.Message[:maxChars] +
			fmt.Sprintf("\n\n[System: Message was truncated from %d to %d characters due to size limit. "+
				"Please ask the user to send shorter messages or use the read_file tool for large content.]",
				originalLen, maxChars)
		slog.Warn("security.message_truncated",
			"agent", l.id, "user", req.UserID,
			"original_len", originalLen, "truncated_to", maxChars)
	}

	// Resolve the tool specs for this run's context before building the
	// prompt: the trust-policy block is appended iff tools are available.
	// With a policy engine configured, the layered profile/allow/deny
	// pipeline runs (the request's allowlist enters as the group-level
	// allow); otherwise the allowlist alone narrows the registry.
	var toolDefs []providers.ToolDefinition
	if l.tools != nil {
		if l.toolPolicy != nil {
			toolDefs = l.toolPolicy.FilterTools(l.tools, l.id, l.provider.Name(), nil, req.AllowedTools, false, false)
		} else {
			toolDefs = l.tools.SpecsForContext(req.AllowedTools)
		}
	}

	messages := l.buildMessages(req, len(toolDefs) > 0)

	// Attach vision images to the current user message (last in slice).
	if len(req.Media) > 0 {
		if images := loadImages(req.Media); len(images) > 0 {
			messages[len(messages)-1].Images = images
			ctx = tools.WithMediaImages(ctx, images)
			slog.Info("vision: attached images to user message", "count", len(images), "agent", l.id)
		}
		for _, p := range req.Media {
			if err := os.Remove(p); err != nil {
				slog.Debug("vision: failed to clean temp media file", "path", p, "error", err)
			}
		}
	}

	ctx = tools.WithToolAgentID(ctx, l.id)
	if l.workspace != "" {
		ctx = tools.WithToolWorkspace(ctx, l.workspace)
	}

	// Surface provider retries to the event stream so channels can update
	// their placeholder message.
	ctx = providers.WithRetryHook(ctx, func(attempt, maxAttempts int, err error) {
		l.emit(AgentEvent{
			Type:    protocol.AgentEventRunRetrying,
			AgentID: l.id,
			RunID:   req.RunID,
			Payload: map[string]string{
				"attempt":     fmt.Sprintf("%d", attempt),
				"maxAttempts": fmt.Sprintf("%d", maxAttempts),
				"error":       err.Error(),
			},
		})
	})

	maxIterations := l.maxIterations
	if req.MaxIterations > 0 && req.MaxIterations < maxIterations {
		maxIterations = req.MaxIterations
	}

	var (
		loopDetector toolLoopState
		totalUsage   providers.Usage
		sawUsage     bool
		records      []ToolCallRecord
		mediaResults []MediaResult
		finalContent string
	)
	stopReason := StopCompleted
	iteration := 0

	for iteration < maxIterations {
		iteration++

		slog.Debug("loop iteration", "agent", l.id, "iteration", iteration, "messages", len(messages))

		chatReq := providers.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
			Model:    l.model,
			Options: map[string]interface{}{
				providers.OptMaxTokens:   8192,
				providers.OptTemperature: req.Temperature,
			},
		}

		llmSpanStart := time.Now().UTC()
		resp, err := l.callProvider(ctx, chatReq, req)
		if err != nil {
			l.emitLLMSpan(ctx, llmSpanStart, iteration, messages, nil, err)
			return nil, fmt.Errorf("LLM call failed (iteration %d): %w", iteration, err)
		}
		l.emitLLMSpan(ctx, llmSpanStart, iteration, messages, resp, nil)

		if resp.Usage != nil {
			sawUsage = true
			totalUsage.PromptTokens = saturatingAdd(totalUsage.PromptTokens, resp.Usage.PromptTokens)
			totalUsage.CompletionTokens = saturatingAdd(totalUsage.CompletionTokens, resp.Usage.CompletionTokens)
			totalUsage.TotalTokens = saturatingAdd(totalUsage.TotalTokens, resp.Usage.TotalTokens)
			totalUsage.ThinkingTokens = saturatingAdd(totalUsage.ThinkingTokens, resp.Usage.ThinkingTokens)
		}

		// No tool use → terminal answer.
		if len(resp.ToolCalls) == 0 {
			finalContent = resp.Content
			break
		}

		messages = append(messages, providers.Message{
			Role:                "assistant",
			Content:             resp.Content,
			ToolCalls:           resp.ToolCalls,
			RawAssistantContent: resp.RawAssistantContent,
		})

		// Execute tool calls in the exact order of the response's tool-use
		// blocks; results are appended in the same order.
		rateLimited := false
		loopStuck := false
		for _, tc := range resp.ToolCalls {
			l.emit(AgentEvent{
				Type:    protocol.AgentEventToolCall,
				AgentID: l.id,
				RunID:   req.RunID,
				Payload: map[string]interface{}{"name": tc.Name, "id": tc.ID},
			})

			argsJSON, _ := json.Marshal(tc.Arguments)
			slog.Info("tool call", "agent", l.id, "tool", tc.Name, "args_len", len(argsJSON))

			argsHash := loopDetector.record(tc.Name, tc.Arguments)

			toolSpanStart := time.Now().UTC()
			result := l.tools.ExecuteWithContext(ctx, tc.Name, tc.Arguments, req.Channel, req.ChatID, req.PeerKind, req.SessionKey, nil)
			l.emitToolSpan(ctx, toolSpanStart, tc.Name, tc.ID, string(argsJSON), result)

			loopDetector.recordResult(argsHash, result.ForLLM)

			if result.IsError {
				errMsg := result.ForLLM
				if len(errMsg) > 200 {
					errMsg = errMsg[:200] + "..."
				}
				slog.Warn("tool error", "agent", l.id, "tool", tc.Name, "error", errMsg)
			}

			l.emit(AgentEvent{
				Type:    protocol.AgentEventToolResult,
				AgentID: l.id,
				RunID:   req.RunID,
				Payload: map[string]interface{}{
					"name":     tc.Name,
					"id":       tc.ID,
					"is_error": result.IsError,
				},
			})

			records = append(records, ToolCallRecord{
				Tool: tc.Name, Args: tc.Arguments, Result: result.ForLLM,
				IsError: result.IsError, Iteration: iteration,
			})

			if mr := parseMediaResult(result.ForLLM); mr != nil {
				mediaResults = append(mediaResults, *mr)
			}

			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: tc.ID,
			})

			// An entity rate-limit denial ends the run: more iterations
			// would only burn the same exhausted budget.
			if result.IsError && strings.Contains(result.ForLLM, security.EntityRateLimitSubstring) {
				rateLimited = true
				break
			}

			if level, msg := loopDetector.detect(tc.Name, argsHash); level != "" {
				if level == "critical" {
					slog.Warn("tool loop critical", "agent", l.id, "tool", tc.Name, "message", msg)
					finalContent = "I was unable to complete this task — I got stuck repeatedly calling " + tc.Name + " without making progress. Please try rephrasing your request."
					loopStuck = true
					break
				}
				slog.Warn("tool loop warning", "agent", l.id, "tool", tc.Name, "message", msg)
				messages = append(messages, providers.Message{Role: "user", Content: msg})
			}
		}

		if rateLimited {
			stopReason = StopRateLimited
			finalContent = resp.Content
			break
		}
		if loopStuck {
			break
		}
		if iteration >= maxIterations {
			stopReason = StopMaxIterations
			finalContent = resp.Content
			break
		}
	}

	finalContent = SanitizeAssistantContent(finalContent)

	// NO_REPLY suppresses delivery but the run still completed.
	if IsSilentReply(finalContent) {
		slog.Info("loop: NO_REPLY detected, suppressing delivery", "agent", l.id, "run", req.RunID)
		finalContent = ""
	}

	result := &RunResult{
		Content:    finalContent,
		RunID:      req.RunID,
		Iterations: iteration,
		StopReason: stopReason,
		ToolCalls:  records,
		Media:      mediaResults,
	}
	if sawUsage {
		result.Usage = &totalUsage
	}
	return result, nil
}

// callProvider performs one model call, streaming through the sink when the
// request asks for it. The streamed path folds events through a
// StreamCollector so both paths hand the loop the same response shape.
func (l *Loop) callProvider(ctx context.Context, chatReq providers.ChatRequest, req RunRequest) (*providers.ChatResponse, error) {
	if !req.Stream {
		return l.provider.Chat(ctx, chatReq)
	}

	collector := &StreamCollector{}
	forward := func(ev StreamEvent) {
		collector.Fold(ev)
		if req.StreamSink != nil {
			req.StreamSink.OnEvent(ev)
		}
	}

	forward(StreamEvent{Kind: StreamResponseStart})
	resp, err := l.provider.ChatStream(ctx, chatReq, func(chunk providers.StreamChunk) {
		if chunk.Thinking != "" {
			forward(StreamEvent{Kind: StreamThinkingDelta, Text: chunk.Thinking})
			l.emit(AgentEvent{
				Type:    protocol.ChatEventThinking,
				AgentID: l.id,
				RunID:   req.RunID,
				Payload: map[string]string{"content": chunk.Thinking},
			})
		}
		if chunk.Content != "" {
			forward(StreamEvent{Kind: StreamTextDelta, Text: chunk.Content})
			l.emit(AgentEvent{
				Type:    protocol.ChatEventChunk,
				AgentID: l.id,
				RunID:   req.RunID,
				Payload: map[string]string{"content": chunk.Content},
			})
		}
	})
	if err != nil {
		return nil, err
	}

	// Tool calls arrive fully assembled from the provider's own
	// accumulator; replay them as completion events so sinks see them and
	// the collector's response carries them.
	for i := range resp.ToolCalls {
		forward(StreamEvent{
			Kind:       StreamToolCallComplete,
			ToolCallID: resp.ToolCalls[i].ID,
			ToolName:   resp.ToolCalls[i].Name,
			ToolCall:   &resp.ToolCalls[i],
		})
	}
	forward(StreamEvent{Kind: StreamDone, Usage: resp.Usage, StopReason: resp.FinishReason})

	folded := collector.Response()
	folded.RawAssistantContent = resp.RawAssistantContent
	folded.Thinking = resp.Thinking
	return folded, nil
}

// buildMessages assembles the request message list: system prompt (plus
// trust policy when tools are offered), sanitized bounded history, then the
// current user message.
func (l *Loop) buildMessages(req RunRequest, haveTools bool) []providers.Message {
	mode := PromptFull
	if bootstrap.IsSubagentSession(req.SessionKey) || bootstrap.IsCronSession(req.SessionKey) {
		mode = PromptMinimal
	}

	var toolNames []string
	if l.tools != nil {
		toolNames = l.tools.List()
	}

	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = BuildSystemPrompt(SystemPromptConfig{
			AgentID:       l.id,
			Model:         l.model,
			Workspace:     l.workspace,
			Channel:       req.Channel,
			OwnerIDs:      l.ownerIDs,
			Mode:          mode,
			ToolNames:     toolNames,
			SkillsSummary: l.resolveSkillsSummary(),
			HasMemory:     l.hasMemory,
			ContextFiles:  l.contextFiles,
			ExtraPrompt:   req.ExtraSystemPrompt,
		})
	} else if req.ExtraSystemPrompt != "" {
		systemPrompt += "\n\n" + req.ExtraSystemPrompt
	}
	if haveTools {
		systemPrompt += "\n\n" + trustPolicyBlock
	}

	messages := []providers.Message{{Role: "system", Content: systemPrompt}}

	trimmed := limitHistoryTurns(req.ConversationHistory, req.HistoryLimit)
	pruned := pruneContextMessages(trimmed, l.contextWindow, l.contextPruningCfg)
	messages = append(messages, sanitizeHistory(pruned)...)

	messages = append(messages, providers.Message{Role: "user", Content: req.Message})
	return messages
}

// resolveSkillsSummary builds the skills block for the system prompt,
// re-read per message so hot-reloaded skills appear without a restart.
// Large catalogs are omitted; the model uses the skill catalog tools
// instead of an inline list.
func (l *Loop) resolveSkillsSummary() string {
	const (
		skillInlineMaxCount  = 20
		skillInlineMaxTokens = 3500
	)

	if l.skillsLoader == nil {
		return ""
	}

	filtered := l.skillsLoader.FilterSkills(l.skillAllowList)
	if len(filtered) == 0 {
		return ""
	}

	totalChars := 0
	for _, s := range filtered {
		totalChars += len(s.Name) + len(s.Description) + 10
	}
	if len(filtered) <= skillInlineMaxCount && totalChars/4 <= skillInlineMaxTokens {
		return l.skillsLoader.BuildSummary(l.skillAllowList)
	}
	return ""
}

func saturatingAdd(a, b int) int {
	sum := a + b
	if sum < a {
		return int(^uint(0) >> 1)
	}
	return sum
}

// parseMediaResult extracts a MediaResult from a tool result string containing "MEDIA:" prefix.
// Handles formats: "MEDIA:/path/to/file" and "[[audio_as_voice]]\nMEDIA:/path/to/file".
// Returns nil if no MEDIA: prefix is found.
func parseMediaResult(toolOutput string) *MediaResult {
	s := toolOutput
	asVoice := false

	if strings.Contains(s, "[[audio_as_voice]]") {
		asVoice = true
		s = strings.ReplaceAll(s, "[[audio_as_voice]]", "")
		s = strings.TrimSpace(s)
	}

	idx := strings.Index(s, "MEDIA:")
	if idx < 0 {
		return nil
	}
	path := strings.TrimSpace(s[idx+6:])
	if path == "" {
		return nil
	}
	if nl := strings.IndexByte(path, '\n'); nl >= 0 {
		path = strings.TrimSpace(path[:nl])
	}

	return &MediaResult{
		Path:        path,
		ContentType: mimeFromExt(filepath.Ext(path)),
		AsVoice:     asVoice,
	}
}

// mimeFromExt returns a MIME type for common media file extensions.
func mimeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}
