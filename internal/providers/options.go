package providers

import "context"

// Option keys for ChatRequest.Options. Providers read the generic keys and
// translate them to their own wire fields; provider-specific keys
// (enable_thinking, thinking_budget) are set by adapters like DashScope
// before delegating to the OpenAI-compatible base.
const (
	OptMaxTokens       = "max_tokens"
	OptTemperature     = "temperature"
	OptThinkingLevel   = "thinking_level"
	OptReasoningEffort = "reasoning_effort"
	OptEnableThinking  = "enable_thinking"
	OptThinkingBudget  = "thinking_budget"
)

// ThinkingCapable is implemented by providers that support extended
// thinking. Callers type-assert rather than extending Provider so providers
// without the capability need no stub.
type ThinkingCapable interface {
	SupportsThinking() bool
}

// RetryHook is notified before each retry sleep so callers can surface
// progress (e.g. updating a channel placeholder message).
type RetryHook func(attempt, maxAttempts int, err error)

type retryHookCtxKey struct{}

// WithRetryHook attaches a retry notification hook to the context. The hook
// fires from RetryDo whenever a retryable failure schedules another attempt.
func WithRetryHook(ctx context.Context, hook RetryHook) context.Context {
	return context.WithValue(ctx, retryHookCtxKey{}, hook)
}

func retryHookFromContext(ctx context.Context) RetryHook {
	if h, ok := ctx.Value(retryHookCtxKey{}).(RetryHook); ok {
		return h
	}
	return nil
}
