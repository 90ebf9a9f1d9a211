package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/asteroniris-dev/asteroniris/internal/providers"
)

// Tool is the contract every native and MCP-proxied tool implements. Tools
// are stateless with respect to call-scoped data: anything that varies per
// invocation (channel, chat id, workspace, sandbox key) travels through the
// context values in context_keys.go rather than mutable setters, so a
// single Tool instance can serve concurrent Executes safely.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// AsyncCallback delivers the eventual result of a tool that returned an
// AsyncResult immediately and kept working in the background.
type AsyncCallback func(result *Result)

// MiddlewareDecision is returned by a Middleware's BeforeExecute hook. A
// nil decision (or one with Blocked=false) lets execution continue.
type MiddlewareDecision struct {
	Blocked bool
	Reason  string
}

// Block is a convenience constructor for a blocking decision.
func Block(reason string) *MiddlewareDecision {
	return &MiddlewareDecision{Blocked: true, Reason: reason}
}

// Middleware wraps every tool call. BeforeExecute may short-circuit the
// call by returning a blocking decision; it may also derive a new context
// to pass downstream (e.g. stamping an audit id). AfterExecute runs
// unconditionally once a result exists — whether from the tool itself or
// from a block — and cannot fail the call; it exists for side effects
// such as audit logging or policy-consumption bookkeeping.
type Middleware interface {
	BeforeExecute(ctx context.Context, toolName string, args map[string]interface{}) (context.Context, *MiddlewareDecision)
	AfterExecute(ctx context.Context, toolName string, args map[string]interface{}, result *Result)
}

// Registry holds every tool the runtime knows about and runs the C4
// dispatch pipeline: not-found check, middleware chain, invoke, middleware
// after-hooks.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]Tool
	order      []string
	middleware []Middleware
}

// NewRegistry creates an empty registry with the given middleware chain,
// run in the order provided for BeforeExecute and the same order for
// AfterExecute (same chain ordering as internal/tools/policy.go's
// sequential pipeline steps).
func NewRegistry(middleware ...Middleware) *Registry {
	return &Registry{
		tools:      make(map[string]Tool),
		middleware: middleware,
	}
}

// Use appends a middleware to the chain. Intended for wiring at startup,
// before any concurrent Execute calls begin.
func (r *Registry) Use(mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
}

// Register adds or replaces a tool under its own Name().
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Unregister removes a tool by name. A no-op if the name is unknown.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool name in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ProviderDefs returns provider-ready tool definitions for every registered
// tool, in registration order. Callers that need policy filtering should
// use PolicyEngine.FilterTools instead; this is the unfiltered view used
// when no policy is configured.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	names := r.List()
	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		if t, ok := r.Get(name); ok {
			defs = append(defs, ToProviderDef(t))
		}
	}
	return defs
}

// SpecsForContext returns provider-ready definitions restricted to
// allowedTools (the context's explicit tool allowlist, e.g. a channel
// policy's ToolAllowlist). A nil or empty allowedTools means "no explicit
// restriction from this layer" and every registered tool is returned;
// other layers (PolicyEngine) apply their own narrowing independently.
func (r *Registry) SpecsForContext(allowedTools []string) []providers.ToolDefinition {
	if len(allowedTools) == 0 {
		return r.ProviderDefs()
	}
	allow := make(map[string]bool, len(allowedTools))
	for _, n := range allowedTools {
		allow[n] = true
	}
	names := r.List()
	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		if !allow[name] {
			continue
		}
		if t, ok := r.Get(name); ok {
			defs = append(defs, ToProviderDef(t))
		}
	}
	return defs
}

// ErrToolNotFound-flavored result text, kept as a plain string since the
// dispatch path returns it as a Result rather than a Go error — tool
// failures are always first-class LLM-visible Results, not panics or
// bubbled errors, matching the rest of this package.
const toolNotFoundFormat = "Tool not found: %s"

// Execute runs the full C4 dispatch pipeline for a single call: tool
// lookup, BeforeExecute chain (any Block short-circuits to a failure
// Result), the tool's own Execute, then the AfterExecute chain run against
// whatever Result was produced.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	r.mu.RLock()
	tool, ok := r.tools[name]
	mws := make([]Middleware, len(r.middleware))
	copy(mws, r.middleware)
	r.mu.RUnlock()

	if !ok {
		return ErrorResult(fmt.Sprintf(toolNotFoundFormat, name))
	}

	var result *Result
	for _, mw := range mws {
		var decision *MiddlewareDecision
		ctx, decision = mw.BeforeExecute(ctx, name, args)
		if decision != nil && decision.Blocked {
			result = ErrorResult(decision.Reason)
			break
		}
	}

	if result == nil {
		result = tool.Execute(ctx, args)
	}

	for _, mw := range mws {
		mw.AfterExecute(ctx, name, args, result)
	}
	return result
}

// ExecuteWithContext stamps the call-scoped context values (channel,
// chat id, peer kind, sandbox key, async callback) before delegating to
// Execute. sessionKey doubles as the sandbox key for per-session
// sandbox container keying.
func (r *Registry) ExecuteWithContext(
	ctx context.Context,
	name string,
	args map[string]interface{},
	channel, chatID, peerKind, sessionKey string,
	asyncCB AsyncCallback,
) *Result {
	ctx = WithToolChannel(ctx, channel)
	ctx = WithToolChatID(ctx, chatID)
	ctx = WithToolPeerKind(ctx, peerKind)
	ctx = WithToolSandboxKey(ctx, sessionKey)
	if asyncCB != nil {
		ctx = WithToolAsyncCB(ctx, asyncCB)
	}
	return r.Execute(ctx, name, args)
}

// ToProviderDef converts a Tool into the wire-shape the LLM providers
// expect for function/tool-calling requests.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// ToolServer is an isolation boundary around a shared Registry: it
// restricts Register and Execute to a fixed allowed-name set, used to hand
// a subset of tools to an isolated process or sub-agent without letting it
// discover or invoke anything outside that set. Unlike PolicyEngine's
// filtering (which narrows what's *offered* to the model), ToolServer
// enforces the restriction at the dispatch boundary itself.
type ToolServer struct {
	backing *Registry
	allowed map[string]bool
}

// NewToolServer wraps backing, allowing only the given tool names.
func NewToolServer(backing *Registry, allowedNames []string) *ToolServer {
	allow := make(map[string]bool, len(allowedNames))
	for _, n := range allowedNames {
		allow[n] = true
	}
	return &ToolServer{backing: backing, allowed: allow}
}

// Register proxies to the backing registry only if name is in the
// server's allowed set; otherwise it's silently refused and logged, since
// a sub-agent process registering an out-of-scope tool is a programming
// error in the caller, not a runtime condition worth surfacing to a user.
func (s *ToolServer) Register(t Tool) {
	if !s.allowed[t.Name()] {
		slog.Warn("tool server refused registration outside allowed set", "tool", t.Name())
		return
	}
	s.backing.Register(t)
}

// Get returns the tool only if it is within the allowed set.
func (s *ToolServer) Get(name string) (Tool, bool) {
	if !s.allowed[name] {
		return nil, false
	}
	return s.backing.Get(name)
}

// List returns the allowed-set names that are actually registered on the
// backing registry, sorted for determinism.
func (s *ToolServer) List() []string {
	all := s.backing.List()
	out := make([]string, 0, len(all))
	for _, n := range all {
		if s.allowed[n] {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Execute refuses calls to tools outside the allowed set before they ever
// reach the backing registry's middleware chain.
func (s *ToolServer) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	if !s.allowed[name] {
		return ErrorResult(fmt.Sprintf("Tool %q is not available in this context", name))
	}
	return s.backing.Execute(ctx, name, args)
}

// ExecuteWithContext mirrors Registry.ExecuteWithContext under the same
// allowed-set restriction as Execute.
func (s *ToolServer) ExecuteWithContext(
	ctx context.Context,
	name string,
	args map[string]interface{},
	channel, chatID, peerKind, sessionKey string,
	asyncCB AsyncCallback,
) *Result {
	if !s.allowed[name] {
		return ErrorResult(fmt.Sprintf("Tool %q is not available in this context", name))
	}
	return s.backing.ExecuteWithContext(ctx, name, args, channel, chatID, peerKind, sessionKey, asyncCB)
}
