// Package security implements the runtime's single source of truth for
// autonomy level, command/path allowlisting, rate limits, cost caps and
// temperature bands (C1). Every action-performing path in the runtime
// consults a *Policy before doing anything externally visible.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/asteroniris-dev/asteroniris/internal/config"
)

// AutonomyLevel orders the three operating modes from least to most
// permissive. Comparisons use the underlying int so "at least Supervised"
// reads as level >= AutonomySupervised.
type AutonomyLevel int

const (
	AutonomyReadOnly AutonomyLevel = iota
	AutonomySupervised
	AutonomyFull
)

func (l AutonomyLevel) String() string {
	switch l {
	case AutonomyReadOnly:
		return "read_only"
	case AutonomySupervised:
		return "supervised"
	case AutonomyFull:
		return "full"
	default:
		return "unknown"
	}
}

// ParseAutonomyLevel accepts the config-file spellings plus a couple of
// forgiving aliases; unrecognised input falls back to Supervised.
func ParseAutonomyLevel(s string) AutonomyLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read_only", "readonly", "read-only":
		return AutonomyReadOnly
	case "full", "autonomous":
		return AutonomyFull
	case "supervised", "":
		return AutonomySupervised
	default:
		return AutonomySupervised
	}
}

// TemperatureBand bounds the sampling temperature permitted at a given
// autonomy level.
type TemperatureBand struct {
	Min float64
	Max float64
}

// deniedPrefix marks every policy denial string. Downstream components
// (verify/repair classifier, scheduler retry gate) match on this prefix
// without parsing the rest of the message.
const deniedPrefix = "blocked by security policy: "

func denyf(format string, args ...interface{}) error {
	return fmt.Errorf(deniedPrefix+format, args...)
}

// hourlyBucket is a fixed-window counter reset every time the wall clock
// crosses into a new hour. Simpler than a sliding window and matches the
// "rolling hour" wording loosely enough for the runtime's purposes, since
// actions are also bounded by one global golang.org/x/time/rate limiter.
type hourlyBucket struct {
	windowStart time.Time
	count       int
}

func (b *hourlyBucket) add(now time.Time, n int) int {
	if now.Sub(b.windowStart) >= time.Hour {
		b.windowStart = now.Truncate(time.Hour)
		b.count = 0
	}
	b.count += n
	return b.count
}

// dailyCostBucket tracks cost-cents consumed since midnight UTC.
type dailyCostBucket struct {
	day   time.Time
	cents int
}

func (b *dailyCostBucket) add(now time.Time, cents int) int {
	day := now.Truncate(24 * time.Hour)
	if !day.Equal(b.day) {
		b.day = day
		b.cents = 0
	}
	b.cents += cents
	return b.cents
}

// Policy is the C1 single source of truth. One Policy is shared across all
// entities of a runtime; per-entity counters live in entityState.
type Policy struct {
	mu sync.Mutex

	level             AutonomyLevel
	workspaceOnly     bool
	workspaceDir      string
	allowedCommands   map[string]bool
	forbiddenPaths    []string
	maxActionsPerHour int
	maxCostPerDayCents int
	maxActionsPerEntityPerHour int
	temperatureBands  map[AutonomyLevel]TemperatureBand

	global   hourlyBucket
	globalCost dailyCostBucket
	entities map[string]*entityState

	// limiter refills at the hourly cap spread over the hour, with a burst
	// equal to the whole cap, so a full hour's budget can still be spent at
	// once; it only denies when actions outrun that refill.
	limiter *rate.Limiter
}

type entityState struct {
	actions hourlyBucket
}

// New builds a Policy from the runtime's SecurityConfig section, applying
// the same defaults the autonomy config ships upstream.
func New(cfg config.SecurityConfig, workspaceDir string) *Policy {
	p := &Policy{
		level:             ParseAutonomyLevel(cfg.Autonomy),
		workspaceOnly:     true,
		workspaceDir:      workspaceDir,
		allowedCommands:   make(map[string]bool),
		maxActionsPerHour: cfg.ActionsPerHour(),
		maxCostPerDayCents: cfg.CostRateLimitCents,
		maxActionsPerEntityPerHour: 20,
		entities:          make(map[string]*entityState),
		temperatureBands: map[AutonomyLevel]TemperatureBand{
			AutonomyReadOnly:   {Min: 0.0, Max: 0.2},
			AutonomySupervised: {Min: 0.2, Max: 0.7},
			AutonomyFull:       {Min: 0.2, Max: 1.0},
		},
	}
	cmds := cfg.AllowedCommands
	if len(cmds) == 0 {
		cmds = []string{"git", "npm", "cargo", "ls", "cat", "grep", "find", "echo", "pwd", "wc", "head", "tail"}
	}
	for _, c := range cmds {
		p.allowedCommands[c] = true
	}
	p.forbiddenPaths = cfg.AllowedPaths
	if len(p.forbiddenPaths) == 0 {
		p.forbiddenPaths = []string{
			"/etc", "/root", "/home", "/usr", "/bin", "/sbin", "/lib", "/opt",
			"/boot", "/dev", "/proc", "/sys", "/var", "/tmp",
			"~/.ssh", "~/.gnupg", "~/.aws", "~/.config",
		}
	}
	if cfg.TemperatureMin != 0 || cfg.TemperatureMax != 0 {
		band := TemperatureBand{Min: cfg.TemperatureMin, Max: cfg.TemperatureMax}
		p.temperatureBands[p.level] = band
	}
	// maxActionsPerHour semantics: 0 is a hard cap of zero actions, a
	// negative value lifts the cap. The burst limiter only matters for a
	// positive cap; zero-cap denials happen before it is ever consulted.
	rps := rate.Inf
	burst := 1
	if p.maxActionsPerHour > 0 {
		rps = rate.Limit(float64(p.maxActionsPerHour) / 3600.0)
		burst = p.maxActionsPerHour
	}
	p.limiter = rate.NewLimiter(rps, burst)
	now := time.Now().UTC()
	p.global.windowStart = now.Truncate(time.Hour)
	p.globalCost.day = now.Truncate(24 * time.Hour)
	return p
}

// Level reports the configured autonomy level.
func (p *Policy) Level() AutonomyLevel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// CanAct reports whether the entity is permitted to take any
// action-performing path at all: ReadOnly never can.
func (p *Policy) CanAct(entityID string) error {
	p.mu.Lock()
	level := p.level
	p.mu.Unlock()
	if level == AutonomyReadOnly {
		return denyf("autonomy level is read_only, no actions permitted")
	}
	return nil
}

// RecordAction records one action against the hourly budget, reporting
// false once the budget is exhausted. It is the cost-free convenience
// form of ConsumeActionAndCost.
func (p *Policy) RecordAction(entityID string) bool {
	return p.ConsumeActionAndCost(entityID, 0) == nil
}

// ConsumeActionAndCost performs the combined check: the global and
// per-entity hourly action buckets, and the daily cost-cents bucket. It
// only records consumption when every check passes, matching an
// all-or-nothing reservation.
func (p *Policy) ConsumeActionAndCost(entityID string, costCents int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()

	// A cap of zero permits no actions at all; a negative cap is
	// unlimited and skips the global bucket.
	if p.maxActionsPerHour == 0 {
		return denyf("action limit exceeded: hourly action budget is zero")
	}
	if p.maxActionsPerHour > 0 {
		projected := p.global.count
		if now.Sub(p.global.windowStart) >= time.Hour {
			projected = 0
		}
		if projected+1 > p.maxActionsPerHour {
			return denyf("action limit exceeded: global hourly cap %d reached", p.maxActionsPerHour)
		}
	}

	es := p.entities[entityID]
	if es == nil {
		es = &entityState{}
		es.actions.windowStart = now.Truncate(time.Hour)
		p.entities[entityID] = es
	}
	if p.maxActionsPerEntityPerHour > 0 {
		projected := es.actions.count
		if now.Sub(es.actions.windowStart) >= time.Hour {
			projected = 0
		}
		if projected+1 > p.maxActionsPerEntityPerHour {
			return denyf("entity action limit exceeded: %q hourly cap %d reached", entityID, p.maxActionsPerEntityPerHour)
		}
	}

	if p.maxCostPerDayCents > 0 {
		projected := p.globalCost.cents
		if !now.Truncate(24 * time.Hour).Equal(p.globalCost.day) {
			projected = 0
		}
		if projected+costCents > p.maxCostPerDayCents {
			return denyf("cost limit exceeded: daily cap %d cents reached", p.maxCostPerDayCents)
		}
	}

	if !p.limiter.Allow() && p.maxActionsPerHour > 0 {
		return denyf("action limit exceeded: burst rate limiter tripped")
	}

	p.global.add(now, 1)
	es.actions.add(now, 1)
	p.globalCost.add(now, costCents)
	return nil
}

// IsCommandAllowed tokenises a shell fragment on command separators,
// strips leading VAR=val env assignments from the first segment, and
// requires the remaining leading token to be in the command allowlist.
// Sub-shell operators are rejected outright regardless of allowlist.
func (p *Policy) IsCommandAllowed(cmd string) error {
	if strings.Contains(cmd, "$(") || strings.Contains(cmd, "`") {
		return denyf("command contains a sub-shell operator")
	}

	segments := splitShellSegments(cmd)
	if len(segments) == 0 {
		return denyf("empty command")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, seg := range segments {
		tokens := strings.Fields(seg)
		i := 0
		for i < len(tokens) && isEnvAssignment(tokens[i]) {
			i++
		}
		if i >= len(tokens) {
			continue
		}
		head := tokens[i]
		if !p.allowedCommands[head] {
			return denyf("command %q is not in the allowed_commands list", head)
		}
	}
	return nil
}

func isEnvAssignment(tok string) bool {
	eq := strings.IndexByte(tok, '=')
	if eq <= 0 {
		return false
	}
	name := tok[:eq]
	for _, r := range name {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// splitShellSegments splits on ;, |, &&, ||, and newlines. Each resulting
// segment is checked independently so "git status; rm -rf /" is rejected
// on its second segment even though the first is allowed.
func splitShellSegments(cmd string) []string {
	replacer := strings.NewReplacer("&&", ";", "||", ";", "|", ";", "\n", ";")
	normalized := replacer.Replace(cmd)
	parts := strings.Split(normalized, ";")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// IsPathAllowed expands ~, canonicalises the path, then denies it if it
// falls under a forbidden_paths prefix or escapes workspace_dir when
// workspace_only is set.
func (p *Policy) IsPathAllowed(path string) error {
	expanded := expandHome(path)
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return denyf("could not resolve path %q: %v", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Path may not exist yet (about to be created); fall back to the
		// absolute form so writes to new files are still checked.
		resolved = abs
	}
	clean := filepath.Clean(resolved)

	p.mu.Lock()
	forbidden := p.forbiddenPaths
	workspaceOnly := p.workspaceOnly
	workspace := p.workspaceDir
	p.mu.Unlock()

	for _, f := range forbidden {
		f = expandHome(f)
		fAbs, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		if clean == fAbs || strings.HasPrefix(clean, fAbs+string(filepath.Separator)) {
			return denyf("path %q is under forbidden prefix %q", path, f)
		}
	}

	if workspaceOnly && workspace != "" {
		wsAbs, err := filepath.Abs(workspace)
		if err == nil {
			if clean != wsAbs && !strings.HasPrefix(clean, wsAbs+string(filepath.Separator)) {
				return denyf("path %q escapes workspace %q", path, workspace)
			}
		}
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// ClampTemperature clamps t into the band for the active autonomy level.
func (p *Policy) ClampTemperature(t float64) float64 {
	band := p.SelectedTemperatureBand()
	if t < band.Min {
		return band.Min
	}
	if t > band.Max {
		return band.Max
	}
	return t
}

// SelectedTemperatureBand returns the band active for the current level.
func (p *Policy) SelectedTemperatureBand() TemperatureBand {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.temperatureBands[p.level]
}

// IsPolicyDenial reports whether err (or its message) originated from this
// package's deny path, i.e. carries the "blocked by security policy:"
// contract prefix.
func IsPolicyDenial(err error) bool {
	if err == nil {
		return false
	}
	return strings.HasPrefix(err.Error(), deniedPrefix)
}

// EntityRateLimitSubstring is the contract string every entity-scoped
// rate-limit denial carries. The tool loop matches it in tool results to
// stop with a rate-limited status instead of burning further iterations.
const EntityRateLimitSubstring = "entity action limit exceeded"

// IsEntityRateLimited reports whether err is specifically an entity-scoped
// rate-limit denial, telling a per-entity throttle apart from a global one
// by the same EntityRateLimitSubstring test the tool loop applies.
func IsEntityRateLimited(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), EntityRateLimitSubstring)
}
