package security

import (
	"strings"
	"testing"

	"github.com/asteroniris-dev/asteroniris/internal/config"
)

func newTestPolicy(t *testing.T, cfg config.SecurityConfig) *Policy {
	t.Helper()
	return New(cfg, t.TempDir())
}

func TestCanActReadOnly(t *testing.T) {
	p := newTestPolicy(t, config.SecurityConfig{Autonomy: "read_only"})
	if err := p.CanAct("entity-1"); err == nil {
		t.Fatalf("expected read_only entity to be denied")
	}
	if !IsPolicyDenial(p.CanAct("entity-1")) {
		t.Fatalf("expected denial to carry the policy prefix")
	}
}

func TestCanActSupervised(t *testing.T) {
	p := newTestPolicy(t, config.SecurityConfig{Autonomy: "supervised"})
	if err := p.CanAct("entity-1"); err != nil {
		t.Fatalf("supervised entity should be allowed to act: %v", err)
	}
}

func intPtr(v int) *int { return &v }

func TestConsumeActionAndCostZeroLimitDeniesEveryAction(t *testing.T) {
	p := newTestPolicy(t, config.SecurityConfig{Autonomy: "full", ActionRateLimit: intPtr(0)})
	err := p.ConsumeActionAndCost("entity-1", 0)
	if err == nil {
		t.Fatalf("a zero hourly cap must deny the very first action")
	}
	if !strings.Contains(err.Error(), "action limit exceeded") {
		t.Fatalf("expected 'action limit exceeded' substring, got %q", err.Error())
	}
	if !IsPolicyDenial(err) {
		t.Fatalf("expected denial to carry the policy prefix")
	}
}

func TestConsumeActionAndCostNegativeLimitIsUnlimited(t *testing.T) {
	p := newTestPolicy(t, config.SecurityConfig{Autonomy: "full", ActionRateLimit: intPtr(-1)})
	for i := 0; i < 50; i++ {
		if err := p.ConsumeActionAndCost("entity-1", 0); err != nil && !IsEntityRateLimited(err) {
			t.Fatalf("action %d: unexpected global denial: %v", i, err)
		}
	}
}

func TestConsumeActionAndCostAbsentLimitUsesDefault(t *testing.T) {
	p := newTestPolicy(t, config.SecurityConfig{Autonomy: "full"})
	if p.maxActionsPerHour != config.DefaultActionsPerHour {
		t.Fatalf("absent action_rate_limit should default to %d, got %d", config.DefaultActionsPerHour, p.maxActionsPerHour)
	}
	if err := p.ConsumeActionAndCost("entity-1", 0); err != nil {
		t.Fatalf("first action under the default cap should pass: %v", err)
	}
}

func TestConsumeActionAndCostEntityCap(t *testing.T) {
	p := newTestPolicy(t, config.SecurityConfig{Autonomy: "full", ActionRateLimit: intPtr(-1)})
	p.maxActionsPerEntityPerHour = 1
	if err := p.ConsumeActionAndCost("entity-1", 0); err != nil {
		t.Fatalf("first action should pass: %v", err)
	}
	err := p.ConsumeActionAndCost("entity-1", 0)
	if err == nil {
		t.Fatalf("expected second action to exceed entity cap")
	}
	if !strings.Contains(err.Error(), "action limit exceeded") {
		t.Fatalf("expected 'action limit exceeded' substring, got %q", err.Error())
	}
	if !IsEntityRateLimited(err) {
		t.Fatalf("expected entity-scoped classification")
	}
}

func TestConsumeActionAndCostDailyCap(t *testing.T) {
	p := newTestPolicy(t, config.SecurityConfig{Autonomy: "full", CostRateLimitCents: 100})
	if err := p.ConsumeActionAndCost("entity-1", 60); err != nil {
		t.Fatalf("unexpected denial: %v", err)
	}
	err := p.ConsumeActionAndCost("entity-2", 50)
	if err == nil || !strings.Contains(err.Error(), "cost limit") {
		t.Fatalf("expected cost limit denial, got %v", err)
	}
}

func TestIsCommandAllowed(t *testing.T) {
	p := newTestPolicy(t, config.SecurityConfig{Autonomy: "full", AllowedCommands: []string{"git", "ls"}})

	cases := []struct {
		cmd     string
		allowed bool
	}{
		{"git status", true},
		{"ls -la", true},
		{"rm -rf /", false},
		{"git status; rm -rf /", false},
		{"FOO=bar git status", true},
		{"ls && rm -rf /", false},
		{"echo $(whoami)", false},
		{"echo `whoami`", false},
	}
	for _, c := range cases {
		err := p.IsCommandAllowed(c.cmd)
		if (err == nil) != c.allowed {
			t.Errorf("IsCommandAllowed(%q) = %v, want allowed=%v", c.cmd, err, c.allowed)
		}
	}
}

func TestIsPathAllowedForbidsEtc(t *testing.T) {
	p := newTestPolicy(t, config.SecurityConfig{Autonomy: "full"})
	if err := p.IsPathAllowed("/etc/passwd"); err == nil {
		t.Fatalf("expected /etc/passwd to be denied")
	}
}

func TestIsPathAllowedWithinWorkspace(t *testing.T) {
	dir := t.TempDir()
	p := New(config.SecurityConfig{Autonomy: "full"}, dir)
	if err := p.IsPathAllowed(dir + "/notes.txt"); err != nil {
		t.Fatalf("expected workspace path to be allowed: %v", err)
	}
}

func TestClampTemperature(t *testing.T) {
	p := newTestPolicy(t, config.SecurityConfig{Autonomy: "read_only"})
	if got := p.ClampTemperature(1.5); got != 0.2 {
		t.Fatalf("expected read_only band to clamp to 0.2, got %v", got)
	}
	p2 := newTestPolicy(t, config.SecurityConfig{Autonomy: "full"})
	if got := p2.ClampTemperature(-1); got != 0.2 {
		t.Fatalf("expected full band min 0.2, got %v", got)
	}
}
