package scheduler

import (
	"testing"

	"github.com/asteroniris-dev/asteroniris/internal/config"
	"github.com/asteroniris-dev/asteroniris/internal/security"
)

func newTestPolicy(t *testing.T) *security.Policy {
	t.Helper()
	return security.New(config.SecurityConfig{
		Autonomy:        "full",
		AllowedCommands: []string{"git", "ls", "echo"},
		TemperatureMin:  0.2, TemperatureMax: 1.0,
	}, t.TempDir())
}

func TestEnforcePolicyInvariantsRejectsForbiddenPath(t *testing.T) {
	p := newTestPolicy(t)
	err := enforcePolicyInvariants(p, "cat /etc/passwd", routeMarkerUserShell)
	if err == nil {
		t.Fatalf("expected forbidden path to be rejected")
	}
}

func TestEnforcePolicyInvariantsRejectsDisallowedCommand(t *testing.T) {
	p := newTestPolicy(t)
	err := enforcePolicyInvariants(p, "rm -rf /tmp/x", routeMarkerUserShell)
	if err == nil {
		t.Fatalf("expected disallowed command to be rejected")
	}
}

func TestEnforcePolicyInvariantsAllowsAllowlistedCommand(t *testing.T) {
	p := newTestPolicy(t)
	if err := enforcePolicyInvariants(p, "git status", routeMarkerUserShell); err != nil {
		t.Fatalf("expected allowlisted command to pass, got %v", err)
	}
}

func TestForbiddenPathArgumentSkipsEnvAssignmentsAndFlags(t *testing.T) {
	p := newTestPolicy(t)
	if _, found := forbiddenPathArgument(p, "FOO=bar git --no-pager status"); found {
		t.Fatalf("did not expect env assignment or flag to be flagged as a path")
	}
}

func TestForbiddenPathArgumentIgnoresURLs(t *testing.T) {
	p := newTestPolicy(t)
	if _, found := forbiddenPathArgument(p, "git clone https://example.com/repo.git"); found {
		t.Fatalf("did not expect a URL to be flagged as a path")
	}
}
