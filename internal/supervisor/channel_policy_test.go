package supervisor

import (
	"testing"

	"github.com/asteroniris-dev/asteroniris/internal/security"
)

func autonomy(level security.AutonomyLevel) *security.AutonomyLevel { return &level }

func TestEffectiveAutonomyNoFloorKeepsGlobal(t *testing.T) {
	p := ChannelPolicy{Channel: "cli"}
	if got := p.EffectiveAutonomy(security.AutonomyFull); got != security.AutonomyFull {
		t.Fatalf("got %v, want Full", got)
	}
}

func TestEffectiveAutonomyFloorCapsGlobal(t *testing.T) {
	p := ChannelPolicy{Channel: "telegram", AutonomyFloor: autonomy(security.AutonomyReadOnly)}
	if got := p.EffectiveAutonomy(security.AutonomyFull); got != security.AutonomyReadOnly {
		t.Fatalf("got %v, want ReadOnly", got)
	}
}

func TestEffectiveAutonomyFloorNeverRaisesGlobal(t *testing.T) {
	p := ChannelPolicy{Channel: "telegram", AutonomyFloor: autonomy(security.AutonomyFull)}
	if got := p.EffectiveAutonomy(security.AutonomyReadOnly); got != security.AutonomyReadOnly {
		t.Fatalf("a channel floor must never grant more than the global level, got %v", got)
	}
}

func TestFilterToolsNoAllowlistIsNoOp(t *testing.T) {
	p := ChannelPolicy{Channel: "cli"}
	got := p.FilterTools([]string{"shell", "read_file"})
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
}

func TestFilterToolsRestrictsToAllowlist(t *testing.T) {
	p := ChannelPolicy{Channel: "discord", ToolAllowlist: []string{"read_file"}}
	got := p.FilterTools([]string{"shell", "read_file", "web_search"})
	if len(got) != 1 || got[0] != "read_file" {
		t.Fatalf("got %v", got)
	}
}

func TestChannelPolicyRegistryFallsBackToZeroValue(t *testing.T) {
	reg := NewChannelPolicyRegistry([]ChannelPolicy{
		{Channel: "telegram", AutonomyFloor: autonomy(security.AutonomyReadOnly)},
	})
	if got := reg.PolicyFor("discord"); got.AutonomyFloor != nil {
		t.Fatalf("expected no floor for an unregistered channel, got %v", *got.AutonomyFloor)
	}
	if got := reg.PolicyFor("telegram"); got.AutonomyFloor == nil || *got.AutonomyFloor != security.AutonomyReadOnly {
		t.Fatalf("expected telegram's registered floor to be returned")
	}
}
