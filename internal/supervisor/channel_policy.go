package supervisor

import (
	"github.com/asteroniris-dev/asteroniris/internal/config"
	"github.com/asteroniris-dev/asteroniris/internal/security"
)

// ChannelPolicy is a per-channel ceiling on top of the global security
// policy: an optional autonomy floor (the channel can only ever be as
// permissive as the weaker of the two) and an optional tool allowlist.
type ChannelPolicy struct {
	Channel        string
	AutonomyFloor  *security.AutonomyLevel
	ToolAllowlist  []string
}

// EffectiveAutonomy returns min(global, channel floor); a channel with no
// floor configured never restricts the global level.
func (p ChannelPolicy) EffectiveAutonomy(global security.AutonomyLevel) security.AutonomyLevel {
	if p.AutonomyFloor == nil {
		return global
	}
	if *p.AutonomyFloor < global {
		return *p.AutonomyFloor
	}
	return global
}

// AllowedTools returns the tool names a turn on this channel may call. A
// nil/empty allowlist means unrestricted (the registry's own tools apply).
func (p ChannelPolicy) AllowedTools() []string {
	return p.ToolAllowlist
}

// FilterTools narrows candidateTools down to the channel's allowlist,
// preserving candidateTools' order. An empty allowlist is a no-op.
func (p ChannelPolicy) FilterTools(candidateTools []string) []string {
	if len(p.ToolAllowlist) == 0 {
		return candidateTools
	}
	allowed := make(map[string]bool, len(p.ToolAllowlist))
	for _, name := range p.ToolAllowlist {
		allowed[name] = true
	}
	filtered := make([]string, 0, len(candidateTools))
	for _, name := range candidateTools {
		if allowed[name] {
			filtered = append(filtered, name)
		}
	}
	return filtered
}

// ChannelPolicyRegistry resolves a channel name to its ChannelPolicy; a
// channel with no registered policy gets the zero value (no floor, no
// allowlist restriction).
type ChannelPolicyRegistry struct {
	policies map[string]ChannelPolicy
}

func NewChannelPolicyRegistry(policies []ChannelPolicy) *ChannelPolicyRegistry {
	r := &ChannelPolicyRegistry{policies: make(map[string]ChannelPolicy, len(policies))}
	for _, p := range policies {
		r.policies[p.Channel] = p
	}
	return r
}

func (r *ChannelPolicyRegistry) PolicyFor(channel string) ChannelPolicy {
	if r == nil {
		return ChannelPolicy{Channel: channel}
	}
	if p, ok := r.policies[channel]; ok {
		return p
	}
	return ChannelPolicy{Channel: channel}
}

// NewChannelPolicyRegistryFromConfig builds a registry from the channels
// section of the runtime config; a channel with an empty autonomy_floor
// gets no floor.
func NewChannelPolicyRegistryFromConfig(cfg config.ChannelsConfig) *ChannelPolicyRegistry {
	var policies []ChannelPolicy

	if cfg.Telegram.AutonomyFloor != "" || len(cfg.Telegram.ToolAllowlist) > 0 {
		p := ChannelPolicy{Channel: "telegram", ToolAllowlist: cfg.Telegram.ToolAllowlist}
		if cfg.Telegram.AutonomyFloor != "" {
			level := security.ParseAutonomyLevel(cfg.Telegram.AutonomyFloor)
			p.AutonomyFloor = &level
		}
		policies = append(policies, p)
	}
	if cfg.Discord.AutonomyFloor != "" || len(cfg.Discord.ToolAllowlist) > 0 {
		p := ChannelPolicy{Channel: "discord", ToolAllowlist: cfg.Discord.ToolAllowlist}
		if cfg.Discord.AutonomyFloor != "" {
			level := security.ParseAutonomyLevel(cfg.Discord.AutonomyFloor)
			p.AutonomyFloor = &level
		}
		policies = append(policies, p)
	}

	return NewChannelPolicyRegistry(policies)
}
