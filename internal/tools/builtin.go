package tools

import (
	"github.com/asteroniris-dev/asteroniris/internal/config"
	"github.com/asteroniris-dev/asteroniris/internal/memory"
	"github.com/asteroniris-dev/asteroniris/internal/providers"
)

// RegisterBuiltins wires every tool this build ships into reg, following
// the gateway bootstrap's registration order: filesystem/exec first, then
// the web tools, then the provider-backed and memory-governance tools.
// Tools whose prerequisite config is absent (no Brave key, browser
// disabled) are simply skipped rather than registered half-broken.
func RegisterBuiltins(reg *Registry, cfg *config.Config, providerReg *providers.Registry, memStore *memory.Store, workspace string) {
	restrict := cfg.Agents.Defaults.RestrictToWorkspace

	reg.Register(NewReadFileTool(workspace, restrict))
	reg.Register(NewWriteFileTool(workspace, restrict))
	reg.Register(NewExecTool(workspace, restrict))

	if search := NewWebSearchTool(WebSearchConfig{
		BraveAPIKey:     cfg.Tools.Web.Brave.APIKey,
		BraveEnabled:    cfg.Tools.Web.Brave.Enabled,
		BraveMaxResults: cfg.Tools.Web.Brave.MaxResults,
		DDGEnabled:      cfg.Tools.Web.DuckDuckGo.Enabled,
		DDGMaxResults:   cfg.Tools.Web.DuckDuckGo.MaxResults,
	}); search != nil {
		reg.Register(search)
	}
	reg.Register(NewWebFetchTool(WebFetchConfig{}))

	if cfg.Tools.Browser.Enabled {
		reg.Register(NewBrowserTool(BrowserConfig{
			Enabled:   true,
			Headless:  cfg.Tools.Browser.Headless,
			Allowlist: DomainAllowlist(cfg.Tools.Browser.AllowedDomains),
		}))
	}

	if len(providerReg.Names()) > 0 {
		reg.Register(NewCreateImageTool(providerReg))
		reg.Register(NewReadImageTool(providerReg))
		reg.Register(NewTasteEvaluateTool(providerReg))
		reg.Register(NewTasteCompareTool(providerReg))
	}

	memPolicy := memory.PolicyContext{}
	reg.Register(NewMemoryStoreTool(memStore, memPolicy))
	reg.Register(NewMemoryRecallTool(memStore, memPolicy))
	reg.Register(NewMemoryForgetTool(memStore, memPolicy))
	reg.Register(NewMemoryGovernanceTool(memStore))
	reg.Register(NewSessionsListTool())
	reg.Register(NewSessionStatusTool())
}
