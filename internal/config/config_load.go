package config

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:           "~/.asteroniris/workspace",
				RestrictToWorkspace: true,
				Provider:            "anthropic",
				Model:               "claude-sonnet-4-5-20250929",
				MaxTokens:           8192,
				Temperature:         0.7,
				MaxToolIterations:   20,
				ContextWindow:       200000,
			},
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				StreamMode:    "none",
				ReactionLevel: "full",
			},
		},
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18790,
			MaxMessageChars: 32000,
			RateLimitRPM:    20,
		},
		Tools: ToolsConfig{
			Web: WebToolsConfig{
				DuckDuckGo: DuckDuckGoConfig{Enabled: true, MaxResults: 5},
			},
			Browser: BrowserToolConfig{
				Enabled:  true,
				Headless: true,
			},
			ExecApproval: ExecApprovalCfg{
				Security: "full",
				Ask:      "off",
			},
		},
		Sessions: SessionsConfig{
			Storage: "~/.asteroniris/sessions",
		},
		Security: SecurityConfig{
			Autonomy:           "read_only",
			TemperatureMin:     0.0,
			TemperatureMax:     2.0,
		},
		AuthProfile: AuthProfileConfig{
			CooldownSeconds: 300,
		},
		Memory: MemoryStoreConfig{
			IngestRateLimitAPISec:  10,
			IngestRateLimitPollSec: 30,
		},
		Cron: CronConfig{
			MaxRetries:      3,
			RetryBaseDelay:  "2s",
			RetryMaxDelay:   "30s",
			AgentPendingCap: 5,
			PollInterval:    "15s",
		},
	}
}

// Load reads config from a TOML file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.applyContextPruningDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyContextPruningDefaults()
	return cfg, nil
}

// envLookup returns the value of the "ASTERONIRIS_"-prefixed variant of key
// if set, else the bare variant, else "".
func envLookup(key string) string {
	if v := os.Getenv("ASTERONIRIS_" + key); v != "" {
		return v
	}
	return os.Getenv(key)
}

// applyEnvOverrides overlays env vars onto the config. Each variable is
// looked up as ASTERONIRIS_<NAME> first, falling back to the bare <NAME>.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := envLookup(key); v != "" {
			*dst = v
		}
	}

	envStr("ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("ANTHROPIC_BASE_URL", &c.Providers.Anthropic.APIBase)
	envStr("OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("GROQ_API_KEY", &c.Providers.Groq.APIKey)
	envStr("DEEPSEEK_API_KEY", &c.Providers.DeepSeek.APIKey)
	envStr("GEMINI_API_KEY", &c.Providers.Gemini.APIKey)
	envStr("MISTRAL_API_KEY", &c.Providers.Mistral.APIKey)
	envStr("XAI_API_KEY", &c.Providers.XAI.APIKey)
	envStr("MINIMAX_API_KEY", &c.Providers.MiniMax.APIKey)
	envStr("COHERE_API_KEY", &c.Providers.Cohere.APIKey)
	envStr("PERPLEXITY_API_KEY", &c.Providers.Perplexity.APIKey)

	// Generic fallback API_KEY/PROVIDER apply to whichever default provider
	// is configured, matching the onboarding-free single-provider case.
	if v := envLookup("API_KEY"); v != "" {
		switch c.Agents.Defaults.Provider {
		case "openai":
			c.Providers.OpenAI.APIKey = v
		case "openrouter":
			c.Providers.OpenRouter.APIKey = v
		default:
			c.Providers.Anthropic.APIKey = v
		}
	}
	envStr("PROVIDER", &c.Agents.Defaults.Provider)
	envStr("MODEL", &c.Agents.Defaults.Model)
	if v := envLookup("TEMPERATURE"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil && t >= 0.0 && t <= 2.0 {
			c.Agents.Defaults.Temperature = t
		}
	}

	envStr("GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("DISCORD_TOKEN", &c.Channels.Discord.Token)

	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}

	envStr("WORKSPACE", &c.Agents.Defaults.Workspace)
	envStr("SESSIONS_STORAGE", &c.Sessions.Storage)

	envStr("GATEWAY_HOST", &c.Gateway.Host)
	envStr("HOST", &c.Gateway.Host)
	if v := envLookup("GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	if v := envLookup("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := envLookup("TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := envLookup("TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	if v := envLookup("OWNER_IDS"); v != "" {
		c.Gateway.OwnerIDs = strings.Split(v, ",")
	}

	envStr("TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("TSNET_DIR", &c.Tailscale.StateDir)

	envStr("SECURITY_AUTONOMY", &c.Security.Autonomy)
	if v := envLookup("SECURITY_ACTION_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Security.ActionRateLimit = &n
		}
	}
	if v := envLookup("SECURITY_COST_RATE_LIMIT_CENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Security.CostRateLimitCents = n
		}
	}
}

// applyContextPruningDefaults auto-enables context pruning when the Anthropic
// provider is configured.
func (c *Config) applyContextPruningDefaults() {
	if c.Providers.Anthropic.APIKey == "" {
		return
	}

	defaults := &c.Agents.Defaults

	if defaults.ContextPruning == nil {
		defaults.ContextPruning = &ContextPruningConfig{
			Mode: "cache-ttl",
		}
	} else if defaults.ContextPruning.Mode == "" {
		defaults.ContextPruning.Mode = "cache-ttl"
	}
}

// Save writes the config to a TOML file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for optimistic concurrency.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := toml.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Agents.Defaults.Workspace)
}

// ResolveAgent returns the effective config for a given agent ID,
// merging defaults with per-agent overrides.
func (c *Config) ResolveAgent(agentID string) AgentDefaults {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := c.Agents.Defaults
	if spec, ok := c.Agents.List[agentID]; ok {
		if spec.Provider != "" {
			d.Provider = spec.Provider
		}
		if spec.Model != "" {
			d.Model = spec.Model
		}
		if spec.MaxTokens > 0 {
			d.MaxTokens = spec.MaxTokens
		}
		if spec.Temperature > 0 {
			d.Temperature = spec.Temperature
		}
		if spec.MaxToolIterations > 0 {
			d.MaxToolIterations = spec.MaxToolIterations
		}
		if spec.ContextWindow > 0 {
			d.ContextWindow = spec.ContextWindow
		}
		if spec.Workspace != "" {
			d.Workspace = spec.Workspace
		}
		if spec.AgentType != "" {
			d.AgentType = spec.AgentType
		}
	}

	return d
}

// ResolveDefaultAgentID returns the ID of the agent marked as default,
// or "default" if none is explicitly marked.
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, spec := range c.Agents.List {
		if spec.Default {
			return id
		}
	}
	return DefaultAgentID
}

// ResolveDisplayName returns the display name for an agent.
func (c *Config) ResolveDisplayName(agentID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if spec, ok := c.Agents.List[agentID]; ok && spec.DisplayName != "" {
		return spec.DisplayName
	}
	return "AsteronIris"
}

// ApplyEnvOverrides re-applies environment variable overrides onto the config.
// Call this after modifying config to restore runtime secrets from env vars.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
	c.applyContextPruningDefaults()
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
