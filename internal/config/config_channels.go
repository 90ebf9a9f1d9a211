package config

// ChannelsConfig contains per-channel configuration. Only the channels the
// supervisor actually drives (C8) are configurable; see DESIGN.md for the
// channel integrations left out of this build.
type ChannelsConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
	Discord  DiscordConfig  `toml:"discord"`
}

type TelegramConfig struct {
	Enabled        bool                `toml:"enabled"`
	Token          string              `toml:"token"`
	Proxy          string              `toml:"proxy,omitempty"`
	AllowFrom      FlexibleStringSlice `toml:"allow_from"`
	DMPolicy       string              `toml:"dm_policy,omitempty"`
	GroupPolicy    string              `toml:"group_policy,omitempty"`
	RequireMention *bool               `toml:"require_mention,omitempty"`
	HistoryLimit   int                 `toml:"history_limit,omitempty"`
	StreamMode     string              `toml:"stream_mode,omitempty"`
	ReactionLevel  string              `toml:"reaction_level,omitempty"` // defaulted to "full"; not read by the channel or the approval brokers
	MediaMaxBytes  int64               `toml:"media_max_bytes,omitempty"`
	LinkPreview    *bool               `toml:"link_preview,omitempty"`
	AutonomyFloor  string              `toml:"autonomy_floor,omitempty"` // caps this channel's effective autonomy (C8 ChannelPolicy)
	ToolAllowlist  []string            `toml:"tool_allowlist,omitempty"`

	// VoiceAgentID routes voice/audio messages to a dedicated speaking
	// agent instead of the channel's default agent.
	VoiceAgentID string `toml:"voice_agent_id,omitempty"`

	// Speech-to-text settings for voice message transcription.
	STTAPIKey         string `toml:"stt_api_key,omitempty"`
	STTProxyURL       string `toml:"stt_proxy_url,omitempty"`
	STTTenantID       string `toml:"stt_tenant_id,omitempty"`
	STTTimeoutSeconds int    `toml:"stt_timeout_seconds,omitempty"`
}

type DiscordConfig struct {
	Enabled        bool                `toml:"enabled"`
	Token          string              `toml:"token"`
	AllowFrom      FlexibleStringSlice `toml:"allow_from"`
	DMPolicy       string              `toml:"dm_policy,omitempty"`
	GroupPolicy    string              `toml:"group_policy,omitempty"`
	RequireMention *bool               `toml:"require_mention,omitempty"`
	HistoryLimit   int                 `toml:"history_limit,omitempty"`
	AutonomyFloor  string              `toml:"autonomy_floor,omitempty"`
	ToolAllowlist  []string            `toml:"tool_allowlist,omitempty"`
}

// ProvidersConfig maps provider name to its config.
type ProvidersConfig struct {
	Anthropic  ProviderConfig `toml:"anthropic"`
	OpenAI     ProviderConfig `toml:"openai"`
	OpenRouter ProviderConfig `toml:"openrouter"`
	Groq       ProviderConfig `toml:"groq"`
	Gemini     ProviderConfig `toml:"gemini"`
	DeepSeek   ProviderConfig `toml:"deepseek"`
	Mistral    ProviderConfig `toml:"mistral"`
	XAI        ProviderConfig `toml:"xai"`
	MiniMax    ProviderConfig `toml:"minimax"`
	Cohere     ProviderConfig `toml:"cohere"`
	Perplexity ProviderConfig `toml:"perplexity"`
}

type ProviderConfig struct {
	APIKey  string `toml:"api_key"`
	APIBase string `toml:"api_base,omitempty"`
}

// HasAnyProvider returns true if at least one provider has an API key configured.
func (c *Config) HasAnyProvider() bool {
	p := c.Providers
	return p.Anthropic.APIKey != "" ||
		p.OpenAI.APIKey != "" ||
		p.OpenRouter.APIKey != "" ||
		p.Groq.APIKey != "" ||
		p.Gemini.APIKey != "" ||
		p.DeepSeek.APIKey != "" ||
		p.Mistral.APIKey != "" ||
		p.XAI.APIKey != "" ||
		p.MiniMax.APIKey != "" ||
		p.Cohere.APIKey != "" ||
		p.Perplexity.APIKey != ""
}

// GatewayConfig controls the supervisor's owner/bind policy.
type GatewayConfig struct {
	Host              string   `toml:"host"`
	Port              int      `toml:"port"`
	Token             string   `toml:"token,omitempty"`
	OwnerIDs          []string `toml:"owner_ids,omitempty"`
	AllowedOrigins    []string `toml:"allowed_origins,omitempty"`
	MaxMessageChars   int      `toml:"max_message_chars,omitempty"`
	RateLimitRPM      int      `toml:"rate_limit_rpm,omitempty"`
	InjectionAction   string   `toml:"injection_action,omitempty"` // "log", "warn" (default), "block", "off"
	InboundDebounceMs int      `toml:"inbound_debounce_ms,omitempty"`
	RequireTunnel     bool     `toml:"require_tunnel,omitempty"` // refuse to bind a public host without a Tailscale tunnel
}

// ToolsConfig controls tool availability, policy, and web search.
type ToolsConfig struct {
	Profile          string                     `toml:"profile,omitempty"`
	Allow            []string                   `toml:"allow,omitempty"`
	Deny             []string                   `toml:"deny,omitempty"`
	AlsoAllow        []string                   `toml:"also_allow,omitempty"`
	ByProvider       map[string]*ToolPolicySpec `toml:"by_provider,omitempty"`
	ExecApproval     ExecApprovalCfg            `toml:"exec_approval,omitempty"`
	Web              WebToolsConfig             `toml:"web"`
	Browser          BrowserToolConfig          `toml:"browser"`
	RateLimitPerHour int                        `toml:"rate_limit_per_hour,omitempty"`
	ScrubCredentials *bool                      `toml:"scrub_credentials,omitempty"`
	McpServers       map[string]*MCPServerConfig `toml:"mcp_servers,omitempty"`
}

// MCPServerConfig configures a single external MCP server connection.
type MCPServerConfig struct {
	Transport  string            `toml:"transport"`
	Command    string            `toml:"command,omitempty"`
	Args       []string          `toml:"args,omitempty"`
	Env        map[string]string `toml:"env,omitempty"`
	URL        string            `toml:"url,omitempty"`
	Headers    map[string]string `toml:"headers,omitempty"`
	Enabled    *bool             `toml:"enabled,omitempty"`
	ToolPrefix string            `toml:"tool_prefix,omitempty"`
	TimeoutSec int               `toml:"timeout_sec,omitempty"`
}

// IsEnabled returns whether this MCP server is enabled (default true).
func (c *MCPServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ExecApprovalCfg configures command execution approval.
type ExecApprovalCfg struct {
	Security  string   `toml:"security,omitempty"` // "deny", "allowlist", "full" (default "full")
	Ask       string   `toml:"ask,omitempty"`      // "off", "on-miss", "always" (default "off")
	Allowlist []string `toml:"allowlist,omitempty"`
}

// BrowserToolConfig controls the browser automation tool.
type BrowserToolConfig struct {
	Enabled        bool     `toml:"enabled"`
	Headless       bool     `toml:"headless,omitempty"`
	AllowedDomains []string `toml:"allowed_domains,omitempty"` // "*", "*.example.com", or exact host
}

// ToolPolicySpec defines a tool policy at any level (global, per-agent, per-provider).
type ToolPolicySpec struct {
	Profile    string                     `toml:"profile,omitempty"`
	Allow      []string                   `toml:"allow,omitempty"`
	Deny       []string                   `toml:"deny,omitempty"`
	AlsoAllow  []string                   `toml:"also_allow,omitempty"`
	ByProvider map[string]*ToolPolicySpec `toml:"by_provider,omitempty"`
	Vision     *VisionConfig              `toml:"vision,omitempty"`
	ImageGen   *ImageGenConfig            `toml:"image_gen,omitempty"`
}

// VisionConfig configures the provider and model for vision tools (read_image).
type VisionConfig struct {
	Provider string `toml:"provider,omitempty"`
	Model    string `toml:"model,omitempty"`
}

// ImageGenConfig configures the provider and model for image generation (create_image).
type ImageGenConfig struct {
	Provider string `toml:"provider,omitempty"`
	Model    string `toml:"model,omitempty"`
	Size     string `toml:"size,omitempty"`
	Quality  string `toml:"quality,omitempty"`
}

type WebToolsConfig struct {
	Brave      BraveConfig      `toml:"brave"`
	DuckDuckGo DuckDuckGoConfig `toml:"duckduckgo"`
}

type BraveConfig struct {
	Enabled    bool   `toml:"enabled"`
	APIKey     string `toml:"api_key"`
	MaxResults int    `toml:"max_results"`
}

type DuckDuckGoConfig struct {
	Enabled    bool `toml:"enabled"`
	MaxResults int  `toml:"max_results"`
}

// SessionsConfig controls session behavior.
type SessionsConfig struct {
	Storage string `toml:"storage"`
	Scope   string `toml:"scope,omitempty"`
	DmScope string `toml:"dm_scope,omitempty"`
	MainKey string `toml:"main_key,omitempty"`
}
