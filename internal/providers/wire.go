package providers

// ConfigSource carries the provider keys this package builds providers for
// (the config.ProvidersConfig entries it uses, plus DashScope, which config
// does not carry), kept narrow so internal/providers never imports internal/config (which
// would create an import cycle with packages config already depends on).
type ConfigSource struct {
	Anthropic  NamedKey
	OpenAI     NamedKey
	OpenRouter NamedKey
	Groq       NamedKey
	Gemini     NamedKey
	DeepSeek   NamedKey
	Mistral    NamedKey
	XAI        NamedKey
	DashScope  NamedKey
}

// NamedKey is one provider's API key/base pair.
type NamedKey struct {
	APIKey  string
	APIBase string
}

// BuildRegistry registers a provider for every entry in src that carries an
// API key, using the same name/base/default-model table as the gateway's
// provider bootstrap.
func BuildRegistry(src ConfigSource) *Registry {
	reg := NewRegistry()

	if src.Anthropic.APIKey != "" {
		reg.Register(NewAnthropicProvider(src.Anthropic.APIKey))
	}
	if src.OpenAI.APIKey != "" {
		reg.Register(NewOpenAIProvider("openai", src.OpenAI.APIKey, orDefaultBase(src.OpenAI.APIBase, "https://api.openai.com/v1"), "gpt-4o"))
	}
	if src.OpenRouter.APIKey != "" {
		reg.Register(NewOpenAIProvider("openrouter", src.OpenRouter.APIKey, orDefaultBase(src.OpenRouter.APIBase, "https://openrouter.ai/api/v1"), "anthropic/claude-sonnet-4-5-20250929"))
	}
	if src.Groq.APIKey != "" {
		reg.Register(NewOpenAIProvider("groq", src.Groq.APIKey, orDefaultBase(src.Groq.APIBase, "https://api.groq.com/openai/v1"), "llama-3.3-70b-versatile"))
	}
	if src.Gemini.APIKey != "" {
		reg.Register(NewOpenAIProvider("gemini", src.Gemini.APIKey, orDefaultBase(src.Gemini.APIBase, "https://generativelanguage.googleapis.com/v1beta/openai"), "gemini-2.0-flash"))
	}
	if src.DeepSeek.APIKey != "" {
		reg.Register(NewOpenAIProvider("deepseek", src.DeepSeek.APIKey, orDefaultBase(src.DeepSeek.APIBase, "https://api.deepseek.com/v1"), "deepseek-chat"))
	}
	if src.Mistral.APIKey != "" {
		reg.Register(NewOpenAIProvider("mistral", src.Mistral.APIKey, orDefaultBase(src.Mistral.APIBase, "https://api.mistral.ai/v1"), "mistral-large-latest"))
	}
	if src.XAI.APIKey != "" {
		reg.Register(NewOpenAIProvider("xai", src.XAI.APIKey, orDefaultBase(src.XAI.APIBase, "https://api.x.ai/v1"), "grok-3-mini"))
	}
	if src.DashScope.APIKey != "" {
		reg.Register(NewDashScopeProvider(src.DashScope.APIKey, orDefaultBase(src.DashScope.APIBase, "https://dashscope.aliyuncs.com/compatible-mode/v1"), "qwen-max"))
	}

	return reg
}

func orDefaultBase(base, def string) string {
	if base == "" {
		return def
	}
	return base
}
