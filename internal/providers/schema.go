package providers

// JSON-Schema keys some providers reject in tool parameter schemas.
// Anthropic and Gemini-flavoured endpoints are strict about unknown
// keywords; OpenAI-compatible endpoints tolerate most but choke on "$schema".
var strictSchemaDrop = map[string]bool{
	"$schema":              true,
	"$id":                  true,
	"additionalProperties": false, // kept: providers accept it
}

var geminiSchemaDrop = map[string]bool{
	"$schema":              true,
	"$id":                  true,
	"additionalProperties": true,
	"default":              true,
	"examples":             true,
}

// CleanSchemaForProvider deep-copies a tool parameter schema and strips the
// keywords the named provider rejects. The input map is never mutated —
// registries share one schema across providers.
func CleanSchemaForProvider(provider string, schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	drop := strictSchemaDrop
	if provider == "gemini" {
		drop = geminiSchemaDrop
	}
	return cleanMap(schema, drop)
}

// CleanToolSchemas renders tool definitions into the OpenAI-style tools
// array with per-provider schema cleaning applied.
func CleanToolSchemas(provider string, tools []ToolDefinition) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Function.Name,
				"description": t.Function.Description,
				"parameters":  CleanSchemaForProvider(provider, t.Function.Parameters),
			},
		})
	}
	return out
}

func cleanMap(m map[string]interface{}, drop map[string]bool) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if drop[k] {
			continue
		}
		out[k] = cleanValue(v, drop)
	}
	return out
}

func cleanValue(v interface{}, drop map[string]bool) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cleanMap(t, drop)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cleanValue(e, drop)
		}
		return out
	default:
		return v
	}
}
