package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/asteroniris-dev/asteroniris/internal/providers"
)

// defaultTasteAxes mirrors the axis set a reviewer would score prose on
// when asked "is this good" without further qualification.
var defaultTasteAxes = []string{"clarity", "correctness", "concision", "tone"}

// tasteProviderPriority picks a judge model the same way read_image.go
// picks a vision model: a short, hardcoded fallback chain.
var tasteProviderPriority = []string{"anthropic", "openrouter", "openai"}

type tasteReport struct {
	Axes    map[string]float64 `json:"axes"`
	Overall float64            `json:"overall"`
	Notes   string             `json:"notes"`
}

type tasteComparison struct {
	Winner string                        `json:"winner"`
	A      tasteReport                   `json:"a"`
	B      tasteReport                   `json:"b"`
	Deltas map[string]float64            `json:"deltas"`
}

func resolveTasteJudge(registry *providers.Registry) (providers.Provider, string, error) {
	for _, name := range tasteProviderPriority {
		p, err := registry.Get(name)
		if err != nil {
			continue
		}
		return p, p.DefaultModel(), nil
	}
	return nil, "", fmt.Errorf("no judge-capable provider available (need one of: %v)", tasteProviderPriority)
}

func runTasteJudge(ctx context.Context, registry *providers.Registry, prompt string) (tasteReport, error) {
	provider, model, err := resolveTasteJudge(registry)
	if err != nil {
		return tasteReport{}, err
	}
	resp, err := provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: prompt}},
		Model:    model,
		Options: map[string]interface{}{
			"max_tokens":  512,
			"temperature": 0.0,
		},
	})
	if err != nil {
		return tasteReport{}, fmt.Errorf("judge call: %w", err)
	}
	var report tasteReport
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &report); err != nil {
		return tasteReport{}, fmt.Errorf("judge returned non-JSON report: %w", err)
	}
	return report, nil
}

func tasteJudgePrompt(content string, axes []string) string {
	return fmt.Sprintf(
		"Score the following content on a 0.0-1.0 scale for each of these axes: %v.\n"+
			"Reply with ONLY a JSON object of the exact shape "+
			`{"axes":{"<axis>":<score>,...},"overall":<score>,"notes":"<one sentence>"}.`+
			"\n\nContent:\n%s", axes, content,
	)
}

// TasteEvaluateTool scores a single piece of content against an axis set,
// producing a structured JSON report.
type TasteEvaluateTool struct {
	registry *providers.Registry
}

func NewTasteEvaluateTool(registry *providers.Registry) *TasteEvaluateTool {
	return &TasteEvaluateTool{registry: registry}
}

func (t *TasteEvaluateTool) Name() string { return "taste_evaluate" }

func (t *TasteEvaluateTool) Description() string {
	return "Evaluate content against a set of axes (default: clarity, correctness, concision, tone) using a judge model, returning a JSON score report."
}

func (t *TasteEvaluateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{"type": "string", "description": "Content to evaluate."},
			"axes": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Axes to score. Defaults to clarity/correctness/concision/tone.",
			},
		},
		"required": []string{"content"},
	}
}

func (t *TasteEvaluateTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	content, _ := args["content"].(string)
	if content == "" {
		return ErrorResult("content is required")
	}
	axes := readStringSlice(args["axes"])
	if len(axes) == 0 {
		axes = defaultTasteAxes
	}

	report, err := runTasteJudge(ctx, t.registry, tasteJudgePrompt(content, axes))
	if err != nil {
		return ErrorResult(err.Error())
	}
	out, _ := json.Marshal(report)
	return NewResult(string(out))
}

// TasteCompareTool scores two pieces of content on the same axes and picks
// a winner, used wherever the agent needs an A/B preference rather than an
// absolute score.
type TasteCompareTool struct {
	registry *providers.Registry
}

func NewTasteCompareTool(registry *providers.Registry) *TasteCompareTool {
	return &TasteCompareTool{registry: registry}
}

func (t *TasteCompareTool) Name() string { return "taste_compare" }

func (t *TasteCompareTool) Description() string {
	return "Compare two pieces of content axis-by-axis using a judge model and pick a winner, returning a JSON comparison report."
}

func (t *TasteCompareTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"a":    map[string]interface{}{"type": "string", "description": "First candidate."},
			"b":    map[string]interface{}{"type": "string", "description": "Second candidate."},
			"axes": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		},
		"required": []string{"a", "b"},
	}
}

func (t *TasteCompareTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	a, _ := args["a"].(string)
	b, _ := args["b"].(string)
	if a == "" || b == "" {
		return ErrorResult("both a and b are required")
	}
	axes := readStringSlice(args["axes"])
	if len(axes) == 0 {
		axes = defaultTasteAxes
	}

	reportA, err := runTasteJudge(ctx, t.registry, tasteJudgePrompt(a, axes))
	if err != nil {
		return ErrorResult(fmt.Sprintf("evaluating a: %v", err))
	}
	reportB, err := runTasteJudge(ctx, t.registry, tasteJudgePrompt(b, axes))
	if err != nil {
		return ErrorResult(fmt.Sprintf("evaluating b: %v", err))
	}

	winner := "a"
	if reportB.Overall > reportA.Overall {
		winner = "b"
	}
	deltas := make(map[string]float64, len(axes))
	for _, axis := range axes {
		deltas[axis] = reportB.Axes[axis] - reportA.Axes[axis]
	}
	comparison := tasteComparison{Winner: winner, A: reportA, B: reportB, Deltas: deltas}
	out, _ := json.Marshal(comparison)
	return NewResult(string(out))
}

func readStringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// extractJSONObject trims any judge-model chatter surrounding a JSON
// object, matching the leniency web_fetch_convert.go's extractJSON applies
// to provider output that isn't a bare JSON document.
func extractJSONObject(s string) string {
	start := -1
	depth := 0
	for i, r := range s {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start >= 0 {
				return s[start : i+1]
			}
		}
	}
	return s
}
