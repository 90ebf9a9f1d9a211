package agent

import (
	"regexp"
	"strings"
)

// InputGuard scans inbound user text for prompt-injection markers before it
// reaches the model. Detection is pattern-based and advisory: the loop
// decides whether to log, warn, or block based on its configured action.
type InputGuard struct {
	patterns map[string]*regexp.Regexp
}

// NewInputGuard builds the default pattern set.
func NewInputGuard() *InputGuard {
	return &InputGuard{
		patterns: map[string]*regexp.Regexp{
			"ignore_previous":    regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`),
			"system_override":    regexp.MustCompile(`(?i)you\s+are\s+now\s+(in\s+)?(developer|dan|jailbreak|god)\s*mode`),
			"prompt_extraction":  regexp.MustCompile(`(?i)(print|reveal|repeat|show)\s+(your\s+)?(system\s+prompt|initial\s+instructions)`),
			"fake_system_block":  regexp.MustCompile(`(?i)<\s*/?\s*(system|assistant)\s*>`),
			"credential_request": regexp.MustCompile(`(?i)(send|post|upload)\s+(your|the)\s+(api[\s_-]?key|token|credentials|\.env)`),
		},
	}
}

// Scan returns the names of every pattern the text matches, empty when
// clean.
func (g *InputGuard) Scan(text string) []string {
	if g == nil || text == "" {
		return nil
	}
	lowered := strings.ToLower(text)
	var matches []string
	for name, re := range g.patterns {
		if re.MatchString(lowered) {
			matches = append(matches, name)
		}
	}
	return matches
}
