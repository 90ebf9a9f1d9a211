package scheduler

import (
	"fmt"
	"strings"

	"github.com/asteroniris-dev/asteroniris/internal/security"
)

func isEnvAssignment(word string) bool {
	if !strings.Contains(word, "=") {
		return false
	}
	r := rune(word[0])
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
}

func stripWrappingQuotes(token string) string {
	return strings.Trim(token, `"'`)
}

// forbiddenPathArgument scans command for a bare path-looking argument that
// the security policy would reject, independent of whether the first token
// (the executable) is itself allowlisted.
func forbiddenPathArgument(policy *security.Policy, command string) (string, bool) {
	normalized := command
	for _, sep := range []string{"&&", "||"} {
		normalized = strings.ReplaceAll(normalized, sep, "\x00")
	}
	for _, sep := range []string{"\n", ";", "|"} {
		normalized = strings.ReplaceAll(normalized, sep, "\x00")
	}

	for _, segment := range strings.Split(normalized, "\x00") {
		tokens := strings.Fields(segment)
		if len(tokens) == 0 {
			continue
		}
		idx := 0
		for idx < len(tokens) && isEnvAssignment(tokens[idx]) {
			idx++
		}
		if idx >= len(tokens) {
			continue
		}
		idx++ // skip the executable token itself

		for _, token := range tokens[idx:] {
			candidate := stripWrappingQuotes(token)
			if candidate == "" || strings.HasPrefix(candidate, "-") || strings.Contains(candidate, "://") {
				continue
			}
			looksLikePath := strings.HasPrefix(candidate, "/") || strings.HasPrefix(candidate, "./") ||
				strings.HasPrefix(candidate, "../") || strings.HasPrefix(candidate, "~/") || strings.Contains(candidate, "/")
			if looksLikePath && policy.IsPathAllowed(candidate) != nil {
				return candidate, true
			}
		}
	}
	return "", false
}

func policyDenial(routeMarker, reason string) string {
	return fmt.Sprintf("%s\n%s", routeMarker, reason)
}

// enforcePolicyInvariants is the shared gate the direct-shell and
// agent-blocked routes both run before (or instead of) executing: forbidden
// path argument scan, then command allowlist, then a zero-cost budget
// consumption to advance the action-rate bucket.
func enforcePolicyInvariants(policy *security.Policy, command, routeMarker string) error {
	if path, found := forbiddenPathArgument(policy, command); found {
		return fmt.Errorf("%s", policyDenial(routeMarker, fmt.Sprintf("blocked by security policy: forbidden path argument: %s", path)))
	}
	if err := policy.IsCommandAllowed(command); err != nil {
		return fmt.Errorf("%s", policyDenial(routeMarker, fmt.Sprintf("blocked by security policy: command not allowed: %s", command)))
	}
	if err := policy.ConsumeActionAndCost(schedulerEntityID, 0); err != nil {
		return fmt.Errorf("%s", policyDenial(routeMarker, err.Error()))
	}
	return nil
}
