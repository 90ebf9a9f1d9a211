package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Thresholds for the no-progress detector: the same tool called with the
// same arguments producing the same result this many times in a row.
const (
	loopWarnThreshold     = 3
	loopCriticalThreshold = 5
)

// toolLoopState detects an agent stuck re-issuing an identical tool call.
// It keys on (tool, args-hash) and counts consecutive identical results;
// any different call resets the streak.
type toolLoopState struct {
	lastKey    string
	lastResult string
	streak     int
}

// record notes a call and returns the args hash used to correlate its
// result.
func (s *toolLoopState) record(tool string, args map[string]interface{}) string {
	encoded, _ := json.Marshal(args)
	sum := sha256.Sum256(append([]byte(tool+"\x00"), encoded...))
	key := hex.EncodeToString(sum[:8])

	if key != s.lastKey {
		s.lastKey = key
		s.lastResult = ""
		s.streak = 0
	}
	return key
}

// recordResult notes the result for the most recent call.
func (s *toolLoopState) recordResult(argsHash, result string) {
	if argsHash != s.lastKey {
		return
	}
	if result == s.lastResult {
		s.streak++
	} else {
		s.lastResult = result
		s.streak = 1
	}
}

// detect reports "" (fine), "warning", or "critical" plus a message to
// inject when the streak crosses a threshold.
func (s *toolLoopState) detect(tool, argsHash string) (string, string) {
	if argsHash != s.lastKey {
		return "", ""
	}
	switch {
	case s.streak >= loopCriticalThreshold:
		return "critical", fmt.Sprintf("Tool %s was called %d times with identical arguments and results.", tool, s.streak)
	case s.streak >= loopWarnThreshold:
		return "warning", fmt.Sprintf("[System: you have called %s %d times with the same arguments and gotten the same result. Change your approach or answer with what you have.]", tool, s.streak)
	}
	return "", ""
}
