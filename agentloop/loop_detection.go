package agentloop

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// callSignature identifies a tool call by name and argument hash.
func callSignature(name string, arguments json.RawMessage) string {
	h := sha256.Sum256(arguments)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// recentSignatures returns up to count signatures of the latest tool calls
// in messages, oldest first.
func recentSignatures(messages []Message, count int) []string {
	var sigs []string
	for i := len(messages) - 1; i >= 0 && len(sigs) < count; i-- {
		m := messages[i]
		if m.Role != RoleAssistant {
			continue
		}
		for j := len(m.ToolCalls) - 1; j >= 0 && len(sigs) < count; j-- {
			sigs = append(sigs, callSignature(m.ToolCalls[j].Name, m.ToolCalls[j].Arguments))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop reports whether the last window tool calls repeat a pattern
// of length 1, 2 or 3.
func DetectLoop(messages []Message, window int) bool {
	if window < 2 {
		return false
	}
	sigs := recentSignatures(messages, window)
	if len(sigs) < window {
		return false
	}

	for size := 1; size <= 3 && size < window; size++ {
		if window%size != 0 {
			continue
		}
		repeats := true
		for i := size; i < window && repeats; i++ {
			if sigs[i] != sigs[i%size] {
				repeats = false
			}
		}
		if repeats {
			return true
		}
	}
	return false
}
