package agentloop

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// StripThinking removes every <think>...</think> block from text and trims
// the result. A closing tag without an opening one, or an opening tag that
// is never closed, is a serialization error.
func StripThinking(text string) (string, error) {
	var sb strings.Builder
	rest := text
	for {
		open := strings.Index(rest, thinkOpen)
		closeIdx := strings.Index(rest, thinkClose)

		if open == -1 {
			if closeIdx != -1 {
				return "", newError(KindSerialization, "strip_thinking", "closing "+thinkClose+" without matching "+thinkOpen, nil)
			}
			sb.WriteString(rest)
			break
		}
		if closeIdx != -1 && closeIdx < open {
			return "", newError(KindSerialization, "strip_thinking", thinkClose+" precedes "+thinkOpen, nil)
		}

		sb.WriteString(rest[:open])
		after := rest[open+len(thinkOpen):]
		end := strings.Index(after, thinkClose)
		if end == -1 {
			return "", newError(KindSerialization, "strip_thinking", "unterminated "+thinkOpen+" block", nil)
		}
		if nested := strings.Index(after[:end], thinkOpen); nested != -1 {
			return "", newError(KindSerialization, "strip_thinking", "nested "+thinkOpen+" block", nil)
		}
		rest = after[end+len(thinkClose):]
	}
	return strings.TrimSpace(sb.String()), nil
}
