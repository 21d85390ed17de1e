package agentloop

import (
	"fmt"
	"strings"
)

// Preview limits for tool output shown in events and console logs. The
// envelope sent to the model always carries the full output.
const (
	PreviewMaxChars = 4000
	PreviewMaxLines = 60
)

// TruncateOutput keeps the head and tail of output within maxChars.
func TruncateOutput(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	half := maxChars / 2
	removed := len(output) - 2*half
	return output[:half] +
		fmt.Sprintf("\n[... %d characters omitted ...]\n", removed) +
		output[len(output)-half:]
}

// TruncateLines keeps the head and tail of output within maxLines lines.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// Preview shortens output for display.
func Preview(output string) string {
	return TruncateLines(TruncateOutput(output, PreviewMaxChars), PreviewMaxLines)
}
