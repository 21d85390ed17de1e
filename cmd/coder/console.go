package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/martinemde/coder/agentloop"
)

// renderEvents prints session progress until events is closed.
func renderEvents(out io.Writer, events <-chan agentloop.SessionEvent) {
	for ev := range events {
		renderEvent(out, ev)
	}
}

func renderEvent(out io.Writer, ev agentloop.SessionEvent) {
	str := func(key string) string {
		s, _ := ev.Data[key].(string)
		return s
	}
	switch ev.Kind {
	case agentloop.EventSessionStart:
		fmt.Fprintf(out, "Session %s started with %s\n", ev.ConversationID, str("model"))
	case agentloop.EventAssistantText:
		fmt.Fprintf(out, "\n%s\n", agentloop.Preview(str("text")))
	case agentloop.EventToolCallStart:
		fmt.Fprintf(out, "→ %s\n", str("tool"))
	case agentloop.EventToolCallEnd:
		status := str("status")
		fmt.Fprintf(out, "← %s [%s]\n", str("tool"), status)
		if status != "ok" {
			fmt.Fprintln(out, indent(str("output")))
		}
	case agentloop.EventLoopDetection:
		fmt.Fprintln(out, "! repeating tool calls detected, steering the model")
	case agentloop.EventWarning:
		fmt.Fprintf(out, "! %s\n", str("message"))
	case agentloop.EventError:
		fmt.Fprintf(out, "! %s\n", str("error"))
	}
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n    ")
}

func printOutcome(out io.Writer, o agentloop.Outcome) {
	switch o.State {
	case agentloop.StateCompleted:
		fmt.Fprintf(out, "\nDone after %d iterations (%s).\n", o.Iterations, o.Elapsed.Round(time.Second))
		if o.Summary != "" {
			fmt.Fprintln(out, o.Summary)
		}
	case agentloop.StateTimedOut:
		fmt.Fprintf(out, "\nStopped: session timed out after %s.\n", o.Elapsed.Round(time.Second))
	case agentloop.StateIterationLimit:
		fmt.Fprintf(out, "\nStopped: reached the iteration limit (%d).\n", o.Iterations)
	case agentloop.StateEmptyResponse:
		fmt.Fprintln(out, "\nStopped: the model returned an empty response.")
	default:
		fmt.Fprintf(out, "\nStopped in state %s.\n", o.State)
	}
	if o.Usage.TotalTokens > 0 {
		fmt.Fprintf(out, "Tokens: %d in, %d out.\n", o.Usage.InputTokens, o.Usage.OutputTokens)
	}
}
