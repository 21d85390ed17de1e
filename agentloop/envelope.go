package agentloop

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// CompletionSentinel is the envelope message that ends a session.
const CompletionSentinel = "task_completed"

// Envelope is the uniform result of every tool execution. Its JSON form is
// the tool message content the model sees.
type Envelope struct {
	Status  string  `json:"status"`
	Message *string `json:"message"`
	Result  any     `json:"result"`
	Retry   bool    `json:"retry"`
}

// OK returns a successful envelope carrying result.
func OK(result any) Envelope {
	return Envelope{Status: StatusOK, Result: result}
}

// Retry returns a successful envelope that asks the model to try again.
func Retry(message string, result any) Envelope {
	return Envelope{Status: StatusOK, Message: &message, Result: result, Retry: true}
}

// Failure converts a tool error into an envelope. Every failure asks for a
// retry; fatal conditions never reach an envelope.
func Failure(err error) Envelope {
	msg := err.Error()
	env := Envelope{Status: StatusError, Message: &msg, Retry: true}
	var ce *CommandError
	if errors.As(err, &ce) {
		env.Result = map[string]any{
			"exit_code": ce.ExitCode,
			"stdout":    ce.Stdout,
			"stderr":    ce.Stderr,
		}
	}
	return env
}

// Completed returns the envelope of the done tool.
func Completed(summary string) Envelope {
	msg := CompletionSentinel
	var result any
	if summary != "" {
		result = map[string]string{"summary": summary}
	}
	return Envelope{Status: StatusOK, Message: &msg, Result: result}
}

// IsCompletion reports whether e ends the session.
func (e Envelope) IsCompletion() bool {
	return e.Status == StatusOK && !e.Retry && e.Message != nil && *e.Message == CompletionSentinel
}

// MessageText returns the message or "".
func (e Envelope) MessageText() string {
	if e.Message == nil {
		return ""
	}
	return *e.Message
}

// JSON renders the envelope. Results that cannot be encoded are replaced
// with their string form so a tool message is always produced.
func (e Envelope) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		e.Result = fmt.Sprintf("%v", e.Result)
		data, err = json.Marshal(e)
		if err != nil {
			return fmt.Sprintf(`{"status":%q,"message":null,"result":null,"retry":%t}`, e.Status, e.Retry)
		}
	}
	return string(data)
}
