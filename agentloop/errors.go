package agentloop

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures by how the loop must treat them.
type ErrorKind string

const (
	KindConfiguration    ErrorKind = "configuration"
	KindSourceControl    ErrorKind = "source_control"
	KindLocalVCS         ErrorKind = "local_vcs"
	KindCommandExecution ErrorKind = "command_execution"
	KindMissingArguments ErrorKind = "missing_arguments"
	KindTokenization     ErrorKind = "tokenization"
	KindSerialization    ErrorKind = "serialization"
	KindTimeout          ErrorKind = "timeout"
	KindUnknownTool      ErrorKind = "unknown_tool"
	KindIssueValidation  ErrorKind = "issue_validation"
)

// Error is the error type returned by the agent loop and tool executor.
type Error struct {
	Kind    ErrorKind
	Op      string // operation or tool name
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	} else if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind ErrorKind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
