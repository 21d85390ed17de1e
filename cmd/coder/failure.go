package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/martinemde/coder/agentloop"
	"gopkg.in/yaml.v3"
)

// failuresDir holds conversation dumps of failed sessions.
const failuresDir = ".coder/failures"

type failureRecord struct {
	ConversationID string             `yaml:"conversation_id"`
	CreatedAt      time.Time          `yaml:"created_at"`
	Error          string             `yaml:"error"`
	Kind           string             `yaml:"kind,omitempty"`
	Metadata       agentloop.Metadata `yaml:"metadata"`
	Messages       []failureMessage   `yaml:"messages"`
}

type failureMessage struct {
	Role       string            `yaml:"role"`
	Content    string            `yaml:"content,omitempty"`
	ToolCallID string            `yaml:"tool_call_id,omitempty"`
	ToolCalls  []failureToolCall `yaml:"tool_calls,omitempty"`
}

// failureToolCall keeps arguments as text; raw JSON bytes would be dumped as
// a byte sequence.
type failureToolCall struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Arguments string `yaml:"arguments"`
}

func newFailureRecord(conv *agentloop.Conversation, err error) failureRecord {
	rec := failureRecord{
		ConversationID: conv.ID,
		CreatedAt:      conv.CreatedAt,
		Error:          err.Error(),
		Kind:           string(agentloop.KindOf(err)),
		Metadata:       conv.Metadata,
		Messages:       make([]failureMessage, 0, len(conv.Messages)),
	}
	for _, m := range conv.Messages {
		fm := failureMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			fm.ToolCalls = append(fm.ToolCalls, failureToolCall{ID: tc.ID, Name: tc.Name, Arguments: string(tc.Arguments)})
		}
		rec.Messages = append(rec.Messages, fm)
	}
	return rec
}

// writeFailure dumps conv to dir/<conversation-id>.yaml and returns the path.
func writeFailure(dir string, conv *agentloop.Conversation, err error) (string, error) {
	data, mErr := yaml.Marshal(newFailureRecord(conv, err))
	if mErr != nil {
		return "", fmt.Errorf("encoding failure dump: %w", mErr)
	}
	if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
		return "", mkErr
	}
	path := filepath.Join(dir, conv.ID+".yaml")
	if wErr := os.WriteFile(path, data, 0o644); wErr != nil {
		return "", wErr
	}
	return path, nil
}

func failureDumper(dir string, logger *slog.Logger) agentloop.FailureHandler {
	return agentloop.FailureHandlerFunc(func(conv *agentloop.Conversation, err error) {
		logger.Debug("failed conversation", "dump", conv.String())
		path, dumpErr := writeFailure(dir, conv, err)
		if dumpErr != nil {
			logger.Error("could not write failure dump", "error", dumpErr)
			return
		}
		logger.Info("wrote failure dump", "path", path)
	})
}
