package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/martinemde/coder/agentloop"
	"github.com/martinemde/coder/unifiedllm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestWriteFailure(t *testing.T) {
	conv := agentloop.NewConversation(agentloop.Metadata{Model: "gpt-4o", Provider: "openai"})
	conv.AddMessage(agentloop.SystemMessage("system"))
	conv.AddMessage(agentloop.AssistantMessage("", []unifiedllm.ToolCall{
		{ID: "call_1", Name: "code_read", Arguments: json.RawMessage(`{"path":"main.go"}`)},
	}))
	conv.AddMessage(agentloop.ToolMessage("call_1", `{"status":"ok"}`))

	dir := filepath.Join(t.TempDir(), "failures")
	path, err := writeFailure(dir, conv, errors.New("boom"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, conv.ID+".yaml"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec failureRecord
	require.NoError(t, yaml.Unmarshal(data, &rec))

	assert.Equal(t, conv.ID, rec.ConversationID)
	assert.Equal(t, "boom", rec.Error)
	assert.Equal(t, "gpt-4o", rec.Metadata.Model)
	require.Len(t, rec.Messages, 3)
	assert.Equal(t, "system", rec.Messages[0].Role)
	require.Len(t, rec.Messages[1].ToolCalls, 1)
	assert.Equal(t, `{"path":"main.go"}`, rec.Messages[1].ToolCalls[0].Arguments)
	assert.Equal(t, "call_1", rec.Messages[2].ToolCallID)
}
