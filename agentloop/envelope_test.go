package agentloop

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeJSONShape(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		want string
	}{
		{"ok", OK("stdout"), `{"status":"ok","message":null,"result":"stdout","retry":false}`},
		{"empty ok", OK(nil), `{"status":"ok","message":null,"result":null,"retry":false}`},
		{"retry", Retry("no changes", nil), `{"status":"ok","message":"no changes","result":null,"retry":true}`},
		{"completed", Completed(""), `{"status":"ok","message":"task_completed","result":null,"retry":false}`},
		{"failure", Failure(errors.New("boom")), `{"status":"error","message":"boom","result":null,"retry":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, tt.env.JSON())
		})
	}
}

func TestFailureCarriesCommandOutput(t *testing.T) {
	err := newError(KindCommandExecution, "code_lint", "", &CommandError{
		Command:  "golangci-lint run",
		ExitCode: 1,
		Stderr:   "warning: unused import",
	})
	env := Failure(err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(env.JSON()), &decoded))
	assert.Equal(t, "error", decoded["status"])
	assert.Equal(t, true, decoded["retry"])
	assert.Contains(t, decoded["message"], "warning: unused import")
	result := decoded["result"].(map[string]any)
	assert.Equal(t, "warning: unused import", result["stderr"])
	assert.EqualValues(t, 1, result["exit_code"])
}

func TestIsCompletion(t *testing.T) {
	assert.True(t, Completed("fixed").IsCompletion())
	assert.False(t, OK(CompletionSentinel).IsCompletion())
	assert.False(t, Retry(CompletionSentinel, nil).IsCompletion())

	msg := CompletionSentinel
	assert.False(t, Envelope{Status: StatusError, Message: &msg}.IsCompletion())
}

func TestEnvelopeJSONFallsBackOnUnencodableResult(t *testing.T) {
	env := OK(make(chan int))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(env.JSON()), &decoded))
	assert.Equal(t, "ok", decoded["status"])
	assert.IsType(t, "", decoded["result"])
}
