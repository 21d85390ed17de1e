package agentloop

import (
	"encoding/json"
	"testing"

	"github.com/martinemde/coder/unifiedllm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolNameRoundTrip(t *testing.T) {
	require.Len(t, AllTools, len(toolNames))
	for _, name := range AllTools {
		parsed, err := ParseToolName(name.String())
		require.NoError(t, err)
		assert.Equal(t, name, parsed)

		text, err := name.MarshalText()
		require.NoError(t, err)
		var decoded ToolName
		require.NoError(t, decoded.UnmarshalText(text))
		assert.Equal(t, name, decoded)

		_, ok := toolSpecs[name]
		assert.True(t, ok, "%s has no descriptor", name)
	}
}

func TestParseToolNameRejectsOtherStrings(t *testing.T) {
	for _, s := range []string{"delete_repo", "", "Done", "code_read ", "shell"} {
		_, err := ParseToolName(s)
		require.Error(t, err, s)
		assert.True(t, IsKind(err, KindUnknownTool))
	}
	_, err := ToolName(99).MarshalText()
	assert.Error(t, err)
}

func TestRegistryDefinitions(t *testing.T) {
	reg, err := NewToolRegistry(WorkflowFix.Tools())
	require.NoError(t, err)

	defs := reg.Definitions()
	require.Len(t, defs, len(AllTools))
	assert.Equal(t, "issue_validate", defs[0].Name)
	assert.Equal(t, "done", defs[len(defs)-1].Name)

	for _, d := range defs {
		assert.NotEmpty(t, d.Description, d.Name)
		assert.Equal(t, "object", d.Parameters["type"], d.Name)
		assert.Contains(t, d.Parameters, "properties", d.Name)
		assert.NotContains(t, d.Parameters, "$schema", d.Name)
	}

	write, ok := reg.Descriptor(ToolCodeWrite)
	require.True(t, ok)
	props := write.Parameters["properties"].(map[string]interface{})
	assert.Contains(t, props, "path")
	assert.Contains(t, props, "content")
}

func TestRefactorRegistryExcludesIssueTools(t *testing.T) {
	reg, err := NewToolRegistry(WorkflowRefactor.Tools())
	require.NoError(t, err)
	assert.False(t, reg.Has(ToolIssueValidate))
	assert.False(t, reg.Has(ToolPullRequest))
	assert.True(t, reg.Has(ToolDone))

	_, err = reg.ResolveName(unifiedllm.ToolCall{ID: "1", Name: "pull_request"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindUnknownTool))
}

func TestRegistryParse(t *testing.T) {
	reg, err := NewToolRegistry(WorkflowFix.Tools())
	require.NoError(t, err)

	tests := []struct {
		name string
		call unifiedllm.ToolCall
		want ToolArgs
		kind ErrorKind
	}{
		{
			name: "code_read",
			call: unifiedllm.ToolCall{Name: "code_read", Arguments: json.RawMessage(`{"path":"main.go"}`)},
			want: CodeReadArgs{Path: "main.go"},
		},
		{
			name: "empty arguments",
			call: unifiedllm.ToolCall{Name: "code_lint", Arguments: nil},
			want: CodeLintArgs{},
		},
		{
			name: "null arguments",
			call: unifiedllm.ToolCall{Name: "done", Arguments: json.RawMessage(`null`)},
			want: DoneArgs{},
		},
		{
			name: "double encoded",
			call: unifiedllm.ToolCall{Name: "issue_pull", Arguments: json.RawMessage(`"{\"issue_number\":7}"`)},
			want: IssuePullArgs{IssueNumber: 7},
		},
		{
			name: "missing required path",
			call: unifiedllm.ToolCall{Name: "code_read", Arguments: json.RawMessage(`{}`)},
			kind: KindMissingArguments,
		},
		{
			name: "malformed json",
			call: unifiedllm.ToolCall{Name: "code_write", Arguments: json.RawMessage(`{"path":`)},
			kind: KindMissingArguments,
		},
		{
			name: "wrong type",
			call: unifiedllm.ToolCall{Name: "issue_pull", Arguments: json.RawMessage(`{"issue_number":"seven"}`)},
			kind: KindMissingArguments,
		},
		{
			name: "unknown tool",
			call: unifiedllm.ToolCall{Name: "delete_repo", Arguments: json.RawMessage(`{}`)},
			kind: KindUnknownTool,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := reg.Parse(tt.call)
			if tt.kind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.kind, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, inv.Args)
			assert.Equal(t, tt.want.Tool(), inv.Name)
		})
	}
}

func TestMissingArgumentsNamesJSONField(t *testing.T) {
	reg, err := NewToolRegistry([]ToolName{ToolPullRequest})
	require.NoError(t, err)

	_, err = reg.DecodeArgs(ToolPullRequest, json.RawMessage(`{"title":"x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issue_number")
}

func TestDecodeArgsEnforcesSchemaRequired(t *testing.T) {
	reg, err := NewToolRegistry(AllTools)
	require.NoError(t, err)

	samples := map[string]interface{}{
		"issue_number": 7,
		"path":         "main.go",
		"content":      "package main\n",
		"title":        "Fix the parser",
		"branch":       "coder/issue-7",
		"body":         "Handles empty input.",
		"query":        "slog",
		"summary":      "done",
	}

	for _, name := range AllTools {
		t.Run(name.String(), func(t *testing.T) {
			d, ok := reg.Descriptor(name)
			require.True(t, ok)

			full := map[string]interface{}{}
			for prop := range d.Parameters["properties"].(map[string]interface{}) {
				v, ok := samples[prop]
				require.True(t, ok, "no sample value for %s", prop)
				full[prop] = v
			}
			raw, err := json.Marshal(full)
			require.NoError(t, err)
			_, err = reg.DecodeArgs(name, raw)
			require.NoError(t, err)

			required, _ := d.Parameters["required"].([]interface{})
			for _, field := range required {
				partial := map[string]interface{}{}
				for k, v := range full {
					if k != field {
						partial[k] = v
					}
				}
				raw, err := json.Marshal(partial)
				require.NoError(t, err)

				_, err = reg.DecodeArgs(name, raw)
				require.Error(t, err, "without %s", field)
				assert.Equal(t, KindMissingArguments, KindOf(err))
				assert.Contains(t, err.Error(), field.(string))
			}
		})
	}
}

func TestCodeWriteRequiresContentButAllowsEmpty(t *testing.T) {
	reg, err := NewToolRegistry([]ToolName{ToolCodeWrite, ToolIssueValidate})
	require.NoError(t, err)

	_, err = reg.DecodeArgs(ToolCodeWrite, json.RawMessage(`{"path":"main.go"}`))
	require.Error(t, err)
	assert.Equal(t, KindMissingArguments, KindOf(err))

	args, err := reg.DecodeArgs(ToolCodeWrite, json.RawMessage(`{"path":"empty.txt","content":""}`))
	require.NoError(t, err)
	write := args.(CodeWriteArgs)
	require.NotNil(t, write.Content)
	assert.Equal(t, "", *write.Content)

	_, err = reg.DecodeArgs(ToolIssueValidate, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, KindMissingArguments, KindOf(err))

	args, err = reg.DecodeArgs(ToolIssueValidate, json.RawMessage(`{"issue_number":0}`))
	require.NoError(t, err)
	assert.Equal(t, 0, *args.(IssueValidateArgs).IssueNumber)
}
