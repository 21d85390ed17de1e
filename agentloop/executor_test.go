package agentloop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/martinemde/coder/scm"
	"github.com/martinemde/coder/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type executorFixture struct {
	exec     *Executor
	tracker  *fakeTracker
	vcs      *fakeVCS
	snapshot *fakeSnapshot
	runner   *fakeRunner
	dir      string
}

func newExecutorFixture(t *testing.T, mutate func(*ExecutorConfig)) *executorFixture {
	t.Helper()
	dir := t.TempDir()
	f := &executorFixture{
		tracker: &fakeTracker{issues: map[int]*scm.Issue{
			7: {Number: 7, Title: "Crash on empty input", Body: "## Summary\nIt crashes.\n## Steps to Reproduce\nRun it."},
			8: {Number: 8, Title: "", Body: "no title"},
		}},
		vcs:      &fakeVCS{dir: dir, committed: map[string]string{"main.go": "package main\n"}},
		snapshot: &fakeSnapshot{content: map[string]string{"main.go": "package main\n"}},
		runner:   &fakeRunner{results: map[string]*ExecResult{}},
		dir:      dir,
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))

	cfg := ExecutorConfig{
		RepositoryPath: dir,
		BaseBranch:     "main",
		Language:       "go",
		Commands: LanguageCommands{
			Lint:    "golangci-lint run",
			Analyse: "go vet ./...",
			Test:    "go test ./...",
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.exec = NewExecutor(cfg, f.tracker, f.vcs, f.snapshot, f.runner, nil)
	return f
}

func (f *executorFixture) run(t *testing.T, args ToolArgs) (Envelope, error) {
	t.Helper()
	return f.exec.Execute(context.Background(), Invocation{ID: "call_1", Name: args.Tool(), Args: args})
}

func TestIssueValidate(t *testing.T) {
	f := newExecutorFixture(t, func(c *ExecutorConfig) {
		c.IssueTemplate = "# Bug\n\n## Summary\n\n## Steps to Reproduce\n"
	})

	env, err := f.run(t, IssueValidateArgs{IssueNumber: intPtr(7)})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, env.Status)
	assert.Equal(t, issueView{Number: 7, Title: "Crash on empty input", Body: "## Summary\nIt crashes.\n## Steps to Reproduce\nRun it."}, env.Result)
	assert.True(t, f.exec.IssueValidated())
}

func TestIssueValidateEmptyTitleBlocksPullRequest(t *testing.T) {
	f := newExecutorFixture(t, func(c *ExecutorConfig) { c.RequireValidatedIssue = true })

	env, err := f.run(t, IssueValidateArgs{IssueNumber: intPtr(8)})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindIssueValidation))
	assert.Contains(t, err.Error(), "title")
	assert.Equal(t, StatusError, env.Status)
	assert.True(t, env.Retry)

	_, err = f.run(t, PullRequestArgs{IssueNumber: 8, Title: "fix"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindIssueValidation))
	assert.Empty(t, f.tracker.prs)
	assert.Empty(t, f.vcs.calls)
}

func TestIssueValidateRules(t *testing.T) {
	f := newExecutorFixture(t, func(c *ExecutorConfig) {
		c.IssueTemplate = "## Summary\n## Expected Behavior\n"
	})

	_, err := f.run(t, IssueValidateArgs{IssueNumber: intPtr(0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonzero")
	assert.Empty(t, f.tracker.getCalls)

	_, err = f.run(t, IssueValidateArgs{IssueNumber: intPtr(7)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"Expected Behavior"`)
	assert.False(t, f.exec.IssueValidated())

	_, err = f.run(t, IssueValidateArgs{IssueNumber: intPtr(99)})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSourceControl))
	assert.True(t, scm.IsNotFound(err))
}

func TestValidateIssueMatchesHeadings(t *testing.T) {
	template := "## Summary\n## Steps to Reproduce\n"

	prose := &scm.Issue{Number: 3, Title: "Crash", Body: "Summary: it crashes.\nSteps to reproduce: run it."}
	err := ValidateIssue(prose, template)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindIssueValidation))
	assert.Contains(t, err.Error(), `"Summary"`)

	nested := &scm.Issue{Number: 3, Title: "Crash", Body: "## Summary\nIt crashes.\n### Steps to Reproduce\nRun it."}
	err = ValidateIssue(nested, template)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"Steps to Reproduce"`)

	headed := &scm.Issue{Number: 3, Title: "Crash", Body: "## summary\nIt crashes.\n  ## Steps to Reproduce  \nRun it."}
	assert.NoError(t, ValidateIssue(headed, template))
}

func TestTemplateSections(t *testing.T) {
	template := "# Title\n## Summary\n\ntext\n  ## Steps  \n### Not a section\n##\n"
	assert.Equal(t, []string{"Summary", "Steps"}, TemplateSections(template))
	assert.Empty(t, TemplateSections(""))
}

func TestIssuePullSanitizes(t *testing.T) {
	f := newExecutorFixture(t, nil)
	f.tracker.issues[7].Labels = []string{"bug"}

	env, err := f.run(t, IssuePullArgs{IssueNumber: 7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","message":null,"retry":false,
		"result":{"number":7,"title":"Crash on empty input","body":"## Summary\nIt crashes.\n## Steps to Reproduce\nRun it."}}`, env.JSON())
}

func TestCodeRead(t *testing.T) {
	f := newExecutorFixture(t, nil)

	env, err := f.run(t, CodeReadArgs{Path: "main.go"})
	require.NoError(t, err)
	assert.Equal(t, "package main\n", env.Result)

	_, err = f.run(t, CodeReadArgs{Path: "src/missing.rs"})
	require.Error(t, err)
	assert.ErrorIs(t, err, workspace.ErrFileNotFound)
	assert.NotErrorIs(t, err, workspace.ErrSnapshotMalformed)

	f.snapshot.broken = true
	_, err = f.run(t, CodeReadArgs{Path: "main.go"})
	require.Error(t, err)
	assert.ErrorIs(t, err, workspace.ErrSnapshotMalformed)
	assert.NotErrorIs(t, err, workspace.ErrFileNotFound)
}

func TestCodeReadWithoutSnapshot(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{RepositoryPath: t.TempDir()}, nil, nil, nil, &fakeRunner{}, nil)
	_, err := exec.Execute(context.Background(), Invocation{Name: ToolCodeRead, Args: CodeReadArgs{Path: "a.go"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, workspace.ErrSnapshotMissing)
}

func TestCodeReadRejectsEscapingPaths(t *testing.T) {
	f := newExecutorFixture(t, nil)
	for _, p := range []string{"../etc/passwd", "/etc/passwd", ".", "a/../../b"} {
		_, err := f.run(t, CodeReadArgs{Path: p})
		require.Error(t, err, p)
		assert.True(t, IsKind(err, KindMissingArguments), p)
	}
}

func TestCodeWriteSignalsRetryWithoutDiff(t *testing.T) {
	f := newExecutorFixture(t, nil)

	env, err := f.run(t, CodeWriteArgs{Path: "main.go", Content: strPtr("package main\n")})
	require.NoError(t, err)
	assert.True(t, env.Retry)
	assert.Contains(t, env.MessageText(), "no changes")

	env, err = f.run(t, CodeWriteArgs{Path: "main.go", Content: strPtr("package main\n\nfunc main() {}\n")})
	require.NoError(t, err)
	assert.False(t, env.Retry)
	assert.Equal(t, StatusOK, env.Status)
}

func TestCodeWriteCreatesDirectoriesAndSyncsSnapshot(t *testing.T) {
	f := newExecutorFixture(t, nil)

	_, err := f.run(t, CodeWriteArgs{Path: "internal/util/util.go", Content: strPtr("package util\n")})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(f.dir, "internal", "util", "util.go"))
	require.NoError(t, err)
	assert.Equal(t, "package util\n", string(data))
	assert.Equal(t, "package util\n", f.snapshot.content["internal/util/util.go"])
	assert.Equal(t, 1, f.snapshot.saves)
}

func TestCodeWriteRequiresValidatedIssue(t *testing.T) {
	f := newExecutorFixture(t, func(c *ExecutorConfig) { c.RequireValidatedIssue = true })

	_, err := f.run(t, CodeWriteArgs{Path: "main.go", Content: strPtr("x")})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindIssueValidation))

	_, err = f.run(t, IssueValidateArgs{IssueNumber: intPtr(7)})
	require.NoError(t, err)
	_, err = f.run(t, CodeWriteArgs{Path: "main.go", Content: strPtr("x")})
	require.NoError(t, err)
}

func TestCodeWriteDiffFailure(t *testing.T) {
	f := newExecutorFixture(t, nil)
	f.vcs.failOn = map[string]error{"diff main.go": errors.New("not a git repository")}

	_, err := f.run(t, CodeWriteArgs{Path: "main.go", Content: strPtr("changed")})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindLocalVCS))
}

func TestCommandToolsReturnStdout(t *testing.T) {
	f := newExecutorFixture(t, nil)
	f.runner.results["go test ./..."] = &ExecResult{Stdout: "ok  \tpkg\t0.1s\n"}

	env, err := f.run(t, CodeTestArgs{})
	require.NoError(t, err)
	assert.Equal(t, "ok  \tpkg\t0.1s\n", env.Result)

	_, err = f.run(t, CodeAnalyseArgs{})
	require.NoError(t, err)
	assert.Equal(t, []string{"go test ./...", "go vet ./..."}, f.runner.ran)
}

func TestCodeLintNonzeroExit(t *testing.T) {
	f := newExecutorFixture(t, nil)
	f.runner.results["golangci-lint run"] = &ExecResult{ExitCode: 1, Stderr: "warning: unused import"}

	env, err := f.run(t, CodeLintArgs{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindCommandExecution))
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "warning: unused import", ce.Stderr)

	assert.Equal(t, StatusError, env.Status)
	assert.True(t, env.Retry)
	assert.Contains(t, env.MessageText(), "warning: unused import")
}

func TestCommandToolsConfigurationErrors(t *testing.T) {
	f := newExecutorFixture(t, func(c *ExecutorConfig) {
		c.Commands.Lint = ""
		c.Commands.Test = `go test "./...`
	})

	_, err := f.run(t, CodeLintArgs{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfiguration))
	assert.Contains(t, err.Error(), `"go"`)

	_, err = f.run(t, CodeTestArgs{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfiguration))

	f.runner.err = errors.New("executable file not found")
	_, err = f.run(t, CodeAnalyseArgs{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindCommandExecution))
}

func TestCommandTimeout(t *testing.T) {
	f := newExecutorFixture(t, nil)
	f.runner.results["go test ./..."] = &ExecResult{TimedOut: true, ExitCode: -1}

	_, err := f.run(t, CodeTestArgs{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTimeout))
}

func TestPullRequest(t *testing.T) {
	f := newExecutorFixture(t, nil)

	env, err := f.run(t, PullRequestArgs{IssueNumber: 7, Title: "Handle empty input", Body: "Adds a guard."})
	require.NoError(t, err)
	assert.Equal(t, pullRequestView{Number: 1, Title: "Handle empty input", Body: "Adds a guard.\n\nFixes #7"}, env.Result)

	assert.Equal(t, []string{
		"branch coder/issue-7",
		"add",
		"commit",
		"push origin coder/issue-7",
		"checkout main",
		"delete coder/issue-7",
	}, f.vcs.calls)
	require.Len(t, f.tracker.prs, 1)
	assert.Equal(t, scm.PullRequestRequest{Base: "main", Head: "coder/issue-7", Title: "Handle empty input", Body: "Adds a guard.\n\nFixes #7"}, f.tracker.prs[0])
}

func TestPullRequestCleanupFailureIsNotFatal(t *testing.T) {
	f := newExecutorFixture(t, nil)
	f.vcs.failOn = map[string]error{"checkout main": errors.New("conflict")}

	env, err := f.run(t, PullRequestArgs{IssueNumber: 7, Branch: "fix-7", Title: "Fix", Body: "Closes #7"})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, env.Status)
	assert.NotContains(t, f.vcs.calls, "delete fix-7")
	assert.Equal(t, "Closes #7", f.tracker.prs[0].Body)
}

func TestPullRequestFailures(t *testing.T) {
	f := newExecutorFixture(t, nil)
	f.vcs.failOn = map[string]error{"push origin coder/issue-7": errors.New("rejected")}

	_, err := f.run(t, PullRequestArgs{IssueNumber: 7, Title: "Fix"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindLocalVCS))
	assert.Empty(t, f.tracker.prs)

	f = newExecutorFixture(t, nil)
	f.tracker.prErr = &scm.APIError{Provider: "github", StatusCode: 422, Message: "Validation Failed"}
	_, err = f.run(t, PullRequestArgs{IssueNumber: 7, Title: "Fix"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSourceControl))
	assert.True(t, scm.IsValidationFailed(err))
}

func TestDocsReferenceAndDone(t *testing.T) {
	f := newExecutorFixture(t, nil)

	env, err := f.run(t, DocsReferenceArgs{Query: "net/http"})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, env.Status)
	assert.False(t, env.IsCompletion())

	env, err = f.run(t, DoneArgs{Summary: "fixed"})
	require.NoError(t, err)
	assert.True(t, env.IsCompletion())
}

func TestExecuteNilArgs(t *testing.T) {
	f := newExecutorFixture(t, nil)
	env, err := f.exec.Execute(context.Background(), Invocation{Name: ToolDone})
	require.Error(t, err)
	assert.Equal(t, StatusError, env.Status)
}
