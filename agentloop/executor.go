package agentloop

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/martinemde/coder/scm"
	"github.com/martinemde/coder/vcs"
	"github.com/martinemde/coder/workspace"
)

// VersionControl is the local git collaborator.
type VersionControl interface {
	CreateBranch(ctx context.Context, name string) error
	Checkout(ctx context.Context, name string) error
	AddAll(ctx context.Context) error
	Commit(ctx context.Context, message string) error
	Push(ctx context.Context, remote, branch string) error
	DeleteBranch(ctx context.Context, name string) error
	Diff(ctx context.Context, path string) (*vcs.Diff, error)
}

// Snapshot is the cached file content served by code_read.
type Snapshot interface {
	Get(path string) (string, error)
	Put(path, content string) error
	Save() error
}

// LanguageCommands are the command lines behind code_lint, code_analyse
// and code_test.
type LanguageCommands struct {
	Lint    string
	Analyse string
	Test    string
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// RepositoryPath is the root that code_write and commands run in.
	RepositoryPath string
	BaseBranch     string
	Remote         string
	// IssueTemplate is the markdown template whose "## " headings must
	// appear in a valid issue body. Empty disables the check.
	IssueTemplate string
	// Language names the active profile in error messages.
	Language string
	Commands LanguageCommands
	// RequireValidatedIssue refuses code_write and pull_request until
	// issue_validate has succeeded.
	RequireValidatedIssue bool
}

// CommandError carries the output of a command that exited nonzero.
type CommandError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.ExitCode, strings.TrimSpace(e.Stderr))
}

// Executor runs one tool invocation at a time against the workspace and
// the source-control service.
type Executor struct {
	cfg      ExecutorConfig
	tracker  scm.Tracker
	vcs      VersionControl
	snapshot Snapshot
	runner   CommandRunner
	logger   *slog.Logger

	validated bool
}

// NewExecutor creates an Executor. A nil snapshot makes code_read report
// the snapshot as missing; a nil logger discards logs.
func NewExecutor(cfg ExecutorConfig, tracker scm.Tracker, repo VersionControl, snapshot Snapshot, runner CommandRunner, logger *slog.Logger) *Executor {
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	if runner == nil {
		runner = &LocalRunner{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{
		cfg:      cfg,
		tracker:  tracker,
		vcs:      repo,
		snapshot: snapshot,
		runner:   runner,
		logger:   logger,
	}
}

// IssueValidated reports whether issue_validate has succeeded.
func (e *Executor) IssueValidated() bool {
	return e.validated
}

// Execute runs inv. A non-nil error means the tool failed; the returned
// envelope then describes the failure and always asks for a retry.
func (e *Executor) Execute(ctx context.Context, inv Invocation) (env Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newError(KindCommandExecution, inv.Name.String(), fmt.Sprintf("tool panicked: %v", r), nil)
			env = Failure(err)
		}
	}()

	env, err = e.dispatch(ctx, inv.Args)
	if err != nil {
		return Failure(err), err
	}
	return env, nil
}

func (e *Executor) dispatch(ctx context.Context, args ToolArgs) (Envelope, error) {
	switch a := args.(type) {
	case IssueValidateArgs:
		return e.issueValidate(ctx, a)
	case IssuePullArgs:
		return e.issuePull(ctx, a)
	case CodeReadArgs:
		return e.codeRead(a)
	case CodeWriteArgs:
		return e.codeWrite(ctx, a)
	case CodeLintArgs:
		return e.runCommand(ctx, ToolCodeLint, e.cfg.Commands.Lint)
	case CodeAnalyseArgs:
		return e.runCommand(ctx, ToolCodeAnalyse, e.cfg.Commands.Analyse)
	case CodeTestArgs:
		return e.runCommand(ctx, ToolCodeTest, e.cfg.Commands.Test)
	case PullRequestArgs:
		return e.pullRequest(ctx, a)
	case DocsReferenceArgs:
		return OK("Documentation lookup is not available. Rely on the code in the repository."), nil
	case DoneArgs:
		return Completed(a.Summary), nil
	case nil:
		return Envelope{}, newError(KindMissingArguments, "execute", "invocation has no arguments", nil)
	default:
		return Envelope{}, newError(KindUnknownTool, "execute", fmt.Sprintf("no executor for %T", args), nil)
	}
}

// issueView is the sanitized issue placed into the conversation.
type issueView struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body,omitempty"`
}

// pullRequestView is the sanitized pull request placed into the conversation.
type pullRequestView struct {
	Number int    `json:"number"`
	Title  string `json:"title,omitempty"`
	Body   string `json:"body,omitempty"`
}

func (e *Executor) fetchIssue(ctx context.Context, op string, number int) (*scm.Issue, error) {
	if e.tracker == nil {
		return nil, newError(KindConfiguration, op, "no source control service configured", nil)
	}
	issue, err := e.tracker.GetIssue(ctx, number)
	if err != nil {
		return nil, newError(KindSourceControl, op, fmt.Sprintf("fetching issue #%d", number), err)
	}
	return issue, nil
}

func (e *Executor) issueValidate(ctx context.Context, a IssueValidateArgs) (Envelope, error) {
	op := ToolIssueValidate.String()
	if a.IssueNumber == nil {
		return Envelope{}, newError(KindMissingArguments, op, "missing or invalid arguments: issue_number (required)", nil)
	}
	number := *a.IssueNumber
	if number == 0 {
		return Envelope{}, newError(KindIssueValidation, op, "issue number must be nonzero", nil)
	}
	issue, err := e.fetchIssue(ctx, op, number)
	if err != nil {
		return Envelope{}, err
	}
	if err := ValidateIssue(issue, e.cfg.IssueTemplate); err != nil {
		return Envelope{}, err
	}

	e.validated = true
	e.logger.Info("issue validated", "issue", issue.Number)
	return OK(issueView{Number: issue.Number, Title: issue.Title, Body: issue.Body}), nil
}

// ValidateIssue checks that issue has a number and a title and that its
// body mentions every section of template. It reports the first rule
// violated.
func ValidateIssue(issue *scm.Issue, template string) error {
	op := ToolIssueValidate.String()
	if issue.Number == 0 {
		return newError(KindIssueValidation, op, "issue number must be nonzero", nil)
	}
	if strings.TrimSpace(issue.Title) == "" {
		return newError(KindIssueValidation, op, "issue title is empty", nil)
	}
	headings := make(map[string]bool)
	for _, h := range TemplateSections(issue.Body) {
		headings[strings.ToLower(h)] = true
	}
	for _, section := range TemplateSections(template) {
		if !headings[strings.ToLower(section)] {
			return newError(KindIssueValidation, op, fmt.Sprintf("issue body is missing the %q section", section), nil)
		}
	}
	return nil
}

// TemplateSections returns the "## " heading names of a markdown document.
func TemplateSections(template string) []string {
	var sections []string
	scanner := bufio.NewScanner(strings.NewReader(template))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "## ") {
			continue
		}
		if name := strings.TrimSpace(strings.TrimPrefix(line, "## ")); name != "" {
			sections = append(sections, name)
		}
	}
	return sections
}

func (e *Executor) issuePull(ctx context.Context, a IssuePullArgs) (Envelope, error) {
	issue, err := e.fetchIssue(ctx, ToolIssuePull.String(), a.IssueNumber)
	if err != nil {
		return Envelope{}, err
	}
	return OK(issueView{Number: issue.Number, Title: issue.Title, Body: issue.Body}), nil
}

// cleanRelative rejects paths that leave the repository.
func cleanRelative(op, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", newError(KindMissingArguments, op, "path is empty", nil)
	}
	if filepath.IsAbs(path) {
		return "", newError(KindMissingArguments, op, fmt.Sprintf("path %q must be relative to the repository root", path), nil)
	}
	clean := filepath.Clean(path)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", newError(KindMissingArguments, op, fmt.Sprintf("path %q is outside the repository", path), nil)
	}
	return clean, nil
}

func (e *Executor) codeRead(a CodeReadArgs) (Envelope, error) {
	op := ToolCodeRead.String()
	path, err := cleanRelative(op, a.Path)
	if err != nil {
		return Envelope{}, err
	}
	if e.snapshot == nil {
		return Envelope{}, newError(KindConfiguration, op, "reading "+path, workspace.ErrSnapshotMissing)
	}
	content, err := e.snapshot.Get(path)
	if err != nil {
		kind := KindMissingArguments
		if !errors.Is(err, workspace.ErrFileNotFound) {
			kind = KindConfiguration
		}
		return Envelope{}, newError(kind, op, "reading "+path, err)
	}
	return OK(content), nil
}

func (e *Executor) requireValidated(op string) error {
	if e.cfg.RequireValidatedIssue && !e.validated {
		return newError(KindIssueValidation, op, "the issue has not been validated, call issue_validate first", nil)
	}
	return nil
}

func (e *Executor) codeWrite(ctx context.Context, a CodeWriteArgs) (Envelope, error) {
	op := ToolCodeWrite.String()
	if err := e.requireValidated(op); err != nil {
		return Envelope{}, err
	}
	if a.Content == nil {
		return Envelope{}, newError(KindMissingArguments, op, "missing or invalid arguments: content (required)", nil)
	}
	content := *a.Content
	path, err := cleanRelative(op, a.Path)
	if err != nil {
		return Envelope{}, err
	}

	full := filepath.Join(e.cfg.RepositoryPath, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Envelope{}, newError(KindConfiguration, op, "creating parent directories", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return Envelope{}, newError(KindConfiguration, op, "writing "+path, err)
	}

	if e.snapshot != nil {
		if err := e.snapshot.Put(path, content); err != nil {
			return Envelope{}, newError(KindSerialization, op, "updating workspace snapshot", err)
		}
		if err := e.snapshot.Save(); err != nil {
			return Envelope{}, newError(KindSerialization, op, "saving workspace snapshot", err)
		}
	}

	if e.vcs == nil {
		return Envelope{}, newError(KindConfiguration, op, "no version control configured", nil)
	}
	d, err := e.vcs.Diff(ctx, path)
	if err != nil {
		return Envelope{}, newError(KindLocalVCS, op, "diffing "+path, err)
	}
	if d.Empty() {
		return Retry(fmt.Sprintf("writing %s produced no changes", path), nil), nil
	}

	stat := d.Stat()
	return OK(map[string]any{
		"path":    filepath.ToSlash(path),
		"added":   stat.Added,
		"changed": stat.Changed,
		"deleted": stat.Deleted,
	}), nil
}

func (e *Executor) runCommand(ctx context.Context, tool ToolName, line string) (Envelope, error) {
	op := tool.String()
	if strings.TrimSpace(line) == "" {
		return Envelope{}, newError(KindConfiguration, op, fmt.Sprintf("no command configured for language %q", e.cfg.Language), nil)
	}
	program, args, err := SplitCommandLine(line)
	if err != nil {
		return Envelope{}, newError(KindConfiguration, op, "parsing command", err)
	}

	e.logger.Debug("running command", "tool", op, "program", program, "args", args)
	res, err := e.runner.Run(ctx, e.cfg.RepositoryPath, program, args)
	if err != nil {
		return Envelope{}, newError(KindCommandExecution, op, "starting "+program, err)
	}
	if res.TimedOut {
		return Envelope{}, newError(KindTimeout, op, fmt.Sprintf("%s timed out after %s", line, res.Duration), nil)
	}
	if res.ExitCode != 0 {
		return Envelope{}, newError(KindCommandExecution, op, "", &CommandError{
			Command:  line,
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		})
	}
	return OK(res.Stdout), nil
}

func (e *Executor) pullRequest(ctx context.Context, a PullRequestArgs) (Envelope, error) {
	op := ToolPullRequest.String()
	if err := e.requireValidated(op); err != nil {
		return Envelope{}, err
	}
	if e.tracker == nil || e.vcs == nil {
		return Envelope{}, newError(KindConfiguration, op, "source control is not configured", nil)
	}

	branch := a.Branch
	if branch == "" {
		branch = fmt.Sprintf("coder/issue-%d", a.IssueNumber)
	}
	reference := fmt.Sprintf("#%d", a.IssueNumber)
	body := a.Body
	if !strings.Contains(body, reference) {
		body = strings.TrimSpace(body + "\n\nFixes " + reference)
	}

	steps := []struct {
		what string
		run  func() error
	}{
		{"creating branch " + branch, func() error { return e.vcs.CreateBranch(ctx, branch) }},
		{"staging changes", func() error { return e.vcs.AddAll(ctx) }},
		{"committing", func() error { return e.vcs.Commit(ctx, fmt.Sprintf("%s\n\nFixes %s", a.Title, reference)) }},
		{"pushing " + branch, func() error { return e.vcs.Push(ctx, e.cfg.Remote, branch) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return Envelope{}, newError(KindLocalVCS, op, step.what, err)
		}
	}

	pr, err := e.tracker.CreatePullRequest(ctx, scm.PullRequestRequest{
		Base:  e.cfg.BaseBranch,
		Head:  branch,
		Title: a.Title,
		Body:  body,
	})
	if err != nil {
		return Envelope{}, newError(KindSourceControl, op, "opening pull request", err)
	}
	e.logger.Info("pull request opened", "number", pr.Number, "url", pr.HTMLURL)

	if err := e.vcs.Checkout(ctx, e.cfg.BaseBranch); err != nil {
		e.logger.Warn("checking out base branch after pull request", "branch", e.cfg.BaseBranch, "error", err)
	} else if err := e.vcs.DeleteBranch(ctx, branch); err != nil {
		e.logger.Warn("deleting local branch after pull request", "branch", branch, "error", err)
	}

	return OK(pullRequestView{Number: pr.Number, Title: pr.Title, Body: pr.Body}), nil
}
