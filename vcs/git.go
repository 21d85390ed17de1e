// Package vcs provides typed access to the git CLI for the local repository
// the agent works in. All commands target the repository directory via
// "git -C <dir>".
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// CommandError is returned when a git command exits unsuccessfully.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("git %s: exit %d: %s", strings.Join(e.Args, " "), e.ExitCode, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Repository is a git working tree at a specific directory.
type Repository struct {
	dir    string
	logger *slog.Logger
}

// NewRepository returns a Repository targeting dir. A nil logger uses
// slog.Default().
func NewRepository(dir string, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{dir: dir, logger: logger.With("repo", dir)}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command and returns stdout.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	r.logger.Debug("git", "args", args)
	if err := command.Run(); err != nil {
		cmdErr := &CommandError{Args: args, ExitCode: -1, Stderr: strings.TrimSpace(stderr.String()), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitCode()
		}
		return "", cmdErr
	}
	return stdout.String(), nil
}

// CurrentBranch returns the checked-out branch name.
func (r *Repository) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CreateBranch creates name from HEAD and checks it out.
func (r *Repository) CreateBranch(ctx context.Context, name string) error {
	_, err := r.Run(ctx, "checkout", "-b", name)
	return err
}

// Checkout switches to an existing branch.
func (r *Repository) Checkout(ctx context.Context, name string) error {
	_, err := r.Run(ctx, "checkout", name)
	return err
}

// AddAll stages every change in the working tree.
func (r *Repository) AddAll(ctx context.Context) error {
	_, err := r.Run(ctx, "add", "--all")
	return err
}

// Commit records staged changes.
func (r *Repository) Commit(ctx context.Context, message string) error {
	_, err := r.Run(ctx, "commit", "-m", message)
	return err
}

// Push pushes branch to remote and sets its upstream.
func (r *Repository) Push(ctx context.Context, remote, branch string) error {
	_, err := r.Run(ctx, "push", "--set-upstream", remote, branch)
	return err
}

// DeleteBranch force-deletes a local branch.
func (r *Repository) DeleteBranch(ctx context.Context, name string) error {
	_, err := r.Run(ctx, "branch", "-D", name)
	return err
}

// ListFiles returns tracked and untracked files, honouring .gitignore.
func (r *Repository) ListFiles(ctx context.Context) ([]string, error) {
	out, err := r.Run(ctx, "ls-files", "--cached", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	var files []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		files = append(files, line)
	}
	return files, nil
}

// Diff is the parsed working-tree diff for one or more paths.
type Diff struct {
	Files []*diff.FileDiff
	Raw   string
}

// Empty reports whether the diff contains no changes.
func (d *Diff) Empty() bool {
	return d == nil || len(d.Files) == 0
}

// Stat sums added, changed and deleted line counts across files.
func (d *Diff) Stat() diff.Stat {
	var total diff.Stat
	if d == nil {
		return total
	}
	for _, f := range d.Files {
		s := f.Stat()
		total.Added += s.Added
		total.Changed += s.Changed
		total.Deleted += s.Deleted
	}
	return total
}

// Diff returns the working-tree diff for path against the index. Untracked
// files are first marked intent-to-add so that new files show up.
func (r *Repository) Diff(ctx context.Context, path string) (*Diff, error) {
	if _, err := r.Run(ctx, "add", "--intent-to-add", "--", path); err != nil {
		return nil, err
	}
	out, err := r.Run(ctx, "diff", "--no-color", "--", path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out) == "" {
		return &Diff{}, nil
	}

	files, err := diff.ParseMultiFileDiff([]byte(out))
	if err != nil {
		return nil, fmt.Errorf("parsing diff for %s: %w", path, err)
	}
	return &Diff{Files: files, Raw: out}, nil
}
