package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	repo := NewRepository(dir, nil)
	ctx := context.Background()

	for _, args := range [][]string{
		{"init", "-q"},
		{"symbolic-ref", "HEAD", "refs/heads/main"},
		{"config", "user.email", "coder@example.com"},
		{"config", "user.name", "coder"},
		{"config", "commit.gpgsign", "false"},
	} {
		_, err := repo.Run(ctx, args...)
		require.NoError(t, err)
	}

	writeFile(t, dir, "main.go", "package main\n")
	require.NoError(t, repo.AddAll(ctx))
	require.NoError(t, repo.Commit(ctx, "initial"))
	return repo
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDiff_NoChanges(t *testing.T) {
	repo := newTestRepository(t)

	d, err := repo.Diff(context.Background(), "main.go")
	require.NoError(t, err)
	assert.True(t, d.Empty())
}

func TestDiff_ModifiedFile(t *testing.T) {
	repo := newTestRepository(t)
	writeFile(t, repo.Dir(), "main.go", "package main\n\nfunc main() {}\n")

	d, err := repo.Diff(context.Background(), "main.go")
	require.NoError(t, err)
	require.False(t, d.Empty())
	assert.Len(t, d.Files, 1)
	assert.Equal(t, int32(2), d.Stat().Added)
	assert.Contains(t, d.Raw, "func main()")
}

func TestDiff_NewFile(t *testing.T) {
	repo := newTestRepository(t)
	writeFile(t, repo.Dir(), "pkg/util.go", "package pkg\n")

	d, err := repo.Diff(context.Background(), "pkg/util.go")
	require.NoError(t, err)
	assert.False(t, d.Empty())
}

func TestBranchLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateBranch(ctx, "coder/issue-1"))
	branch, err := repo.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "coder/issue-1", branch)

	writeFile(t, repo.Dir(), "main.go", "package main // changed\n")
	require.NoError(t, repo.AddAll(ctx))
	require.NoError(t, repo.Commit(ctx, "Fix #1"))

	require.NoError(t, repo.Checkout(ctx, "main"))
	require.NoError(t, repo.DeleteBranch(ctx, "coder/issue-1"))

	branch, err = repo.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestRun_CommandError(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.Checkout(context.Background(), "does-not-exist")
	require.Error(t, err)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.NotZero(t, cmdErr.ExitCode)
	assert.NotEmpty(t, cmdErr.Stderr)
}

func TestListFiles(t *testing.T) {
	repo := newTestRepository(t)
	writeFile(t, repo.Dir(), ".gitignore", "build/\n")
	writeFile(t, repo.Dir(), "build/out.bin", "x")
	writeFile(t, repo.Dir(), "README.md", "# hi\n")

	files, err := repo.ListFiles(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".gitignore", "README.md", "main.go"}, files)
}
