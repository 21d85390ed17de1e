package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSnapshot(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".coder", "index.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAndGet(t *testing.T) {
	path := writeSnapshot(t, `
tree: |
  .
  └── src
content:
  "src/main.rs": "fn main() {}"
`)
	s, err := Load(path)
	require.NoError(t, err)

	content, err := s.Get("src/main.rs")
	require.NoError(t, err)
	assert.Equal(t, "fn main() {}", content)
}

func TestGet_NotFound(t *testing.T) {
	path := writeSnapshot(t, "content:\n  \"src/main.rs\": \"fn main() {}\"\n")
	s, err := Load(path)
	require.NoError(t, err)

	_, err = s.Get("src/missing.rs")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.NotErrorIs(t, err, ErrSnapshotMalformed)
}

func TestLoad_Malformed(t *testing.T) {
	for name, content := range map[string]string{
		"invalid yaml": "invalid: yaml: content: ][",
		"wrong type":   "content: 5\n",
		"no content":   "tree: .\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeSnapshot(t, content))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSnapshotMalformed)
			assert.NotErrorIs(t, err, ErrFileNotFound)
		})
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "index.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSnapshotMissing)
}

func TestPutAndSaveRoundTrip(t *testing.T) {
	path := writeSnapshot(t, "content:\n  a.go: \"package a\"\n")
	s, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, s.Put("a.go", "package a // edited"))
	require.NoError(t, s.Put("b/b.go", "package b"))
	require.NoError(t, s.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	got, err := reloaded.Get("a.go")
	require.NoError(t, err)
	assert.Equal(t, "package a // edited", got)
	assert.Equal(t, []string{"a.go", "b/b.go"}, reloaded.Paths())
	assert.Contains(t, reloaded.Tree, "b.go")
}

type staticLister []string

func (l staticLister) ListFiles(context.Context) ([]string, error) { return l, nil }

func TestBuild(t *testing.T) {
	root := t.TempDir()
	files := map[string][]byte{
		"main.go":           []byte("package main\n"),
		"pkg/util.go":       []byte("package pkg\n"),
		"logo.png":          {0x89, 0x50, 0x4e, 0x47, 0xff, 0xfe},
		"big.txt":           make([]byte, 64),
		".coder/index.yaml": []byte("content: {}\n"),
	}
	for name, data := range files {
		full := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, data, 0o644))
	}

	lister := staticLister{"main.go", "pkg/util.go", "logo.png", "big.txt", ".coder/index.yaml", "deleted.go"}
	s, err := Build(context.Background(), root, lister, BuildOptions{MaxFileSize: 32})
	require.NoError(t, err)

	assert.Equal(t, []string{"main.go", "pkg/util.go"}, s.Paths())
	assert.Equal(t, ".\n├── main.go\n└── pkg\n    └── util.go", s.Tree)

	require.NoError(t, s.Save())
	_, err = Load(filepath.Join(root, DefaultPath))
	require.NoError(t, err)
}

func TestRenderTree(t *testing.T) {
	tree := RenderTree([]string{"b.go", "a/x.go", "a/y/z.go"})
	assert.Equal(t, ".\n├── a\n│   ├── x.go\n│   └── y\n│       └── z.go\n└── b.go", tree)
}
