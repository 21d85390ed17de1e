// Package workspace maintains the workspace snapshot: a YAML file holding a
// rendered project tree and a map from relative path to file content. The
// agent reads code from the snapshot rather than from disk, and keeps it in
// sync when it writes files.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the snapshot location relative to the repository root.
const DefaultPath = ".coder/index.yaml"

// DefaultMaxFileSize caps the size of files captured in the snapshot.
const DefaultMaxFileSize = 512 * 1024

var (
	// ErrSnapshotMissing means no snapshot file exists yet.
	ErrSnapshotMissing = errors.New("workspace snapshot not found, run `coder index`")
	// ErrSnapshotMalformed means the snapshot file could not be decoded.
	ErrSnapshotMalformed = errors.New("workspace snapshot is malformed")
	// ErrFileNotFound means the snapshot has no entry for a path.
	ErrFileNotFound = errors.New("file not found in workspace snapshot")
)

// Snapshot is the in-memory form of the snapshot file.
type Snapshot struct {
	Tree    string            `yaml:"tree"`
	Content map[string]string `yaml:"content"`

	path string
}

// Load reads the snapshot stored at path.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}

	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSnapshotMalformed, path, err)
	}
	if s.Content == nil {
		return nil, fmt.Errorf("%w: %s: no content section", ErrSnapshotMalformed, path)
	}
	s.path = path
	return &s, nil
}

// Get returns the cached content for an exact path key.
func (s *Snapshot) Get(path string) (string, error) {
	content, ok := s.Content[filepath.ToSlash(path)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return content, nil
}

// Put records new content for path, adding it to the tree if it is new.
func (s *Snapshot) Put(path, content string) error {
	key := filepath.ToSlash(path)
	if s.Content == nil {
		s.Content = make(map[string]string)
	}
	_, existed := s.Content[key]
	s.Content[key] = content
	if !existed {
		s.Tree = RenderTree(s.Paths())
	}
	return nil
}

// Paths returns the snapshot's file paths in sorted order.
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, len(s.Content))
	for p := range s.Content {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Save writes the snapshot back to the file it was loaded from or built for.
func (s *Snapshot) Save() error {
	if s.path == "" {
		return errors.New("snapshot has no backing file")
	}
	return s.SaveTo(s.path)
}

// SaveTo writes the snapshot to path, creating parent directories.
func (s *Snapshot) SaveTo(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", path, err)
	}
	s.path = path
	return nil
}

// FileLister lists the repository files to capture.
type FileLister interface {
	ListFiles(ctx context.Context) ([]string, error)
}

// BuildOptions configures Build.
type BuildOptions struct {
	// MaxFileSize skips larger files. Zero uses DefaultMaxFileSize.
	MaxFileSize int64
	Logger      *slog.Logger
}

// Build captures the files reported by lister under root. Binary
// (non-UTF-8) and oversized files are left out of the content map.
func Build(ctx context.Context, root string, lister FileLister, opts BuildOptions) (*Snapshot, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	files, err := lister.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	s := &Snapshot{Content: make(map[string]string, len(files)), path: filepath.Join(root, DefaultPath)}
	skipped := 0
	for _, rel := range files {
		rel = filepath.ToSlash(rel)
		if isInternal(rel) {
			continue
		}
		full := filepath.Join(root, filepath.FromSlash(rel))
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			// Listed but deleted from the working tree.
			continue
		}
		if info.Size() > maxSize {
			logger.Debug("skipping large file", "path", rel, "size", info.Size())
			skipped++
			continue
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", rel, err)
		}
		if !utf8.Valid(data) {
			logger.Debug("skipping non-text file", "path", rel)
			skipped++
			continue
		}
		s.Content[rel] = string(data)
	}
	s.Tree = RenderTree(s.Paths())

	logger.Info("workspace indexed", "files", len(s.Content), "skipped", skipped)
	return s, nil
}

func isInternal(rel string) bool {
	return rel == ".coder" || strings.HasPrefix(rel, ".coder/")
}
