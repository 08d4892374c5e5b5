// Package collector streams file descriptors out of a Git working tree,
// using Git's own object index as the authoritative file list so ignore
// rules never need reimplementing.
package collector

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/cpgraph/engine/internal/cpgerrors"
	"github.com/cpgraph/engine/internal/model"
)

// MaxFileSize is the per-file hard cap; larger files are rejected at the
// safety filter stage regardless of extension.
const MaxFileSize int64 = 1 << 20

// AllowedExtensions is the fixed indexable-extension allow-list.
var AllowedExtensions = map[string]bool{
	".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".java": true, ".go": true, ".rs": true, ".c": true, ".cc": true,
	".cpp": true, ".h": true, ".hpp": true, ".cs": true, ".php": true,
	".rb": true, ".kt": true, ".scala": true, ".vue": true, ".svelte": true,
	".css": true, ".scss": true, ".html": true, ".json": true, ".yaml": true,
	".yml": true, ".toml": true, ".xml": true, ".sql": true, ".md": true, ".rst": true,
}

// BlockedPathComponents is the fixed blocklist: a file under any directory
// named here is skipped regardless of extension.
var BlockedPathComponents = map[string]bool{
	".git": true, ".svn": true, ".hg": true, ".idea": true, ".vscode": true,
	"node_modules": true, "venv": true, ".venv": true, "env": true,
	"dist": true, "build": true, "target": true, "out": true, "bin": true,
	"__pycache__": true, "coverage": true, ".pytest_cache": true,
	"vendor": true, "third_party": true,
}

// FileDescriptor is one surviving file emitted by the collector.
type FileDescriptor struct {
	RelPath    string
	FullPath   string
	Extension  string
	Size       int64
	GitHash    string
	HasGitHash bool
	Category   model.FileCategory
}

// IsTracked reports whether Git knows this file's blob hash.
func (f FileDescriptor) IsTracked() bool { return f.HasGitHash }

// Collector streams batches of FileDescriptor from a Git working tree.
type Collector struct {
	logger *slog.Logger
}

// New creates a Collector. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{logger: logger}
}

type rawEntry struct {
	relPath    string
	gitHash    string
	hasGitHash bool
}

// StreamFiles runs the four-stage funnel over repoRoot and delivers batches
// of surviving FileDescriptors on the returned channel. The sequence is
// finite, single-pass and not restartable; a fatal error (native enumeration
// failure) is delivered on the error channel and both channels are closed
// once the run ends.
func (c *Collector) StreamFiles(ctx context.Context, repoRoot string, batchSize int) (<-chan []FileDescriptor, <-chan error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	batches := make(chan []FileDescriptor)
	errc := make(chan error, 1)

	go func() {
		defer close(batches)
		defer close(errc)

		entries, err := c.nativeEnumerate(repoRoot)
		if err != nil {
			errc <- err
			return
		}

		batch := make([]FileDescriptor, 0, batchSize)
		for _, e := range entries {
			select {
			case <-ctx.Done():
				return
			default:
			}

			desc, ok := c.metadataFilter(repoRoot, e)
			if !ok {
				continue
			}
			desc, ok = c.safetyFilter(desc)
			if !ok {
				continue
			}
			desc.Category = classify(desc.RelPath, desc.Extension)

			batch = append(batch, desc)
			if len(batch) == batchSize {
				select {
				case batches <- batch:
				case <-ctx.Done():
					return
				}
				batch = make([]FileDescriptor, 0, batchSize)
			}
		}
		if len(batch) > 0 {
			select {
			case batches <- batch:
			case <-ctx.Done():
			}
		}
	}()

	return batches, errc
}

// nativeEnumerate obtains tracked files with their blob SHA-1 from HEAD's
// tree, plus untracked files from worktree status. Tracked wins when the
// same relative path appears as both.
func (c *Collector) nativeEnumerate(repoRoot string) ([]rawEntry, error) {
	repo, err := git.PlainOpen(repoRoot)
	if err != nil {
		return nil, cpgerrors.Transient("open git repository", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, cpgerrors.Data("resolve HEAD", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, cpgerrors.Data("resolve HEAD commit", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, cpgerrors.Data("resolve HEAD tree", err)
	}

	tracked := make(map[string]string)
	if err := tree.Files().ForEach(func(f *object.File) error {
		tracked[filepath.ToSlash(f.Name)] = f.Hash.String()
		return nil
	}); err != nil {
		return nil, cpgerrors.Data("walk git tree", err)
	}

	entries := make([]rawEntry, 0, len(tracked))
	for path, hash := range tracked {
		entries = append(entries, rawEntry{relPath: path, gitHash: hash, hasGitHash: true})
	}

	wt, err := repo.Worktree()
	if err == nil {
		status, err := wt.Status()
		if err != nil {
			c.logger.Warn("git status failed, skipping untracked files", slog.String("error", err.Error()))
		} else {
			for path, s := range status {
				if s.Worktree != git.Untracked {
					continue
				}
				path = filepath.ToSlash(path)
				if _, already := tracked[path]; already {
					continue
				}
				entries = append(entries, rawEntry{relPath: path})
			}
		}
	}

	return entries, nil
}

// metadataFilter rejects disallowed extensions and blocklisted path
// components without touching the filesystem.
func (c *Collector) metadataFilter(repoRoot string, e rawEntry) (FileDescriptor, bool) {
	ext := strings.ToLower(filepath.Ext(e.relPath))
	if !AllowedExtensions[ext] {
		return FileDescriptor{}, false
	}
	for _, part := range strings.Split(e.relPath, "/") {
		if BlockedPathComponents[part] {
			return FileDescriptor{}, false
		}
	}
	return FileDescriptor{
		RelPath:    e.relPath,
		FullPath:   filepath.Join(repoRoot, filepath.FromSlash(e.relPath)),
		Extension:  ext,
		GitHash:    e.gitHash,
		HasGitHash: e.hasGitHash,
	}, true
}

// safetyFilter performs the single lstat per surviving path, rejecting
// symlinks, non-regular files, empty files and oversize files. lstat
// failures are logged and the file is dropped, per spec.
func (c *Collector) safetyFilter(desc FileDescriptor) (FileDescriptor, bool) {
	info, err := os.Lstat(desc.FullPath)
	if err != nil {
		c.logger.Warn("lstat failed, dropping file", slog.String("path", desc.RelPath), slog.String("error", err.Error()))
		return FileDescriptor{}, false
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return FileDescriptor{}, false
	}
	if !info.Mode().IsRegular() {
		return FileDescriptor{}, false
	}
	if info.Size() == 0 || info.Size() > MaxFileSize {
		return FileDescriptor{}, false
	}
	desc.Size = info.Size()
	return desc, true
}

// classify assigns a FileCategory by path heuristics, in order of
// precedence: docs, test, config, else source.
func classify(relPath, ext string) model.FileCategory {
	lower := strings.ToLower(relPath)
	base := strings.ToLower(filepath.Base(relPath))

	if strings.Contains(lower, "docs/") || strings.Contains(lower, "documentation/") || ext == ".md" || ext == ".rst" {
		return model.CategoryDocs
	}
	if strings.Contains(lower, "tests/") || strings.Contains(lower, "__tests__/") || strings.Contains(lower, "spec/") ||
		strings.HasPrefix(base, "test_") || matchesTestSuffix(base) {
		return model.CategoryTest
	}
	switch base {
	case "package.json", "pyproject.toml", "dockerfile", "makefile":
		return model.CategoryConfig
	}
	switch ext {
	case ".yml", ".yaml", ".toml":
		return model.CategoryConfig
	}
	return model.CategorySource
}

// matchesTestSuffix reports whether base looks like *_test.* or *.spec.*.
func matchesTestSuffix(base string) bool {
	name := base
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		stem := name[:idx]
		if strings.HasSuffix(stem, "_test") {
			return true
		}
	}
	return strings.Contains(name, ".spec.")
}
