// Package reader reconstructs file text from chunks and exposes graph
// traversal primitives over an activated snapshot: the Navigator a reading
// agent calls to move around a codebase one file, directory or edge at a
// time.
package reader

import (
	"context"
	"sort"
	"strings"

	"github.com/cpgraph/engine/internal/cpgerrors"
	"github.com/cpgraph/engine/internal/model"
	"github.com/cpgraph/engine/internal/storage"
)

// Navigator answers file and graph read requests against one store.
type Navigator struct {
	store *storage.Store
}

// New builds a Navigator over store.
func New(store *storage.Store) *Navigator {
	return &Navigator{store: store}
}

// ReadFile reconstructs path's text within snapshotID by concatenating its
// chunks in byte order, or returns the stored whole-file content when
// parsing was skipped or failed. If startLine/endLine are both positive,
// the result is clipped to that 1-based, inclusive line range. Returns
// empty content if the file has no chunks and no recoverable whole-file
// content.
func (n *Navigator) ReadFile(ctx context.Context, snapshotID int64, path string, startLine, endLine int) (string, error) {
	file, ok, err := n.store.FileByPath(ctx, snapshotID, path)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", cpgerrors.Data("file not found: "+path, nil)
	}

	var text string
	switch file.ParsingStatus() {
	case model.ParsingOK:
		text, err = n.reconstructFromChunks(ctx, file.ID())
		if err != nil {
			return "", err
		}
	default:
		if file.ContentHash() == "" {
			return "", nil
		}
		content, ok, err := n.store.ContentByHash(ctx, file.ContentHash())
		if err != nil {
			return "", err
		}
		if !ok {
			return "", nil
		}
		text = content.Text()
	}

	if startLine > 0 && endLine > 0 {
		text = clipLines(text, startLine, endLine)
	}
	return text, nil
}

func (n *Navigator) reconstructFromChunks(ctx context.Context, fileID int64) (string, error) {
	chunks, err := n.store.ChunksOfFile(ctx, fileID)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", nil
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ByteRange().Start < chunks[j].ByteRange().Start })

	var b strings.Builder
	for _, c := range chunks {
		cc, ok, err := n.contentFor(ctx, c.ContentHash())
		if err != nil {
			return "", err
		}
		if ok {
			b.WriteString(cc)
		}
	}
	return b.String(), nil
}

func (n *Navigator) contentFor(ctx context.Context, hash string) (string, bool, error) {
	content, ok, err := n.store.ContentByHash(ctx, hash)
	if err != nil || !ok {
		return "", ok, err
	}
	return content.Text(), true, nil
}

func clipLines(text string, startLine, endLine int) string {
	lines := strings.Split(text, "\n")
	if startLine < 1 {
		startLine = 1
	}
	if endLine > len(lines) {
		endLine = len(lines)
	}
	if startLine > endLine || startLine > len(lines) {
		return ""
	}
	return strings.Join(lines[startLine-1:endLine], "\n")
}

// DirEntry is one entry returned by ListDirectory/FindDirectories.
type DirEntry struct {
	Name string
	Type model.ManifestEntryType
	Path string
}

// ListDirectory reads the snapshot's manifest and returns dirPath's direct
// children, directories first, then files, alphabetically within each
// group. dirPath "" means the repository root.
func (n *Navigator) ListDirectory(ctx context.Context, snapshotID int64, dirPath string) ([]DirEntry, error) {
	snap, err := n.snapshotByID(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	node, prefix, ok := findManifestNode(snap.Manifest(), dirPath)
	if !ok {
		return nil, cpgerrors.Data("directory not found: "+dirPath, nil)
	}
	entries := make([]DirEntry, 0, len(node.Children))
	for _, c := range node.Children {
		entries = append(entries, DirEntry{Name: c.Name, Type: c.Type, Path: joinManifestPath(prefix, c.Name)})
	}
	return entries, nil
}

// FindDirectories walks the manifest in memory for every directory whose
// name contains pattern, up to limit results.
func (n *Navigator) FindDirectories(ctx context.Context, snapshotID int64, pattern string, limit int) ([]DirEntry, error) {
	snap, err := n.snapshotByID(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	var out []DirEntry
	var walk func(node model.Manifest, prefix string)
	walk = func(node model.Manifest, prefix string) {
		for _, c := range node.Children {
			if limit > 0 && len(out) >= limit {
				return
			}
			path := joinManifestPath(prefix, c.Name)
			if c.Type == model.ManifestDir {
				if pattern == "" || strings.Contains(c.Name, pattern) {
					out = append(out, DirEntry{Name: c.Name, Type: c.Type, Path: path})
				}
				walk(c, path)
			}
		}
	}
	walk(snap.Manifest(), "")
	return out, nil
}

func (n *Navigator) snapshotByID(ctx context.Context, snapshotID int64) (model.Snapshot, error) {
	return n.store.SnapshotByID(ctx, snapshotID)
}

// findManifestNode locates dirPath ("" for root) within root, returning the
// matching node and the path prefix its children sit under.
func findManifestNode(root model.Manifest, dirPath string) (model.Manifest, string, bool) {
	dirPath = strings.Trim(dirPath, "/")
	if dirPath == "" {
		return root, "", true
	}
	segments := strings.Split(dirPath, "/")
	node := root
	var prefix string
	for _, seg := range segments {
		found := false
		for _, c := range node.Children {
			if c.Name == seg && c.Type == model.ManifestDir {
				node = c
				prefix = joinManifestPath(prefix, seg)
				found = true
				break
			}
		}
		if !found {
			return model.Manifest{}, "", false
		}
	}
	return node, prefix, true
}

func joinManifestPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
