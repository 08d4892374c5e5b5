package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpgraph/engine/internal/collector"
	"github.com/cpgraph/engine/internal/database"
	"github.com/cpgraph/engine/internal/model"
	"github.com/cpgraph/engine/internal/storage"
)

// testRepo wraps a throwaway on-disk Git repository used as the "remote"
// the Orchestrator clones from, matching the collector package's own
// worktree tests.
type testRepo struct {
	dir  string
	repo *git.Repository
	wt   *git.Worktree
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	return &testRepo{dir: dir, repo: repo, wt: wt}
}

func (r *testRepo) writeFile(t *testing.T, relPath, content string) {
	t.Helper()
	full := filepath.Join(r.dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func (r *testRepo) commit(t *testing.T, paths ...string) string {
	t.Helper()
	for _, p := range paths {
		_, err := r.wt.Add(p)
		require.NoError(t, err)
	}
	hash, err := r.wt.Commit("snapshot", &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com"},
	})
	require.NoError(t, err)
	return hash.String()
}

func newTestStoreForIndexer(t *testing.T) (*storage.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.NewDatabase(ctx, "sqlite:///"+dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := storage.New(db)
	require.NoError(t, store.Migrate(ctx))
	return store, ctx
}

const helperSource = "package main\n\nfunc Helper() int {\n\treturn 42\n}\n"
const mainSource = "package main\n\nfunc Main() {\n\tHelper()\n}\n"

func TestOrchestrator_Index_ParsesFilesResolvesCallAndActivatesSnapshot(t *testing.T) {
	repo := newTestRepo(t)
	repo.writeFile(t, "a.go", helperSource)
	repo.writeFile(t, "b.go", mainSource)
	commit := repo.commit(t, "a.go", "b.go")

	store, ctx := newTestStoreForIndexer(t)
	worktrees := collector.NewWorktreeManager(t.TempDir(), nil)
	orch := New(store, worktrees, nil)

	snap, err := orch.Index(ctx, repo.dir, commit, "demo")
	require.NoError(t, err)
	assert.Equal(t, model.SnapshotCompleted, snap.Status())

	stats := snap.Stats()
	assert.Equal(t, 2, stats.FilesTotal)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.GreaterOrEqual(t, stats.ChunksTotal, 2)
	assert.GreaterOrEqual(t, stats.EdgesTotal, 1, "the Main->Helper call should resolve to an edge")

	manifest := snap.Manifest()
	var names []string
	for _, c := range manifest.Children {
		names = append(names, c.Name)
		assert.Equal(t, model.ManifestFile, c.Type)
	}
	assert.ElementsMatch(t, []string{"a.go", "b.go"}, names)
}

func TestOrchestrator_Index_SecondRunReattachesUnchangedFilesFromCache(t *testing.T) {
	repo := newTestRepo(t)
	repo.writeFile(t, "a.go", helperSource)
	repo.writeFile(t, "b.go", mainSource)
	firstCommit := repo.commit(t, "a.go", "b.go")

	store, ctx := newTestStoreForIndexer(t)
	worktrees := collector.NewWorktreeManager(t.TempDir(), nil)
	orch := New(store, worktrees, nil)

	_, err := orch.Index(ctx, repo.dir, firstCommit, "demo")
	require.NoError(t, err)

	repo.writeFile(t, "c.go", "package main\n\nfunc Extra() {}\n")
	secondCommit := repo.commit(t, "c.go")

	snap, err := orch.Index(ctx, repo.dir, secondCommit, "demo")
	require.NoError(t, err)
	assert.Equal(t, model.SnapshotCompleted, snap.Status())

	stats := snap.Stats()
	assert.Equal(t, 3, stats.FilesTotal)
	assert.Equal(t, 3, stats.FilesIndexed)
	assert.Equal(t, 2, stats.CacheHits, "a.go and b.go are unchanged and should be reattached, not reparsed")
}
