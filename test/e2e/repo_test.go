// Package e2e exercises the engine's seed scenarios end-to-end: fresh
// index, active-snapshot bookkeeping, cached re-embedding and hybrid search,
// wiring the real collector/chunker/indexer/embedding/retrieval packages
// against a throwaway Git repository and sqlite store rather than a live
// Postgres (no toolchain is run in this suite; assertions target the
// deterministic behaviors those packages already guarantee).
package e2e_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/cpgraph/engine/internal/collector"
	"github.com/cpgraph/engine/internal/database"
	"github.com/cpgraph/engine/internal/indexer"
	"github.com/cpgraph/engine/internal/storage"
)

// seedRepo wraps a throwaway on-disk Git repository standing in for the
// remote the orchestrator clones from.
type seedRepo struct {
	dir  string
	repo *git.Repository
	wt   *git.Worktree
}

func newSeedRepo(t *testing.T) *seedRepo {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	return &seedRepo{dir: dir, repo: repo, wt: wt}
}

func (r *seedRepo) write(t *testing.T, relPath, content string) {
	t.Helper()
	full := filepath.Join(r.dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func (r *seedRepo) commit(t *testing.T, paths ...string) string {
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

func newSeedStore(t *testing.T) (*storage.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "e2e.db")
	db, err := database.NewDatabase(ctx, "sqlite:///"+dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := storage.New(db)
	require.NoError(t, store.Migrate(ctx))
	return store, ctx
}

func newSeedOrchestrator(t *testing.T, store *storage.Store) *indexer.Orchestrator {
	t.Helper()
	worktrees := collector.NewWorktreeManager(t.TempDir(), nil)
	return indexer.New(store, worktrees, nil)
}

const fooSource = "package a\n\nfunc Foo() int {\n\treturn 1\n}\n"
const barSource = "package a\n\nfunc Bar() int {\n\treturn Foo()\n}\n"
const readmeSource = "hello\n"
