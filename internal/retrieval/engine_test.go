package retrieval

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
	"github.com/cpgraph/engine/internal/indexer"
	"github.com/cpgraph/engine/internal/model"
	"github.com/cpgraph/engine/internal/storage"
)

// seedRepo builds a throwaway on-disk Git repository with two Go files, one
// calling the other, and returns its path and commit hash. Grounded on the
// indexer package's own test fixture.
func seedRepo(t *testing.T) (dir, commit string) {
	t.Helper()
	dir = t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	write := func(relPath, content string) {
		full := filepath.Join(dir, relPath)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	write("widgets.go", "package main\n\nfunc RenderWidget() int {\n\treturn 1\n}\n")
	write("main.go", "package main\n\nfunc Main() {\n\tRenderWidget()\n}\n")

	_, err = wt.Add("widgets.go")
	require.NoError(t, err)
	_, err = wt.Add("main.go")
	require.NoError(t, err)
	hash, err := wt.Commit("snapshot", &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com"},
	})
	require.NoError(t, err)
	return dir, hash.String()
}

func newIndexedStore(t *testing.T) (*storage.Store, context.Context, model.Snapshot) {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.NewDatabase(ctx, "sqlite:///"+dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := storage.New(db)
	require.NoError(t, store.Migrate(ctx))

	repoDir, commit := seedRepo(t)
	worktrees := collector.NewWorktreeManager(t.TempDir(), nil)
	orch := indexer.New(store, worktrees, nil)
	snap, err := orch.Index(ctx, repoDir, commit, "demo")
	require.NoError(t, err)
	return store, ctx, snap
}

func TestEngine_Retrieve_KeywordStrategyFindsMatchingChunkWithRelations(t *testing.T) {
	store, ctx, snap := newIndexedStore(t)
	engine := New(store, nil)

	results, err := engine.Retrieve(ctx, Query{
		Text:       "RenderWidget",
		Strategy:   StrategyKeyword,
		Limit:      5,
		SnapshotID: snap.ID(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, results, "expected at least one hit for an identifier present in the indexed source")

	var found bool
	for _, r := range results {
		if r.FilePath == "widgets.go" {
			found = true
			assert.Equal(t, StrategyKeyword, r.RetrievalMethod)
			assert.NotEmpty(t, r.Content)
			rendered := r.Render()
			assert.Contains(t, rendered, "[CONTEXT]")
			assert.Contains(t, rendered, "[CODE]")
			assert.Contains(t, rendered, "[RELATIONS]")
		}
	}
	assert.True(t, found, "expected a hit in widgets.go")
}

func TestEngine_Retrieve_VectorStrategyWithoutProviderIsUsageError(t *testing.T) {
	store, ctx, snap := newIndexedStore(t)
	engine := New(store, nil)

	_, err := engine.Retrieve(ctx, Query{Text: "anything", Strategy: StrategyVector, Limit: 5, SnapshotID: snap.ID()})
	assert.Error(t, err)
}

func TestEngine_Retrieve_UsesActiveSnapshotWhenSnapshotIDUnset(t *testing.T) {
	store, ctx, snap := newIndexedStore(t)
	engine := New(store, nil)

	results, err := engine.Retrieve(ctx, Query{
		Text:       "Main",
		Strategy:   StrategyKeyword,
		Limit:      5,
		RepoID:     snap.RepositoryID(),
		SnapshotID: 0,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}
