package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpgraph/engine/internal/cpgerrors"
	"github.com/cpgraph/engine/internal/database"
	"github.com/cpgraph/engine/internal/model"
)

func newTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.NewDatabase(ctx, "sqlite:///"+dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := New(db)
	require.NoError(t, store.Migrate(ctx))
	return store, ctx
}

func TestEnsureRepository_CreatesOnceAndReturnsSameRowAfter(t *testing.T) {
	store, ctx := newTestStore(t)

	first, err := store.EnsureRepository(ctx, "https://example.com/repo.git", "main", "repo")
	require.NoError(t, err)
	assert.NotZero(t, first.ID())

	second, err := store.EnsureRepository(ctx, "https://example.com/repo.git", "main", "repo")
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID())
}

func TestCreateSnapshot_RejectsSecondConcurrentIndexingSnapshot(t *testing.T) {
	store, ctx := newTestStore(t)
	repo, err := store.EnsureRepository(ctx, "https://example.com/repo.git", "main", "repo")
	require.NoError(t, err)

	_, err = store.CreateSnapshot(ctx, repo.ID(), "abc123")
	require.NoError(t, err)

	_, err = store.CreateSnapshot(ctx, repo.ID(), "def456")
	require.Error(t, err)
	var cpgErr *cpgerrors.Error
	require.ErrorAs(t, err, &cpgErr)
	assert.True(t, cpgerrors.Retryable(err))
}

func TestActivateSnapshot_SetsCurrentSnapshotAndStatus(t *testing.T) {
	store, ctx := newTestStore(t)
	repo, err := store.EnsureRepository(ctx, "https://example.com/repo.git", "main", "repo")
	require.NoError(t, err)

	snap, err := store.CreateSnapshot(ctx, repo.ID(), "abc123")
	require.NoError(t, err)

	stats := model.SnapshotStats{FilesTotal: 3, FilesIndexed: 3, ChunksTotal: 10}
	require.NoError(t, store.ActivateSnapshot(ctx, repo.ID(), snap.ID(), stats, model.Manifest{Name: "root", Type: model.ManifestDir}))

	active, err := store.ActiveSnapshotOf(ctx, repo.ID())
	require.NoError(t, err)
	assert.Equal(t, snap.ID(), active.ID())
	assert.Equal(t, model.SnapshotCompleted, active.Status())
	assert.Equal(t, 10, active.Stats().ChunksTotal)
	assert.Equal(t, "root", active.Manifest().Name)

	// A second snapshot may now start since the first is no longer indexing.
	_, err = store.CreateSnapshot(ctx, repo.ID(), "def456")
	assert.NoError(t, err)
}

func TestActivateSnapshot_OlderSnapshotLosesToAlreadyActiveNewerOne(t *testing.T) {
	store, ctx := newTestStore(t)
	repo, err := store.EnsureRepository(ctx, "https://example.com/repo.git", "main", "repo")
	require.NoError(t, err)

	older, err := store.CreateSnapshot(ctx, repo.ID(), "abc123")
	require.NoError(t, err)
	require.NoError(t, store.FailSnapshot(ctx, older.ID(), model.SnapshotStats{}))

	newer, err := store.CreateSnapshot(ctx, repo.ID(), "def456")
	require.NoError(t, err)
	require.NoError(t, store.ActivateSnapshot(ctx, repo.ID(), newer.ID(), model.SnapshotStats{}, model.Manifest{Name: "root", Type: model.ManifestDir}))

	err = store.ActivateSnapshot(ctx, repo.ID(), older.ID(), model.SnapshotStats{}, model.Manifest{Name: "root", Type: model.ManifestDir})
	require.Error(t, err)
	var cpgErr *cpgerrors.Error
	require.ErrorAs(t, err, &cpgErr)
	assert.Equal(t, cpgerrors.KindConflict, cpgErr.Kind)

	active, err := store.ActiveSnapshotOf(ctx, repo.ID())
	require.NoError(t, err)
	assert.Equal(t, newer.ID(), active.ID(), "the newer snapshot must remain active")
}

func TestActivateSnapshot_ActivatingTheSameSnapshotTwiceIsANoOp(t *testing.T) {
	store, ctx := newTestStore(t)
	repo, err := store.EnsureRepository(ctx, "https://example.com/repo.git", "main", "repo")
	require.NoError(t, err)
	snap, err := store.CreateSnapshot(ctx, repo.ID(), "abc123")
	require.NoError(t, err)

	manifest := model.Manifest{Name: "root", Type: model.ManifestDir}
	require.NoError(t, store.ActivateSnapshot(ctx, repo.ID(), snap.ID(), model.SnapshotStats{}, manifest))
	require.NoError(t, store.ActivateSnapshot(ctx, repo.ID(), snap.ID(), model.SnapshotStats{}, manifest))
}

func TestFailSnapshot_RecordsFailureAndFreesTheSlot(t *testing.T) {
	store, ctx := newTestStore(t)
	repo, err := store.EnsureRepository(ctx, "https://example.com/repo.git", "main", "repo")
	require.NoError(t, err)

	snap, err := store.CreateSnapshot(ctx, repo.ID(), "abc123")
	require.NoError(t, err)

	require.NoError(t, store.FailSnapshot(ctx, snap.ID(), model.SnapshotStats{FilesTotal: 1, FilesFailed: 1}))

	_, err = store.CreateSnapshot(ctx, repo.ID(), "def456")
	assert.NoError(t, err, "failing the first snapshot should release the advisory lock")
}

func TestAddFilesAddContentsAddChunksAddEdges_RoundTrip(t *testing.T) {
	store, ctx := newTestStore(t)
	repo, err := store.EnsureRepository(ctx, "https://example.com/repo.git", "main", "repo")
	require.NoError(t, err)
	snap, err := store.CreateSnapshot(ctx, repo.ID(), "abc123")
	require.NoError(t, err)

	files, err := store.AddFiles(ctx, []model.File{
		model.NewFile(snap.ID(), "main.go", "go", 120, model.CategorySource, "deadbeef", true),
	})
	require.NoError(t, err)
	require.Len(t, files, 1)
	fileID := files[0].ID()
	assert.NotZero(t, fileID)

	content := model.NewContent("hash1", "func main() {}")
	require.NoError(t, store.AddContents(ctx, []model.Content{content}))
	// Re-adding the same hash should not fail or duplicate.
	require.NoError(t, store.AddContents(ctx, []model.Content{content}))

	chunks, err := store.AddChunks(ctx, []model.Chunk{
		model.NewChunk(fileID, "hash1", model.ByteRange{Start: 0, End: 14}, model.LineRange{Start: 1, End: 1},
			model.ChunkMetadata{SymbolType: "function", Identifiers: []string{"main"}, Tags: []string{"entrypoint"}}),
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	chunkID := chunks[0].ID()
	assert.NotZero(t, chunkID)
	assert.Equal(t, "function", chunks[0].Metadata().SymbolType)
	assert.Equal(t, []string{"main"}, chunks[0].Metadata().Identifiers)

	err = store.AddEdges(ctx, []model.Edge{
		model.NewEdge(model.ChunkTarget(chunkID), model.FileTarget(fileID), model.RelationImports, map[string]string{"via": "test"}),
	})
	require.NoError(t, err)

	refs, err := store.IncomingRefs(ctx, chunkID)
	require.NoError(t, err)
	assert.Empty(t, refs, "the edge targets a file, not this chunk, so it shouldn't appear as an incoming ref")

	neighbors, err := store.Neighbors(ctx, chunkID)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, model.RelationImports, neighbors[0].Relation())
	assert.Equal(t, "test", neighbors[0].Metadata()["via"])
}

func TestSearchFTS_RanksOverlappingTokensFirst(t *testing.T) {
	store, ctx := newTestStore(t)
	repo, err := store.EnsureRepository(ctx, "https://example.com/repo.git", "main", "repo")
	require.NoError(t, err)
	snap, err := store.CreateSnapshot(ctx, repo.ID(), "abc123")
	require.NoError(t, err)

	files, err := store.AddFiles(ctx, []model.File{
		model.NewFile(snap.ID(), "auth.go", "go", 10, model.CategorySource, "h1", true),
		model.NewFile(snap.ID(), "unrelated.go", "go", 10, model.CategorySource, "h2", true),
	})
	require.NoError(t, err)

	require.NoError(t, store.AddFTS(ctx, []model.FTSEntry{
		model.NewFTSEntry(1, snap.ID(), files[0].ID(), "validate token user session auth auth auth auth"),
		model.NewFTSEntry(2, snap.ID(), files[1].ID(), "render widget layout"),
	}))

	hits, err := store.SearchFTS(ctx, snap.ID(), "auth token", 10, model.Filters{})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, int64(1), hits[0].ChunkID)
}

func TestSearchFTS_RoleFilterMatchesChunkTagsExactly(t *testing.T) {
	store, ctx := newTestStore(t)
	repo, err := store.EnsureRepository(ctx, "https://example.com/repo.git", "main", "repo")
	require.NoError(t, err)
	snap, err := store.CreateSnapshot(ctx, repo.ID(), "abc123")
	require.NoError(t, err)

	files, err := store.AddFiles(ctx, []model.File{
		model.NewFile(snap.ID(), "pub.go", "go", 10, model.CategorySource, "h1", true),
		model.NewFile(snap.ID(), "priv.go", "go", 10, model.CategorySource, "h2", true),
	})
	require.NoError(t, err)

	chunks, err := store.AddChunks(ctx, []model.Chunk{
		model.NewChunk(files[0].ID(), "hash1", model.ByteRange{Start: 0, End: 10}, model.LineRange{Start: 1, End: 1},
			model.ChunkMetadata{SymbolType: "function", Tags: []string{"public"}}),
		model.NewChunk(files[1].ID(), "hash2", model.ByteRange{Start: 0, End: 10}, model.LineRange{Start: 1, End: 1},
			model.ChunkMetadata{SymbolType: "function", Tags: []string{"private"}}),
	})
	require.NoError(t, err)

	require.NoError(t, store.AddFTS(ctx, []model.FTSEntry{
		model.NewFTSEntry(chunks[0].ID(), snap.ID(), files[0].ID(), "widget render"),
		model.NewFTSEntry(chunks[1].ID(), snap.ID(), files[1].ID(), "widget render"),
	}))

	hits, err := store.SearchFTS(ctx, snap.ID(), "widget", 10, model.Filters{Role: []string{"public"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, chunks[0].ID(), hits[0].ChunkID)

	excluded, err := store.SearchFTS(ctx, snap.ID(), "widget", 10, model.Filters{ExcludeRole: []string{"public"}})
	require.NoError(t, err)
	require.Len(t, excluded, 1)
	assert.Equal(t, chunks[1].ID(), excluded[0].ChunkID)
}

func TestStagingPipeline_StageWriteAndPromote(t *testing.T) {
	store, ctx := newTestStore(t)
	repo, err := store.EnsureRepository(ctx, "https://example.com/repo.git", "main", "repo")
	require.NoError(t, err)
	snap, err := store.CreateSnapshot(ctx, repo.ID(), "abc123")
	require.NoError(t, err)

	files, err := store.AddFiles(ctx, []model.File{
		model.NewFile(snap.ID(), "main.go", "go", 10, model.CategorySource, "h1", true),
	})
	require.NoError(t, err)

	require.NoError(t, store.PrepareStaging(ctx, snap.ID(), "text-embed-1"))
	require.NoError(t, store.Stage(ctx, []StagingRow{
		{ChunkID: 1, SnapshotID: snap.ID(), FileID: files[0].ID(), PromptHash: "p1", Model: "text-embed-1", Prompt: "func main"},
	}))

	hits, err := store.CopyCachedVectors(ctx, snap.ID(), "text-embed-1")
	require.NoError(t, err)
	assert.Zero(t, hits, "no prior embedding exists yet to backfill from")

	delta, err := store.FetchStagingDelta(ctx, snap.ID(), "text-embed-1", 10)
	require.NoError(t, err)
	require.Len(t, delta, 1)

	require.NoError(t, store.WriteVectors(ctx, snap.ID(), "text-embed-1", []StagedVector{
		{ChunkID: 1, Vector: []float32{0.1, 0.2, 0.3}},
	}))

	promoted, err := store.PromoteStaging(ctx, snap.ID(), "text-embed-1")
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	remaining, err := store.FetchStagingDelta(ctx, snap.ID(), "text-embed-1", 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	hits2, err := store.SearchVectors(ctx, snap.ID(), "text-embed-1", []float32{0.1, 0.2, 0.3}, 5, model.Filters{})
	require.NoError(t, err)
	require.Len(t, hits2, 1)
	assert.Equal(t, int64(1), hits2[0].ChunkID)
	assert.InDelta(t, 1.0, hits2[0].Score, 0.001)
}

func TestCloneFileIntoSnapshot_ReattachesChunksAndChildEdgesWithoutReparsing(t *testing.T) {
	store, ctx := newTestStore(t)
	repo, err := store.EnsureRepository(ctx, "https://example.com/repo.git", "main", "repo")
	require.NoError(t, err)
	oldSnap, err := store.CreateSnapshot(ctx, repo.ID(), "abc123")
	require.NoError(t, err)

	files, err := store.AddFiles(ctx, []model.File{
		model.NewFile(oldSnap.ID(), "main.go", "go", 40, model.CategorySource, "deadbeef", true),
	})
	require.NoError(t, err)
	oldFile := files[0].WithParsing(model.ParsingOK, "")
	require.NoError(t, store.db.Session(ctx).Model(&FileEntity{}).Where("id = ?", oldFile.ID()).
		Update("parsing_status", string(model.ParsingOK)).Error)

	require.NoError(t, store.AddContents(ctx, []model.Content{model.NewContent("hash1", "func main() {}")}))
	chunks, err := store.AddChunks(ctx, []model.Chunk{
		model.NewChunk(oldFile.ID(), "hash1", model.ByteRange{Start: 0, End: 14}, model.LineRange{Start: 1, End: 1},
			model.ChunkMetadata{SymbolType: "function"}),
	})
	require.NoError(t, err)
	parentChunkID := chunks[0].ID()

	require.NoError(t, store.AddEdges(ctx, []model.Edge{
		model.NewEdge(model.ChunkTarget(parentChunkID), model.ChunkTarget(parentChunkID), model.RelationChildOf, nil),
	}))
	require.NoError(t, store.AddFTS(ctx, []model.FTSEntry{
		model.NewFTSEntry(parentChunkID, oldSnap.ID(), oldFile.ID(), "func main"),
	}))

	cached, ok, err := store.FindCachedFile(ctx, repo.ID(), "deadbeef")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.FailSnapshot(ctx, oldSnap.ID(), model.SnapshotStats{}))
	newSnap, err := store.CreateSnapshot(ctx, repo.ID(), "def456")
	require.NoError(t, err)

	clonedFile, err := store.CloneFileIntoSnapshot(ctx, cached.ID, newSnap.ID())
	require.NoError(t, err)
	assert.NotEqual(t, oldFile.ID(), clonedFile.ID())
	assert.Equal(t, newSnap.ID(), clonedFile.SnapshotID())

	var clonedChunks []ChunkEntity
	require.NoError(t, store.db.Session(ctx).Where("file_id = ?", clonedFile.ID()).Find(&clonedChunks).Error)
	require.Len(t, clonedChunks, 1)
	assert.NotEqual(t, parentChunkID, clonedChunks[0].ID)

	neighbors, err := store.Neighbors(ctx, clonedChunks[0].ID)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, model.RelationChildOf, neighbors[0].Relation())
}

func TestCopyCachedVectors_BackfillsFromExistingEmbedding(t *testing.T) {
	store, ctx := newTestStore(t)
	repo, err := store.EnsureRepository(ctx, "https://example.com/repo.git", "main", "repo")
	require.NoError(t, err)
	snap, err := store.CreateSnapshot(ctx, repo.ID(), "abc123")
	require.NoError(t, err)
	files, err := store.AddFiles(ctx, []model.File{
		model.NewFile(snap.ID(), "main.go", "go", 10, model.CategorySource, "h1", true),
	})
	require.NoError(t, err)

	// Seed a prior embedding sharing the same prompt hash directly through
	// the staging pipeline to simulate a previously indexed identical chunk.
	require.NoError(t, store.Stage(ctx, []StagingRow{
		{ChunkID: 1, SnapshotID: snap.ID(), FileID: files[0].ID(), PromptHash: "shared", Model: "m1", Prompt: "x"},
	}))
	require.NoError(t, store.WriteVectors(ctx, snap.ID(), "m1", []StagedVector{{ChunkID: 1, Vector: []float32{1, 0}}}))
	_, err = store.PromoteStaging(ctx, snap.ID(), "m1")
	require.NoError(t, err)

	require.NoError(t, store.Stage(ctx, []StagingRow{
		{ChunkID: 2, SnapshotID: snap.ID(), FileID: files[0].ID(), PromptHash: "shared", Model: "m1", Prompt: "x"},
	}))

	hits, err := store.CopyCachedVectors(ctx, snap.ID(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, hits)

	delta, err := store.FetchStagingDelta(ctx, snap.ID(), "m1", 10)
	require.NoError(t, err)
	assert.Empty(t, delta, "the backfilled row should already be marked embedded")
}
