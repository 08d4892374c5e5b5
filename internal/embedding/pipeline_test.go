package embedding

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpgraph/engine/internal/database"
	"github.com/cpgraph/engine/internal/model"
	"github.com/cpgraph/engine/internal/storage"
)

type fakeProvider struct {
	model   string
	calls   int32
	failOn  string // prompt substring that triggers a failure
	failErr error
}

func (f *fakeProvider) Model() string { return f.model }

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.failOn != "" {
		for _, t := range texts {
			if contains(t, f.failOn) {
				return nil, f.failErr
			}
		}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 0.5}
	}
	return out, nil
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func newTestStoreForEmbedding(t *testing.T) (*storage.Store, int64, int64) {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.NewDatabase(ctx, "sqlite:///"+dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := storage.New(db)
	require.NoError(t, store.Migrate(ctx))

	repo, err := store.EnsureRepository(ctx, "https://example.com/repo.git", "main", "repo")
	require.NoError(t, err)
	snap, err := store.CreateSnapshot(ctx, repo.ID(), "abc123")
	require.NoError(t, err)

	files, err := store.AddFiles(ctx, []model.File{
		model.NewFile(snap.ID(), "main.go", "go", 20, model.CategorySource, "h1", true),
	})
	require.NoError(t, err)

	content := model.NewContent("hash1", "func main() {}")
	require.NoError(t, store.AddContents(ctx, []model.Content{content}))

	chunks, err := store.AddChunks(ctx, []model.Chunk{
		model.NewChunk(files[0].ID(), "hash1", model.ByteRange{Start: 0, End: 14}, model.LineRange{Start: 1, End: 1},
			model.ChunkMetadata{SymbolType: "function", Identifiers: []string{"main"}, Tags: []string{"entrypoint"}}),
	})
	require.NoError(t, err)

	return store, snap.ID(), chunks[0].ID()
}

func TestPipeline_Run_EmbedsNewChunkAndPromotes(t *testing.T) {
	store, snapshotID, chunkID := newTestStoreForEmbedding(t)
	provider := &fakeProvider{model: "test-embed-1"}

	pipeline := NewPipeline(store, provider)
	events := make(chan Event, 32)
	require.NoError(t, pipeline.Run(context.Background(), snapshotID, events))
	close(events)

	var completed *Event
	for e := range events {
		e := e
		if e.Kind == EventCompleted {
			completed = &e
		}
	}
	require.NotNil(t, completed)
	assert.Equal(t, 1, completed.NewlyEmbedded)
	assert.Equal(t, 0, completed.Reused)

	hits, err := store.SearchVectors(context.Background(), snapshotID, "test-embed-1", []float32{14, 0.5}, 5, model.Filters{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, chunkID, hits[0].ChunkID)
}

func TestPipeline_Run_SkipsAlreadyEmbeddedChunks(t *testing.T) {
	store, snapshotID, _ := newTestStoreForEmbedding(t)
	provider := &fakeProvider{model: "test-embed-1"}

	pipeline := NewPipeline(store, provider)
	require.NoError(t, pipeline.Run(context.Background(), snapshotID, nil))
	firstCalls := provider.calls

	require.NoError(t, pipeline.Run(context.Background(), snapshotID, nil))
	assert.Equal(t, firstCalls, provider.calls, "second run should find nothing left to embed")
}

func TestPipeline_Run_ToleratesBatchFailureAndKeepsGoing(t *testing.T) {
	store, snapshotID, _ := newTestStoreForEmbedding(t)
	provider := &fakeProvider{model: "test-embed-1", failOn: "func main", failErr: assertErr}

	pipeline := NewPipeline(store, provider)
	events := make(chan Event, 32)
	err := pipeline.Run(context.Background(), snapshotID, events)
	require.NoError(t, err, "a failed batch must not fail the whole run")
	close(events)

	var sawErrored bool
	var completed *Event
	for e := range events {
		e := e
		if e.Kind == EventErrored {
			sawErrored = true
		}
		if e.Kind == EventCompleted {
			completed = &e
		}
	}
	assert.True(t, sawErrored)
	require.NotNil(t, completed)
	assert.Equal(t, 0, completed.NewlyEmbedded)
}

var assertErr = errAssert{}

type errAssert struct{}

func (errAssert) Error() string { return "simulated provider failure" }
