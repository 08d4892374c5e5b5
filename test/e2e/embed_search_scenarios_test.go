package e2e_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpgraph/engine/internal/embedding"
	"github.com/cpgraph/engine/internal/retrieval"
)

// countingProvider is a fake embedding.Provider counting how many texts it
// was asked to embed, standing in for a real OpenAI-backed endpoint.
type countingProvider struct {
	model string
	calls int32
}

func (p *countingProvider) Model() string { return p.model }

func (p *countingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&p.calls, int32(len(texts)))
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

// Scenario 3: embedding a fresh snapshot calls the provider once per
// chunk; a later snapshot that only adds a file with no registered
// grammar (c.md, left unchunked) reuses every vector for a.go and b.go's
// unchanged chunks via cache and contributes no chunk of its own, making
// zero new provider calls.
func TestScenario_EmbedReusesVectorsForUnchangedChunks(t *testing.T) {
	repo := newSeedRepo(t)
	repo.write(t, "a.go", fooSource)
	repo.write(t, "b.go", barSource)
	firstCommit := repo.commit(t, "a.go", "b.go")

	store, ctx := newSeedStore(t)
	orch := newSeedOrchestrator(t, store)

	firstSnap, err := orch.Index(ctx, repo.dir, firstCommit, "demo")
	require.NoError(t, err)

	provider := &countingProvider{model: "test-model"}
	pipeline := embedding.NewPipeline(store, provider)
	require.NoError(t, pipeline.Run(ctx, firstSnap.ID(), nil))
	firstCallCount := atomic.LoadInt32(&provider.calls)
	assert.Greater(t, firstCallCount, int32(0), "embedding a fresh snapshot should call the provider")

	repo.write(t, "c.md", readmeSource)
	secondCommit := repo.commit(t, "c.md")
	secondSnap, err := orch.Index(ctx, repo.dir, secondCommit, "demo")
	require.NoError(t, err)

	require.NoError(t, pipeline.Run(ctx, secondSnap.ID(), nil))
	secondCallCount := atomic.LoadInt32(&provider.calls) - firstCallCount
	assert.Equal(t, int32(0), secondCallCount, "c.md has no registered grammar and contributes no chunks, and a.go/b.go's unchanged chunks should be reused from cache")
}

// Scenario 4: a hybrid query over embedded, indexed source returns hits and
// finds the file that defines the queried function.
func TestScenario_HybridSearchFindsDefiningFile(t *testing.T) {
	repo := newSeedRepo(t)
	repo.write(t, "a.go", fooSource)
	repo.write(t, "b.go", barSource)
	commit := repo.commit(t, "a.go", "b.go")

	store, ctx := newSeedStore(t)
	orch := newSeedOrchestrator(t, store)
	snap, err := orch.Index(ctx, repo.dir, commit, "demo")
	require.NoError(t, err)

	provider := &countingProvider{model: "test-model"}
	pipeline := embedding.NewPipeline(store, provider)
	require.NoError(t, pipeline.Run(ctx, snap.ID(), nil))

	engine := retrieval.New(store, provider)
	results, err := engine.Retrieve(ctx, retrieval.Query{
		Text:       "Foo",
		RepoID:     snap.RepositoryID(),
		SnapshotID: snap.ID(),
		Limit:      10,
		Strategy:   retrieval.StrategyHybrid,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results, "hybrid search over indexed Go source should find Foo")

	var foundFooFile bool
	for _, r := range results {
		if r.FilePath == "a.go" {
			foundFooFile = true
		}
	}
	assert.True(t, foundFooFile, "a.go, defining Foo, should be among the hybrid results")
}
