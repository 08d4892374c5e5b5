// Package retrieval answers a query with ranked, context-enriched chunks:
// vector, keyword or hybrid search over a snapshot, fused by Reciprocal
// Rank Fusion, then enriched with parent context and outgoing symbols by
// the Walker.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cpgraph/engine/internal/cpgerrors"
	"github.com/cpgraph/engine/internal/embedding"
	"github.com/cpgraph/engine/internal/model"
	"github.com/cpgraph/engine/internal/storage"
)

// Strategy selects which search(es) retrieve runs.
type Strategy string

// Strategy values.
const (
	StrategyVector  Strategy = "vector"
	StrategyKeyword Strategy = "keyword"
	StrategyHybrid  Strategy = "hybrid"
)

// candidateMultiplier over-fetches each strategy's raw hits before fusion
// and truncation, so RRF has more than limit candidates to rank across.
const candidateMultiplier = 2

// Engine runs retrieve() against one store.
type Engine struct {
	store    *storage.Store
	embedder embedding.Provider
	walker   *Walker
}

// New builds an Engine. embedder may be nil if only StrategyKeyword will
// ever be used; a vector or hybrid query against a nil embedder returns
// cpgerrors.Usage.
func New(store *storage.Store, embedder embedding.Provider) *Engine {
	return &Engine{store: store, embedder: embedder, walker: NewWalker(store)}
}

// Query parameterizes a retrieve() call.
type Query struct {
	Text       string
	RepoID     int64
	SnapshotID int64 // 0 means "use the repository's active snapshot"
	Limit      int
	Strategy   Strategy
	Filters    model.Filters
}

// Retrieve answers a query with up to Limit ranked, enriched results. If
// SnapshotID is unset, the repository's active snapshot is used; if the
// repository has none, Retrieve returns an empty slice.
func (e *Engine) Retrieve(ctx context.Context, q Query) ([]RetrievedContext, error) {
	snapshotID := q.SnapshotID
	if snapshotID == 0 {
		snap, err := e.store.ActiveSnapshotOf(ctx, q.RepoID)
		if err != nil {
			var cpgErr *cpgerrors.Error
			if cpgerrors.As(err, &cpgErr) && cpgErr.Kind == cpgerrors.KindState {
				return nil, nil
			}
			return nil, err
		}
		if snap.ID() == 0 {
			return nil, nil
		}
		snapshotID = snap.ID()
	}

	candidates := q.Limit * candidateMultiplier
	if candidates <= 0 {
		candidates = candidateMultiplier
	}

	var vectorHits, keywordHits []rankedHit
	var err error
	switch q.Strategy {
	case StrategyVector:
		vectorHits, err = e.searchVector(ctx, snapshotID, q.Text, candidates, q.Filters)
	case StrategyKeyword:
		keywordHits, err = e.searchKeyword(ctx, snapshotID, q.Text, candidates, q.Filters)
	case StrategyHybrid:
		vectorHits, keywordHits, err = e.searchBoth(ctx, snapshotID, q.Text, candidates, q.Filters)
	default:
		return nil, cpgerrors.Usage("unknown retrieval strategy "+string(q.Strategy), nil)
	}
	if err != nil {
		return nil, err
	}

	order, scores := rank(q.Strategy, vectorHits, keywordHits)
	if q.Limit > 0 && len(order) > q.Limit {
		order = order[:q.Limit]
	}
	if len(order) == 0 {
		return nil, nil
	}

	var chunkIDs []int64
	for _, id := range order {
		if id > 0 {
			chunkIDs = append(chunkIDs, id)
		}
	}
	contexts, err := e.store.ChunkContextsByIDs(ctx, chunkIDs)
	if err != nil {
		return nil, err
	}

	results := make([]RetrievedContext, 0, len(order))
	for _, id := range order {
		if id < 0 {
			rc, err := e.enrichFile(ctx, -id, q.Strategy, scores[id])
			if err != nil {
				return nil, err
			}
			results = append(results, rc)
			continue
		}
		cc, ok := contexts[id]
		if !ok {
			continue
		}
		rc, err := e.enrich(ctx, id, cc, q.Strategy, scores[id])
		if err != nil {
			return nil, err
		}
		results = append(results, rc)
	}
	return results, nil
}

// rank produces the final chunk-ID order and a per-chunk score for
// rendering, independent of which strategy ran.
func rank(strategy Strategy, vector, keyword []rankedHit) ([]int64, map[int64]float64) {
	if strategy == StrategyHybrid {
		return fuse(vector, keyword)
	}
	hits := vector
	if strategy == StrategyKeyword {
		hits = keyword
	}
	order := make([]int64, len(hits))
	scores := make(map[int64]float64, len(hits))
	for i, h := range hits {
		order[i] = h.chunkID
		scores[h.chunkID] = float64(h.score)
	}
	return order, scores
}

func (e *Engine) searchVector(ctx context.Context, snapshotID int64, text string, topK int, filters model.Filters) ([]rankedHit, error) {
	if e.embedder == nil {
		return nil, cpgerrors.Usage("vector search requires an embedding provider", nil)
	}
	vecs, err := e.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	hits, err := e.store.SearchVectors(ctx, snapshotID, e.embedder.Model(), vecs[0], topK, filters)
	if err != nil {
		return nil, err
	}
	out := make([]rankedHit, len(hits))
	for i, h := range hits {
		out[i] = rankedHit{chunkID: h.ChunkID, score: h.Score}
	}
	return out, nil
}

// searchKeyword runs the FTS search. A file-level hit (a chunkless file
// matched on its path/language tokens) carries no chunk ID, so it is
// given the negative of its file ID as a sentinel — chunk IDs are always
// positive, so the two spaces never collide — letting it flow through
// fuse/rank unmodified and be recognized again in Retrieve.
func (e *Engine) searchKeyword(ctx context.Context, snapshotID int64, text string, topK int, filters model.Filters) ([]rankedHit, error) {
	hits, err := e.store.SearchFTS(ctx, snapshotID, text, topK, filters)
	if err != nil {
		return nil, err
	}
	out := make([]rankedHit, len(hits))
	for i, h := range hits {
		id := h.ChunkID
		if !h.HasChunk {
			id = -h.FileID
		}
		out[i] = rankedHit{chunkID: id, score: h.Score}
	}
	return out, nil
}

// searchBoth runs the vector and keyword searches concurrently, since
// neither depends on the other's result.
func (e *Engine) searchBoth(ctx context.Context, snapshotID int64, text string, topK int, filters model.Filters) ([]rankedHit, []rankedHit, error) {
	var vectorHits, keywordHits []rankedHit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := e.searchVector(gctx, snapshotID, text, topK, filters)
		vectorHits = hits
		return err
	})
	g.Go(func() error {
		hits, err := e.searchKeyword(gctx, snapshotID, text, topK, filters)
		keywordHits = hits
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return vectorHits, keywordHits, nil
}

// enrich builds one RetrievedContext for chunkID, calling the Walker for
// parent context and outgoing definitions, and the store for this chunk's
// file-order neighbors.
func (e *Engine) enrich(ctx context.Context, chunkID int64, cc storage.ChunkContext, strategy Strategy, score float64) (RetrievedContext, error) {
	parent, hasParent, err := e.walker.ParentContext(ctx, chunkID)
	if err != nil {
		return RetrievedContext{}, err
	}
	outgoing, err := e.walker.OutgoingDefinitions(ctx, chunkID)
	if err != nil {
		return RetrievedContext{}, err
	}
	prevID, nextID, parentID, err := e.navigationHints(ctx, chunkID, cc.FileID)
	if err != nil {
		return RetrievedContext{}, err
	}

	return RetrievedContext{
		NodeID:              chunkID,
		FilePath:            cc.Path,
		StartLine:           cc.LineStart,
		EndLine:             cc.LineEnd,
		Content:             cc.Text,
		Score:               score,
		RetrievalMethod:     strategy,
		SemanticLabels:      cc.Tags,
		ParentContext:       parent,
		HasParentContext:    hasParent,
		OutgoingDefinitions: outgoing,
		PrevChunkID:         prevID,
		NextChunkID:         nextID,
		ParentChunkID:       parentID,
	}, nil
}

// enrichFile builds a RetrievedContext for a chunkless file matched by
// path/language, recovering its full text from the stored whole-file
// Content row the same way read_file does. There is no parent context,
// outgoing definitions or chunk-sibling navigation to offer, since none
// of that exists without chunks.
func (e *Engine) enrichFile(ctx context.Context, fileID int64, strategy Strategy, score float64) (RetrievedContext, error) {
	file, ok, err := e.store.FileByID(ctx, fileID)
	if err != nil {
		return RetrievedContext{}, err
	}
	if !ok {
		return RetrievedContext{}, cpgerrors.Data(fmt.Sprintf("file %d not found", fileID), nil)
	}

	var text string
	if hash := file.ContentHash(); hash != "" {
		content, ok, err := e.store.ContentByHash(ctx, hash)
		if err != nil {
			return RetrievedContext{}, err
		}
		if ok {
			text = content.Text()
		}
	}

	return RetrievedContext{
		NodeID:          -fileID,
		FilePath:        file.Path(),
		StartLine:       1,
		EndLine:         strings.Count(text, "\n") + 1,
		Content:         text,
		Score:           score,
		RetrievalMethod: strategy,
		SemanticLabels:  []string{"file", string(file.Category())},
	}, nil
}

// navigationHints locates chunkID among its file's chunks (in byte order)
// to report its immediate siblings, plus its parent chunk ID if any.
func (e *Engine) navigationHints(ctx context.Context, chunkID, fileID int64) (prev, next, parent int64, err error) {
	siblings, err := e.store.ChunksOfFile(ctx, fileID)
	if err != nil {
		return 0, 0, 0, err
	}
	sort.Slice(siblings, func(i, j int) bool { return siblings[i].ByteRange().Start < siblings[j].ByteRange().Start })
	for i, c := range siblings {
		if c.ID() != chunkID {
			continue
		}
		if i > 0 {
			prev = siblings[i-1].ID()
		}
		if i < len(siblings)-1 {
			next = siblings[i+1].ID()
		}
		break
	}
	if edge, ok, err := e.store.Parent(ctx, chunkID); err != nil {
		return 0, 0, 0, err
	} else if ok && edge.Target().IsChunk {
		parent = edge.Target().ChunkID
	}
	return prev, next, parent, nil
}
