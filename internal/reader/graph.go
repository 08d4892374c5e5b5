package reader

import (
	"context"
	"sort"

	"github.com/cpgraph/engine/internal/cpgerrors"
	"github.com/cpgraph/engine/internal/model"
)

// NeighborDirection selects which sibling ReadNeighborChunk returns.
type NeighborDirection string

// NeighborDirection values.
const (
	NeighborPrev NeighborDirection = "prev"
	NeighborNext NeighborDirection = "next"
)

// ReadNeighborChunk returns the chunk immediately before or after chunkID
// within its file, in byte order.
func (n *Navigator) ReadNeighborChunk(ctx context.Context, chunkID int64, dir NeighborDirection) (model.Chunk, bool, error) {
	_, siblings, idx, ok, err := n.locateChunk(ctx, chunkID)
	if err != nil || !ok {
		return model.Chunk{}, false, err
	}
	switch dir {
	case NeighborPrev:
		if idx == 0 {
			return model.Chunk{}, false, nil
		}
		return siblings[idx-1], true, nil
	case NeighborNext:
		if idx == len(siblings)-1 {
			return model.Chunk{}, false, nil
		}
		return siblings[idx+1], true, nil
	default:
		return model.Chunk{}, false, cpgerrors.Usage("unknown neighbor direction "+string(dir), nil)
	}
}

// ReadParentChunk returns chunkID's enclosing chunk, if any.
func (n *Navigator) ReadParentChunk(ctx context.Context, chunkID int64) (model.Chunk, bool, error) {
	edge, ok, err := n.store.Parent(ctx, chunkID)
	if err != nil || !ok {
		return model.Chunk{}, false, err
	}
	target := edge.Target()
	if !target.IsChunk {
		return model.Chunk{}, false, nil
	}
	return n.chunkByID(ctx, target.ChunkID)
}

// ImpactedChunk is one chunk that depends on the analyzed chunk, with the
// edge relation connecting them.
type ImpactedChunk struct {
	Chunk    model.Chunk
	Relation model.EdgeRelation
}

// AnalyzeImpact returns up to limit chunks that reference chunkID (callers,
// referrers, subtypes, …) — "what breaks if this changes".
func (n *Navigator) AnalyzeImpact(ctx context.Context, chunkID int64, limit int) ([]ImpactedChunk, error) {
	edges, err := n.store.IncomingRefs(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(edges) > limit {
		edges = edges[:limit]
	}
	out := make([]ImpactedChunk, 0, len(edges))
	for _, e := range edges {
		source := e.Source()
		if !source.IsChunk {
			continue
		}
		chunk, ok, err := n.chunkByID(ctx, source.ChunkID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ImpactedChunk{Chunk: chunk, Relation: e.Relation()})
		}
	}
	return out, nil
}

// AnalyzeDependencies returns the chunks chunkID itself depends on — the
// mirror image of AnalyzeImpact, walking outgoing edges instead of
// incoming ones.
func (n *Navigator) AnalyzeDependencies(ctx context.Context, chunkID int64) ([]ImpactedChunk, error) {
	edges, err := n.store.Neighbors(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	out := make([]ImpactedChunk, 0, len(edges))
	for _, e := range edges {
		source := e.Source()
		if !source.IsChunk || source.ChunkID != chunkID || e.Relation() == model.RelationChildOf {
			continue
		}
		target := e.Target()
		if !target.IsChunk {
			continue
		}
		chunk, ok, err := n.chunkByID(ctx, target.ChunkID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ImpactedChunk{Chunk: chunk, Relation: e.Relation()})
		}
	}
	return out, nil
}

// PipelineNode is one node of a VisualizePipeline tree.
type PipelineNode struct {
	ChunkID  int64
	Relation model.EdgeRelation
	CutByMax bool
	Children []PipelineNode
}

// VisualizePipeline walks chunkID's outgoing edges depth-first into a
// tree, cutting any branch that would exceed maxDepth or reach a chunk
// already placed anywhere in the tree (CutByMax marks where a branch was
// truncated, keeping cycles and runaway fan-out from producing an
// unbounded tree).
func (n *Navigator) VisualizePipeline(ctx context.Context, chunkID int64, maxDepth int) (PipelineNode, error) {
	visited := map[int64]bool{chunkID: true}
	root := PipelineNode{ChunkID: chunkID}
	children, err := n.pipelineChildren(ctx, chunkID, 1, maxDepth, visited)
	if err != nil {
		return PipelineNode{}, err
	}
	root.Children = children
	return root, nil
}

func (n *Navigator) pipelineChildren(ctx context.Context, chunkID int64, depth, maxDepth int, visited map[int64]bool) ([]PipelineNode, error) {
	if maxDepth > 0 && depth > maxDepth {
		return nil, nil
	}
	edges, err := n.store.Neighbors(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	var out []PipelineNode
	for _, e := range edges {
		source := e.Source()
		if !source.IsChunk || source.ChunkID != chunkID || e.Relation() == model.RelationChildOf {
			continue
		}
		target := e.Target()
		if !target.IsChunk {
			continue
		}
		if visited[target.ChunkID] {
			out = append(out, PipelineNode{ChunkID: target.ChunkID, Relation: e.Relation(), CutByMax: true})
			continue
		}
		visited[target.ChunkID] = true
		node := PipelineNode{ChunkID: target.ChunkID, Relation: e.Relation()}
		if maxDepth > 0 && depth+1 > maxDepth {
			node.CutByMax = true
		} else {
			children, err := n.pipelineChildren(ctx, target.ChunkID, depth+1, maxDepth, visited)
			if err != nil {
				return nil, err
			}
			node.Children = children
		}
		out = append(out, node)
	}
	return out, nil
}

func (n *Navigator) chunkByID(ctx context.Context, chunkID int64) (model.Chunk, bool, error) {
	return n.store.ChunkByID(ctx, chunkID)
}

// locateChunk finds chunkID among its file's chunks, in byte order, along
// with its index.
func (n *Navigator) locateChunk(ctx context.Context, chunkID int64) (model.Chunk, []model.Chunk, int, bool, error) {
	chunk, ok, err := n.store.ChunkByID(ctx, chunkID)
	if err != nil || !ok {
		return model.Chunk{}, nil, 0, false, err
	}
	siblings, err := n.store.ChunksOfFile(ctx, chunk.FileID())
	if err != nil {
		return model.Chunk{}, nil, 0, false, err
	}
	sort.Slice(siblings, func(i, j int) bool { return siblings[i].ByteRange().Start < siblings[j].ByteRange().Start })
	for i, c := range siblings {
		if c.ID() == chunkID {
			return chunk, siblings, i, true, nil
		}
	}
	return model.Chunk{}, nil, 0, false, cpgerrors.Data("chunk not found among its file's chunks", nil)
}
