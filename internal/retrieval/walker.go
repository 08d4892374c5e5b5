package retrieval

import (
	"context"

	"github.com/cpgraph/engine/internal/model"
	"github.com/cpgraph/engine/internal/storage"
)

// maxOutgoingDefinitions bounds how many outgoing symbols the Walker
// collects for one chunk, per the retrieval engine's enrichment contract.
const maxOutgoingDefinitions = 20

// OutgoingDefinition is one symbol reachable from a chunk via a calls,
// defines or references edge.
type OutgoingDefinition struct {
	ChunkID  int64
	Name     string
	Relation model.EdgeRelation
}

// Walker enriches a search hit with its enclosing block and the symbols it
// references, without ever walking past a chunk it has already visited.
type Walker struct {
	store *storage.Store
}

// NewWalker builds a Walker over store.
func NewWalker(store *storage.Store) *Walker {
	return &Walker{store: store}
}

// ParentContext returns the text of chunkID's enclosing chunk, if any.
func (w *Walker) ParentContext(ctx context.Context, chunkID int64) (string, bool, error) {
	edge, ok, err := w.store.Parent(ctx, chunkID)
	if err != nil || !ok {
		return "", false, err
	}
	target := edge.Target()
	if !target.IsChunk {
		return "", false, nil
	}
	contexts, err := w.store.ChunkContextsByIDs(ctx, []int64{target.ChunkID})
	if err != nil {
		return "", false, err
	}
	parent, ok := contexts[target.ChunkID]
	if !ok {
		return "", false, nil
	}
	return parent.Text, true, nil
}

// outgoingRelations are the edge kinds OutgoingDefinitions follows;
// child_of is excluded since it models nesting, not a reference.
var outgoingRelations = map[model.EdgeRelation]bool{
	model.RelationCalls:      true,
	model.RelationDefines:    true,
	model.RelationReferences: true,
}

// OutgoingDefinitions walks calls/defines/references edges out of chunkID,
// breadth-first, stopping once maxOutgoingDefinitions symbols have been
// collected or every reachable chunk has been visited. A visited set keyed
// by chunk ID makes the walk safe against graph cycles.
func (w *Walker) OutgoingDefinitions(ctx context.Context, chunkID int64) ([]OutgoingDefinition, error) {
	visited := map[int64]bool{chunkID: true}
	queue := []int64{chunkID}
	var defs []OutgoingDefinition

	for len(queue) > 0 && len(defs) < maxOutgoingDefinitions {
		current := queue[0]
		queue = queue[1:]

		edges, err := w.store.Neighbors(ctx, current)
		if err != nil {
			return nil, err
		}

		for _, e := range edges {
			if len(defs) >= maxOutgoingDefinitions {
				break
			}
			source := e.Source()
			if !source.IsChunk || source.ChunkID != current || !outgoingRelations[e.Relation()] {
				continue
			}
			target := e.Target()
			if !target.IsChunk || visited[target.ChunkID] {
				continue
			}
			visited[target.ChunkID] = true
			queue = append(queue, target.ChunkID)
			defs = append(defs, OutgoingDefinition{ChunkID: target.ChunkID, Relation: e.Relation()})
		}
	}

	if len(defs) == 0 {
		return defs, nil
	}
	ids := make([]int64, len(defs))
	for i, d := range defs {
		ids[i] = d.ChunkID
	}
	contexts, err := w.store.ChunkContextsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i, d := range defs {
		if cc, ok := contexts[d.ChunkID]; ok && len(cc.Identifiers) > 0 {
			defs[i].Name = cc.Identifiers[0]
		}
	}
	return defs, nil
}
