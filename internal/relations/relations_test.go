package relations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpgraph/engine/internal/model"
)

func TestResolve_FindsSmallestContainingChunk(t *testing.T) {
	idx := NewChunkIndex()
	idx.Add(1, 100, model.ByteRange{Start: 0, End: 500})  // whole file chunk
	idx.Add(1, 101, model.ByteRange{Start: 50, End: 150}) // nested function chunk
	idx.Add(2, 200, model.ByteRange{Start: 0, End: 300})
	idx.Build()

	r := NewResolver()
	edges, stats := r.Resolve([]Candidate{
		{
			Source:      Position{FileID: 1, Byte: 60},
			Target:      Position{FileID: 2, Byte: 10},
			TargetKnown: true,
			Relation:    model.RelationCalls,
		},
	}, idx)

	require.Len(t, edges, 1)
	assert.Equal(t, int64(101), edges[0].Source().ChunkID, "should pick the narrower nested chunk, not the whole file")
	assert.Equal(t, int64(200), edges[0].Target().ChunkID)
	assert.Equal(t, model.RelationCalls, edges[0].Relation())
	assert.Equal(t, 1, stats.Resolved)
}

func TestResolve_UnresolvedTargetAttachesToFilePseudoNode(t *testing.T) {
	idx := NewChunkIndex()
	idx.Add(1, 100, model.ByteRange{Start: 0, End: 500})
	idx.Build()

	r := NewResolver()
	edges, stats := r.Resolve([]Candidate{
		{
			Source:      Position{FileID: 1, Byte: 10},
			Target:      Position{FileID: 9, Byte: 0},
			TargetKnown: true,
			Relation:    model.RelationImports,
		},
	}, idx)

	require.Len(t, edges, 1)
	assert.False(t, edges[0].Target().IsChunk)
	assert.Equal(t, int64(9), edges[0].Target().FileID)
	assert.Equal(t, 1, stats.PseudoNode)
}

func TestResolve_DropsCandidateWithNoKnownTarget(t *testing.T) {
	idx := NewChunkIndex()
	idx.Build()

	r := NewResolver()
	edges, stats := r.Resolve([]Candidate{
		{Source: Position{FileID: 1, Byte: 0}, TargetKnown: false, Relation: model.RelationCalls},
	}, idx)

	assert.Empty(t, edges)
	assert.Equal(t, 1, stats.Dropped)
}

func TestResolve_DeduplicatesIdenticalTriples(t *testing.T) {
	idx := NewChunkIndex()
	idx.Add(1, 100, model.ByteRange{Start: 0, End: 500})
	idx.Add(2, 200, model.ByteRange{Start: 0, End: 300})
	idx.Build()

	r := NewResolver()
	candidate := Candidate{
		Source:      Position{FileID: 1, Byte: 10},
		Target:      Position{FileID: 2, Byte: 10},
		TargetKnown: true,
		Relation:    model.RelationCalls,
	}
	edges, stats := r.Resolve([]Candidate{candidate, candidate}, idx)

	assert.Len(t, edges, 1)
	assert.Equal(t, 1, stats.Deduplicated)
}
