// Package relations resolves cross-file relation candidates discovered
// during parsing — an import, a call, a reference — into edges between
// chunks, with a file-level pseudo-node standing in for any endpoint whose
// exact chunk cannot be pinned down.
package relations

import (
	"sort"

	"github.com/cpgraph/engine/internal/model"
)

// Position locates a byte offset within a specific file.
type Position struct {
	FileID int64
	Byte   uint32
}

// Candidate is an unresolved cross-file relation: a reference observed at
// Source, naming something that (if resolution succeeds) lives at Target.
// TargetKnown distinguishes "target file identified, exact chunk unknown"
// from "no target could be identified at all" — the latter is dropped
// rather than attached, since a pseudo-node edge still needs a file to
// point at.
type Candidate struct {
	Source      Position
	Target      Position
	TargetKnown bool
	Relation    model.EdgeRelation
	Metadata    map[string]string
}

// ChunkIndex supports smallest-containing-chunk lookups: given a file and a
// byte offset, which chunk (of possibly several nested ones) most tightly
// bounds it.
type ChunkIndex struct {
	byFile map[int64][]indexedChunk
}

type indexedChunk struct {
	id    int64
	start uint32
	end   uint32
}

// NewChunkIndex creates an empty index.
func NewChunkIndex() *ChunkIndex {
	return &ChunkIndex{byFile: make(map[int64][]indexedChunk)}
}

// Add registers a persisted chunk's byte range for containment lookups.
func (idx *ChunkIndex) Add(fileID, chunkID int64, r model.ByteRange) {
	idx.byFile[fileID] = append(idx.byFile[fileID], indexedChunk{id: chunkID, start: r.Start, end: r.End})
}

// Build finalizes the index, sorting each file's chunks by start offset so
// SmallestContaining can short-circuit once ranges can no longer contain pos.
func (idx *ChunkIndex) Build() {
	for fileID, chunks := range idx.byFile {
		sort.Slice(chunks, func(i, j int) bool { return chunks[i].start < chunks[j].start })
		idx.byFile[fileID] = chunks
	}
}

// SmallestContaining returns the narrowest chunk in fileID whose byte range
// contains pos.
func (idx *ChunkIndex) SmallestContaining(fileID int64, pos uint32) (int64, bool) {
	chunks, ok := idx.byFile[fileID]
	if !ok {
		return 0, false
	}
	var bestID int64
	var bestLen uint32
	found := false
	for _, c := range chunks {
		if c.start > pos {
			break
		}
		if pos >= c.end {
			continue
		}
		length := c.end - c.start
		if !found || length < bestLen {
			bestID, bestLen, found = c.id, length, true
		}
	}
	return bestID, found
}

// Stats summarizes one Resolve call.
type Stats struct {
	Resolved     int
	PseudoNode   int
	Dropped      int
	Deduplicated int
}

// Resolver turns Candidates into model.Edge values against a ChunkIndex.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver { return &Resolver{} }

type edgeKey struct {
	srcChunk, srcFile int64
	srcIsChunk        bool
	dstChunk, dstFile int64
	dstIsChunk        bool
	relation          model.EdgeRelation
}

// Resolve maps each candidate's source and target position to its
// smallest-containing chunk via idx. An endpoint that no chunk contains
// attaches to its file's pseudo-node instead, counted in PseudoNode. A
// candidate with no known target file is dropped. Duplicate
// (source, target, relation) triples collapse to one edge.
func (r *Resolver) Resolve(candidates []Candidate, idx *ChunkIndex) ([]model.Edge, Stats) {
	var stats Stats
	seen := make(map[edgeKey]bool)
	var edges []model.Edge

	for _, c := range candidates {
		srcChunkID, srcOK := idx.SmallestContaining(c.Source.FileID, c.Source.Byte)
		source := model.ChunkTarget(srcChunkID)
		if !srcOK {
			source = model.FileTarget(c.Source.FileID)
		}

		var target model.EdgeTarget
		if c.TargetKnown {
			if dstChunkID, ok := idx.SmallestContaining(c.Target.FileID, c.Target.Byte); ok {
				target = model.ChunkTarget(dstChunkID)
			} else {
				target = model.FileTarget(c.Target.FileID)
			}
		} else {
			stats.Dropped++
			continue
		}
		if source.IsChunk && target.IsChunk {
			stats.Resolved++
		} else {
			stats.PseudoNode++
		}

		key := edgeKey{
			srcChunk: source.ChunkID, srcFile: source.FileID, srcIsChunk: source.IsChunk,
			dstChunk: target.ChunkID, dstFile: target.FileID, dstIsChunk: target.IsChunk,
			relation: c.Relation,
		}
		if seen[key] {
			stats.Deduplicated++
			continue
		}
		seen[key] = true

		edges = append(edges, model.NewEdge(source, target, c.Relation, c.Metadata))
	}

	return edges, stats
}
