package retrieval

import "sort"

// fusionK is Reciprocal Rank Fusion's rank-damping constant.
const fusionK = 60.0

// rankedHit is one ranked result from a single-strategy search, before
// fusion. Score is strategy-native (cosine similarity for vector, token
// overlap count for keyword); a single-strategy search reports it as the
// result score, and hybrid uses the vector one only as a tie-break.
// chunkID is negative for a chunkless file matched by path/language
// rather than by chunk (see Engine.searchKeyword).
type rankedHit struct {
	chunkID int64
	score   float32
}

// fuse combines vector and keyword rankings by Reciprocal Rank Fusion:
// score(d) = Σ 1/(k + rank_i(d)), summed over every list d appears in (rank
// is 1-based). Ties break by higher vector similarity, then by lower chunk
// ID, matching the deterministic ordering search_fts already uses. Returns
// chunk IDs in fused order alongside each one's fused score.
func fuse(vector, keyword []rankedHit) ([]int64, map[int64]float64) {
	type acc struct {
		chunkID   int64
		score     float64
		vectorSim float32
	}
	byChunk := make(map[int64]*acc)

	entryFor := func(chunkID int64) *acc {
		a, ok := byChunk[chunkID]
		if !ok {
			a = &acc{chunkID: chunkID}
			byChunk[chunkID] = a
		}
		return a
	}

	for rank, h := range vector {
		a := entryFor(h.chunkID)
		a.score += 1.0 / (fusionK + float64(rank+1))
		a.vectorSim = h.score
	}
	for rank, h := range keyword {
		a := entryFor(h.chunkID)
		a.score += 1.0 / (fusionK + float64(rank+1))
	}

	fused := make([]*acc, 0, len(byChunk))
	for _, a := range byChunk {
		fused = append(fused, a)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		if fused[i].vectorSim != fused[j].vectorSim {
			return fused[i].vectorSim > fused[j].vectorSim
		}
		return fused[i].chunkID < fused[j].chunkID
	})

	order := make([]int64, len(fused))
	scores := make(map[int64]float64, len(fused))
	for i, a := range fused {
		order[i] = a.chunkID
		scores[a.chunkID] = a.score
	}
	return order, scores
}
