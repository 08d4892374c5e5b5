package retrieval

import "testing"

func TestFuse_OrdersByReciprocalRankSum(t *testing.T) {
	vector := []rankedHit{{chunkID: 1, score: 0.9}, {chunkID: 2, score: 0.8}, {chunkID: 3, score: 0.1}}
	keyword := []rankedHit{{chunkID: 2, score: 5}, {chunkID: 3, score: 4}}

	order, scores := fuse(vector, keyword)

	if len(order) != 3 {
		t.Fatalf("expected 3 fused hits, got %d", len(order))
	}
	// chunk 2 appears 2nd in vector and 1st in keyword: 1/62 + 1/61.
	// chunk 1 appears only 1st in vector: 1/61.
	// chunk 3 appears 3rd in vector and 2nd in keyword: 1/63 + 1/62.
	// chunk 2's combined rank sum beats both, since it ranks highly in both lists.
	if order[0] != 2 {
		t.Fatalf("expected chunk 2 (present and highly ranked in both lists) first, got order %v", order)
	}
	if scores[2] <= scores[1] {
		t.Fatalf("expected chunk 2's fused score (%v) to exceed chunk 1's (%v)", scores[2], scores[1])
	}
}

func TestFuse_VectorOnlyHitsStillRank(t *testing.T) {
	vector := []rankedHit{{chunkID: 7, score: 0.5}}
	order, scores := fuse(vector, nil)

	if len(order) != 1 || order[0] != 7 {
		t.Fatalf("expected [7], got %v", order)
	}
	if scores[7] <= 0 {
		t.Fatalf("expected a positive fused score, got %v", scores[7])
	}
}
