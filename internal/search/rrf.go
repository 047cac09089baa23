package search

// rrfFuse combines one or more ranked id lists (best rank first) into a
// single fused score per id via Reciprocal Rank Fusion: RRF(d) = Σ_i
// 1/(k + rank_i(d)), ranks counted from 1. An id absent from a list
// contributes nothing for that list, matching §4.7's fusion definition.
func rrfFuse(k int, rankings ...[]string) map[string]float64 {
	scores := map[string]float64{}
	for _, ranking := range rankings {
		for i, id := range ranking {
			rank := i + 1
			scores[id] += 1.0 / float64(k+rank)
		}
	}
	return scores
}
