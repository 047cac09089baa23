package graphmaint

import (
	"sort"

	"github.com/google/uuid"
)

// kNearest returns the k highest-similarity neighbors of node from its
// adjacency list, breaking ties by neighbor id for determinism.
func kNearest(node uuid.UUID, adj map[uuid.UUID][]*edge, k int) []uuid.UUID {
	neighbors := adj[node]
	sorted := make([]*edge, len(neighbors))
	copy(sorted, neighbors)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].effective != sorted[j].effective {
			return sorted[i].effective > sorted[j].effective
		}
		return other(sorted[i], node).String() < other(sorted[j], node).String()
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	out := make([]uuid.UUID, len(sorted))
	for i, e := range sorted {
		out[i] = other(e, node)
	}
	return out
}

// scoreSNN computes snn_score(a,b) = |kNN(a) ∩ kNN(b)| / k for every
// edge (§4.6 step 2), using each edge's own endpoints' top-k neighbor
// sets from the full (pre-prune) adjacency.
func scoreSNN(edges []*edge, adj map[uuid.UUID][]*edge, k int) {
	cache := map[uuid.UUID]map[uuid.UUID]bool{}
	neighborSet := func(n uuid.UUID) map[uuid.UUID]bool {
		if s, ok := cache[n]; ok {
			return s
		}
		s := map[uuid.UUID]bool{}
		for _, x := range kNearest(n, adj, k) {
			s[x] = true
		}
		cache[n] = s
		return s
	}

	for _, e := range edges {
		sa := neighborSet(e.a)
		sb := neighborSet(e.b)
		intersection := 0
		for n := range sa {
			if sb[n] {
				intersection++
			}
		}
		if k > 0 {
			e.snnScore = float64(intersection) / float64(k)
		}
	}
}

// pruneSNN marks edges below the threshold not-retained; it never
// removes the edge from the working set, only from what downstream
// steps treat as active.
func pruneSNN(edges []*edge, threshold float64) {
	for _, e := range edges {
		e.retained = e.snnScore >= threshold
	}
}
