package graphmaint

import (
	"math"

	"github.com/google/uuid"
)

// distance converts a similarity into the PFNET distance metric used
// for minimax path costs: d = 1 - similarity.
func distance(similarity float64) float64 { return 1.0 - similarity }

// edgeBetween looks up the working edge connecting two nodes, if any,
// from a node's adjacency list.
func edgeBetween(adj map[uuid.UUID][]*edge, a, b uuid.UUID) (*edge, bool) {
	for _, e := range adj[a] {
		if other(e, a) == b {
			return e, true
		}
	}
	return nil, false
}

// markPFNETRetained implements PFNET(∞,2) ≡ RNG sparsification (§4.6
// step 3): an edge (A,B) is redundant, and its pfnet_retained flag
// cleared, if any witness W adjacent to A or B offers an indirect path
// whose minimax cost (L-∞, q=2) is no worse than the direct edge.
// Retention is a soft flag — edges are never removed here.
func markPFNETRetained(edges []*edge, adj map[uuid.UUID][]*edge) {
	for _, e := range edges {
		direct := distance(e.effective)
		e.pfnetFlag = true

		witnesses := map[uuid.UUID]bool{}
		for _, n := range adj[e.a] {
			witnesses[other(n, e.a)] = true
		}
		for _, n := range adj[e.b] {
			witnesses[other(n, e.b)] = true
		}
		delete(witnesses, e.a)
		delete(witnesses, e.b)

		for w := range witnesses {
			aw, ok1 := edgeBetween(adj, e.a, w)
			wb, ok2 := edgeBetween(adj, w, e.b)
			if !ok1 || !ok2 {
				continue
			}
			indirect := math.Max(distance(aw.effective), distance(wb.effective))
			if indirect <= direct {
				e.pfnetFlag = false
				break
			}
		}
	}
}
