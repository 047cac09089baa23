package graphmaint

import (
	"sort"

	"github.com/google/uuid"
)

// runLouvain implements §4.6 step 4: local-move phase iterated in
// stable node-id order, then community aggregation, repeated until no
// improvement. It returns the final note->community assignment (in
// terms of the original node ids), the community count, and the
// modularity Q of that partition.
func runLouvain(edges []*edge, resolution float64) (map[uuid.UUID]int, int, float64) {
	if len(edges) == 0 {
		return map[uuid.UUID]int{}, 0, 0
	}
	if resolution <= 0 {
		resolution = 1.0
	}

	g := newLouvainGraph(edges)
	// membership[level][nodeIndexAtLevel] = community at that level;
	// composed at the end to map original nodes to final communities.
	nodeToLevel0 := map[uuid.UUID]int{}
	for id, idx := range g.index {
		nodeToLevel0[id] = idx
	}

	level := g
	var history []map[int]int  // each level's super-node -> community mapping
	var relabels []map[int]int // level i's community id -> level i+1's node index

	for {
		assignment, improved := localMovePhase(level, resolution)
		history = append(history, assignment)
		if !improved {
			break
		}
		var relabel map[int]int
		level, relabel = aggregate(level, assignment)
		relabels = append(relabels, relabel)
		if len(level.nodes) <= 1 {
			break
		}
	}

	final := composeAssignments(history, relabels)
	communities := map[uuid.UUID]int{}
	for id, idx := range nodeToLevel0 {
		communities[id] = final[idx]
	}

	q := modularity(g, communities, resolution)
	return communities, countDistinct(final), q
}

// louvainGraph is an index-based adjacency representation (super-nodes
// after aggregation are just higher integer indices).
type louvainGraph struct {
	index    map[uuid.UUID]int // only populated at level 0
	nodes    []int
	weighted map[int]map[int]float64 // symmetric edge weights
	degree   map[int]float64
	totalW   float64
}

func newLouvainGraph(edges []*edge) *louvainGraph {
	index := map[uuid.UUID]int{}
	next := 0
	idOf := func(u uuid.UUID) int {
		if i, ok := index[u]; ok {
			return i
		}
		index[u] = next
		next++
		return index[u]
	}

	g := &louvainGraph{index: index, weighted: map[int]map[int]float64{}, degree: map[int]float64{}}
	for _, e := range edges {
		a, b := idOf(e.a), idOf(e.b)
		w := e.effective
		addWeight(g.weighted, a, b, w)
		if a != b {
			addWeight(g.weighted, b, a, w)
		}
		g.degree[a] += w
		g.degree[b] += w
		g.totalW += w
	}
	for i := 0; i < next; i++ {
		g.nodes = append(g.nodes, i)
	}
	sort.Ints(g.nodes)
	return g
}

func addWeight(m map[int]map[int]float64, a, b int, w float64) {
	if m[a] == nil {
		m[a] = map[int]float64{}
	}
	m[a][b] += w
}

// localMovePhase repeatedly visits nodes in stable (ascending index)
// order, moving each to the neighboring community with maximum positive
// modularity gain, ties broken by lowest community id. Returns the
// resulting node->community map and whether any move happened.
func localMovePhase(g *louvainGraph, resolution float64) (map[int]int, bool) {
	community := map[int]int{}
	for _, n := range g.nodes {
		community[n] = n
	}
	commWeight := map[int]float64{}
	for _, n := range g.nodes {
		commWeight[n] = g.degree[n]
	}

	anyMove := false
	for pass := 0; pass < 100; pass++ {
		moved := false
		for _, n := range g.nodes {
			currentComm := community[n]
			neighborComms := neighborCommunities(g, n, community)

			// Remove n from its current community before evaluating gains.
			commWeight[currentComm] -= g.degree[n]

			bestComm := currentComm
			bestGain := 0.0
			for comm := range neighborComms {
				gain := modularityGain(g, n, comm, community, commWeight, resolution)
				if gain > bestGain || (gain == bestGain && comm < bestComm) {
					bestGain = gain
					bestComm = comm
				}
			}

			commWeight[bestComm] += g.degree[n]
			if bestComm != currentComm {
				community[n] = bestComm
				moved = true
				anyMove = true
			}
		}
		if !moved {
			break
		}
	}
	return community, anyMove
}

func neighborCommunities(g *louvainGraph, n int, community map[int]int) map[int]bool {
	out := map[int]bool{community[n]: true}
	for nb := range g.weighted[n] {
		out[community[nb]] = true
	}
	return out
}

// modularityGain approximates ΔQ of moving node n into community comm:
// the sum of edge weights from n to comm's members, resolution-weighted
// against the community's total degree.
func modularityGain(g *louvainGraph, n, comm int, community map[int]int, commWeight map[int]float64, resolution float64) float64 {
	if g.totalW == 0 {
		return 0
	}
	kIn := 0.0
	for nb, w := range g.weighted[n] {
		if community[nb] == comm {
			kIn += w
		}
	}
	return kIn - resolution*commWeight[comm]*g.degree[n]/(2*g.totalW)
}

// aggregate contracts each community into a super-node for the next
// Louvain level; edge weights between communities sum. The returned
// relabel map records, for every community id in g's space, the node
// index it became in the returned graph — composeAssignments needs it
// to thread a level's assignment into the next level's node space.
func aggregate(g *louvainGraph, community map[int]int) (*louvainGraph, map[int]int) {
	relabel := map[int]int{}
	next := 0
	for _, n := range g.nodes {
		c := community[n]
		if _, ok := relabel[c]; !ok {
			relabel[c] = next
			next++
		}
	}

	ng := &louvainGraph{weighted: map[int]map[int]float64{}, degree: map[int]float64{}}
	for a, nbrs := range g.weighted {
		ca := relabel[community[a]]
		for b, w := range nbrs {
			cb := relabel[community[b]]
			addWeight(ng.weighted, ca, cb, w)
		}
	}
	for n := 0; n < next; n++ {
		ng.nodes = append(ng.nodes, n)
	}
	for a, nbrs := range ng.weighted {
		for _, w := range nbrs {
			ng.degree[a] += w
		}
	}
	for _, w := range ng.degree {
		ng.totalW += w
	}
	ng.totalW /= 2
	return ng, relabel
}

// composeAssignments folds a sequence of per-level assignments down to
// a single level0-index -> final-community map. relabels[i] converts a
// community id produced by history[i] into the node index history[i+1]
// is keyed by; it's only consulted while there is a next level to fold
// into.
func composeAssignments(history []map[int]int, relabels []map[int]int) map[int]int {
	final := map[int]int{}
	for idx := range history[0] {
		comm := idx
		for i, level := range history {
			comm = level[comm]
			if i+1 < len(history) {
				comm = relabels[i][comm]
			}
		}
		final[idx] = comm
	}
	return final
}

func countDistinct(assignment map[int]int) int {
	seen := map[int]bool{}
	for _, c := range assignment {
		seen[c] = true
	}
	return len(seen)
}

// modularity computes Newman's Q for the final communities over the
// level-0 graph, used for the diagnostics snapshot.
func modularity(g *louvainGraph, communities map[uuid.UUID]int, resolution float64) float64 {
	if g.totalW == 0 {
		return 0
	}
	inverse := map[int]uuid.UUID{}
	for id, idx := range g.index {
		inverse[idx] = id
	}

	q := 0.0
	twoM := 2 * g.totalW
	for a, nbrs := range g.weighted {
		for b, w := range nbrs {
			if communities[inverse[a]] != communities[inverse[b]] {
				continue
			}
			q += w - resolution*g.degree[a]*g.degree[b]/twoM
		}
	}
	return q / twoM
}
