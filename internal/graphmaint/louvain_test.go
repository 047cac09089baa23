package graphmaint

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestComposeAssignmentsThreadsRelabelAcrossLevels exercises the exact
// regression described in review: composeAssignments must fold a
// level's community ids through aggregate's relabel map before indexing
// the next level's assignment, not use them as next-level keys directly
// (which silently collapses mismatched communities into the zero value).
func TestComposeAssignmentsThreadsRelabelAcrossLevels(t *testing.T) {
	// level 0: nodes {0,1} join community 0, nodes {2,3} join community 3
	// (community ids are existing node indices, not necessarily
	// contiguous — here 0 and 3 survive, 1 and 2 don't appear as ids).
	history0 := map[int]int{0: 0, 1: 0, 2: 3, 3: 3}
	// aggregate() relabels by first-seen order over g.nodes (0,1,2,3):
	// community 0 -> super-node 0, community 3 -> super-node 1.
	relabel0 := map[int]int{0: 0, 3: 1}
	// level 1: the two super-nodes don't merge further.
	history1 := map[int]int{0: 0, 1: 1}

	final := composeAssignments([]map[int]int{history0, history1}, []map[int]int{relabel0})

	require.Equal(t, final[0], final[1], "nodes 0 and 1 were in the same level-0 community")
	require.Equal(t, final[2], final[3], "nodes 2 and 3 were in the same level-0 community")
	require.NotEqual(t, final[0], final[2], "level-0's two communities must stay distinct after folding through the relabel")
}

// TestAggregateGuardUsesLiveNodes pins aggregate's contract that the
// returned graph's node count reflects the number of distinct
// communities found, via the nodes slice — the field runLouvain's loop
// guard must check, since index is only ever populated on the level-0
// graph built by newLouvainGraph.
func TestAggregateGuardUsesLiveNodes(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	edges := []*edge{
		{a: a, b: b, effective: 1.0},
	}
	g := newLouvainGraph(edges)
	assignment, _ := localMovePhase(g, 1.0)
	ng, relabel := aggregate(g, assignment)

	require.Nil(t, ng.index, "aggregated graphs never populate index")
	require.NotEmpty(t, ng.nodes, "aggregate must report live nodes even though index stays nil")
	require.Len(t, relabel, len(ng.nodes))
}

// TestRunLouvainSeparatesDisconnectedPairs is a coarse end-to-end check
// that runLouvain still returns a sane partition (not a single
// accidental community) now that the aggregation loop's guard is fixed.
func TestRunLouvainSeparatesDisconnectedPairs(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	edges := []*edge{
		{a: a, b: b, effective: 5.0},
		{a: c, b: d, effective: 5.0},
	}
	communities, count, _ := runLouvain(edges, 1.0)
	require.GreaterOrEqual(t, count, 2)
	require.Equal(t, communities[a], communities[b])
	require.Equal(t, communities[c], communities[d])
	require.NotEqual(t, communities[a], communities[c])
}
