package graphmaint

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fortemi/core/internal/model"
)

func link(a, b uuid.UUID, sim float64) *model.Link {
	src, dst := model.StableOrder(a, b)
	return &model.Link{SourceID: src, TargetID: dst, Similarity: sim}
}

// TestSparseGraphGuardSkipsPruning exercises §4.6's sparse-graph guard:
// a handful of disjoint edges has mean_degree far below k, so SNN
// pruning must be skipped entirely rather than delete every edge.
func TestSparseGraphGuardSkipsPruning(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	links := []*model.Link{link(a, b, 0.9), link(c, d, 0.9)}

	e := New(DefaultConfig())
	result := e.Run(links, 8, nil)

	require.True(t, result.Diagnostics.SNNSkipped)
	require.Equal(t, 2, result.Diagnostics.EdgeCountRaw)
}

// TestDenseTriangleKeepsShortestEdgesOnly checks PFNET on a triangle:
// the longest edge of a triangle is always redundant under the minimax
// witness rule, so exactly one of three edges should lose its
// pfnet_retained flag.
func TestDenseTriangleKeepsShortestEdgesOnly(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	// distances: a-b = 0.1, b-c = 0.1, a-c = 0.5 (the redundant long edge)
	links := []*model.Link{link(a, b, 0.9), link(b, c, 0.9), link(a, c, 0.5)}

	// SNN pruning doesn't interfere with this check: three edges over
	// three nodes give mean_degree 1.0, below DefaultConfig's k of 10,
	// which trips the sparse-graph guard and leaves all edges active.
	e := New(DefaultConfig())
	result := e.Run(links, 3, nil)

	retainedCount := 0
	for _, upd := range result.Edges {
		if upd.PFNETRetained {
			retainedCount++
		}
	}
	require.Equal(t, 2, retainedCount, "the long a-c edge should lose pfnet_retained")
}

func TestModularityRunsOnEmptyGraph(t *testing.T) {
	e := New(DefaultConfig())
	result := e.Run(nil, 0, nil)
	require.Equal(t, 0, result.Diagnostics.CommunityCount)
	require.Equal(t, 0, result.Diagnostics.EdgeCountRaw)
}
