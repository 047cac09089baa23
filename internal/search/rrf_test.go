package search

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRRFFuseFavorsAgreementAcrossRankings(t *testing.T) {
	a := []string{"x", "y", "z"}
	b := []string{"y", "x", "w"}

	scores := rrfFuse(20, a, b)
	require.Greater(t, scores["y"], scores["z"])
	require.Greater(t, scores["x"], scores["w"])
}

func TestTruncateToMRLReslicesWithoutCopy(t *testing.T) {
	v := []float32{1, 2, 3, 4, 5}
	out := truncateToMRL(v, 3)
	require.Equal(t, []float32{1, 2, 3}, out)

	full := truncateToMRL(v, 10)
	require.Equal(t, v, full)
}

func TestCosineOfIdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	require.InDelta(t, 1.0, cosine(v, v), 1e-9)
	require.Equal(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1, 1}))
}
