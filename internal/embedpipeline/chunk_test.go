package embedpipeline

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fortemi/core/internal/model"
	"github.com/fortemi/core/internal/store"
)

func TestChunkIsDeterministic(t *testing.T) {
	noteID := uuid.New()
	content := "Paragraph one is here.\n\nParagraph two follows after a blank line.\n\nAnd a third."
	cfg := ChunkConfig{Strategy: model.ChunkParagraph, MaxSize: 2000}

	a, err := Chunk(noteID, content, cfg)
	require.NoError(t, err)
	b, err := Chunk(noteID, content, cfg)
	require.NoError(t, err)

	require.Equal(t, a, b, "identical content and config must chunk identically")
	// Every paragraph is shorter than MinSize (2000/10 = 200), so
	// mergeSmallTrailers folds the second and third into the first.
	require.Len(t, a, 1)
}

func TestChunkWholeProducesSingleChunk(t *testing.T) {
	noteID := uuid.New()
	chunks, err := Chunk(noteID, "short note", ChunkConfig{Strategy: model.ChunkWhole})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, "short note", chunks[0].Content)
}

func TestChunkSlidingWindowOverlaps(t *testing.T) {
	noteID := uuid.New()
	content := "0123456789abcdefghij"
	chunks, err := Chunk(noteID, content, ChunkConfig{Strategy: model.ChunkSlidingWindow, MaxSize: 10, Overlap: 4})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	require.Equal(t, content[:10], chunks[0].Content)
}

func TestChunkUnknownStrategyErrors(t *testing.T) {
	_, err := Chunk(uuid.New(), "x", ChunkConfig{Strategy: "nonsense"})
	require.Error(t, err)
}

func TestComposeAppliesConceptDocFreqGate(t *testing.T) {
	dc := model.DocumentComposition{
		IncludeContent: true, IncludeConcepts: true, TagStrategy: model.TagAll, ConceptMaxDocFreq: 0.5,
	}
	concepts := []store.NoteConcept{
		{Label: "ubiquitous", DocFreq: 0.95},
		{Label: "specific-topic", DocFreq: 0.1},
	}

	text := Compose(dc, ComposeInput{Chunk: "body text", Concepts: concepts})
	require.Contains(t, text, "specific-topic")
	require.NotContains(t, text, "ubiquitous")
	require.Contains(t, text, "body text")
}

func TestComposePrimaryStrategyPicksLowestDocFreq(t *testing.T) {
	dc := model.DocumentComposition{IncludeConcepts: true, TagStrategy: model.TagPrimary, ConceptMaxDocFreq: 0.8}
	concepts := []store.NoteConcept{
		{Label: "broad", DocFreq: 0.6},
		{Label: "narrow", DocFreq: 0.05},
	}

	text := Compose(dc, ComposeInput{Concepts: concepts})
	require.Contains(t, text, "narrow")
	require.NotContains(t, text, "broad")
}

func TestTruncateMRLIsUnitLength(t *testing.T) {
	v := make([]float32, 256)
	for i := range v {
		v[i] = 1.0 / 16.0
	}
	out := truncateMRL(v, 64)
	require.Len(t, out, 64)

	var normSq float32
	for _, x := range out {
		normSq += x * x
	}
	require.InDelta(t, 1.0, float64(normSq), 0.01)
}
