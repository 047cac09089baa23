package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortemi/core/internal/model"
)

func TestParseConceptLabelsDedupsAndTrims(t *testing.T) {
	labels := parseConceptLabels(" graph theory, Louvain , graph theory,,embeddings ")
	require.Equal(t, []string{"graph theory", "Louvain", "embeddings"}, labels)
}

func TestParseConceptLabelsEmpty(t *testing.T) {
	require.Nil(t, parseConceptLabels(""))
	require.Nil(t, parseConceptLabels(",, ,"))
}

func TestMergeLabelsDedupsAcrossSets(t *testing.T) {
	merged := mergeLabels([]string{"a", "b"}, []string{"b", "c"})
	require.Equal(t, []string{"a", "b", "c"}, merged)
}

func TestPartialConceptsReadsJSONDecodedPayload(t *testing.T) {
	// model.Metadata round-trips through JSON via database/sql/driver, so
	// a prior tier's []string payload comes back as []any of strings —
	// partialConcepts must handle that shape, not a native []string.
	payload := model.Metadata{"partial_concepts": []any{"a", "b"}}
	require.Equal(t, []string{"a", "b"}, partialConcepts(payload))
}

func TestPartialConceptsMissingKey(t *testing.T) {
	require.Empty(t, partialConcepts(model.Metadata{}))
}
