package embedpipeline

import (
	"sort"
	"strings"

	"github.com/fortemi/core/internal/model"
	"github.com/fortemi/core/internal/store"
)

// ComposeInput is everything Compose needs for one chunk.
type ComposeInput struct {
	Title    string
	Chunk    string
	Concepts []store.NoteConcept
}

// Compose assembles the text sent to the embedding backend for one
// chunk, applying the DocumentComposition rules from §4.4: instruction
// prefix, optional title, TF-IDF-gated concepts (never their broader/
// narrower relations, to avoid a shared-parent centroid pull), then
// content.
func Compose(dc model.DocumentComposition, in ComposeInput) string {
	var b strings.Builder

	if dc.InstructionPrefix != "" {
		b.WriteString(dc.InstructionPrefix)
	}
	if dc.IncludeTitle && in.Title != "" {
		b.WriteString(in.Title)
		b.WriteString("\n\n")
	}
	if dc.IncludeConcepts && dc.TagStrategy != model.TagNone {
		if labels := selectConceptLabels(dc, in.Concepts); len(labels) > 0 {
			b.WriteString(strings.Join(labels, ", "))
			b.WriteString("\n\n")
		}
	}
	if dc.IncludeContent {
		b.WriteString(in.Chunk)
	}

	return b.String()
}

// selectConceptLabels filters concepts to those at or below
// concept_max_doc_freq, then applies tag_strategy: all concepts that
// survive the gate, or only the single most specific (lowest document
// frequency) one.
func selectConceptLabels(dc model.DocumentComposition, concepts []store.NoteConcept) []string {
	maxDocFreq := dc.ConceptMaxDocFreq
	if maxDocFreq <= 0 {
		maxDocFreq = 0.8
	}

	var gated []store.NoteConcept
	for _, c := range concepts {
		if c.DocFreq <= maxDocFreq {
			gated = append(gated, c)
		}
	}
	if len(gated) == 0 {
		return nil
	}

	if dc.TagStrategy == model.TagPrimary {
		sort.Slice(gated, func(i, j int) bool { return gated[i].DocFreq < gated[j].DocFreq })
		return []string{gated[0].Label}
	}

	labels := make([]string, len(gated))
	for i, c := range gated {
		labels[i] = c.Label
	}
	return labels
}
