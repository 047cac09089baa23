package graphmaint

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/fortemi/core/internal/model"
	"github.com/fortemi/core/internal/store"
)

// RunOnTx loads the full link graph for the current memory (the
// transaction's search_path must already be scoped to it), runs the
// pipeline, and persists every derived field: edge metadata in place,
// community labels, and a diagnostics snapshot. This is the handler
// body the Worker invokes for a "graph_maintenance" job.
func (e *Engine) RunOnTx(ctx context.Context, tx *sql.Tx) (*store.GraphDiagnostics, error) {
	links, err := store.AllLinks(ctx, tx)
	if err != nil {
		return nil, err
	}
	nodeCount, err := store.CountLiveNotes(ctx, tx)
	if err != nil {
		return nil, err
	}

	labelsOf := func(noteID uuid.UUID) []string {
		concepts, err := store.ConceptsForNote(ctx, tx, noteID)
		if err != nil {
			return nil
		}
		var gated []string
		for _, c := range concepts {
			if c.DocFreq <= 0.8 {
				gated = append(gated, c.Label)
			}
		}
		return gated
	}

	result := e.Run(links, int(nodeCount), labelsOf)

	for _, u := range result.Edges {
		l := toStoreLink(u)
		if err := store.UpdateLinkMetadata(ctx, tx, l); err != nil {
			return nil, err
		}
	}

	for commID, label := range result.Labels {
		if err := store.WriteCommunityLabel(ctx, tx, commID, label.Label, label.Confidence); err != nil {
			return nil, err
		}
	}

	diag := &store.GraphDiagnostics{
		NodeCount:             result.Diagnostics.NodeCount,
		EdgeCountRaw:          result.Diagnostics.EdgeCountRaw,
		EdgeCountPFNET:        result.Diagnostics.EdgeCountPFNET,
		CommunityCount:        result.Diagnostics.CommunityCount,
		ModularityQ:           result.Diagnostics.ModularityQ,
		LargestCommunityRatio: result.Diagnostics.LargestCommunityRatio,
		SNNSkipped:            result.Diagnostics.SNNSkipped,
	}
	if err := store.InsertDiagnostics(ctx, tx, diag); err != nil {
		return nil, err
	}

	return diag, nil
}

func toStoreLink(u EdgeUpdate) *model.Link {
	snn := u.SNNScore
	pfnet := u.PFNETRetained
	return &model.Link{
		SourceID: u.A,
		TargetID: u.B,
		Metadata: model.EdgeMetadata{SNNScore: &snn, PFNETRetained: &pfnet, CommunityID: u.CommunityID},
	}
}
