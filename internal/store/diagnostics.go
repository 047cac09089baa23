package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/fortemi/core/internal/ferr"
)

// GraphDiagnostics is one historical snapshot of a GraphMaintenance run.
type GraphDiagnostics struct {
	ID                     uuid.UUID
	NodeCount              int
	EdgeCountRaw           int
	EdgeCountPFNET         int
	CommunityCount         int
	ModularityQ            float64
	LargestCommunityRatio  float64
	SNNSkipped             bool
}

// InsertDiagnostics appends a snapshot to the memory's diagnostics
// history, so operators can chart modularity/edge-survival over time.
func InsertDiagnostics(ctx context.Context, tx *sql.Tx, d *GraphDiagnostics) error {
	if d.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return ferr.Wrap("store.InsertDiagnostics", ferr.Permanent, "generate id", err)
		}
		d.ID = id
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO graph_diagnostics (id, node_count, edge_count_raw, edge_count_pfnet, community_count, modularity_q, largest_community_ratio, snn_skipped)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.ID, d.NodeCount, d.EdgeCountRaw, d.EdgeCountPFNET, d.CommunityCount, d.ModularityQ, d.LargestCommunityRatio, d.SNNSkipped)
	if err != nil {
		return ferr.Wrap("store.InsertDiagnostics", ferr.Transient, "insert diagnostics", err)
	}
	return nil
}

// LatestDiagnostics returns the most recent snapshot, or NotFound if
// GraphMaintenance has never run for this memory.
func LatestDiagnostics(ctx context.Context, tx *sql.Tx) (*GraphDiagnostics, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, node_count, edge_count_raw, edge_count_pfnet, community_count, modularity_q, largest_community_ratio, snn_skipped
		FROM graph_diagnostics ORDER BY occurred_at DESC LIMIT 1
	`)
	d := &GraphDiagnostics{}
	err := row.Scan(&d.ID, &d.NodeCount, &d.EdgeCountRaw, &d.EdgeCountPFNET, &d.CommunityCount, &d.ModularityQ, &d.LargestCommunityRatio, &d.SNNSkipped)
	if err == sql.ErrNoRows {
		return nil, ferr.New("store.LatestDiagnostics", ferr.NotFound, "no diagnostics snapshot yet")
	}
	if err != nil {
		return nil, ferr.Wrap("store.LatestDiagnostics", ferr.Transient, "select diagnostics", err)
	}
	return d, nil
}
