package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/fortemi/core/internal/ferr"
	"github.com/fortemi/core/internal/model"
)

// UpsertLink creates or replaces the undirected edge between two notes,
// always writing it in the stable (source ≤ target) order the links
// table's check constraint enforces.
func UpsertLink(ctx context.Context, tx *sql.Tx, a, b uuid.UUID, similarity float64) error {
	src, dst := model.StableOrder(a, b)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO links (source_id, target_id, similarity, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_id, target_id) DO UPDATE SET similarity = EXCLUDED.similarity
	`, src, dst, similarity, time.Now())
	if err != nil {
		return ferr.Wrap("store.UpsertLink", ferr.Transient, "upsert link", err)
	}
	return nil
}

// DeleteOutgoingLinks removes every edge touching note, the first step
// of LinkEngine's per-note recomputation (§4.5).
func DeleteOutgoingLinks(ctx context.Context, tx *sql.Tx, note uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM links WHERE source_id = $1 OR target_id = $1`, note)
	if err != nil {
		return ferr.Wrap("store.DeleteOutgoingLinks", ferr.Transient, "delete links", err)
	}
	return nil
}

// AllLinks returns the full edge set for graph maintenance, which
// operates on the whole memory at once.
func AllLinks(ctx context.Context, tx *sql.Tx) ([]*model.Link, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT source_id, target_id, similarity, snn_score, pfnet_retained, community_id, created_at
		FROM links
	`)
	if err != nil {
		return nil, ferr.Wrap("store.AllLinks", ferr.Transient, "select links", err)
	}
	defer rows.Close()

	var out []*model.Link
	for rows.Next() {
		l := &model.Link{}
		if err := rows.Scan(&l.SourceID, &l.TargetID, &l.Similarity, &l.Metadata.SNNScore, &l.Metadata.PFNETRetained, &l.Metadata.CommunityID, &l.CreatedAt); err != nil {
			return nil, ferr.Wrap("store.AllLinks", ferr.Transient, "scan link", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpdateLinkMetadata persists GraphMaintenance's per-edge derived fields
// in place — edges are never deleted by the refinement pipeline, only
// annotated (§4.6).
func UpdateLinkMetadata(ctx context.Context, tx *sql.Tx, l *model.Link) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE links SET snn_score = $1, pfnet_retained = $2, community_id = $3
		WHERE source_id = $4 AND target_id = $5
	`, l.Metadata.SNNScore, l.Metadata.PFNETRetained, l.Metadata.CommunityID, l.SourceID, l.TargetID)
	if err != nil {
		return ferr.Wrap("store.UpdateLinkMetadata", ferr.Transient, "update link metadata", err)
	}
	return nil
}

// NeighborsOf returns every note linked to note, regardless of which
// endpoint it was stored under.
func NeighborsOf(ctx context.Context, tx *sql.Tx, note uuid.UUID) ([]uuid.UUID, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT CASE WHEN source_id = $1 THEN target_id ELSE source_id END
		FROM links WHERE source_id = $1 OR target_id = $1
	`, note)
	if err != nil {
		return nil, ferr.Wrap("store.NeighborsOf", ferr.Transient, "select neighbors", err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var n uuid.UUID
		if err := rows.Scan(&n); err != nil {
			return nil, ferr.Wrap("store.NeighborsOf", ferr.Transient, "scan neighbor", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// WriteCommunityLabel persists the label/confidence Louvain derives for
// one community id.
func WriteCommunityLabel(ctx context.Context, tx *sql.Tx, communityID int, label string, confidence float64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO community_labels (community_id, label, confidence)
		VALUES ($1, $2, $3)
		ON CONFLICT (community_id) DO UPDATE SET label = EXCLUDED.label, confidence = EXCLUDED.confidence
	`, communityID, label, confidence)
	if err != nil {
		return ferr.Wrap("store.WriteCommunityLabel", ferr.Transient, "upsert community label", err)
	}
	return nil
}
