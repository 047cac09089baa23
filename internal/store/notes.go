package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fortemi/core/internal/ferr"
	"github.com/fortemi/core/internal/model"
)

// InsertNote writes a new note row. Callers pass a tx whose search_path
// has already been scoped to the target memory by RequestRouter.
func InsertNote(ctx context.Context, tx *sql.Tx, n *model.Note) error {
	if n.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return ferr.Wrap("store.InsertNote", ferr.Permanent, "generate id", err)
		}
		n.ID = id
	}
	now := time.Now()
	n.CreatedAt, n.UpdatedAt = now, now

	_, err := tx.ExecContext(ctx, `
		INSERT INTO notes (id, document_type_id, original_content, revised_content, tags, metadata, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.ID, n.DocumentTypeID, n.OriginalContent, n.RevisedContent, pq.Array(n.Tags), n.Metadata, n.Deleted, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return ferr.Wrap("store.InsertNote", ferr.Transient, "insert note", err)
	}
	return nil
}

// GetNote fetches a single note by id, excluding soft-deleted rows.
func GetNote(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.Note, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, document_type_id, original_content, revised_content, tags, metadata, deleted, created_at, updated_at
		FROM notes WHERE id = $1 AND NOT deleted
	`, id)

	n := &model.Note{}
	var tags pq.StringArray
	err := row.Scan(&n.ID, &n.DocumentTypeID, &n.OriginalContent, &n.RevisedContent, &tags, &n.Metadata, &n.Deleted, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ferr.New("store.GetNote", ferr.NotFound, "note not found")
	}
	if err != nil {
		return nil, ferr.Wrap("store.GetNote", ferr.Transient, "select note", err)
	}
	n.Tags = []string(tags)
	return n, nil
}

// ReviseNote updates a note's revised content and tags, bumping updated_at.
func ReviseNote(ctx context.Context, tx *sql.Tx, n *model.Note) error {
	n.UpdatedAt = time.Now()
	res, err := tx.ExecContext(ctx, `
		UPDATE notes SET revised_content = $1, tags = $2, metadata = $3, updated_at = $4
		WHERE id = $5 AND NOT deleted
	`, n.RevisedContent, pq.Array(n.Tags), n.Metadata, n.UpdatedAt, n.ID)
	if err != nil {
		return ferr.Wrap("store.ReviseNote", ferr.Transient, "update note", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ferr.New("store.ReviseNote", ferr.NotFound, "note not found")
	}
	return nil
}

// SoftDeleteNote marks a note deleted without purging it; purging is an
// administrator-only operation (PurgeNote).
func SoftDeleteNote(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	res, err := tx.ExecContext(ctx, `UPDATE notes SET deleted = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return ferr.Wrap("store.SoftDeleteNote", ferr.Transient, "soft delete", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ferr.New("store.SoftDeleteNote", ferr.NotFound, "note not found")
	}
	return nil
}

// PurgeNote permanently removes a note and (via ON DELETE CASCADE) every
// row that depends on it: revisions, tags, links, embeddings, chunk
// chains, provenance, attachments, and concept associations.
func PurgeNote(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = $1`, id)
	if err != nil {
		return ferr.Wrap("store.PurgeNote", ferr.Transient, "purge note", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ferr.New("store.PurgeNote", ferr.NotFound, "note not found")
	}
	return nil
}

// CountLiveNotes returns the number of non-deleted notes, used by the
// embedding pipeline's TF-IDF concept gate (document frequency
// denominator) and by quota enforcement.
func CountLiveNotes(ctx context.Context, tx *sql.Tx) (int64, error) {
	var count int64
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM notes WHERE NOT deleted`).Scan(&count)
	if err != nil {
		return 0, ferr.Wrap("store.CountLiveNotes", ferr.Transient, "count notes", err)
	}
	return count, nil
}
