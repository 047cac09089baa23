package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/fortemi/core/internal/ferr"
)

// FTSHit is one match from a full-text (or trigram-fallback) query.
type FTSHit struct {
	NoteID uuid.UUID
	Rank   float64
}

// SearchFTS runs §4.7's full-text branch: stemmed tsvector matching with
// a pg_trgm similarity fallback for query text the English stemmer
// doesn't recognize (e.g. non-Latin scripts), filtered in-query by
// filterSQL/filterArgs so no row is scored before the predicate applies.
func SearchFTS(ctx context.Context, tx *sql.Tx, query string, filterSQL string, filterArgs []any, limit int) ([]FTSHit, error) {
	args := append([]any{query, limit}, filterArgs...)
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT notes.id, ts_rank(to_tsvector('english', coalesce(notes.revised_content, notes.original_content)), plainto_tsquery('english', $1)) AS rank
		FROM notes
		WHERE NOT notes.deleted
		AND to_tsvector('english', coalesce(notes.revised_content, notes.original_content)) @@ plainto_tsquery('english', $1)
		%s
		ORDER BY rank DESC
		LIMIT $2
	`, filterSQL), args...)
	if err != nil {
		return nil, ferr.Wrap("store.SearchFTS", ferr.Transient, "fts query", err)
	}
	hits, err := scanFTSHits(rows)
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 {
		return hits, nil
	}

	// Stemmed matching found nothing — fall back to trigram similarity
	// over the same filtered row set, per §4.7's "bigram/trigram fallback
	// for scripts without stemmers."
	rows, err = tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT notes.id, similarity(coalesce(notes.revised_content, notes.original_content), $1) AS rank
		FROM notes
		WHERE NOT notes.deleted
		AND coalesce(notes.revised_content, notes.original_content) %% $1
		%s
		ORDER BY rank DESC
		LIMIT $2
	`, filterSQL), args...)
	if err != nil {
		return nil, ferr.Wrap("store.SearchFTS", ferr.Transient, "trigram fallback query", err)
	}
	return scanFTSHits(rows)
}

func scanFTSHits(rows *sql.Rows) ([]FTSHit, error) {
	defer rows.Close()
	var out []FTSHit
	for rows.Next() {
		var h FTSHit
		if err := rows.Scan(&h.NoteID, &h.Rank); err != nil {
			return nil, ferr.Wrap("store.SearchFTS", ferr.Transient, "scan fts hit", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// SearchANNFiltered is ANNQuery/ANNQueryCoarse with the same strict
// in-query predicate applied via a subquery against notes, so the
// vector branch of hybrid search never ranks a note the filter excludes.
func SearchANNFiltered(ctx context.Context, tx *sql.Tx, setID string, query []float32, coarse bool, filterSQL string, filterArgs []any, k int, efSearch int) ([]ANNCandidate, error) {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", efSearch)); err != nil {
		return nil, ferr.Wrap("store.SearchANNFiltered", ferr.Transient, "set ef_search", err)
	}

	col := "vector"
	extra := ""
	if coarse {
		col = "coarse_vector"
		extra = "AND coarse_vector IS NOT NULL"
	}

	vec := pgvector.NewVector(query)
	args := append([]any{vec, setID, k}, filterArgs...)
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT note_id, 1 - (%[1]s <=> $1) AS similarity
		FROM embeddings
		WHERE set_id = $2 AND chunk_index = 0 %[2]s
		AND note_id IN (SELECT notes.id FROM notes WHERE NOT notes.deleted %[3]s)
		ORDER BY %[1]s <=> $1
		LIMIT $3
	`, col, extra, filterSQL), args...)
	if err != nil {
		return nil, ferr.Wrap("store.SearchANNFiltered", ferr.Transient, "filtered ann query", err)
	}
	defer rows.Close()

	var out []ANNCandidate
	for rows.Next() {
		var c ANNCandidate
		if err := rows.Scan(&c.NoteID, &c.Similarity); err != nil {
			return nil, ferr.Wrap("store.SearchANNFiltered", ferr.Transient, "scan candidate", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
