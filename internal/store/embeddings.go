package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/fortemi/core/internal/ferr"
	"github.com/fortemi/core/internal/model"
)

// ReplaceEmbeddings deletes any prior vectors for (note, set) and inserts
// the new ones within the caller's transaction, so readers never observe
// a partial set (§4.4 invariant).
func ReplaceEmbeddings(ctx context.Context, tx *sql.Tx, noteID uuid.UUID, setID string, embeddings []*model.Embedding) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE note_id = $1 AND set_id = $2`, noteID, setID); err != nil {
		return ferr.Wrap("store.ReplaceEmbeddings", ferr.Transient, "delete prior embeddings", err)
	}

	for _, e := range embeddings {
		vec := pgvector.NewVector(e.Vector)
		var coarse *pgvector.Vector
		if len(e.CoarseVector) > 0 {
			v := pgvector.NewVector(e.CoarseVector)
			coarse = &v
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO embeddings (note_id, set_id, chunk_index, vector, coarse_vector, model_id, dimensions, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		`, noteID, setID, e.ChunkIndex, vec, coarse, e.ModelID, e.Dimensions)
		if err != nil {
			return ferr.Wrap("store.ReplaceEmbeddings", ferr.Transient, "insert embedding", err)
		}
	}
	return nil
}

// FirstChunkVector returns the embedding vector for chunk 0 of a note in
// a set — the query vector LinkEngine uses to find the note's own
// neighbors.
func FirstChunkVector(ctx context.Context, tx *sql.Tx, noteID uuid.UUID, setID string) ([]float32, error) {
	var vec pgvector.Vector
	err := tx.QueryRowContext(ctx, `
		SELECT vector FROM embeddings WHERE note_id = $1 AND set_id = $2 AND chunk_index = 0
	`, noteID, setID).Scan(&vec)
	if err == sql.ErrNoRows {
		return nil, ferr.New("store.FirstChunkVector", ferr.NotFound, "no embedding for note")
	}
	if err != nil {
		return nil, ferr.Wrap("store.FirstChunkVector", ferr.Transient, "select vector", err)
	}
	return vec.Slice(), nil
}

// ANNCandidate is one nearest-neighbor hit from a vector index query.
type ANNCandidate struct {
	NoteID     uuid.UUID
	Similarity float64
}

// ANNQuery runs a cosine-similarity nearest neighbor search against the
// embedding set's chunk-0 vectors (one representative vector per note),
// setting hnsw.ef_search per the adaptive parameter described in §4.7.
func ANNQuery(ctx context.Context, tx *sql.Tx, setID string, query []float32, k int, efSearch int) ([]ANNCandidate, error) {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", efSearch)); err != nil {
		return nil, ferr.Wrap("store.ANNQuery", ferr.Transient, "set ef_search", err)
	}

	vec := pgvector.NewVector(query)
	rows, err := tx.QueryContext(ctx, `
		SELECT note_id, 1 - (vector <=> $1) AS similarity
		FROM embeddings
		WHERE set_id = $2 AND chunk_index = 0
		ORDER BY vector <=> $1
		LIMIT $3
	`, vec, setID, k)
	if err != nil {
		return nil, ferr.Wrap("store.ANNQuery", ferr.Transient, "ann query", err)
	}
	defer rows.Close()

	var out []ANNCandidate
	for rows.Next() {
		var c ANNCandidate
		if err := rows.Scan(&c.NoteID, &c.Similarity); err != nil {
			return nil, ferr.Wrap("store.ANNQuery", ferr.Transient, "scan candidate", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ANNQueryCoarse is identical to ANNQuery but ranks by the MRL-truncated
// coarse_vector column — stage 1 of the two-stage MRL retrieval path.
func ANNQueryCoarse(ctx context.Context, tx *sql.Tx, setID string, query []float32, k int, efSearch int) ([]ANNCandidate, error) {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", efSearch)); err != nil {
		return nil, ferr.Wrap("store.ANNQueryCoarse", ferr.Transient, "set ef_search", err)
	}

	vec := pgvector.NewVector(query)
	rows, err := tx.QueryContext(ctx, `
		SELECT note_id, 1 - (coarse_vector <=> $1) AS similarity
		FROM embeddings
		WHERE set_id = $2 AND chunk_index = 0 AND coarse_vector IS NOT NULL
		ORDER BY coarse_vector <=> $1
		LIMIT $3
	`, vec, setID, k)
	if err != nil {
		return nil, ferr.Wrap("store.ANNQueryCoarse", ferr.Transient, "coarse ann query", err)
	}
	defer rows.Close()

	var out []ANNCandidate
	for rows.Next() {
		var c ANNCandidate
		if err := rows.Scan(&c.NoteID, &c.Similarity); err != nil {
			return nil, ferr.Wrap("store.ANNQueryCoarse", ferr.Transient, "scan candidate", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FullVector returns a specific note's full-dimension chunk-0 vector, used
// by stage 2 of MRL two-stage retrieval to re-rank stage-1 candidates.
func FullVector(ctx context.Context, tx *sql.Tx, setID string, noteID uuid.UUID) ([]float32, error) {
	var vec pgvector.Vector
	err := tx.QueryRowContext(ctx, `
		SELECT vector FROM embeddings WHERE set_id = $1 AND note_id = $2 AND chunk_index = 0
	`, setID, noteID).Scan(&vec)
	if err != nil {
		return nil, ferr.Wrap("store.FullVector", ferr.Transient, "select full vector", err)
	}
	return vec.Slice(), nil
}

// UpsertChunkChain records the chunk-count/strategy bookkeeping row that
// lets search de-duplicate by note and re-embeds restart deterministically.
func UpsertChunkChain(ctx context.Context, tx *sql.Tx, c *model.ChunkChain) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chunk_chains (note_id, total_chunks, strategy)
		VALUES ($1, $2, $3)
		ON CONFLICT (note_id) DO UPDATE SET total_chunks = EXCLUDED.total_chunks, strategy = EXCLUDED.strategy
	`, c.NoteID, c.TotalChunks, string(c.Strategy))
	if err != nil {
		return ferr.Wrap("store.UpsertChunkChain", ferr.Transient, "upsert chunk chain", err)
	}
	return nil
}

// EmbeddingCountByVectorDim counts live embeddings in the memory, used to
// pick the adaptive ef_search tier in HybridSearch.
func EmbeddingCountByVectorDim(ctx context.Context, tx *sql.Tx, setID string) (int64, error) {
	var count int64
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM embeddings WHERE set_id = $1 AND chunk_index = 0`, setID).Scan(&count)
	if err != nil {
		return 0, ferr.Wrap("store.EmbeddingCountByVectorDim", ferr.Transient, "count embeddings", err)
	}
	return count, nil
}
