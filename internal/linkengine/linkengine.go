// Package linkengine implements LinkEngine (§4.5): per-note nearest-
// neighbor link recomputation, grounded on the teacher's
// core/retrieval/engine.go vector-retrieval query shape and
// database/edges.go upsert pattern, generalized from a k-NN-only
// retrieval helper into an edge-maintaining pipeline stage.
package linkengine

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/fortemi/core/internal/ferr"
	"github.com/fortemi/core/internal/store"
)

// Config holds the tunables named in §3/§6: link_threshold (default
// 0.70) and link_top_k (default 64).
type Config struct {
	Threshold float64
	TopK      int
}

func DefaultConfig() Config { return Config{Threshold: 0.70, TopK: 64} }

// Engine recomputes one note's outgoing links against an embedding set.
type Engine struct {
	cfg     Config
	efSearch int
}

func New(cfg Config) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 64
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.70
	}
	return &Engine{cfg: cfg, efSearch: 80}
}

// Recompute implements §4.5's four steps for one note: drop its prior
// outgoing edges, ANN-query its first-chunk vector, and upsert every
// candidate at or above the similarity threshold with stable endpoint
// ordering. No other note's edges are touched.
func (e *Engine) Recompute(ctx context.Context, tx *sql.Tx, noteID uuid.UUID, setID string) (int, error) {
	if err := store.DeleteOutgoingLinks(ctx, tx, noteID); err != nil {
		return 0, err
	}

	query, err := store.FirstChunkVector(ctx, tx, noteID, setID)
	if err != nil {
		if ferr.KindOf(err) == ferr.NotFound {
			// Note has no vector yet (e.g. embedding job still queued);
			// leaving it edgeless is correct, not an error.
			return 0, nil
		}
		return 0, err
	}

	candidates, err := store.ANNQuery(ctx, tx, setID, query, e.cfg.TopK, e.efSearch)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, c := range candidates {
		if c.NoteID == noteID {
			continue
		}
		if c.Similarity < e.cfg.Threshold {
			continue
		}
		if err := store.UpsertLink(ctx, tx, noteID, c.NoteID, c.Similarity); err != nil {
			return written, err
		}
		written++
	}

	return written, nil
}
