package search

import (
	"context"
	"database/sql"
	"sort"

	"github.com/fortemi/core/internal/backend"
	"github.com/fortemi/core/internal/ferr"
	"github.com/fortemi/core/internal/model"
	"github.com/fortemi/core/internal/store"
)

// FederatedRequest runs one Request against each named memory and fuses
// the per-memory rankings into one global ranking, per §4.7's federated
// search.
type FederatedRequest struct {
	Request
	Memories []model.Memory
}

// Federated runs req against every memory in fr.Memories (each under its
// own search_path-scoped transaction) and RRF-fuses the per-memory
// result rankings into a single global ranking, annotating each hit
// with its originating memory. A fresh Engine is built per memory,
// resolved to that memory's own default embedding set id, since
// embedding_sets rows are cloned structure-only (§4.1) and so get a
// distinct id in every memory namespace — one Engine instance can't
// carry a single set id that's valid across all of them.
func Federated(ctx context.Context, db *sql.DB, embedder backend.EmbeddingBackend, mrlEnabled bool, mrlDims int, fr FederatedRequest) (*Result, error) {
	if fr.Request.Limit < 1 {
		return nil, ferr.New("search.Federated", ferr.InvalidInput, "limit must be >= 1")
	}

	type perMemory struct {
		memory string
		hits   []Hit
	}
	var perMemoryResults []perMemory
	var searched []string

	for _, m := range fr.Memories {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return nil, ferr.Wrap("search.Federated", ferr.Transient, "begin tx", err)
		}
		if err := store.SetSearchPath(ctx, tx, m.SchemaName); err != nil {
			tx.Rollback()
			return nil, err
		}

		set, err := store.EnsureDefaultEmbeddingSet(ctx, tx, "default")
		if err != nil {
			tx.Rollback()
			continue // one memory failing degrades, doesn't fail the whole federated search
		}
		engine := New(embedder, set.ID, mrlEnabled, mrlDims)

		req := fr.Request
		req.Offset = 0
		req.Limit = fr.Request.Limit + fr.Request.Offset
		res, err := engine.Search(ctx, tx, req)
		tx.Rollback() // read-only: never commit a search
		if err != nil {
			continue // one memory failing degrades, doesn't fail the whole federated search
		}

		for i := range res.Hits {
			res.Hits[i].Memory = m.Name
		}
		perMemoryResults = append(perMemoryResults, perMemory{memory: m.Name, hits: res.Hits})
		searched = append(searched, m.Name)
	}

	rrfK := fr.Request.RRFK
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}

	var rankings [][]string
	byID := map[string]Hit{}
	for _, pm := range perMemoryResults {
		ranking := make([]string, len(pm.hits))
		for i, h := range pm.hits {
			key := pm.memory + ":" + h.NoteID.String()
			ranking[i] = key
			byID[key] = h
		}
		rankings = append(rankings, ranking)
	}
	scores := rrfFuse(rrfK, rankings...)

	out := make([]Hit, 0, len(scores))
	for key, score := range scores {
		h := byID[key]
		h.Score = score
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].NoteID.String() < out[j].NoteID.String()
	})

	return &Result{Hits: paginate(out, fr.Request.Offset, fr.Request.Limit), ModeUsed: ModeHybrid, MemoriesSearched: searched}, nil
}
