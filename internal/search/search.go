// Package search implements HybridSearch (§4.7): a strict in-query
// pre-filter shared by full-text and vector branches, RRF fusion between
// them, MRL two-stage vector retrieval, adaptive ef_search tiering, and
// federated search across multiple memories.
//
// Grounded on the teacher's core/retrieval engine: VectorRetrieve's
// cosine-ranked query shape generalizes into SearchANNFiltered/ANNQuery,
// and Strategy's "run sub-searches, merge into one ranked result"
// pattern generalizes into the hybrid/federated fan-out below. The
// teacher has no full-text or rank-fusion branch — those are built
// directly from §4.7's RRF formula and from pgvector/pg_trgm usage
// elsewhere in the retrieved pack (see DESIGN.md).
package search

import (
	"context"
	"database/sql"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/fortemi/core/internal/backend"
	"github.com/fortemi/core/internal/ferr"
	"github.com/fortemi/core/internal/store"
)

// Mode selects which branch(es) of HybridSearch to run.
type Mode string

const (
	ModeFTS      Mode = "fts"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// Request is one memory-scoped search invocation.
type Request struct {
	Query          string
	Mode           Mode
	Limit          int
	Offset         int
	Filter         Filter
	EmbeddingModel string // model slug the query is embedded with, for semantic/hybrid
	RRFK           int    // 0 uses DefaultRRFK
}

const DefaultRRFK = 20

// MRLOverfetch is the over-fetch multiplier for stage 1 of two-stage MRL
// retrieval: stage 1 pulls k*MRLOverfetch coarse-dim candidates before
// stage 2 re-ranks them by full-dim cosine.
const MRLOverfetch = 4

// Hit is one scored result, with the originating ranks preserved for the
// response shape §6 defines.
type Hit struct {
	NoteID        uuid.UUID
	Memory        string
	Score         float64
	FTSRank       *int
	SemanticRank  *int
}

// Result is one completed search, ready to be mapped onto §6's response
// shape by the caller.
type Result struct {
	Hits            []Hit
	ModeUsed        Mode
	MemoriesSearched []string
}

// Engine runs HybridSearch over a single search_path-scoped transaction.
// EmbeddingSetID names the embedding_sets row queries embed against.
type Engine struct {
	embedder       backend.EmbeddingBackend
	embeddingSetID string
	mrlEnabled     bool
	mrlDims        int
}

func New(embedder backend.EmbeddingBackend, embeddingSetID string, mrlEnabled bool, mrlDims int) *Engine {
	return &Engine{embedder: embedder, embeddingSetID: embeddingSetID, mrlEnabled: mrlEnabled, mrlDims: mrlDims}
}

// Search runs one request against a single already-scoped memory.
func (e *Engine) Search(ctx context.Context, tx *sql.Tx, req Request) (*Result, error) {
	if req.Limit < 1 {
		return nil, ferr.New("search.Search", ferr.InvalidInput, "limit must be >= 1")
	}
	rrfK := req.RRFK
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}

	filterSQLFTS, filterArgsFTS, _ := req.Filter.clause(3) // $1=query $2=limit
	filterSQLANN, filterArgsANN, _ := req.Filter.clause(4) // $1=vec $2=set $3=k

	fetchLimit := req.Limit + req.Offset

	switch req.Mode {
	case ModeFTS:
		hits, err := e.searchFTS(ctx, tx, req.Query, filterSQLFTS, filterArgsFTS, fetchLimit)
		if err != nil {
			return nil, err
		}
		return &Result{Hits: paginate(hits, req.Offset, req.Limit), ModeUsed: ModeFTS}, nil

	case ModeSemantic:
		hits, err := e.searchSemantic(ctx, tx, req, filterSQLANN, filterArgsANN, fetchLimit)
		if err != nil {
			return nil, err
		}
		return &Result{Hits: paginate(hits, req.Offset, req.Limit), ModeUsed: ModeSemantic}, nil

	case ModeHybrid, "":
		return e.searchHybrid(ctx, tx, req, filterSQLFTS, filterArgsFTS, filterSQLANN, filterArgsANN, fetchLimit, rrfK)

	default:
		return nil, ferr.New("search.Search", ferr.InvalidInput, "unknown search mode")
	}
}

func (e *Engine) searchFTS(ctx context.Context, tx *sql.Tx, query string, filterSQL string, filterArgs []any, limit int) ([]Hit, error) {
	rows, err := store.SearchFTS(ctx, tx, query, filterSQL, filterArgs, limit)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(rows))
	for i, r := range rows {
		rank := i + 1
		hits[i] = Hit{NoteID: r.NoteID, Score: r.Rank, FTSRank: &rank}
	}
	return hits, nil
}

func (e *Engine) searchSemantic(ctx context.Context, tx *sql.Tx, req Request, filterSQL string, filterArgs []any, limit int) ([]Hit, error) {
	efSearch, err := adaptiveEfSearch(ctx, tx, e.embeddingSetID)
	if err != nil {
		return nil, err
	}

	queryVec, err := e.embedder.Embed(ctx, req.EmbeddingModel, req.Query)
	if err != nil {
		return nil, ferr.Wrap("search.searchSemantic", ferr.KindOf(err), "embed query", err)
	}

	var candidates []store.ANNCandidate
	if e.mrlEnabled {
		coarse := truncateToMRL(queryVec, e.mrlDims)
		stage1, err := store.SearchANNFiltered(ctx, tx, e.embeddingSetID, coarse, true, filterSQL, filterArgs, limit*MRLOverfetch, efSearch)
		if err != nil {
			return nil, err
		}
		candidates, err = rerankFullDim(ctx, tx, e.embeddingSetID, queryVec, stage1, limit)
		if err != nil {
			return nil, err
		}
	} else {
		candidates, err = store.SearchANNFiltered(ctx, tx, e.embeddingSetID, queryVec, false, filterSQL, filterArgs, limit, efSearch)
		if err != nil {
			return nil, err
		}
	}

	hits := make([]Hit, len(candidates))
	for i, c := range candidates {
		rank := i + 1
		hits[i] = Hit{NoteID: c.NoteID, Score: c.Similarity, SemanticRank: &rank}
	}
	return hits, nil
}

// rerankFullDim is stage 2 of MRL two-stage retrieval: pull each stage-1
// candidate's full-dimension vector and re-score by exact cosine against
// the (uncoarsened) query vector, returning the top-k.
func rerankFullDim(ctx context.Context, tx *sql.Tx, setID string, queryVec []float32, stage1 []store.ANNCandidate, k int) ([]store.ANNCandidate, error) {
	out := make([]store.ANNCandidate, 0, len(stage1))
	for _, c := range stage1 {
		full, err := store.FullVector(ctx, tx, setID, c.NoteID)
		if err != nil {
			continue
		}
		out = append(out, store.ANNCandidate{NoteID: c.NoteID, Similarity: cosine(queryVec, full)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (e *Engine) searchHybrid(ctx context.Context, tx *sql.Tx, req Request, filterSQLFTS string, filterArgsFTS []any, filterSQLANN string, filterArgsANN []any, fetchLimit, rrfK int) (*Result, error) {
	ftsHits, ftsErr := e.searchFTS(ctx, tx, req.Query, filterSQLFTS, filterArgsFTS, fetchLimit)
	semHits, semErr := e.searchSemantic(ctx, tx, req, filterSQLANN, filterArgsANN, fetchLimit)

	// §7: one branch failing degrades to the other; both failing surfaces
	// the error.
	if ftsErr != nil && semErr != nil {
		return nil, ferr.Wrap("search.searchHybrid", ferr.Transient, "both search branches failed", ftsErr)
	}
	if ftsErr != nil {
		return &Result{Hits: paginate(semHits, req.Offset, req.Limit), ModeUsed: ModeSemantic}, nil
	}
	if semErr != nil {
		return &Result{Hits: paginate(ftsHits, req.Offset, req.Limit), ModeUsed: ModeFTS}, nil
	}

	fused := fuseHybrid(ftsHits, semHits, rrfK)
	return &Result{Hits: paginate(fused, req.Offset, req.Limit), ModeUsed: ModeHybrid}, nil
}

func fuseHybrid(ftsHits, semHits []Hit, rrfK int) []Hit {
	ftsRanking := idsOf(ftsHits)
	semRanking := idsOf(semHits)
	scores := rrfFuse(rrfK, ftsRanking, semRanking)

	ftsByID := map[string]Hit{}
	for _, h := range ftsHits {
		ftsByID[h.NoteID.String()] = h
	}
	semByID := map[string]Hit{}
	for _, h := range semHits {
		semByID[h.NoteID.String()] = h
	}

	merged := map[string]Hit{}
	for id := range scores {
		h := Hit{}
		if fh, ok := ftsByID[id]; ok {
			h.NoteID = fh.NoteID
			h.FTSRank = fh.FTSRank
		}
		if sh, ok := semByID[id]; ok {
			h.NoteID = sh.NoteID
			h.SemanticRank = sh.SemanticRank
		}
		h.Score = scores[id]
		merged[id] = h
	}

	out := make([]Hit, 0, len(merged))
	for _, h := range merged {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].NoteID.String() < out[j].NoteID.String()
	})
	return out
}

func idsOf(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.NoteID.String()
	}
	return out
}

func paginate(hits []Hit, offset, limit int) []Hit {
	if offset >= len(hits) {
		return nil
	}
	end := offset + limit
	if end > len(hits) {
		end = len(hits)
	}
	return hits[offset:end]
}

// adaptiveEfSearch implements §4.7's corpus-size tiering: <1k -> 40,
// <10k -> 80, <100k -> 120, else 160.
func adaptiveEfSearch(ctx context.Context, tx *sql.Tx, setID string) (int, error) {
	count, err := store.EmbeddingCountByVectorDim(ctx, tx, setID)
	if err != nil {
		return 0, err
	}
	switch {
	case count < 1000:
		return 40, nil
	case count < 10000:
		return 80, nil
	case count < 100000:
		return 120, nil
	default:
		return 160, nil
	}
}

func truncateToMRL(v []float32, dims int) []float32 {
	if dims <= 0 || dims >= len(v) {
		return v
	}
	return v[:dims]
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
