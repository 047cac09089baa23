package embedpipeline

import (
	"context"
	"database/sql"
	"math"

	"github.com/fortemi/core/internal/backend"
	"github.com/fortemi/core/internal/ferr"
	"github.com/fortemi/core/internal/model"
	"github.com/fortemi/core/internal/queue"
	"github.com/fortemi/core/internal/store"
)

// MRLCoarseDims is the default truncated vector width for Matryoshka
// two-stage retrieval (§4.4 step 6).
const MRLCoarseDims = 64

// Pipeline runs the EmbeddingPipeline flow (§4.4) for one note within a
// caller-supplied, already search_path-scoped transaction.
type Pipeline struct {
	embedder backend.EmbeddingBackend
	queue    *queue.Queue
}

func New(embedder backend.EmbeddingBackend, q *queue.Queue) *Pipeline {
	return &Pipeline{embedder: embedder, queue: q}
}

// Input names everything the pipeline needs beyond the note itself.
type Input struct {
	MemorySchema string
	Note         *model.Note
	DocType      model.DocumentType
	Set          model.EmbeddingSet
	Config       model.EmbeddingConfig
	Title        string
}

// Run executes steps 2-6 of §4.4: chunk, compose, embed, store, and
// (when the config supports MRL) truncate a coarse vector, then enqueues
// the downstream jobs (see enqueueDownstream). It does not
// run document-type detection — callers resolve DocType once and may
// reuse it across re-embeds.
func (p *Pipeline) Run(ctx context.Context, tx *sql.Tx, in Input) error {
	strategy := in.Config.ChunkStrategy
	if strategy == "" {
		strategy = in.DocType.ChunkStrategy
	}

	chunks, err := Chunk(in.Note.ID, in.Note.Content(), ChunkConfig{
		Strategy: strategy,
		MaxSize:  in.Config.ChunkSize,
		Overlap:  in.Config.ChunkOverlap,
	})
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return ferr.New("embedpipeline.Run", ferr.InvalidInput, "note produced no chunks")
	}

	concepts, err := store.ConceptsForNote(ctx, tx, in.Note.ID)
	if err != nil {
		return err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = Compose(in.Config.Composition, ComposeInput{Title: in.Title, Chunk: c.Content, Concepts: concepts})
	}

	vectors, err := p.embedder.EmbedBatch(ctx, in.Config.ModelSlug, texts)
	if err != nil {
		return ferr.Wrap("embedpipeline.Run", ferr.Transient, "embed batch", err)
	}
	if len(vectors) != len(chunks) {
		return ferr.New("embedpipeline.Run", ferr.Permanent, "embedding count mismatch")
	}

	embeddings := make([]*model.Embedding, len(chunks))
	for i, v := range vectors {
		if len(v) != in.Config.Dimensions {
			return ferr.New("embedpipeline.Run", ferr.Permanent, "embedding dimensionality mismatch")
		}
		e := &model.Embedding{
			NoteID:     in.Note.ID,
			SetID:      in.Set.ID,
			ChunkIndex: chunks[i].Index,
			Vector:     v,
			ModelID:    in.Config.ModelSlug,
			Dimensions: in.Config.Dimensions,
		}
		if in.Config.SupportsMRL {
			e.CoarseVector = truncateMRL(v, coarseDims(in.Config))
		}
		embeddings[i] = e
	}

	if err := store.ReplaceEmbeddings(ctx, tx, in.Note.ID, in.Set.ID, embeddings); err != nil {
		return err
	}

	if err := store.UpsertChunkChain(ctx, tx, &model.ChunkChain{NoteID: in.Note.ID, TotalChunks: len(chunks), Strategy: strategy}); err != nil {
		return err
	}

	return p.enqueueDownstream(ctx, in)
}

// enqueueDownstream enqueues the jobs §4.3's "Job chaining" names for a
// successful embed: title generation (if missing), linking, and
// concept-tagging. Graph maintenance is chained off linking instead,
// not embedding directly — see linkengine's caller. Each uses its own
// dedup key so a burst of re-embeds collapses correctly.
func (p *Pipeline) enqueueDownstream(ctx context.Context, in Input) error {
	noteID := in.Note.ID

	if in.Title == "" {
		if _, err := p.queue.Enqueue(ctx, queue.EnqueueSpec{
			MemorySchema: in.MemorySchema, Type: "generate_title", CostTier: model.TierFastGPU,
			Priority: 5, NoteID: &noteID,
		}); err != nil {
			return err
		}
	}

	if _, err := p.queue.Enqueue(ctx, queue.EnqueueSpec{
		MemorySchema: in.MemorySchema, Type: "link_note", CostTier: model.TierCPU,
		Priority: 10, NoteID: &noteID,
	}); err != nil {
		return err
	}

	if _, err := p.queue.Enqueue(ctx, queue.EnqueueSpec{
		MemorySchema: in.MemorySchema, Type: "extract_concepts", CostTier: model.TierFastGPU,
		Priority: 5, NoteID: &noteID,
	}); err != nil {
		return err
	}

	return nil
}

func coarseDims(cfg model.EmbeddingConfig) int {
	if len(cfg.MRLDimensions) > 0 {
		return cfg.MRLDimensions[0]
	}
	return MRLCoarseDims
}

// truncateMRL takes the first n dimensions of a Matryoshka-trained
// vector and re-normalizes it, since a raw prefix of an L2-normalized
// vector is not itself unit length.
func truncateMRL(v []float32, n int) []float32 {
	if n <= 0 || n >= len(v) {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	out := make([]float32, n)
	copy(out, v[:n])

	var normSq float32
	for _, x := range out {
		normSq += x * x
	}
	if normSq == 0 {
		return out
	}
	norm := float32(math.Sqrt(float64(normSq)))
	for i := range out {
		out[i] /= norm
	}
	return out
}
