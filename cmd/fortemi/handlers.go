package main

import (
	"context"
	"database/sql"
	"strings"

	"github.com/fortemi/core/internal/backend"
	"github.com/fortemi/core/internal/embedpipeline"
	"github.com/fortemi/core/internal/eventbus"
	"github.com/fortemi/core/internal/ferr"
	"github.com/fortemi/core/internal/model"
	"github.com/fortemi/core/internal/queue"
	"github.com/fortemi/core/internal/store"
)

// beginScoped opens a transaction bound to a job's memory schema. Jobs
// carry the physical schema name directly (set at enqueue time by
// whichever caller resolved the memory), so handlers bind search_path
// themselves instead of going through Router.Execute's by-name
// resolution.
func (a *App) beginScoped(ctx context.Context, schema string) (*sql.Tx, error) {
	tx, err := a.Store.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, ferr.Wrap("fortemi.beginScoped", ferr.Transient, "begin tx", err)
	}
	if err := store.SetSearchPath(ctx, tx, schema); err != nil {
		tx.Rollback()
		return nil, err
	}
	return tx, nil
}

// handleEmbedNote runs the EmbeddingPipeline (§4.4) for one note: load
// the note and its document type, resolve the embedding config the
// document type recommends, ensure a default embedding set exists, and
// run chunk/compose/embed/store plus the downstream enqueues.
func (a *App) handleEmbedNote(ctx context.Context, j *model.Job) error {
	if j.NoteID == nil {
		return ferr.New("fortemi.handleEmbedNote", ferr.InvalidInput, "embed_note job missing note_id")
	}

	tx, err := a.beginScoped(ctx, j.MemorySchema)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	note, err := store.GetNote(ctx, tx, *j.NoteID)
	if err != nil {
		return err
	}
	docType, err := store.GetDocumentType(ctx, tx, note.DocumentTypeID)
	if err != nil {
		return err
	}
	cfg, err := store.GetEmbeddingConfig(ctx, tx, docType.RecommendedConfigID)
	if err != nil {
		return err
	}
	set, err := store.EnsureDefaultEmbeddingSet(ctx, tx, cfg.ID)
	if err != nil {
		return err
	}

	title, _ := j.Payload["title"].(string)
	if err := a.Pipeline.Run(ctx, tx, embedpipeline.Input{
		MemorySchema: j.MemorySchema,
		Note:         note,
		DocType:      *docType,
		Set:          *set,
		Config:       *cfg,
		Title:        title,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return ferr.Wrap("fortemi.handleEmbedNote", ferr.Transient, "commit", err)
	}

	a.Events.Publish(ctx, model.Event{
		EventType: "note.embedded", Memory: j.MemorySchema,
		EntityType: "note", EntityID: note.ID.String(),
	}, eventbus.Normal)
	return nil
}

// handleGenerateTitle produces a short title for a note via the
// GenerationBackend and writes it into the note's metadata, leaving
// content and tags untouched.
func (a *App) handleGenerateTitle(ctx context.Context, j *model.Job) error {
	if j.NoteID == nil {
		return ferr.New("fortemi.handleGenerateTitle", ferr.InvalidInput, "generate_title job missing note_id")
	}

	tx, err := a.beginScoped(ctx, j.MemorySchema)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	note, err := store.GetNote(ctx, tx, *j.NoteID)
	if err != nil {
		return err
	}

	prompt := "Write a short, descriptive title for the following note:\n\n" + note.Content()
	title, err := a.Generator.Generate(ctx, "default", prompt, backend.GenerateOptions{MaxTokens: 24, Temperature: 0.2})
	if err != nil {
		return err
	}

	if note.Metadata == nil {
		note.Metadata = model.Metadata{}
	}
	note.Metadata["title"] = title
	if err := store.ReviseNote(ctx, tx, note); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return ferr.Wrap("fortemi.handleGenerateTitle", ferr.Transient, "commit", err)
	}

	a.Events.Publish(ctx, model.Event{
		EventType: "note.titled", Memory: j.MemorySchema,
		EntityType: "note", EntityID: note.ID.String(), Payload: model.Metadata{"title": title},
	}, eventbus.Normal)
	return nil
}

// handleLinkNote recomputes one note's outgoing links against the
// memory's default embedding set (§4.5), then enqueues graph
// maintenance — §4.3's "Job chaining" routes graph maintenance off
// linking, not off embedding directly.
func (a *App) handleLinkNote(ctx context.Context, j *model.Job) error {
	if j.NoteID == nil {
		return ferr.New("fortemi.handleLinkNote", ferr.InvalidInput, "link_note job missing note_id")
	}

	tx, err := a.beginScoped(ctx, j.MemorySchema)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	set, err := store.EnsureDefaultEmbeddingSet(ctx, tx, "default")
	if err != nil {
		return err
	}
	written, err := a.Linker.Recompute(ctx, tx, *j.NoteID, set.ID)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return ferr.Wrap("fortemi.handleLinkNote", ferr.Transient, "commit", err)
	}

	if _, err := a.Queue.Enqueue(ctx, queue.EnqueueSpec{
		MemorySchema: j.MemorySchema, Type: "graph_maintenance", CostTier: model.TierCPU, Priority: 0,
	}); err != nil {
		return err
	}

	a.Events.Publish(ctx, model.Event{
		EventType: "note.linked", Memory: j.MemorySchema,
		EntityType: "note", EntityID: j.NoteID.String(),
		Payload: model.Metadata{"edge_count": written},
	}, eventbus.Low)
	return nil
}

// handleExtractConcepts runs fast-GPU concept tagging for a note and
// persists the result. If it produces fewer concepts than
// cfg.ConceptEscalationThreshold, it escalates per §4.3's tiered
// escalation: a standard-GPU retry of the same job type is enqueued,
// carrying prior_tier and the partial concepts, deduplicated by the
// same (note_id, type) key so at most one escalation can be pending per
// note. A job already carrying prior_tier is the escalation itself and
// merges its own result with the partial concepts rather than
// escalating again.
func (a *App) handleExtractConcepts(ctx context.Context, j *model.Job) error {
	if j.NoteID == nil {
		return ferr.New("fortemi.handleExtractConcepts", ferr.InvalidInput, "extract_concepts job missing note_id")
	}

	tx, err := a.beginScoped(ctx, j.MemorySchema)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	note, err := store.GetNote(ctx, tx, *j.NoteID)
	if err != nil {
		return err
	}

	priorTier, escalated := j.Payload["prior_tier"].(string)
	modelSlug := "concept-tagger-fast"
	if escalated {
		modelSlug = "concept-tagger-standard"
	}

	labels, err := a.extractConcepts(ctx, modelSlug, note.Content())
	if err != nil {
		return err
	}
	if escalated {
		labels = mergeLabels(labels, partialConcepts(j.Payload))
	}

	if err := store.UpsertNoteConcepts(ctx, tx, note.ID, labels); err != nil {
		return err
	}

	if !escalated && len(labels) < a.cfg.ConceptEscalationThreshold {
		if err := tx.Commit(); err != nil {
			return ferr.Wrap("fortemi.handleExtractConcepts", ferr.Transient, "commit", err)
		}

		// This job's own row is still 'running' and shares the (note_id,
		// type) dedup key with the escalation, so it is completed first;
		// otherwise the escalation insert would be deduplicated away.
		if err := a.Queue.Complete(ctx, j.ID); err != nil {
			return err
		}

		partial := make([]any, len(labels))
		for i, l := range labels {
			partial[i] = l
		}
		if _, err := a.Queue.Enqueue(ctx, queue.EnqueueSpec{
			MemorySchema: j.MemorySchema, Type: "extract_concepts", CostTier: model.TierStandardGPU,
			Priority: 5, NoteID: j.NoteID,
			Payload: model.Metadata{"prior_tier": string(model.TierFastGPU), "partial_concepts": partial},
		}); err != nil {
			return err
		}

		a.Events.Publish(ctx, model.Event{
			EventType: "note.concepts_escalated", Memory: j.MemorySchema,
			EntityType: "note", EntityID: note.ID.String(),
			Payload: model.Metadata{"concept_count": len(labels)},
		}, eventbus.Low)
		return nil
	}

	if err := tx.Commit(); err != nil {
		return ferr.Wrap("fortemi.handleExtractConcepts", ferr.Transient, "commit", err)
	}

	a.Events.Publish(ctx, model.Event{
		EventType: "note.concepts_extracted", Memory: j.MemorySchema,
		EntityType: "note", EntityID: note.ID.String(),
		Payload: model.Metadata{"concept_count": len(labels), "prior_tier": priorTier},
	}, eventbus.Low)
	return nil
}

func (a *App) extractConcepts(ctx context.Context, modelSlug, content string) ([]string, error) {
	prompt := "List the key topical concepts in the following note as a short comma-separated list of tags:\n\n" + content
	raw, err := a.Generator.Generate(ctx, modelSlug, prompt, backend.GenerateOptions{MaxTokens: 64, Temperature: 0})
	if err != nil {
		return nil, err
	}
	return parseConceptLabels(raw), nil
}

func parseConceptLabels(raw string) []string {
	seen := map[string]bool{}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		label := strings.TrimSpace(part)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		out = append(out, label)
	}
	return out
}

func partialConcepts(payload model.Metadata) []string {
	raw, _ := payload["partial_concepts"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func mergeLabels(sets ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, set := range sets {
		for _, l := range set {
			if seen[l] {
				continue
			}
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

// handleGraphMaintenance runs GraphMaintenance (§4.6) over the whole
// memory's link graph and persists its diagnostics snapshot.
func (a *App) handleGraphMaintenance(ctx context.Context, j *model.Job) error {
	tx, err := a.beginScoped(ctx, j.MemorySchema)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	diag, err := a.Graph.RunOnTx(ctx, tx)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return ferr.Wrap("fortemi.handleGraphMaintenance", ferr.Transient, "commit", err)
	}

	a.Events.Publish(ctx, model.Event{
		EventType: "graph.maintenance.completed", Memory: j.MemorySchema,
		Payload: model.Metadata{
			"community_count": diag.CommunityCount,
			"modularity_q":     diag.ModularityQ,
			"snn_skipped":      diag.SNNSkipped,
		},
	}, eventbus.Low)
	return nil
}
