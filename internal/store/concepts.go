package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"github.com/fortemi/core/internal/ferr"
)

// NoteConcept is one SKOS concept assigned to a note, annotated with
// its document frequency so composition can apply the TF-IDF gate.
type NoteConcept struct {
	ConceptID uuid.UUID
	Label     string
	DocFreq   float64
}

// ConceptsForNote returns every concept assigned to a note together with
// its document frequency (assigned-note-count / live-note-count), so
// embedpipeline can filter concepts with doc_freq > concept_max_doc_freq
// without a second round trip per concept.
func ConceptsForNote(ctx context.Context, tx *sql.Tx, noteID uuid.UUID) ([]NoteConcept, error) {
	liveNotes, err := CountLiveNotes(ctx, tx)
	if err != nil {
		return nil, err
	}
	if liveNotes == 0 {
		return nil, nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT c.id, c.label,
		       (SELECT count(*)::float8 FROM note_concepts nc2 WHERE nc2.concept_id = c.id) / $2::float8 AS doc_freq
		FROM note_concepts nc
		JOIN skos_concepts c ON c.id = nc.concept_id
		WHERE nc.note_id = $1
	`, noteID, liveNotes)
	if err != nil {
		return nil, ferr.Wrap("store.ConceptsForNote", ferr.Transient, "select concepts", err)
	}
	defer rows.Close()

	var out []NoteConcept
	for rows.Next() {
		var nc NoteConcept
		if err := rows.Scan(&nc.ConceptID, &nc.Label, &nc.DocFreq); err != nil {
			return nil, ferr.Wrap("store.ConceptsForNote", ferr.Transient, "select concepts", err)
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}

// UpsertNoteConcepts replaces a note's concept assignments with labels,
// creating any skos_concepts row that doesn't already exist by label.
// Used by the extract_concepts job handler (§4.3 tiered escalation):
// re-running it (e.g. after a standard-GPU escalation) fully replaces
// the fast-GPU pass's assignments rather than unioning with them.
func UpsertNoteConcepts(ctx context.Context, tx *sql.Tx, noteID uuid.UUID, labels []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM note_concepts WHERE note_id = $1`, noteID); err != nil {
		return ferr.Wrap("store.UpsertNoteConcepts", ferr.Transient, "clear note concepts", err)
	}

	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}

		conceptID, err := getOrCreateConcept(ctx, tx, label)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO note_concepts (note_id, concept_id) VALUES ($1, $2) ON CONFLICT DO NOTHING
		`, noteID, conceptID); err != nil {
			return ferr.Wrap("store.UpsertNoteConcepts", ferr.Transient, "assign concept", err)
		}
	}
	return nil
}

func getOrCreateConcept(ctx context.Context, tx *sql.Tx, label string) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRowContext(ctx, `SELECT id FROM skos_concepts WHERE label = $1`, label).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return uuid.Nil, ferr.Wrap("store.getOrCreateConcept", ferr.Transient, "select concept", err)
	}

	newID, genErr := uuid.NewV7()
	if genErr != nil {
		return uuid.Nil, ferr.Wrap("store.getOrCreateConcept", ferr.Permanent, "generate id", genErr)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO skos_concepts (id, label) VALUES ($1, $2) ON CONFLICT (label) DO NOTHING
	`, newID, label); err != nil {
		return uuid.Nil, ferr.Wrap("store.getOrCreateConcept", ferr.Transient, "insert concept", err)
	}

	if err := tx.QueryRowContext(ctx, `SELECT id FROM skos_concepts WHERE label = $1`, label).Scan(&id); err != nil {
		return uuid.Nil, ferr.Wrap("store.getOrCreateConcept", ferr.Transient, "select concept after insert", err)
	}
	return id, nil
}
