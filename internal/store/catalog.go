package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fortemi/core/internal/ferr"
	"github.com/fortemi/core/internal/model"
)

// GetDocumentType fetches a document type definition from the shared
// catalog, falling back to the bootstrap "plain_text" type on a miss so
// callers never have to special-case an unregistered type id.
func GetDocumentType(ctx context.Context, tx *sql.Tx, id string) (*model.DocumentType, error) {
	if id == "" {
		id = "plain_text"
	}
	row := tx.QueryRowContext(ctx, `
		SELECT id, name, filename_patterns, mime_types, chunk_strategy, recommended_config_id, content_template
		FROM catalog.document_types WHERE id = $1
	`, id)

	dt := &model.DocumentType{}
	var patterns, mimes pq.StringArray
	err := row.Scan(&dt.ID, &dt.Name, &patterns, &mimes, &dt.ChunkStrategy, &dt.RecommendedConfigID, &dt.ContentTemplate)
	if err == sql.ErrNoRows {
		return GetDocumentType(ctx, tx, "plain_text")
	}
	if err != nil {
		return nil, ferr.Wrap("store.GetDocumentType", ferr.Transient, "select document type", err)
	}
	dt.FilenamePatterns = []string(patterns)
	dt.MIMETypes = []string(mimes)
	return dt, nil
}

// ListDocumentTypes returns every registered document type, the input
// embedpipeline.DetectDocumentType sniffs against.
func ListDocumentTypes(ctx context.Context, tx *sql.Tx) ([]model.DocumentType, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, filename_patterns, mime_types, chunk_strategy, recommended_config_id, content_template
		FROM catalog.document_types
	`)
	if err != nil {
		return nil, ferr.Wrap("store.ListDocumentTypes", ferr.Transient, "select document types", err)
	}
	defer rows.Close()

	var out []model.DocumentType
	for rows.Next() {
		dt := model.DocumentType{}
		var patterns, mimes pq.StringArray
		if err := rows.Scan(&dt.ID, &dt.Name, &patterns, &mimes, &dt.ChunkStrategy, &dt.RecommendedConfigID, &dt.ContentTemplate); err != nil {
			return nil, ferr.Wrap("store.ListDocumentTypes", ferr.Transient, "scan document type", err)
		}
		dt.FilenamePatterns = []string(patterns)
		dt.MIMETypes = []string(mimes)
		out = append(out, dt)
	}
	return out, rows.Err()
}

// GetEmbeddingConfig fetches a named embedding configuration from the
// shared catalog.
func GetEmbeddingConfig(ctx context.Context, tx *sql.Tx, id string) (*model.EmbeddingConfig, error) {
	if id == "" {
		id = "default"
	}
	row := tx.QueryRowContext(ctx, `
		SELECT id, model_slug, dimensions, supports_mrl, mrl_dimensions, composition, chunk_strategy, chunk_size, chunk_overlap
		FROM catalog.embedding_configs WHERE id = $1
	`, id)

	cfg := &model.EmbeddingConfig{}
	var mrlDims pq.Int64Array
	var compositionJSON []byte
	err := row.Scan(&cfg.ID, &cfg.ModelSlug, &cfg.Dimensions, &cfg.SupportsMRL, &mrlDims, &compositionJSON, &cfg.ChunkStrategy, &cfg.ChunkSize, &cfg.ChunkOverlap)
	if err == sql.ErrNoRows {
		return nil, ferr.New("store.GetEmbeddingConfig", ferr.NotFound, "embedding config not found: "+id)
	}
	if err != nil {
		return nil, ferr.Wrap("store.GetEmbeddingConfig", ferr.Transient, "select embedding config", err)
	}
	cfg.MRLDimensions = make([]int, len(mrlDims))
	for i, d := range mrlDims {
		cfg.MRLDimensions[i] = int(d)
	}
	if len(compositionJSON) > 0 {
		if err := json.Unmarshal(compositionJSON, &cfg.Composition); err != nil {
			return nil, ferr.Wrap("store.GetEmbeddingConfig", ferr.Permanent, "parse composition", err)
		}
	}
	return cfg, nil
}

// EnsureDefaultEmbeddingSet returns the current memory's "default" Full
// Set, creating it against configID on first use. Embedding sets are
// cloned as empty tables per §4.1 (structure only), so each memory
// lazily provisions its own default row the first time a note is
// embedded in it, rather than relying on canonical seed data surviving
// CloneSchema's structure-only copy.
func EnsureDefaultEmbeddingSet(ctx context.Context, tx *sql.Tx, configID string) (*model.EmbeddingSet, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, name, kind, config_id, filter, created_at FROM embedding_sets WHERE name = 'default'
	`)
	set := &model.EmbeddingSet{}
	err := row.Scan(&set.ID, &set.Name, &set.Kind, &set.ConfigID, &set.FilterJSON, &set.CreatedAt)
	if err == nil {
		return set, nil
	}
	if err != sql.ErrNoRows {
		return nil, ferr.Wrap("store.EnsureDefaultEmbeddingSet", ferr.Transient, "select default set", err)
	}

	id, genErr := uuid.NewV7()
	if genErr != nil {
		return nil, ferr.Wrap("store.EnsureDefaultEmbeddingSet", ferr.Permanent, "generate id", genErr)
	}
	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO embedding_sets (id, name, kind, config_id, filter, created_at)
		VALUES ($1, 'default', 'full', $2, '{}', $3)
		ON CONFLICT (name) DO NOTHING
	`, id, configID, now)
	if err != nil {
		return nil, ferr.Wrap("store.EnsureDefaultEmbeddingSet", ferr.Transient, "insert default set", err)
	}

	return EnsureDefaultEmbeddingSet(ctx, tx, configID)
}
