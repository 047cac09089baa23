// Package memory implements MemoryRegistry (§4.1): lifecycle, cloning,
// routing metadata, and drift classification for memory namespaces.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fortemi/core/internal/ferr"
	"github.com/fortemi/core/internal/model"
	"github.com/fortemi/core/internal/store"
)

// Registry owns the catalog.memories table and the default-memory cache
// RequestRouter consults on every request.
type Registry struct {
	db          *sql.DB
	maxMemories int

	mu           sync.RWMutex
	defaultCache *cachedDefault
	cacheTTL     time.Duration
}

type cachedDefault struct {
	memory   *model.Memory
	expiresAt time.Time
}

// New builds a Registry. maxMemories enforces §3's QuotaExceeded
// invariant; cacheTTL matches the spec's default-memory 60s TTL cache.
func New(db *sql.DB, maxMemories int, cacheTTL time.Duration) *Registry {
	return &Registry{db: db, maxMemories: maxMemories, cacheTTL: cacheTTL}
}

// CreateMemory instantiates a new namespace via store.CloneSchema inside
// one transaction, matching §4.1's "within a single transaction" clone
// recipe.
func (r *Registry) CreateMemory(ctx context.Context, name string) (*model.MemoryInfo, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, ferr.Wrap("memory.CreateMemory", ferr.Permanent, "generate id", err)
	}
	schemaName := store.SchemaName(id.String())

	count, err := r.countMemories(ctx)
	if err != nil {
		return nil, err
	}
	if r.maxMemories > 0 && count >= r.maxMemories {
		return nil, ferr.New("memory.CreateMemory", ferr.QuotaExceeded, "memory limit reached")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ferr.Wrap("memory.CreateMemory", ferr.Transient, "begin tx", err)
	}
	defer tx.Rollback()

	isDefault := count == 0
	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO catalog.memories (id, name, schema_name, is_default, locked, schema_version, created_at, last_accessed)
		VALUES ($1, $2, $3, $4, false, 0, $5, $5)
	`, id, name, schemaName, isDefault, now)
	if isUniqueViolation(err) {
		return nil, ferr.New("memory.CreateMemory", ferr.NameConflict, "memory name or schema already exists")
	}
	if err != nil {
		return nil, ferr.Wrap("memory.CreateMemory", ferr.Transient, "insert memory row", err)
	}

	if err := store.CloneSchema(ctx, tx, schemaName); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, ferr.Wrap("memory.CreateMemory", ferr.Transient, "commit", err)
	}

	if isDefault {
		r.invalidateDefaultCache()
	}

	return &model.MemoryInfo{
		Memory: model.Memory{ID: id.String(), Name: name, SchemaName: schemaName, IsDefault: isDefault, CreatedAt: now, LastAccessed: now},
		Drift:  model.DriftCurrent,
	}, nil
}

// DropMemory removes a namespace. The default memory can never be
// dropped; a locked memory refuses the operation.
func (r *Registry) DropMemory(ctx context.Context, name string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return ferr.Wrap("memory.DropMemory", ferr.Transient, "begin tx", err)
	}
	defer tx.Rollback()

	var schemaName string
	var isDefault, locked bool
	err = tx.QueryRowContext(ctx, `SELECT schema_name, is_default, locked FROM catalog.memories WHERE name = $1`, name).
		Scan(&schemaName, &isDefault, &locked)
	if err == sql.ErrNoRows {
		return ferr.New("memory.DropMemory", ferr.NotFound, "memory not found")
	}
	if err != nil {
		return ferr.Wrap("memory.DropMemory", ferr.Transient, "select memory", err)
	}
	if isDefault {
		return ferr.New("memory.DropMemory", ferr.InvalidInput, "default memory cannot be deleted")
	}
	if locked {
		return ferr.New("memory.DropMemory", ferr.Locked, "memory is locked")
	}

	if _, err := tx.ExecContext(ctx, "DROP SCHEMA "+schemaName+" CASCADE"); err != nil {
		return ferr.Wrap("memory.DropMemory", ferr.Transient, "drop schema", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog.memories WHERE name = $1`, name); err != nil {
		return ferr.Wrap("memory.DropMemory", ferr.Transient, "delete memory row", err)
	}

	return ferr.Wrap("memory.DropMemory", ferr.Transient, "commit", tx.Commit())
}

// ListMemories returns every memory annotated with its drift status.
func (r *Registry) ListMemories(ctx context.Context) ([]model.MemoryInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, schema_name, is_default, locked, schema_version, created_at, last_accessed, note_count_cache, size_bytes_cache
		FROM catalog.memories ORDER BY created_at
	`)
	if err != nil {
		return nil, ferr.Wrap("memory.ListMemories", ferr.Transient, "select memories", err)
	}
	defer rows.Close()

	var out []model.MemoryInfo
	for rows.Next() {
		var m model.Memory
		var id uuid.UUID
		if err := rows.Scan(&id, &m.Name, &m.SchemaName, &m.IsDefault, &m.Locked, &m.SchemaVersion, &m.CreatedAt, &m.LastAccessed, &m.NoteCountCache, &m.SizeBytesCache); err != nil {
			return nil, ferr.Wrap("memory.ListMemories", ferr.Transient, "scan memory", err)
		}
		m.ID = id.String()

		report, err := store.CheckDrift(ctx, r.db, m.SchemaName)
		drift := model.DriftUnknown
		if err == nil {
			if report.Clean() {
				drift = model.DriftCurrent
			} else {
				drift = model.DriftBehind
			}
		}
		out = append(out, model.MemoryInfo{Memory: m, Drift: drift})
	}
	return out, rows.Err()
}

// CloneMemory copies every note (and dependent row) from source into an
// already-existing target memory via FK-ordered INSERT...SELECT, so
// list_notes(target) afterwards matches list_notes(source) content-for-
// content (§8 round-trip property).
func (r *Registry) CloneMemory(ctx context.Context, sourceSchema, targetSchema string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return ferr.Wrap("memory.CloneMemory", ferr.Transient, "begin tx", err)
	}
	defer tx.Rollback()

	for _, table := range store.Manifest {
		stmt := "INSERT INTO " + targetSchema + "." + table + " SELECT * FROM " + sourceSchema + "." + table
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return ferr.Wrap("memory.CloneMemory", ferr.Transient, "copy table "+table, err)
		}
	}
	return ferr.Wrap("memory.CloneMemory", ferr.Transient, "commit", tx.Commit())
}

// ResolveDefault returns the current default memory, serving from a 60s
// TTL cache so repeated header-less requests don't hit the catalog every
// time (§4.2 resolution order (b)).
func (r *Registry) ResolveDefault(ctx context.Context) (*model.Memory, error) {
	r.mu.RLock()
	if r.defaultCache != nil && time.Now().Before(r.defaultCache.expiresAt) {
		m := r.defaultCache.memory
		r.mu.RUnlock()
		return m, nil
	}
	r.mu.RUnlock()

	var m model.Memory
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, schema_name, is_default, locked, schema_version, created_at, last_accessed
		FROM catalog.memories WHERE is_default LIMIT 1
	`).Scan(&id, &m.Name, &m.SchemaName, &m.IsDefault, &m.Locked, &m.SchemaVersion, &m.CreatedAt, &m.LastAccessed)
	if err == sql.ErrNoRows {
		return nil, ferr.New("memory.ResolveDefault", ferr.NotFound, "no default memory configured")
	}
	if err != nil {
		return nil, ferr.Wrap("memory.ResolveDefault", ferr.Transient, "select default memory", err)
	}
	m.ID = id.String()

	r.mu.Lock()
	r.defaultCache = &cachedDefault{memory: &m, expiresAt: time.Now().Add(r.cacheTTL)}
	r.mu.Unlock()

	return &m, nil
}

// ResolveByName looks up a memory by its request-header name.
func (r *Registry) ResolveByName(ctx context.Context, name string) (*model.Memory, error) {
	var m model.Memory
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, schema_name, is_default, locked, schema_version, created_at, last_accessed
		FROM catalog.memories WHERE name = $1
	`, name).Scan(&id, &m.Name, &m.SchemaName, &m.IsDefault, &m.Locked, &m.SchemaVersion, &m.CreatedAt, &m.LastAccessed)
	if err == sql.ErrNoRows {
		return nil, ferr.New("memory.ResolveByName", ferr.NotFound, "unknown memory")
	}
	if err != nil {
		return nil, ferr.Wrap("memory.ResolveByName", ferr.Transient, "select memory", err)
	}
	m.ID = id.String()
	return &m, nil
}

// InvalidateDefaultCache must be called synchronously by any write that
// changes is_default, per §5's "writes that change is_default invalidate
// it synchronously" ordering guarantee.
func (r *Registry) InvalidateDefaultCache() { r.invalidateDefaultCache() }

func (r *Registry) invalidateDefaultCache() {
	r.mu.Lock()
	r.defaultCache = nil
	r.mu.Unlock()
}

func (r *Registry) countMemories(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM catalog.memories`).Scan(&count)
	if err != nil {
		return 0, ferr.Wrap("memory.countMemories", ferr.Transient, "count memories", err)
	}
	return count, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	type sqlStater interface{ SQLState() string }
	var s sqlStater
	if errors.As(err, &s) {
		return s.SQLState() == "23505"
	}
	return false
}
