// Package router implements RequestRouter (§4.2): per-operation memory
// resolution and transaction-scoped search_path discipline.
package router

import (
	"context"
	"database/sql"

	"github.com/fortemi/core/internal/ferr"
	"github.com/fortemi/core/internal/memory"
	"github.com/fortemi/core/internal/model"
	"github.com/fortemi/core/internal/store"
)

// Router resolves which memory a request targets and binds a transaction
// to it before handing control to a repository closure.
type Router struct {
	db       *sql.DB
	registry *memory.Registry
}

func New(db *sql.DB, registry *memory.Registry) *Router {
	return &Router{db: db, registry: registry}
}

// Resolve implements the three-step lookup order from §4.2: explicit
// header name, cached default, then the canonical shared namespace as a
// last resort fallback.
func (r *Router) Resolve(ctx context.Context, explicitName string) (*model.Memory, error) {
	if explicitName != "" {
		m, err := r.registry.ResolveByName(ctx, explicitName)
		if err != nil {
			return nil, err
		}
		return m, nil
	}

	m, err := r.registry.ResolveDefault(ctx)
	if err == nil {
		return m, nil
	}
	if ferr.KindOf(err) != ferr.NotFound {
		return nil, err
	}

	return &model.Memory{Name: "shared", SchemaName: store.CanonicalSchema}, nil
}

// Execute resolves the memory, begins a transaction, sets its
// search_path, runs fn, and commits on success or rolls back on error —
// the execute(closure) pattern from §4.2.
func (r *Router) Execute(ctx context.Context, explicitName string, write bool, fn func(tx *sql.Tx, m *model.Memory) error) error {
	m, err := r.Resolve(ctx, explicitName)
	if err != nil {
		return err
	}
	if write && m.Locked {
		return ferr.New("router.Execute", ferr.Locked, "memory is locked for writes")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return ferr.Wrap("router.Execute", ferr.Transient, "begin tx", err)
	}
	defer tx.Rollback()

	if err := store.SetSearchPath(ctx, tx, m.SchemaName); err != nil {
		return err
	}
	if err := fn(tx, m); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return ferr.Wrap("router.Execute", ferr.Transient, "commit", err)
	}
	return nil
}

// BeginTx returns a search_path-scoped transaction handle for handlers
// that compose multiple repository calls and must commit themselves —
// the begin_tx() pattern from §4.2.
func (r *Router) BeginTx(ctx context.Context, explicitName string) (*sql.Tx, *model.Memory, error) {
	m, err := r.Resolve(ctx, explicitName)
	if err != nil {
		return nil, nil, err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, ferr.Wrap("router.BeginTx", ferr.Transient, "begin tx", err)
	}
	if err := store.SetSearchPath(ctx, tx, m.SchemaName); err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	return tx, m, nil
}
