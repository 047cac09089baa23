// Package store is the physical data home described by §4.1 of the core
// spec: a single Postgres database holding a shared catalog namespace
// plus one schema per memory, cloned zero-drift from a canonical
// template. It is grounded on the teacher's database/*.go handler
// pattern (SQL-function-per-operation, pgvector column handling) adapted
// from the teacher's single-tenant RAG store to a multi-tenant one.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/fortemi/core/internal/ferr"
)

// Store owns the physical connection and the catalog/canonical
// migrations. Per-memory repository access goes through Router
// (internal/router), which binds a transaction's search_path before
// delegating to the methods here.
type Store struct {
	DB  *sql.DB
	log *slog.Logger
}

// Open connects to Postgres and applies catalog + canonical migrations.
func Open(ctx context.Context, dsn string, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, ferr.Wrap("store.Open", ferr.Permanent, "open connection", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, ferr.Wrap("store.Open", ferr.Transient, "ping database", err)
	}
	if err := Migrate(db, log); err != nil {
		return nil, err
	}
	return &Store{DB: db, log: log}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.DB.Close() }

// SetSearchPath sets the transaction-local search_path, the mechanism
// RequestRouter relies on to scope every repository call to one memory
// without leaking state between requests (§4.2).
func SetSearchPath(ctx context.Context, tx *sql.Tx, schema string) error {
	// schema names are generated by SchemaName/catalog, never accepted
	// raw from a request, so this is safe despite not being a bind
	// parameter (search_path cannot be parameterized in Postgres).
	_, err := tx.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s, %s", schema, CatalogSchema))
	if err != nil {
		return ferr.Wrap("store.SetSearchPath", ferr.Transient, "set search_path", err)
	}
	return nil
}
