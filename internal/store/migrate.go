package store

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/fortemi/core/internal/ferr"
)

//go:embed catalogsql/*.sql
var catalogMigrations embed.FS

// Migrate installs the shared catalog schema and the canonical memory
// template, verifying afterwards that every canonical manifest table
// exists — the same install-then-verify discipline the teacher's
// sql.Load*Sql functions use for their installed Postgres functions.
func Migrate(db *sql.DB, log *slog.Logger) error {
	goose.SetBaseFS(catalogMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return ferr.Wrap("store.Migrate", ferr.Permanent, "set goose dialect", err)
	}
	if err := goose.Up(db, "catalogsql"); err != nil {
		return ferr.Wrap("store.Migrate", ferr.Permanent, "run catalog migrations", err)
	}

	missing, err := missingCanonicalTables(db)
	if err != nil {
		return ferr.Wrap("store.Migrate", ferr.Transient, "verify canonical tables", err)
	}
	if len(missing) > 0 {
		return ferr.New("store.Migrate", ferr.SchemaDrift,
			fmt.Sprintf("canonical namespace missing manifest tables: %v", missing))
	}

	log.Info("catalog migrations applied", "manifest_tables", len(Manifest))
	return nil
}

func missingCanonicalTables(db *sql.DB) ([]string, error) {
	rows, err := db.Query(
		`SELECT table_name FROM information_schema.tables WHERE table_schema = $1`,
		CanonicalSchema,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for _, t := range Manifest {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	return missing, nil
}
