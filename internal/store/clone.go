package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/fortemi/core/internal/ferr"
)

// CloneSchema instantiates a new memory namespace from the canonical
// template, within the caller's transaction (§4.1 "Zero-drift cloning").
// It clones structure, defaults, constraints, indexes, and non-FK
// comments via `LIKE ... INCLUDING ALL`, then introspects and remaps
// foreign keys and triggers from the catalog rather than hardcoding DDL,
// so the clone never drifts from whatever the canonical schema currently
// looks like.
func CloneSchema(ctx context.Context, tx *sql.Tx, target string) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", target)); err != nil {
		return ferr.Wrap("store.CloneSchema", ferr.Transient, "create schema", err)
	}

	for _, table := range Manifest {
		stmt := fmt.Sprintf(
			"CREATE TABLE %s.%s (LIKE %s.%s INCLUDING ALL)",
			target, table, CanonicalSchema, table,
		)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return ferr.Wrap("store.CloneSchema", ferr.Transient, "clone table "+table, err)
		}
	}

	fks, err := introspectForeignKeys(ctx, tx, CanonicalSchema)
	if err != nil {
		return ferr.Wrap("store.CloneSchema", ferr.Transient, "introspect foreign keys", err)
	}
	for _, fk := range fks {
		refSchema := target
		if !inManifest(fk.ReferencedTable) {
			// Referenced table lives in the shared catalog (e.g.
			// embedding_configs); keep the edge cross-namespace instead
			// of remapping it into the new memory.
			refSchema = CatalogSchema
		}
		stmt := fmt.Sprintf(
			"ALTER TABLE %s.%s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s.%s (%s)%s",
			target, fk.Table, fk.constraintNameFor(target),
			strings.Join(fk.Columns, ", "),
			refSchema, fk.ReferencedTable, strings.Join(fk.ReferencedColumns, ", "),
			fk.OnDeleteClause(),
		)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return ferr.Wrap("store.CloneSchema", ferr.Transient, "recreate foreign key on "+fk.Table, err)
		}
	}

	triggers, err := introspectTriggers(ctx, tx, CanonicalSchema)
	if err != nil {
		return ferr.Wrap("store.CloneSchema", ferr.Transient, "introspect triggers", err)
	}
	for _, def := range triggers {
		remapped := strings.ReplaceAll(def, CanonicalSchema+".", target+".")
		if _, err := tx.ExecContext(ctx, remapped); err != nil {
			return ferr.Wrap("store.CloneSchema", ferr.Transient, "recreate trigger", err)
		}
	}

	version, err := currentMigrationCount(ctx, tx)
	if err != nil {
		return ferr.Wrap("store.CloneSchema", ferr.Transient, "read migration count", err)
	}

	return recordSchemaVersion(ctx, tx, target, version)
}

func inManifest(table string) bool {
	for _, t := range Manifest {
		if t == table {
			return true
		}
	}
	return false
}

type foreignKey struct {
	Name               string
	Table              string
	Columns            []string
	ReferencedTable    string
	ReferencedColumns  []string
	OnDelete           string
}

func (fk foreignKey) constraintNameFor(schema string) string {
	return fmt.Sprintf("%s_%s_fkey", schema, fk.Name)
}

func (fk foreignKey) OnDeleteClause() string {
	if fk.OnDelete == "" || fk.OnDelete == "NO ACTION" {
		return ""
	}
	return " ON DELETE " + fk.OnDelete
}

// introspectForeignKeys reads the canonical namespace's FK constraints
// from the Postgres catalog (information_schema + pg_constraint) rather
// than from hardcoded DDL, so a schema change upstream is picked up the
// next time a memory is cloned.
func introspectForeignKeys(ctx context.Context, tx *sql.Tx, schema string) ([]foreignKey, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT
			con.conname,
			cl.relname AS table_name,
			array_agg(DISTINCT att.attname) AS columns,
			fcl.relname AS ref_table,
			array_agg(DISTINCT fatt.attname) AS ref_columns,
			CASE con.confdeltype
				WHEN 'c' THEN 'CASCADE'
				WHEN 'n' THEN 'SET NULL'
				WHEN 'r' THEN 'RESTRICT'
				ELSE 'NO ACTION'
			END
		FROM pg_constraint con
		JOIN pg_class cl ON cl.oid = con.conrelid
		JOIN pg_namespace ns ON ns.oid = cl.relnamespace
		JOIN pg_class fcl ON fcl.oid = con.confrelid
		JOIN unnest(con.conkey) AS k(attnum) ON true
		JOIN pg_attribute att ON att.attrelid = con.conrelid AND att.attnum = k.attnum
		JOIN unnest(con.confkey) AS fk(attnum) ON true
		JOIN pg_attribute fatt ON fatt.attrelid = con.confrelid AND fatt.attnum = fk.attnum
		WHERE con.contype = 'f' AND ns.nspname = $1
		GROUP BY con.conname, cl.relname, fcl.relname, con.confdeltype
	`, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []foreignKey
	for rows.Next() {
		var fk foreignKey
		var cols, refCols pq.StringArray
		if err := rows.Scan(&fk.Name, &fk.Table, &cols, &fk.ReferencedTable, &refCols, &fk.OnDelete); err != nil {
			return nil, err
		}
		fk.Columns = []string(cols)
		fk.ReferencedColumns = []string(refCols)
		out = append(out, fk)
	}
	return out, rows.Err()
}

// introspectTriggers returns `pg_get_triggerdef` for every non-internal
// trigger in schema, so CloneSchema can recreate them bound to the new
// namespace's tables while trigger functions stay in shared space.
func introspectTriggers(ctx context.Context, tx *sql.Tx, schema string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT pg_get_triggerdef(t.oid)
		FROM pg_trigger t
		JOIN pg_class cl ON cl.oid = t.tgrelid
		JOIN pg_namespace ns ON ns.oid = cl.relnamespace
		WHERE NOT t.tgisinternal AND ns.nspname = $1
	`, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func currentMigrationCount(ctx context.Context, tx *sql.Tx) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT count(*) FROM goose_db_version WHERE is_applied`,
	).Scan(&count)
	return count, err
}

func recordSchemaVersion(ctx context.Context, tx *sql.Tx, schema string, version int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE catalog.memories SET schema_version = $1 WHERE schema_name = $2`,
		version, schema,
	)
	return err
}

// UpgradeSchema reconciles an existing memory against the canonical
// template: tables missing entirely are cloned; columns present in
// canonical but missing from the memory are added. Column type changes
// are never auto-applied — those surface only as drift warnings from
// CheckDrift.
func UpgradeSchema(ctx context.Context, tx *sql.Tx, target string) error {
	existing, err := tablesIn(ctx, tx, target)
	if err != nil {
		return ferr.Wrap("store.UpgradeSchema", ferr.Transient, "list existing tables", err)
	}
	existingSet := map[string]bool{}
	for _, t := range existing {
		existingSet[t] = true
	}

	for _, table := range Manifest {
		if !existingSet[table] {
			stmt := fmt.Sprintf("CREATE TABLE %s.%s (LIKE %s.%s INCLUDING ALL)", target, table, CanonicalSchema, table)
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return ferr.Wrap("store.UpgradeSchema", ferr.Transient, "add missing table "+table, err)
			}
			continue
		}
		missingCols, err := missingColumns(ctx, tx, target, table)
		if err != nil {
			return ferr.Wrap("store.UpgradeSchema", ferr.Transient, "diff columns for "+table, err)
		}
		for _, col := range missingCols {
			stmt := fmt.Sprintf(
				"ALTER TABLE %s.%s ADD COLUMN %s %s",
				target, table, col.Name, col.TypeDDL(),
			)
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return ferr.Wrap("store.UpgradeSchema", ferr.Transient, "add column "+col.Name+" to "+table, err)
			}
		}
	}

	version, err := currentMigrationCount(ctx, tx)
	if err != nil {
		return ferr.Wrap("store.UpgradeSchema", ferr.Transient, "read migration count", err)
	}
	return recordSchemaVersion(ctx, tx, target, version)
}

func tablesIn(ctx context.Context, tx *sql.Tx, schema string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = $1`, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

type column struct {
	Name     string
	DataType string
	Nullable bool
}

func (c column) TypeDDL() string {
	ddl := c.DataType
	if !c.Nullable {
		ddl += " NOT NULL DEFAULT " + defaultFor(c.DataType)
	}
	return ddl
}

func defaultFor(dataType string) string {
	switch dataType {
	case "boolean":
		return "false"
	case "integer", "bigint", "double precision":
		return "0"
	case "jsonb":
		return "'{}'"
	case "timestamp with time zone":
		return "now()"
	default:
		return "''"
	}
}

func missingColumns(ctx context.Context, tx *sql.Tx, target, table string) ([]column, error) {
	canonical, err := columnsOf(ctx, tx, CanonicalSchema, table)
	if err != nil {
		return nil, err
	}
	existing, err := columnsOf(ctx, tx, target, table)
	if err != nil {
		return nil, err
	}
	existingSet := map[string]bool{}
	for _, c := range existing {
		existingSet[c.Name] = true
	}
	var missing []column
	for _, c := range canonical {
		if !existingSet[c.Name] {
			missing = append(missing, c)
		}
	}
	return missing, nil
}

func columnsOf(ctx context.Context, tx *sql.Tx, schema, table string) ([]column, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
	`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []column
	for rows.Next() {
		var c column
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
