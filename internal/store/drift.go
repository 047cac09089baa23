package store

import (
	"context"
	"database/sql"
	"fmt"
)

// DriftReport is returned by CheckDrift: the classification gap between
// what actually exists in the canonical namespace and the declared
// Manifest ∪ SharedCatalogTables list.
type DriftReport struct {
	UnclassifiedTables []string // exist in canonical, named in neither list
	MissingFromMemory  []string // in Manifest but absent from the target memory schema
}

func (r DriftReport) Clean() bool {
	return len(r.UnclassifiedTables) == 0 && len(r.MissingFromMemory) == 0
}

// CheckDrift is the CI-runnable test named in §4.1: it fails closed if
// any canonical user table cannot be classified into Manifest or
// SharedCatalogTables, and separately reports any memory schema that is
// missing manifest tables relative to canonical.
func CheckDrift(ctx context.Context, db *sql.DB, memorySchema string) (DriftReport, error) {
	var report DriftReport

	canonicalTables, err := tablesInDB(ctx, db, CanonicalSchema)
	if err != nil {
		return report, fmt.Errorf("drift: list canonical tables: %w", err)
	}

	classified := map[string]bool{}
	for _, t := range Manifest {
		classified[t] = true
	}
	for _, t := range SharedCatalogTables {
		classified[t] = true
	}

	for _, t := range canonicalTables {
		if !classified[t] {
			report.UnclassifiedTables = append(report.UnclassifiedTables, t)
		}
	}

	if memorySchema != "" {
		memoryTables, err := tablesInDB(ctx, db, memorySchema)
		if err != nil {
			return report, fmt.Errorf("drift: list memory tables: %w", err)
		}
		present := map[string]bool{}
		for _, t := range memoryTables {
			present[t] = true
		}
		for _, t := range Manifest {
			if !present[t] {
				report.MissingFromMemory = append(report.MissingFromMemory, t)
			}
		}
	}

	return report, nil
}

func tablesInDB(ctx context.Context, db *sql.DB, schema string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
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
