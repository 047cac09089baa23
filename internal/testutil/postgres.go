// Package testutil starts a disposable Postgres instance for package
// TestMain functions, grounded on the teacher's
// helper.MustStartPostgresContainer/sql.TestMain pattern.
package testutil

import (
	"context"
	"fmt"
	"log"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// MustStartPostgresContainer launches a pgvector-enabled Postgres
// container and returns a teardown func plus a ready-to-use DSN. On
// failure it exits the process via log.Fatalf, matching the teacher's
// "Must*" bootstrap idiom used from TestMain, where there is no test
// handle to fail gracefully.
func MustStartPostgresContainer() (func(ctx context.Context, opts ...testcontainers.TerminateOption) error, string) {
	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("fortemi_test"),
		postgres.WithUsername("fortemi"),
		postgres.WithPassword("fortemi"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		),
	)
	if err != nil {
		log.Fatalf("testutil: start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("testutil: connection string: %v", err)
	}

	return container.Terminate, dsn
}

// RequireDSN is a convenience wrapper for tests that want to fail (not
// panic) when the container cannot be reached.
func RequireDSN(t *testing.T, dsn string) string {
	t.Helper()
	if dsn == "" {
		t.Fatal(fmt.Errorf("testutil: empty dsn, container did not start"))
	}
	return dsn
}
