package store

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/fortemi/core/internal/model"
	"github.com/fortemi/core/internal/testutil"
)

var testDSN string

func TestMain(m *testing.M) {
	teardown, dsn := testutil.MustStartPostgresContainer()
	testDSN = dsn

	code := m.Run()

	if teardown != nil {
		_ = teardown(context.Background(), testcontainers.StopTimeout(0))
	}
	os.Exit(code)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	s, err := Open(context.Background(), testDSN, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrateCreatesManifestTables(t *testing.T) {
	s := openTestStore(t)
	report, err := CheckDrift(context.Background(), s.DB, "")
	require.NoError(t, err)
	require.Empty(t, report.UnclassifiedTables, "every canonical table must be named in Manifest or SharedCatalogTables")
}

func TestCloneSchemaIsZeroDrift(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx, err := s.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	target := "memory_test_clone"
	_, _ = tx.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+target+" CASCADE")
	require.NoError(t, CloneSchema(ctx, tx, target))
	require.NoError(t, tx.Commit())

	report, err := CheckDrift(ctx, s.DB, target)
	require.NoError(t, err)
	require.Empty(t, report.MissingFromMemory)
}

func TestNoteLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx, err := s.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, SetSearchPath(ctx, tx, CanonicalSchema))

	n := &model.Note{DocumentTypeID: "plain_text", OriginalContent: "hello world", Tags: []string{"papers"}, Metadata: model.Metadata{}}
	require.NoError(t, InsertNote(ctx, tx, n))

	got, err := GetNote(ctx, tx, n.ID)
	require.NoError(t, err)
	require.Equal(t, "hello world", got.Content())

	require.NoError(t, SoftDeleteNote(ctx, tx, n.ID))
	_, err = GetNote(ctx, tx, n.ID)
	require.Error(t, err)
}

func TestUpsertLinkStableOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx, err := s.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, SetSearchPath(ctx, tx, CanonicalSchema))

	a := mustNote(ctx, t, tx, "alpha content")
	b := mustNote(ctx, t, tx, "beta content")

	require.NoError(t, UpsertLink(ctx, tx, b.ID, a.ID, 0.8))
	links, err := AllLinks(ctx, tx)
	require.NoError(t, err)
	require.Len(t, links, 1)

	expectedSrc, expectedDst := model.StableOrder(a.ID, b.ID)
	require.Equal(t, expectedSrc, links[0].SourceID)
	require.Equal(t, expectedDst, links[0].TargetID)
}

func mustNote(ctx context.Context, t *testing.T, tx *sql.Tx, content string) *model.Note {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	n := &model.Note{ID: id, DocumentTypeID: "plain_text", OriginalContent: content, Metadata: model.Metadata{}}
	require.NoError(t, InsertNote(ctx, tx, n))
	return n
}
