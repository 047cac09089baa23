package linkengine

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/fortemi/core/internal/model"
	"github.com/fortemi/core/internal/store"
	"github.com/fortemi/core/internal/testutil"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	teardown, dsn := testutil.MustStartPostgresContainer()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		panic(err)
	}
	if err := store.Migrate(db, slog.New(slog.NewTextHandler(os.Stderr, nil))); err != nil {
		panic(err)
	}
	testDB = db

	code := m.Run()
	if teardown != nil {
		_ = teardown(context.Background(), testcontainers.StopTimeout(0))
	}
	os.Exit(code)
}

func insertNoteWithVector(t *testing.T, ctx context.Context, tx *sql.Tx, setID string, vec []float32) uuid.UUID {
	t.Helper()
	n := &model.Note{DocumentTypeID: "plain_text", OriginalContent: "x", Metadata: model.Metadata{}}
	require.NoError(t, store.InsertNote(ctx, tx, n))
	require.NoError(t, store.ReplaceEmbeddings(ctx, tx, n.ID, setID, []*model.Embedding{
		{NoteID: n.ID, SetID: setID, ChunkIndex: 0, Vector: vec, ModelID: "test-model", Dimensions: len(vec)},
	}))
	return n.ID
}

func TestRecomputeLinksAboveThreshold(t *testing.T) {
	ctx := context.Background()
	tx, err := testDB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, store.SetSearchPath(ctx, tx, store.CanonicalSchema))

	setID := uuid.NewString()
	_, err = tx.ExecContext(ctx, `INSERT INTO embedding_sets (id, name, kind, config_id, created_at) VALUES ($1, $1, 'full', 'cfg', now())`, setID)
	require.NoError(t, err)

	a := insertNoteWithVector(t, ctx, tx, setID, []float32{1, 0, 0})
	b := insertNoteWithVector(t, ctx, tx, setID, []float32{1, 0, 0})
	c := insertNoteWithVector(t, ctx, tx, setID, []float32{0, 1, 0})

	e := New(DefaultConfig())
	n, err := e.Recompute(ctx, tx, a, setID)
	require.NoError(t, err)
	require.Equal(t, 1, n, "only the identical-direction neighbor should clear the 0.70 threshold")

	neighbors, err := store.NeighborsOf(ctx, tx, a)
	require.NoError(t, err)
	require.Contains(t, neighbors, b)
	require.NotContains(t, neighbors, c)
}
