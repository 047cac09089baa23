package search

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/fortemi/core/internal/backend/stub"
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

func newSetID(t *testing.T, ctx context.Context, tx *sql.Tx) string {
	t.Helper()
	setID := uuid.NewString()
	_, err := tx.ExecContext(ctx, `INSERT INTO embedding_sets (id, name, kind, config_id, created_at) VALUES ($1, $1, 'full', 'cfg', now())`, setID)
	require.NoError(t, err)
	return setID
}

func insertEmbeddedNote(t *testing.T, ctx context.Context, tx *sql.Tx, setID string, content string, tags []string, embedder *stub.Embedder) uuid.UUID {
	t.Helper()
	n := &model.Note{DocumentTypeID: "plain_text", OriginalContent: content, Tags: tags, Metadata: model.Metadata{}}
	require.NoError(t, store.InsertNote(ctx, tx, n))
	vec, err := embedder.Embed(ctx, "test-model", content)
	require.NoError(t, err)
	require.NoError(t, store.ReplaceEmbeddings(ctx, tx, n.ID, setID, []*model.Embedding{
		{NoteID: n.ID, SetID: setID, ChunkIndex: 0, Vector: vec, ModelID: "test-model", Dimensions: len(vec)},
	}))
	return n.ID
}

func TestFTSFindsStemmedMatch(t *testing.T) {
	ctx := context.Background()
	tx, err := testDB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, store.SetSearchPath(ctx, tx, store.CanonicalSchema))

	embedder := stub.NewEmbedder(16)
	setID := newSetID(t, ctx, tx)
	target := insertEmbeddedNote(t, ctx, tx, setID, "transformers replace recurrence with self-attention", []string{"papers"}, embedder)
	insertEmbeddedNote(t, ctx, tx, setID, "a completely unrelated grocery list", nil, embedder)

	e := New(embedder, setID, false, 0)
	res, err := e.Search(ctx, tx, Request{Query: "attention", Mode: ModeFTS, Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	require.Equal(t, target, res.Hits[0].NoteID)
}

func TestSemanticFindsNearestVector(t *testing.T) {
	ctx := context.Background()
	tx, err := testDB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, store.SetSearchPath(ctx, tx, store.CanonicalSchema))

	embedder := stub.NewEmbedder(16)
	setID := newSetID(t, ctx, tx)
	content := "alpha beta gamma knowledge base note"
	target := insertEmbeddedNote(t, ctx, tx, setID, content, nil, embedder)
	insertEmbeddedNote(t, ctx, tx, setID, "totally different content about trains", nil, embedder)

	e := New(embedder, setID, false, 0)
	res, err := e.Search(ctx, tx, Request{Query: content, Mode: ModeSemantic, EmbeddingModel: "test-model", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	require.Equal(t, target, res.Hits[0].NoteID)
}

func TestFilterExcludesUntaggedNotes(t *testing.T) {
	ctx := context.Background()
	tx, err := testDB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, store.SetSearchPath(ctx, tx, store.CanonicalSchema))

	embedder := stub.NewEmbedder(16)
	setID := newSetID(t, ctx, tx)
	tagged := insertEmbeddedNote(t, ctx, tx, setID, "tagged knowledge note about rust", []string{"rust"}, embedder)
	insertEmbeddedNote(t, ctx, tx, setID, "untagged knowledge note about rust", nil, embedder)

	e := New(embedder, setID, false, 0)
	res, err := e.Search(ctx, tx, Request{
		Query: "rust", Mode: ModeFTS, Limit: 10,
		Filter: Filter{RequiredTags: []string{"rust"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	require.Equal(t, tagged, res.Hits[0].NoteID)
}

func TestLimitZeroIsInvalidInput(t *testing.T) {
	ctx := context.Background()
	tx, err := testDB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, store.SetSearchPath(ctx, tx, store.CanonicalSchema))

	embedder := stub.NewEmbedder(16)
	e := New(embedder, "unused", false, 0)
	_, err = e.Search(ctx, tx, Request{Query: "x", Mode: ModeFTS, Limit: 0})
	require.Error(t, err)
}

func TestHybridFusesBothBranches(t *testing.T) {
	ctx := context.Background()
	tx, err := testDB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, store.SetSearchPath(ctx, tx, store.CanonicalSchema))

	embedder := stub.NewEmbedder(16)
	setID := newSetID(t, ctx, tx)
	content := "self-attention mechanism in transformer models"
	target := insertEmbeddedNote(t, ctx, tx, setID, content, nil, embedder)
	insertEmbeddedNote(t, ctx, tx, setID, "unrelated note about gardening", nil, embedder)

	e := New(embedder, setID, false, 0)
	res, err := e.Search(ctx, tx, Request{Query: content, Mode: ModeHybrid, EmbeddingModel: "test-model", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	require.Equal(t, target, res.Hits[0].NoteID)
	require.NotNil(t, res.Hits[0].FTSRank)
	require.NotNil(t, res.Hits[0].SemanticRank)
}
