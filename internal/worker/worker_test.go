package worker

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/fortemi/core/internal/model"
	"github.com/fortemi/core/internal/queue"
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

// TestTierOrderingBlocksGPUWhileCPUPending exercises §4.3: the next
// tier must not start while the current tier still has claimable work.
func TestTierOrderingBlocksGPUWhileCPUPending(t *testing.T) {
	q := queue.New(testDB)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, queue.EnqueueSpec{MemorySchema: "memory_canonical", Type: "embed_note", CostTier: model.TierCPU})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, queue.EnqueueSpec{MemorySchema: "memory_canonical", Type: "generate_title", CostTier: model.TierFastGPU})
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string

	w := New(q, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	w.Register("embed_note", func(ctx context.Context, j *model.Job) error {
		mu.Lock()
		order = append(order, "cpu")
		mu.Unlock()
		return nil
	})
	w.Register("generate_title", func(ctx context.Context, j *model.Job) error {
		mu.Lock()
		order = append(order, "fast_gpu")
		mu.Unlock()
		return nil
	})

	runCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = w.Run(runCtx)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(order), 2)
	require.Equal(t, "cpu", order[0], "CPU tier must drain before fast-GPU starts")
}

func TestUnknownJobTypeFailsPermanently(t *testing.T) {
	q := queue.New(testDB)
	ctx := context.Background()

	j, err := q.Enqueue(ctx, queue.EnqueueSpec{MemorySchema: "memory_canonical", Type: "no_such_handler", CostTier: model.TierCPU})
	require.NoError(t, err)
	require.NotNil(t, j)

	w := New(q, slog.New(slog.NewTextHandler(os.Stderr, nil)))

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = w.Run(runCtx)

	var status string
	require.NoError(t, testDB.QueryRowContext(ctx, `SELECT status FROM catalog.jobs WHERE id = $1`, j.ID).Scan(&status))
	require.Equal(t, "failed", status)
}
