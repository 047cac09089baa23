package queue

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/fortemi/core/internal/ferr"
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

// TestGlobalDeduplication exercises scenario S5: three successive
// GraphMaintenance enqueues collapse into exactly one pending row.
func TestGlobalDeduplication(t *testing.T) {
	q := New(testDB)
	ctx := context.Background()

	var created int
	for i := 0; i < 3; i++ {
		j, err := q.Enqueue(ctx, EnqueueSpec{MemorySchema: "memory_canonical", Type: "graph_maintenance", Priority: 0, CostTier: "cpu"})
		require.NoError(t, err)
		if j != nil {
			created++
		}
	}
	require.Equal(t, 1, created, "exactly one of three successive global enqueues should succeed")

	var pending int
	err := testDB.QueryRowContext(ctx, `
		SELECT count(*) FROM catalog.jobs WHERE type = 'graph_maintenance' AND note_id IS NULL AND status IN ('pending','running')
	`).Scan(&pending)
	require.NoError(t, err)
	require.Equal(t, 1, pending)
}

func TestRetryExhaustionBecomesFailed(t *testing.T) {
	q := New(testDB)
	ctx := context.Background()

	j, err := q.Enqueue(ctx, EnqueueSpec{MemorySchema: "memory_canonical", Type: "embed_note", Priority: 0, CostTier: "cpu", MaxRetries: 1})
	require.NoError(t, err)
	require.NotNil(t, j)

	cause := ferr.New("worker.process", ferr.Transient, "backend timeout")
	require.NoError(t, q.Fail(ctx, j, cause))

	var status string
	require.NoError(t, testDB.QueryRowContext(ctx, `SELECT status FROM catalog.jobs WHERE id = $1`, j.ID).Scan(&status))
	require.Equal(t, "failed", status, "retry_count reached max_retries, job should be terminal")
}

// TestFirstRetryIsImmediate pins Backoff[0] (0s) to the first retry:
// Fail increments RetryCount before scheduling, so the schedule index
// must trail RetryCount by one or the 0s entry is never used and every
// retry waits at least Backoff[1] (30s).
func TestFirstRetryIsImmediate(t *testing.T) {
	q := New(testDB)
	ctx := context.Background()

	j, err := q.Enqueue(ctx, EnqueueSpec{MemorySchema: "memory_canonical", Type: "embed_note", Priority: 0, CostTier: "cpu", MaxRetries: 3})
	require.NoError(t, err)
	require.NotNil(t, j)

	before := time.Now()
	cause := ferr.New("worker.process", ferr.Transient, "backend timeout")
	require.NoError(t, q.Fail(ctx, j, cause))

	var claimVisibleAt time.Time
	require.NoError(t, testDB.QueryRowContext(ctx, `
		SELECT claim_visible_at FROM catalog.jobs WHERE id = $1
	`, j.ID).Scan(&claimVisibleAt))
	require.Less(t, claimVisibleAt.Sub(before), 5*time.Second, "first retry should be immediately visible, not delayed by Backoff[1]'s 30s")
}

func TestCancelIsPolledByHandlers(t *testing.T) {
	q := New(testDB)
	ctx := context.Background()

	j, err := q.Enqueue(ctx, EnqueueSpec{MemorySchema: "memory_canonical", Type: "link_note", Priority: 0, CostTier: "cpu"})
	require.NoError(t, err)
	require.NotNil(t, j)

	require.NoError(t, q.Cancel(ctx, j.ID))
	cancelled, err := q.IsCancelled(ctx, j.ID)
	require.NoError(t, err)
	require.True(t, cancelled)
}

func TestBackoffScheduleIsFixed(t *testing.T) {
	require.Len(t, Backoff, 3)
	require.True(t, errors.Is(nil, nil)) // sanity: pure-logic assertion needs no DB
}
