// Package queue implements JobQueue (§4.3): a durable priority queue
// backed by the shared catalog's jobs table, with global and per-note
// deduplication and a fixed retry backoff schedule.
//
// The dedup-map/trigger-channel shape is grounded on
// nornicdb/pkg/nornicdb/embed_queue.go's worker, adapted here from an
// in-memory map guard to the table's partial unique indexes
// (jobs_global_dedup, jobs_note_dedup) so dedup survives process restarts.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fortemi/core/internal/ferr"
	"github.com/fortemi/core/internal/model"
)

// Backoff is the fixed retry schedule named in §4.3 — not a generic
// exponential policy, so no backoff library is used (see DESIGN.md).
var Backoff = []time.Duration{0, 30 * time.Second, 120 * time.Second}

// Queue wraps the catalog jobs table.
type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue { return &Queue{db: db} }

// EnqueueSpec is the input to Enqueue; NoteID nil means a global job.
type EnqueueSpec struct {
	MemorySchema string
	Type         string
	Payload      model.Metadata
	Priority     int
	CostTier     model.CostTier
	MaxRetries   int
	NoteID       *uuid.UUID
	Deadline     time.Duration
}

// Enqueue inserts a job row, relying on the jobs_global_dedup /
// jobs_note_dedup partial unique indexes to silently no-op a duplicate
// enqueue (§4.3: "Rejection is silent (returns None)").
func (q *Queue) Enqueue(ctx context.Context, spec EnqueueSpec) (*model.Job, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, ferr.Wrap("queue.Enqueue", ferr.Permanent, "generate id", err)
	}
	if spec.MaxRetries == 0 {
		spec.MaxRetries = len(Backoff)
	}
	if spec.Deadline == 0 {
		spec.Deadline = 5 * time.Minute
	}

	row := q.db.QueryRowContext(ctx, `
		INSERT INTO catalog.jobs (id, memory_schema, type, payload, priority, cost_tier, max_retries, note_id, deadline_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING
		RETURNING id
	`, id, spec.MemorySchema, spec.Type, spec.Payload, spec.Priority, string(spec.CostTier), spec.MaxRetries, spec.NoteID, int(spec.Deadline.Seconds()))

	var returnedID uuid.UUID
	err = row.Scan(&returnedID)
	if errors.Is(err, sql.ErrNoRows) {
		// A pending-or-running job of the same dedup key already exists;
		// enqueuers treat this as success-no-op.
		return nil, nil
	}
	if err != nil {
		return nil, ferr.Wrap("queue.Enqueue", ferr.Transient, "insert job", err)
	}

	return &model.Job{
		ID: returnedID, MemorySchema: spec.MemorySchema, Type: spec.Type, Payload: spec.Payload,
		Status: model.JobPending, Priority: spec.Priority, CostTier: spec.CostTier,
		MaxRetries: spec.MaxRetries, NoteID: spec.NoteID, Deadline: spec.Deadline,
	}, nil
}

// ClaimNext atomically dequeues the highest-priority claimable job for a
// tier (status pending, not locked, claim_visible_at <= now), ordered by
// (priority DESC, created_at ASC), using SKIP LOCKED so concurrent
// workers never double-claim a row.
func (q *Queue) ClaimNext(ctx context.Context, tier model.CostTier) (*model.Job, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ferr.Wrap("queue.ClaimNext", ferr.Transient, "begin tx", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT id, memory_schema, type, payload, priority, cost_tier, retry_count, max_retries, note_id, deadline_seconds
		FROM catalog.jobs
		WHERE status = 'pending' AND claim_visible_at <= now() AND cost_tier = $1
		ORDER BY priority DESC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, string(tier))

	j := &model.Job{}
	var deadlineSeconds int
	err = row.Scan(&j.ID, &j.MemorySchema, &j.Type, &j.Payload, &j.Priority, (*string)(&j.CostTier), &j.RetryCount, &j.MaxRetries, &j.NoteID, &deadlineSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, ferr.Wrap("queue.ClaimNext", ferr.Transient, "scan job", err)
	}
	j.Deadline = time.Duration(deadlineSeconds) * time.Second
	j.Status = model.JobRunning

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `UPDATE catalog.jobs SET status = 'running', started_at = $1 WHERE id = $2`, now, j.ID); err != nil {
		tx.Rollback()
		return nil, ferr.Wrap("queue.ClaimNext", ferr.Transient, "mark running", err)
	}
	j.StartedAt = &now

	return j, ferr.Wrap("queue.ClaimNext", ferr.Transient, "commit", tx.Commit())
}

// HasClaimable reports whether a tier has any job still eligible for
// ClaimNext — the Worker drain loop's gate for moving to the next tier
// (tier N+1 never starts while tier N has claimable work).
func (q *Queue) HasClaimable(ctx context.Context, tier model.CostTier) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM catalog.jobs WHERE status = 'pending' AND claim_visible_at <= now() AND cost_tier = $1)
	`, string(tier)).Scan(&exists)
	if err != nil {
		return false, ferr.Wrap("queue.HasClaimable", ferr.Transient, "check claimable", err)
	}
	return exists, nil
}

// Complete marks a job completed.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	_, err := q.db.ExecContext(ctx, `UPDATE catalog.jobs SET status = 'completed', completed_at = $1 WHERE id = $2`, now, id)
	if err != nil {
		return ferr.Wrap("queue.Complete", ferr.Transient, "mark completed", err)
	}
	return nil
}

// Fail transitions a job to retry (pending, with backoff-delayed
// visibility) or to terminal failed once retries are exhausted.
func (q *Queue) Fail(ctx context.Context, j *model.Job, cause error) error {
	j.RetryCount++
	msg := cause.Error()

	if j.RetryCount < j.MaxRetries && ferr.Retryable(cause) {
		delay := Backoff[min(j.RetryCount-1, len(Backoff)-1)]
		visibleAt := time.Now().Add(delay)
		_, err := q.db.ExecContext(ctx, `
			UPDATE catalog.jobs SET status = 'pending', retry_count = $1, claim_visible_at = $2, error_message = $3
			WHERE id = $4
		`, j.RetryCount, visibleAt, msg, j.ID)
		if err != nil {
			return ferr.Wrap("queue.Fail", ferr.Transient, "schedule retry", err)
		}
		return nil
	}

	now := time.Now()
	_, err := q.db.ExecContext(ctx, `
		UPDATE catalog.jobs SET status = 'failed', completed_at = $1, error_message = $2 WHERE id = $3
	`, now, msg, j.ID)
	if err != nil {
		return ferr.Wrap("queue.Fail", ferr.Transient, "mark failed", err)
	}
	return nil
}

// Cancel marks a job cancelled (terminal); downstream jobs must not be
// enqueued after this.
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	_, err := q.db.ExecContext(ctx, `
		UPDATE catalog.jobs SET status = 'cancelled', cancelled = true, completed_at = $1 WHERE id = $2
	`, now, id)
	if err != nil {
		return ferr.Wrap("queue.Cancel", ferr.Transient, "cancel job", err)
	}
	return nil
}

// IsCancelled polls the cancellation flag, the mechanism handlers use
// between chunks of long-running work (§5 Cancellation).
func (q *Queue) IsCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	var cancelled bool
	err := q.db.QueryRowContext(ctx, `SELECT cancelled FROM catalog.jobs WHERE id = $1`, id).Scan(&cancelled)
	if err != nil {
		return false, ferr.Wrap("queue.IsCancelled", ferr.Transient, "check cancelled", err)
	}
	return cancelled, nil
}

// UpdateProgress writes progress columns for a long-running handler. It
// emits no job.progress event, and neither does the Worker.
func (q *Queue) UpdateProgress(ctx context.Context, id uuid.UUID, percent int, message string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE catalog.jobs SET progress_percent = $1, progress_message = $2 WHERE id = $3
	`, percent, message, id)
	if err != nil {
		return ferr.Wrap("queue.UpdateProgress", ferr.Transient, "update progress", err)
	}
	return nil
}
