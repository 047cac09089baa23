// Package worker implements the tiered drain loop from §4.3: CPU jobs
// drain before fast-GPU, which drains before standard-GPU, so at most
// one generative model tier is ever hot.
package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fortemi/core/internal/ferr"
	"github.com/fortemi/core/internal/model"
	"github.com/fortemi/core/internal/queue"
)

// HandlerFunc processes one claimed job. Long-running handlers should
// poll queue.IsCancelled between chunks of work and call
// queue.UpdateProgress to report status.
type HandlerFunc func(ctx context.Context, j *model.Job) error

// tierConfig orders the drain loop and bounds per-tier concurrency.
type tierConfig struct {
	tier        model.CostTier
	concurrency int64
}

// Worker drains the shared job queue tier by tier, never starting the
// next tier while the current one still has claimable work.
type Worker struct {
	q        *queue.Queue
	handlers map[string]HandlerFunc
	tiers    []tierConfig
	log      *slog.Logger
	pollIdle time.Duration
}

// New builds a Worker with the spec's default concurrency shape: CPU
// wide, fast-GPU and standard-GPU serialized to one job at a time so
// VRAM contention is structurally impossible.
func New(q *queue.Queue, log *slog.Logger) *Worker {
	return &Worker{
		q: q,
		handlers: map[string]HandlerFunc{},
		tiers: []tierConfig{
			{tier: model.TierCPU, concurrency: 8},
			{tier: model.TierFastGPU, concurrency: 1},
			{tier: model.TierStandardGPU, concurrency: 1},
		},
		log:      log,
		pollIdle: 2 * time.Second,
	}
}

// Register binds a job type to the handler that processes it.
func (w *Worker) Register(jobType string, h HandlerFunc) {
	w.handlers[jobType] = h
}

// SetConcurrency overrides the default per-tier worker count.
func (w *Worker) SetConcurrency(tier model.CostTier, n int64) {
	for i := range w.tiers {
		if w.tiers[i].tier == tier {
			w.tiers[i].concurrency = n
			return
		}
	}
}

// Run drains tiers in order until ctx is cancelled. Each full pass over
// all tiers is followed by an idle sleep if nothing was claimable
// anywhere, so the loop doesn't busy-spin against an empty queue.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		didWork := false
		for _, tc := range w.tiers {
			drained, err := w.drainTier(ctx, tc)
			if err != nil {
				return err
			}
			if drained {
				didWork = true
			}
		}

		if !didWork {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pollIdle):
			}
		}
	}
}

// drainTier claims and runs jobs for one tier until no more are
// claimable, bounding in-flight jobs to the tier's concurrency via a
// weighted semaphore. It returns whether any job was claimed.
func (w *Worker) drainTier(ctx context.Context, tc tierConfig) (bool, error) {
	sem := semaphore.NewWeighted(tc.concurrency)
	claimedAny := false

	for {
		has, err := w.q.HasClaimable(ctx, tc.tier)
		if err != nil {
			return claimedAny, err
		}
		if !has {
			break
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return claimedAny, ferr.Wrap("worker.drainTier", ferr.Cancelled, "acquire tier slot", err)
		}

		j, err := w.q.ClaimNext(ctx, tc.tier)
		if err != nil {
			sem.Release(1)
			return claimedAny, err
		}
		if j == nil {
			// Another worker claimed it between HasClaimable and ClaimNext.
			sem.Release(1)
			continue
		}
		claimedAny = true

		go func(j *model.Job) {
			defer sem.Release(1)
			w.run(ctx, j)
		}(j)
	}

	// Wait for all in-flight jobs in this tier before the next tier starts.
	if err := sem.Acquire(ctx, tc.concurrency); err != nil {
		return claimedAny, ferr.Wrap("worker.drainTier", ferr.Cancelled, "wait for tier drain", err)
	}
	sem.Release(tc.concurrency)

	return claimedAny, nil
}

// run executes one claimed job to completion, enforcing its deadline
// and reporting the outcome back to the queue.
func (w *Worker) run(ctx context.Context, j *model.Job) {
	h, ok := w.handlers[j.Type]
	if !ok {
		w.log.Error("no handler registered", "job_type", j.Type, "job_id", j.ID)
		_ = w.q.Fail(ctx, j, ferr.New("worker.run", ferr.Permanent, "unknown job type: "+j.Type))
		return
	}

	deadline := j.Deadline
	if deadline <= 0 {
		deadline = 5 * time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if err := h(jobCtx, j); err != nil {
		if jobCtx.Err() != nil {
			err = ferr.Wrap("worker.run", ferr.Deadline, "job exceeded deadline", err)
		}
		w.log.Warn("job failed", "job_type", j.Type, "job_id", j.ID, "error", err)
		if failErr := w.q.Fail(ctx, j, err); failErr != nil {
			w.log.Error("failed to record job failure", "job_id", j.ID, "error", failErr)
		}
		return
	}

	if err := w.q.Complete(ctx, j.ID); err != nil {
		w.log.Error("failed to mark job complete", "job_id", j.ID, "error", err)
	}
}
