package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chronicle/internal/domain"
	"chronicle/internal/repo"
)

// Handler processes one job. Jobs are delivered at least once; handlers
// must tolerate duplicates.
type Handler func(ctx context.Context, job domain.Job) error

const (
	defaultPollInterval = 2 * time.Second
	defaultMaxAttempts  = 5
)

// Worker polls the jobs table, claims the oldest queued job, and runs the
// registered handler. Failed jobs requeue until the attempt cap, then park
// as failed.
type Worker struct {
	Repo         repo.Repo
	Handlers     map[string]Handler
	PollInterval time.Duration
	MaxAttempts  int
	Now          func() time.Time
}

func NewWorker(r repo.Repo) *Worker {
	return &Worker{
		Repo:         r,
		Handlers:     map[string]Handler{},
		PollInterval: defaultPollInterval,
		MaxAttempts:  defaultMaxAttempts,
		Now:          time.Now,
	}
}

// Register binds a handler to a job type.
func (w *Worker) Register(jobType string, h Handler) {
	w.Handlers[jobType] = h
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	interval := w.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for w.RunOnce(ctx) {
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims and processes at most one job. Returns true when a job was
// claimed, so callers can drain the queue before sleeping.
func (w *Worker) RunOnce(ctx context.Context) bool {
	now := w.Now().UTC().Format(time.RFC3339)
	job, err := w.Repo.ClaimNextJob(ctx, now)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			slog.Error("job claim failed", "error", err)
		}
		return false
	}
	w.process(ctx, job)
	return true
}

func (w *Worker) process(ctx context.Context, job domain.Job) {
	h, ok := w.Handlers[job.Type]
	done := w.Now().UTC().Format(time.RFC3339)
	if !ok {
		slog.Error("no handler for job type", "type", job.Type, "job_id", job.ID)
		if err := w.Repo.RequeueJob(ctx, job.ID, done, w.MaxAttempts); err != nil {
			slog.Error("job requeue failed", "job_id", job.ID, "error", err)
		}
		return
	}
	if err := h(ctx, job); err != nil {
		slog.Error("job failed", "type", job.Type, "job_id", job.ID, "attempt", job.Attempts, "error", err)
		if rerr := w.Repo.RequeueJob(ctx, job.ID, done, w.MaxAttempts); rerr != nil {
			slog.Error("job requeue failed", "job_id", job.ID, "error", rerr)
		}
		return
	}
	if err := w.Repo.MarkJobDone(ctx, job.ID, done); err != nil {
		slog.Error("job completion mark failed", "job_id", job.ID, "error", err)
	}
}
