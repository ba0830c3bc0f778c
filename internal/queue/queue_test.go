package queue_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"chronicle/internal/db"
	"chronicle/internal/domain"
	"chronicle/internal/migrate"
	"chronicle/internal/queue"
	"chronicle/internal/repo"
)

func newWorker(t *testing.T) (*queue.Worker, *sql.DB, context.Context) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	w := queue.NewWorker(repo.Repo{DB: conn})
	w.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return w, conn, context.Background()
}

func enqueue(t *testing.T, conn *sql.DB, ctx context.Context, id, jobType string) {
	t.Helper()
	r := repo.Repo{DB: conn}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	now := "2026-03-01T12:00:00Z"
	if err := r.EnqueueJobTx(ctx, tx, domain.Job{
		ID:          id,
		Type:        jobType,
		PayloadJSON: `{}`,
		Status:      domain.JobQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestRunOnceDispatchesHandler(t *testing.T) {
	w, conn, ctx := newWorker(t)
	var handled []string
	w.Register("echo", func(ctx context.Context, job domain.Job) error {
		handled = append(handled, job.ID)
		return nil
	})
	enqueue(t, conn, ctx, "job-1", "echo")

	if !w.RunOnce(ctx) {
		t.Fatal("expected a claimed job")
	}
	if len(handled) != 1 || handled[0] != "job-1" {
		t.Fatalf("handler not invoked: %v", handled)
	}
	job, err := w.Repo.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != domain.JobDone {
		t.Fatalf("expected done, got %s", job.Status)
	}
	if w.RunOnce(ctx) {
		t.Fatal("empty queue must not claim")
	}
}

func TestFailingHandlerRequeues(t *testing.T) {
	w, conn, ctx := newWorker(t)
	w.Register("flaky", func(ctx context.Context, job domain.Job) error {
		return fmt.Errorf("transient")
	})
	enqueue(t, conn, ctx, "job-1", "flaky")

	if !w.RunOnce(ctx) {
		t.Fatal("expected a claimed job")
	}
	job, err := w.Repo.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != domain.JobQueued {
		t.Fatalf("expected requeue, got %s", job.Status)
	}
	if job.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", job.Attempts)
	}
}

func TestAttemptCapParksJob(t *testing.T) {
	w, conn, ctx := newWorker(t)
	w.MaxAttempts = 2
	w.Register("broken", func(ctx context.Context, job domain.Job) error {
		return fmt.Errorf("permanent")
	})
	enqueue(t, conn, ctx, "job-1", "broken")

	for i := 0; i < 2; i++ {
		if !w.RunOnce(ctx) {
			t.Fatalf("run %d: expected a claimed job", i)
		}
	}
	job, err := w.Repo.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != domain.JobFailed {
		t.Fatalf("expected failed after attempt cap, got %s", job.Status)
	}
	if w.RunOnce(ctx) {
		t.Fatal("parked job must not be claimed again")
	}
}

func TestUnknownJobTypeRequeues(t *testing.T) {
	w, conn, ctx := newWorker(t)
	enqueue(t, conn, ctx, "job-1", "mystery")

	if !w.RunOnce(ctx) {
		t.Fatal("expected a claimed job")
	}
	job, err := w.Repo.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != domain.JobQueued {
		t.Fatalf("expected requeue, got %s", job.Status)
	}
}

func TestOldestJobClaimedFirst(t *testing.T) {
	w, conn, ctx := newWorker(t)
	var order []string
	w.Register("echo", func(ctx context.Context, job domain.Job) error {
		order = append(order, job.ID)
		return nil
	})
	enqueue(t, conn, ctx, "job-a", "echo")
	enqueue(t, conn, ctx, "job-b", "echo")

	for w.RunOnce(ctx) {
	}
	if len(order) != 2 || order[0] != "job-a" || order[1] != "job-b" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestRunStopsMidDrainOnCancel(t *testing.T) {
	w, conn, baseCtx := newWorker(t)
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()
	var handled int
	w.Register("echo", func(ctx context.Context, job domain.Job) error {
		handled++
		cancel()
		return nil
	})
	enqueue(t, conn, baseCtx, "job-1", "echo")
	enqueue(t, conn, baseCtx, "job-2", "echo")
	enqueue(t, conn, baseCtx, "job-3", "echo")

	w.Run(ctx)

	if handled != 1 {
		t.Fatalf("expected drain to stop after cancellation, handled %d jobs", handled)
	}
}
