package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"chronicle/internal/db"
	"chronicle/internal/domain"
	"chronicle/internal/migrate"
	"chronicle/internal/workflow"
)

func newEngine(t *testing.T) (workflow.Engine, context.Context) {
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
	e := workflow.New(conn)
	e.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	e.Ledger.Now = e.Now
	return e, context.Background()
}

func createPrompt(t *testing.T, e workflow.Engine, ctx context.Context) domain.Prompt {
	t.Helper()
	p, err := e.CreatePrompt(ctx, workflow.PromptCreateOptions{
		DashboardID: "board-1",
		IssuerID:    "issuer-1",
		Title:       "Review the quarterly digest",
		Body:        "Everything in one place.",
	})
	if err != nil {
		t.Fatalf("create prompt: %v", err)
	}
	return p
}

func TestCreatePromptStartsInReview(t *testing.T) {
	e, ctx := newEngine(t)
	p := createPrompt(t, e, ctx)
	if p.Status != domain.PromptInReview {
		t.Fatalf("expected in_review, got %s", p.Status)
	}
	if _, err := e.CreatePrompt(ctx, workflow.PromptCreateOptions{IssuerID: "issuer-1"}); err == nil {
		t.Fatal("expected validation error for missing title")
	}
}

func TestCreatePromptNotifiesReviewers(t *testing.T) {
	e, ctx := newEngine(t)
	n := &captureNotifier{}
	e.Notifier = n
	createPrompt(t, e, ctx)
	if n.approvalsRequested != 1 {
		t.Fatalf("expected 1 approval notification, got %d", n.approvalsRequested)
	}
}

type captureNotifier struct {
	approvalsRequested int
}

func (n *captureNotifier) ApprovalRequired(ctx context.Context, p domain.Prompt) error {
	n.approvalsRequested++
	return nil
}

func TestExecutePromptQueuesJob(t *testing.T) {
	e, ctx := newEngine(t)
	p := createPrompt(t, e, ctx)

	got, err := e.ExecutePrompt(ctx, p.ID, "issuer-1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got.Status != domain.PromptExecuting {
		t.Fatalf("expected executing, got %s", got.Status)
	}
	counts, err := e.Repo.CountJobsByStatus(ctx)
	if err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if counts[domain.JobQueued] != 1 {
		t.Fatalf("expected 1 queued job, got %v", counts)
	}

	// Re-execution from executing is allowed and queues another job.
	if _, err := e.ExecutePrompt(ctx, p.ID, "issuer-1"); err != nil {
		t.Fatalf("re-execute: %v", err)
	}
	counts, _ = e.Repo.CountJobsByStatus(ctx)
	if counts[domain.JobQueued] != 2 {
		t.Fatalf("expected 2 queued jobs, got %v", counts)
	}
}

func TestExecuteClosedPromptFails(t *testing.T) {
	e, ctx := newEngine(t)
	p := createPrompt(t, e, ctx)
	if _, _, err := e.ApprovePrompt(ctx, p.ID, "approver-1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err := e.ExecutePrompt(ctx, p.ID, "issuer-1")
	var ite domain.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestApprovePromptSealsClosure(t *testing.T) {
	e, ctx := newEngine(t)
	p := createPrompt(t, e, ctx)
	if _, err := e.ExecutePrompt(ctx, p.ID, "issuer-1"); err != nil {
		t.Fatalf("execute: %v", err)
	}

	closed, seal, err := e.ApprovePrompt(ctx, p.ID, "approver-1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if closed.Status != domain.PromptClosed {
		t.Fatalf("expected closed, got %s", closed.Status)
	}
	if seal.SealCode == "" {
		t.Fatal("expected a seal code")
	}

	act, attached, err := e.Ledger.GetAct(ctx, seal.ActID)
	if err != nil {
		t.Fatalf("get act: %v", err)
	}
	if act.Type != "closure" || act.Status != domain.ActSealed {
		t.Fatalf("expected sealed closure act, got %s/%s", act.Type, act.Status)
	}
	if attached == nil || attached.SealCode != seal.SealCode {
		t.Fatalf("seal mismatch: %v", attached)
	}
	var tagged, scroll bool
	for _, tag := range act.LineageTags {
		if tag == "prompt:"+p.ID {
			tagged = true
		}
		if tag == "Closure Scroll" {
			scroll = true
		}
	}
	if !tagged {
		t.Fatalf("closure act missing prompt lineage tag: %v", act.LineageTags)
	}
	if !scroll {
		t.Fatalf("closure act missing Closure Scroll tag: %v", act.LineageTags)
	}

	_, approvals, err := e.GetPrompt(ctx, p.ID)
	if err != nil {
		t.Fatalf("get prompt: %v", err)
	}
	if len(approvals) != 1 || approvals[0].ApproverID != "approver-1" {
		t.Fatalf("unexpected approvals: %v", approvals)
	}
}

func TestReApprovalAppendsAnotherClosure(t *testing.T) {
	e, ctx := newEngine(t)
	p := createPrompt(t, e, ctx)

	_, first, err := e.ApprovePrompt(ctx, p.ID, "approver-1")
	if err != nil {
		t.Fatalf("first approve: %v", err)
	}
	_, second, err := e.ApprovePrompt(ctx, p.ID, "approver-2")
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if first.ActID == second.ActID {
		t.Fatal("re-approval must seal a new act")
	}
	_, approvals, err := e.GetPrompt(ctx, p.ID)
	if err != nil {
		t.Fatalf("get prompt: %v", err)
	}
	if len(approvals) != 2 {
		t.Fatalf("expected 2 approvals, got %d", len(approvals))
	}
	counts, err := e.Ledger.IndexByType(ctx, "", "")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if counts["closure"] != 2 {
		t.Fatalf("expected 2 closure acts, got %v", counts)
	}
}

func TestRunExecutionJob(t *testing.T) {
	e, ctx := newEngine(t)
	p := createPrompt(t, e, ctx)
	if _, err := e.ExecutePrompt(ctx, p.ID, "issuer-1"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	job, err := e.Repo.ClaimNextJob(ctx, e.Now().UTC().Format(time.RFC3339))
	if err != nil {
		t.Fatalf("claim job: %v", err)
	}
	if job.Type != workflow.JobTypeExecution {
		t.Fatalf("unexpected job type %s", job.Type)
	}
	if err := e.RunExecutionJob(ctx, job); err != nil {
		t.Fatalf("run job: %v", err)
	}
	entries, err := e.Repo.LatestJournal(ctx, 10, "prompt.executed", "", "")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 prompt.executed entry, got %d", len(entries))
	}
}

func TestRunExecutionJobSkipsClosedPrompt(t *testing.T) {
	e, ctx := newEngine(t)
	p := createPrompt(t, e, ctx)
	if _, err := e.ExecutePrompt(ctx, p.ID, "issuer-1"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, _, err := e.ApprovePrompt(ctx, p.ID, "approver-1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	job, err := e.Repo.ClaimNextJob(ctx, e.Now().UTC().Format(time.RFC3339))
	if err != nil {
		t.Fatalf("claim job: %v", err)
	}
	if err := e.RunExecutionJob(ctx, job); err != nil {
		t.Fatalf("run job on closed prompt should be a no-op, got %v", err)
	}
	entries, err := e.Repo.LatestJournal(ctx, 10, "prompt.executed", "", "")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no prompt.executed entries, got %d", len(entries))
	}
}
