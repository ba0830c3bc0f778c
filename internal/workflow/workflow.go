package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chronicle/internal/domain"
	"chronicle/internal/ids"
	"chronicle/internal/journal"
	"chronicle/internal/ledger"
	"chronicle/internal/repo"
)

// Notifier receives best-effort signals about prompts awaiting review.
type Notifier interface {
	ApprovalRequired(ctx context.Context, prompt domain.Prompt) error
}

// Engine drives prompts from review through execution to closure. Closure
// is the one path that writes to the ledger: every approved prompt leaves a
// sealed act behind.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Journal  journal.Writer
	Ledger   ledger.Ledger
	IDs      ids.Generator
	Notifier Notifier
	Now      func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Journal: journal.Writer{DB: db},
		Ledger:  ledger.New(db),
		IDs:     ids.UUID{},
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// PromptCreateOptions are parameters for opening a prompt for review.
type PromptCreateOptions struct {
	DashboardID string
	IssuerID    string
	Title       string
	Body        string
}

// CreatePrompt opens a prompt in in_review and pings reviewers.
func (e Engine) CreatePrompt(ctx context.Context, opts PromptCreateOptions) (domain.Prompt, error) {
	if opts.Title == "" {
		return domain.Prompt{}, domain.ValidationError{Field: "title", Reason: "required"}
	}
	if opts.IssuerID == "" {
		return domain.Prompt{}, domain.ValidationError{Field: "issuer_id", Reason: "required"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Prompt{
		ID:          e.IDs.NewID(),
		DashboardID: opts.DashboardID,
		IssuerID:    opts.IssuerID,
		Title:       opts.Title,
		Body:        opts.Body,
		Status:      domain.PromptInReview,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Prompt{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertPrompt(ctx, tx, p); err != nil {
		return domain.Prompt{}, err
	}
	if err := e.Journal.Append(ctx, tx, "prompt.created", "prompt", p.ID, opts.IssuerID, journal.Payload{
		"title": p.Title,
	}); err != nil {
		return domain.Prompt{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Prompt{}, err
	}
	if e.Notifier != nil {
		_ = e.Notifier.ApprovalRequired(ctx, p)
	}
	return p, nil
}

// ExecutePrompt moves the prompt into executing and enqueues a background
// execution job in the same transaction. Re-entry from executing is allowed;
// the job consumer must tolerate duplicates. A closed prompt cannot be
// executed again.
func (e Engine) ExecutePrompt(ctx context.Context, promptID, actorID string) (domain.Prompt, error) {
	p, err := e.Repo.GetPrompt(ctx, promptID)
	if err != nil {
		return domain.Prompt{}, err
	}
	if p.Status == domain.PromptClosed {
		return domain.Prompt{}, domain.InvalidTransitionError{Entity: "prompt", From: p.Status, To: domain.PromptExecuting}
	}
	now := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Prompt{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.UpdatePromptStatusTx(ctx, tx, p.ID, domain.PromptExecuting, now,
		domain.PromptInReview, domain.PromptExecuting)
	if err != nil {
		return domain.Prompt{}, err
	}
	if !ok {
		return domain.Prompt{}, domain.InvalidTransitionError{Entity: "prompt", From: domain.PromptClosed, To: domain.PromptExecuting}
	}
	job := domain.Job{
		ID:          e.IDs.NewID(),
		Type:        JobTypeExecution,
		PayloadJSON: fmt.Sprintf(`{"prompt_id":%q}`, p.ID),
		Status:      domain.JobQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.EnqueueJobTx(ctx, tx, job); err != nil {
		return domain.Prompt{}, err
	}
	if err := e.Journal.Append(ctx, tx, "prompt.executing", "prompt", p.ID, actorID, journal.Payload{
		"job_id": job.ID,
	}); err != nil {
		return domain.Prompt{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Prompt{}, err
	}
	return e.Repo.GetPrompt(ctx, promptID)
}

// ApprovePrompt records the approval, closes the prompt, and seals a
// closure act for it. Re-approval appends another approval row and produces
// another sealed act; callers wanting exactly-one closure must guard
// upstream.
func (e Engine) ApprovePrompt(ctx context.Context, promptID, approverID string) (domain.Prompt, domain.Seal, error) {
	if approverID == "" {
		return domain.Prompt{}, domain.Seal{}, domain.ValidationError{Field: "approver_id", Reason: "required"}
	}
	now := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Prompt{}, domain.Seal{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPromptTx(ctx, tx, promptID)
	if err != nil {
		return domain.Prompt{}, domain.Seal{}, err
	}

	if err := e.Repo.InsertApproval(ctx, tx, domain.Approval{
		ID:         e.IDs.NewID(),
		PromptID:   p.ID,
		ApproverID: approverID,
		Decision:   "approved",
		CreatedAt:  now,
	}); err != nil {
		return domain.Prompt{}, domain.Seal{}, err
	}
	if _, err := e.Repo.UpdatePromptStatusTx(ctx, tx, p.ID, domain.PromptClosed, now,
		domain.PromptInReview, domain.PromptExecuting, domain.PromptClosed); err != nil {
		return domain.Prompt{}, domain.Seal{}, err
	}
	if err := e.Journal.Append(ctx, tx, "prompt.approved", "prompt", p.ID, approverID, journal.Payload{
		"decision": "approved",
	}); err != nil {
		return domain.Prompt{}, domain.Seal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Prompt{}, domain.Seal{}, err
	}

	act, err := e.Ledger.CreateAct(ctx, ledger.ActCreateOptions{
		Type:        "closure",
		Cycle:       domain.CycleDaily,
		Title:       "Closure: " + p.Title,
		BodyJSON:    fmt.Sprintf(`{"prompt_id":%q,"approver_id":%q}`, p.ID, approverID),
		LineageTags: []string{"Closure Scroll", "prompt:" + p.ID},
		ActorID:     approverID,
	})
	if err != nil {
		return domain.Prompt{}, domain.Seal{}, err
	}
	seal, err := e.Ledger.SealAct(ctx, act.ID, approverID, approverID)
	if err != nil {
		return domain.Prompt{}, domain.Seal{}, err
	}
	closed, err := e.Repo.GetPrompt(ctx, promptID)
	if err != nil {
		return domain.Prompt{}, domain.Seal{}, err
	}
	return closed, seal, nil
}

// GetPrompt returns a prompt with its approval history.
func (e Engine) GetPrompt(ctx context.Context, promptID string) (domain.Prompt, []domain.Approval, error) {
	p, err := e.Repo.GetPrompt(ctx, promptID)
	if err != nil {
		return domain.Prompt{}, nil, err
	}
	approvals, err := e.Repo.ListApprovals(ctx, promptID)
	if err != nil {
		return domain.Prompt{}, nil, err
	}
	return p, approvals, nil
}

// ListPrompts is a filtered read.
func (e Engine) ListPrompts(ctx context.Context, status string, limit int) ([]domain.Prompt, error) {
	return e.Repo.ListPrompts(ctx, status, limit)
}
