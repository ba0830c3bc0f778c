package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"chronicle/internal/config"
	"chronicle/internal/domain"
	"chronicle/internal/ids"
	"chronicle/internal/journal"
	"chronicle/internal/repo"
)

// Notifier receives best-effort signals when a task reaches a terminal
// outcome. Failures never propagate to the transition caller.
type Notifier interface {
	TaskFinished(ctx context.Context, task domain.Task) error
}

// Engine owns the task state machine. All durable state lives in the store;
// the engine never caches mutable state beyond the current request.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Journal  journal.Writer
	IDs      ids.Generator
	Config   *config.Config
	Notifier Notifier
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Journal: journal.Writer{DB: db},
		IDs:     ids.UUID{},
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// transitions is the full allowed-target table. Statuses absent from the map
// are terminal.
var transitions = map[string][]string{
	domain.TaskPending:    {domain.TaskScheduled, domain.TaskCancelled},
	domain.TaskScheduled:  {domain.TaskInProgress, domain.TaskCancelled},
	domain.TaskInProgress: {domain.TaskCompleted, domain.TaskFailed},
}

func allowed(from, to string) bool {
	for _, target := range transitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Type           string
	Mode           string
	Priority       *int
	OwnerType      string
	OwnerID        string
	SubjectRefType string
	SubjectRefID   string
	PayloadJSON    string
	DueAt          string
	Source         string
	ActorType      string
	ActorID        string
}

func (o TaskCreateOptions) validate() error {
	if o.Type == "" {
		return domain.ValidationError{Field: "type", Reason: "required"}
	}
	if o.OwnerType == "" {
		return domain.ValidationError{Field: "owner_type", Reason: "required"}
	}
	switch o.OwnerType {
	case domain.OwnerAI, domain.OwnerHuman, domain.OwnerSystem:
	default:
		return domain.ValidationError{Field: "owner_type", Reason: "must be AI, HUMAN or SYSTEM"}
	}
	if o.SubjectRefType == "" {
		return domain.ValidationError{Field: "subject_ref_type", Reason: "required"}
	}
	if o.SubjectRefID == "" {
		return domain.ValidationError{Field: "subject_ref_id", Reason: "required"}
	}
	if o.Mode != "" && o.Mode != domain.ModeAssisted && o.Mode != domain.ModeAutonomous {
		return domain.ValidationError{Field: "mode", Reason: "must be ASSISTED or AUTONOMOUS"}
	}
	return nil
}

// CreateTask validates the options and inserts the task in PENDING.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if err := opts.validate(); err != nil {
		return domain.Task{}, err
	}
	if opts.Mode == "" {
		opts.Mode = domain.ModeAssisted
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:        e.IDs.NewID(),
		Type:      opts.Type,
		Mode:      opts.Mode,
		Priority:  opts.Priority,
		OwnerType: opts.OwnerType,
		OwnerID:   opts.OwnerID,
		Subject: domain.SubjectRef{
			Type: opts.SubjectRefType,
			ID:   opts.SubjectRefID,
		},
		Status:    domain.TaskPending,
		Source:    opts.Source,
		CreatedAt: now,
	}
	if opts.PayloadJSON != "" {
		t.PayloadJSON = &opts.PayloadJSON
	}
	if opts.DueAt != "" {
		t.DueAt = &opts.DueAt
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Journal.Append(ctx, tx, "task.created", "task", t.ID, opts.ActorID, journal.Payload{
		"type":   t.Type,
		"status": t.Status,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Actor identifies who requested a transition.
type Actor struct {
	Type string
	ID   string
}

// TransitionOptions carries optional caller-supplied stamps. ScheduledAt
// only applies when the target status is SCHEDULED.
type TransitionOptions struct {
	ScheduledAt *string
}

// Transition moves a task through the state machine. The status write and
// its TaskEvent commit in one transaction; losers of a concurrent race get
// InvalidTransitionError instead of a silent overwrite.
func (e Engine) Transition(ctx context.Context, taskID, newStatus string, actor Actor) (domain.Task, error) {
	return e.TransitionWith(ctx, taskID, newStatus, actor, TransitionOptions{})
}

func (e Engine) TransitionWith(ctx context.Context, taskID, newStatus string, actor Actor, opts TransitionOptions) (domain.Task, error) {
	if actor.Type == "" || actor.ID == "" {
		return domain.Task{}, domain.ValidationError{Field: "actor", Reason: "actor_type and actor_id required"}
	}
	if opts.ScheduledAt != nil {
		if _, perr := time.Parse(time.RFC3339, *opts.ScheduledAt); perr != nil {
			return domain.Task{}, domain.ValidationError{Field: "scheduled_at", Reason: "must be RFC3339"}
		}
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if !allowed(t.Status, newStatus) {
		return domain.Task{}, domain.InvalidTransitionError{Entity: "task", From: t.Status, To: newStatus}
	}
	now := e.now().UTC().Format(time.RFC3339)
	update := repo.TaskStatusUpdate{
		ID:         t.ID,
		FromStatus: t.Status,
		ToStatus:   newStatus,
	}
	switch newStatus {
	case domain.TaskScheduled:
		update.ScheduledAt = &now
		if opts.ScheduledAt != nil {
			update.ScheduledAt = opts.ScheduledAt
		}
	case domain.TaskInProgress:
		update.StartedAt = &now
	case domain.TaskCompleted, domain.TaskFailed, domain.TaskCancelled:
		update.FinishedAt = &now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.UpdateTaskStatusTx(ctx, tx, update)
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		// A concurrent caller moved the task first.
		current, cerr := e.Repo.GetTaskTx(ctx, tx, taskID)
		if cerr != nil {
			return domain.Task{}, cerr
		}
		return domain.Task{}, domain.InvalidTransitionError{Entity: "task", From: current.Status, To: newStatus}
	}
	if err := e.Repo.InsertTaskEvent(ctx, tx, domain.TaskEvent{
		TaskID:     t.ID,
		ActorType:  actor.Type,
		ActorID:    actor.ID,
		FromStatus: t.Status,
		ToStatus:   newStatus,
		CreatedAt:  now,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := e.Journal.Append(ctx, tx, "task.transitioned", "task", t.ID, actor.ID, journal.Payload{
		"from_status": t.Status,
		"to_status":   newStatus,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}

	updated, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if (newStatus == domain.TaskCompleted || newStatus == domain.TaskFailed) && e.Notifier != nil {
		if nerr := e.Notifier.TaskFinished(ctx, updated); nerr != nil {
			slog.Error("task finish notification failed", "task_id", updated.ID, "error", nerr)
		}
	}
	return updated, nil
}

// ListTasks is a read-only query with stable creation-time pagination.
func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

// TaskEvents returns a task's append-only transition trail.
func (e Engine) TaskEvents(ctx context.Context, taskID string) ([]domain.TaskEvent, error) {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return e.Repo.ListTaskEvents(ctx, taskID)
}
