package drafts

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"chronicle/internal/config"
	"chronicle/internal/domain"
	"chronicle/internal/ids"
	"chronicle/internal/journal"
	"chronicle/internal/repo"
)

// Notifier receives best-effort signals about draft lifecycle moments.
// Implementations must never block a status transition; failures are logged
// by the caller and dropped.
type Notifier interface {
	DraftReady(ctx context.Context, draft domain.MessageDraft) error
	FollowUpSent(ctx context.Context, draft domain.MessageDraft) error
	GuardrailBlocked(ctx context.Context, draft domain.MessageDraft, reason string) error
}

// EmailSender delivers a draft to its recipient.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Service manages message drafts produced by follow-up automation. A task
// gets at most one draft; automatic sending is gated by guardrails and
// otherwise waits for a human.
type Service struct {
	DB       *sql.DB
	Repo     repo.Repo
	Journal  journal.Writer
	IDs      ids.Generator
	Config   *config.Config
	Notifier Notifier
	Email    EmailSender
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Service {
	return Service{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Journal: journal.Writer{DB: db},
		IDs:     ids.UUID{},
		Config:  cfg,
		Now:     time.Now,
	}
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// DraftCreateOptions are parameters for creating a draft.
type DraftCreateOptions struct {
	TaskID         string
	Subject        string
	BodyText       string
	BodyHTML       string
	RecipientEmail string
	RecipientType  string
	MetadataJSON   string
	ActorID        string
}

func (o DraftCreateOptions) validate() error {
	if o.TaskID == "" {
		return domain.ValidationError{Field: "task_id", Reason: "required"}
	}
	if o.Subject == "" {
		return domain.ValidationError{Field: "subject", Reason: "required"}
	}
	if o.RecipientEmail == "" {
		return domain.ValidationError{Field: "recipient_email", Reason: "required"}
	}
	return nil
}

// CreateDraft inserts a PENDING draft. A second draft for the same task is a
// conflict; the unique index on task_id decides races.
func (s Service) CreateDraft(ctx context.Context, opts DraftCreateOptions) (domain.MessageDraft, error) {
	if err := opts.validate(); err != nil {
		return domain.MessageDraft{}, err
	}
	now := s.now().UTC().Format(time.RFC3339)
	d := domain.MessageDraft{
		ID:             s.IDs.NewID(),
		TaskID:         opts.TaskID,
		Subject:        opts.Subject,
		BodyText:       opts.BodyText,
		RecipientEmail: opts.RecipientEmail,
		RecipientType:  opts.RecipientType,
		Status:         domain.DraftPending,
		CreatedAt:      now,
	}
	if opts.BodyHTML != "" {
		d.BodyHTML = &opts.BodyHTML
	}
	if opts.MetadataJSON != "" {
		d.MetadataJSON = &opts.MetadataJSON
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.MessageDraft{}, err
	}
	defer tx.Rollback()

	if err := s.Repo.InsertDraft(ctx, tx, d); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.MessageDraft{}, domain.ErrDuplicateDraft
		}
		return domain.MessageDraft{}, err
	}
	if err := s.Journal.Append(ctx, tx, "draft.created", "draft", d.ID, opts.ActorID, journal.Payload{
		"task_id": d.TaskID,
	}); err != nil {
		return domain.MessageDraft{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MessageDraft{}, err
	}
	if s.Notifier != nil {
		if nerr := s.Notifier.DraftReady(ctx, d); nerr != nil {
			slog.Error("draft ready notification failed", "draft_id", d.ID, "error", nerr)
		}
	}
	return d, nil
}

var draftStatuses = map[string]bool{
	domain.DraftPending:   true,
	domain.DraftApproved:  true,
	domain.DraftSent:      true,
	domain.DraftDiscarded: true,
}

// UpdateDraftStatus moves a draft to a legal status. SENT stamps sent_at and
// sent_by_user_id. Terminal drafts reject further updates.
func (s Service) UpdateDraftStatus(ctx context.Context, id, status, sentByUserID string) (domain.MessageDraft, error) {
	if !draftStatuses[status] {
		return domain.MessageDraft{}, domain.ValidationError{Field: "status", Reason: "unknown status " + status}
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.MessageDraft{}, err
	}
	defer tx.Rollback()

	d, err := s.Repo.GetDraftTx(ctx, tx, id)
	if err != nil {
		return domain.MessageDraft{}, err
	}
	if d.Terminal() {
		return domain.MessageDraft{}, domain.InvalidTransitionError{Entity: "draft", From: d.Status, To: status}
	}
	var sentAt, sentBy *string
	if status == domain.DraftSent {
		now := s.now().UTC().Format(time.RFC3339)
		sentAt = &now
		if sentByUserID != "" {
			sentBy = &sentByUserID
		}
	}

	ok, err := s.Repo.UpdateDraftStatusTx(ctx, tx, id, status, sentAt, sentBy)
	if err != nil {
		return domain.MessageDraft{}, err
	}
	if !ok {
		return domain.MessageDraft{}, domain.InvalidTransitionError{Entity: "draft", From: d.Status, To: status}
	}
	if err := s.Journal.Append(ctx, tx, "draft.status", "draft", d.ID, sentByUserID, journal.Payload{
		"from_status": d.Status,
		"to_status":   status,
	}); err != nil {
		return domain.MessageDraft{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MessageDraft{}, err
	}
	updated, err := s.Repo.GetDraft(ctx, id)
	if err != nil {
		return domain.MessageDraft{}, err
	}
	if status == domain.DraftSent && s.Notifier != nil {
		if nerr := s.Notifier.FollowUpSent(ctx, updated); nerr != nil {
			slog.Error("follow-up sent notification failed", "draft_id", updated.ID, "error", nerr)
		}
	}
	return updated, nil
}

// GuardrailCheck reports whether a draft may be auto-sent and, when not,
// why. Auto-send is off unless enabled, the recipient domain must be
// allowed when a list is configured, and quiet hours block sends.
func (s Service) GuardrailCheck(d domain.MessageDraft) (bool, string) {
	g := s.Config.Guardrails
	if !g.AutoSend {
		return false, "auto_send disabled"
	}
	if len(g.AllowedDomains) > 0 {
		at := strings.LastIndex(d.RecipientEmail, "@")
		if at < 0 {
			return false, "recipient has no domain"
		}
		dom := strings.ToLower(d.RecipientEmail[at+1:])
		found := false
		for _, allowed := range g.AllowedDomains {
			if strings.EqualFold(allowed, dom) {
				found = true
				break
			}
		}
		if !found {
			return false, "recipient domain " + dom + " not allowed"
		}
	}
	if g.QuietHoursStart != g.QuietHoursEnd {
		h := s.now().UTC().Hour()
		inQuiet := false
		if g.QuietHoursStart < g.QuietHoursEnd {
			inQuiet = h >= g.QuietHoursStart && h < g.QuietHoursEnd
		} else {
			inQuiet = h >= g.QuietHoursStart || h < g.QuietHoursEnd
		}
		if inQuiet {
			return false, "quiet hours"
		}
	}
	return true, ""
}

// AutoSend applies the guardrails to a pending or approved draft and either
// delivers it or leaves it for a human. Delivery failures leave the draft
// untouched so the send can be retried.
func (s Service) AutoSend(ctx context.Context, id string) (domain.MessageDraft, error) {
	d, err := s.Repo.GetDraft(ctx, id)
	if err != nil {
		return domain.MessageDraft{}, err
	}
	if d.Terminal() {
		return domain.MessageDraft{}, domain.InvalidTransitionError{Entity: "draft", From: d.Status, To: domain.DraftSent}
	}
	ok, reason := s.GuardrailCheck(d)
	if !ok {
		if s.Notifier != nil {
			if nerr := s.Notifier.GuardrailBlocked(ctx, d, reason); nerr != nil {
				slog.Error("guardrail notification failed", "draft_id", d.ID, "error", nerr)
			}
		}
		return d, nil
	}
	if s.Email != nil {
		if err := s.Email.SendEmail(ctx, d.RecipientEmail, d.Subject, d.BodyText); err != nil {
			return domain.MessageDraft{}, err
		}
	}
	return s.UpdateDraftStatus(ctx, d.ID, domain.DraftSent, "system")
}

// GetDraft returns a draft by id.
func (s Service) GetDraft(ctx context.Context, id string) (domain.MessageDraft, error) {
	return s.Repo.GetDraft(ctx, id)
}

// GetDraftByTask returns the draft attached to a task.
func (s Service) GetDraftByTask(ctx context.Context, taskID string) (domain.MessageDraft, error) {
	return s.Repo.GetDraftByTask(ctx, taskID)
}

// ListDrafts is a filtered read.
func (s Service) ListDrafts(ctx context.Context, status string, limit int) ([]domain.MessageDraft, error) {
	return s.Repo.ListDrafts(ctx, status, limit)
}
