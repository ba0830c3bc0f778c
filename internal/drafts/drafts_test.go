package drafts_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"chronicle/internal/config"
	"chronicle/internal/db"
	"chronicle/internal/domain"
	"chronicle/internal/drafts"
	"chronicle/internal/engine"
	"chronicle/internal/migrate"
)

type testEnv struct {
	Service drafts.Service
	Tasks   engine.Engine
	Config  *config.Config
	Ctx     context.Context
}

func newTestEnv(t *testing.T) testEnv {
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
	cfg := config.Default("test")
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	s := drafts.New(conn, cfg)
	s.Now = now
	tasks := engine.New(conn, cfg)
	tasks.Now = now
	return testEnv{Service: s, Tasks: tasks, Config: cfg, Ctx: context.Background()}
}

func (env testEnv) createTask(t *testing.T) domain.Task {
	t.Helper()
	task, err := env.Tasks.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Type:           "follow-up",
		OwnerType:      domain.OwnerHuman,
		OwnerID:        "tester",
		SubjectRefType: "contact",
		SubjectRefID:   "c-1",
		ActorType:      domain.OwnerHuman,
		ActorID:        "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (env testEnv) createDraft(t *testing.T, taskID, recipient string) domain.MessageDraft {
	t.Helper()
	d, err := env.Service.CreateDraft(env.Ctx, drafts.DraftCreateOptions{
		TaskID:         taskID,
		Subject:        "Following up",
		BodyText:       "Just checking in.",
		RecipientEmail: recipient,
		RecipientType:  "contact",
		ActorID:        "tester",
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	return d
}

func TestCreateDraftOnePerTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t)

	d := env.createDraft(t, task.ID, "ana@example.com")
	if d.Status != domain.DraftPending {
		t.Fatalf("expected PENDING, got %s", d.Status)
	}

	_, err := env.Service.CreateDraft(env.Ctx, drafts.DraftCreateOptions{
		TaskID:         task.ID,
		Subject:        "Second attempt",
		RecipientEmail: "ana@example.com",
	})
	if !errors.Is(err, domain.ErrDuplicateDraft) {
		t.Fatalf("expected ErrDuplicateDraft, got %v", err)
	}

	byTask, err := env.Service.GetDraftByTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get by task: %v", err)
	}
	if byTask.ID != d.ID {
		t.Fatalf("expected draft %s, got %s", d.ID, byTask.ID)
	}
}

func TestCreateDraftValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []drafts.DraftCreateOptions{
		{Subject: "s", RecipientEmail: "a@b.com"},
		{TaskID: "t", RecipientEmail: "a@b.com"},
		{TaskID: "t", Subject: "s"},
	}
	for i, opts := range cases {
		_, err := env.Service.CreateDraft(env.Ctx, opts)
		var ve domain.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestSendStampsAttribution(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t)
	d := env.createDraft(t, task.ID, "ana@example.com")

	sent, err := env.Service.UpdateDraftStatus(env.Ctx, d.ID, domain.DraftSent, "user-9")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.SentAt == nil || sent.SentByUserID == nil || *sent.SentByUserID != "user-9" {
		t.Fatalf("missing send attribution: %+v", sent)
	}
	if !sent.Terminal() {
		t.Fatal("SENT must be terminal")
	}
}

func TestTerminalDraftsAreImmutable(t *testing.T) {
	env := newTestEnv(t)
	for _, terminal := range []string{domain.DraftSent, domain.DraftDiscarded} {
		task := env.createTask(t)
		d := env.createDraft(t, task.ID, "ana@example.com")
		if _, err := env.Service.UpdateDraftStatus(env.Ctx, d.ID, terminal, "tester"); err != nil {
			t.Fatalf("to %s: %v", terminal, err)
		}
		_, err := env.Service.UpdateDraftStatus(env.Ctx, d.ID, domain.DraftApproved, "tester")
		var ite domain.InvalidTransitionError
		if !errors.As(err, &ite) {
			t.Fatalf("after %s: expected InvalidTransitionError, got %v", terminal, err)
		}
	}
}

func TestUnknownStatusRejected(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t)
	d := env.createDraft(t, task.ID, "ana@example.com")
	_, err := env.Service.UpdateDraftStatus(env.Ctx, d.ID, "MAILED", "tester")
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type fakeEmail struct {
	sent []string
	err  error
}

func (f *fakeEmail) SendEmail(ctx context.Context, to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

type draftNotifier struct {
	blocked []string
}

func (n *draftNotifier) DraftReady(ctx context.Context, d domain.MessageDraft) error   { return nil }
func (n *draftNotifier) FollowUpSent(ctx context.Context, d domain.MessageDraft) error { return nil }
func (n *draftNotifier) GuardrailBlocked(ctx context.Context, d domain.MessageDraft, reason string) error {
	n.blocked = append(n.blocked, reason)
	return nil
}

func TestAutoSendBlockedByDefault(t *testing.T) {
	env := newTestEnv(t)
	n := &draftNotifier{}
	env.Service.Notifier = n
	task := env.createTask(t)
	d := env.createDraft(t, task.ID, "ana@example.com")

	got, err := env.Service.AutoSend(env.Ctx, d.ID)
	if err != nil {
		t.Fatalf("autosend: %v", err)
	}
	if got.Status != domain.DraftPending {
		t.Fatalf("blocked draft must stay PENDING, got %s", got.Status)
	}
	if len(n.blocked) != 1 || n.blocked[0] != "auto_send disabled" {
		t.Fatalf("unexpected block reasons: %v", n.blocked)
	}
}

func TestAutoSendDelivers(t *testing.T) {
	env := newTestEnv(t)
	env.Config.Guardrails.AutoSend = true
	env.Config.Guardrails.AllowedDomains = []string{"example.com"}
	email := &fakeEmail{}
	env.Service.Email = email
	task := env.createTask(t)
	d := env.createDraft(t, task.ID, "ana@example.com")

	got, err := env.Service.AutoSend(env.Ctx, d.ID)
	if err != nil {
		t.Fatalf("autosend: %v", err)
	}
	if got.Status != domain.DraftSent {
		t.Fatalf("expected SENT, got %s", got.Status)
	}
	if len(email.sent) != 1 || email.sent[0] != "ana@example.com" {
		t.Fatalf("unexpected deliveries: %v", email.sent)
	}
	if got.SentByUserID == nil || *got.SentByUserID != "system" {
		t.Fatalf("auto-send must be attributed to system: %+v", got)
	}
}

func TestAutoSendRespectsDomainAllowlist(t *testing.T) {
	env := newTestEnv(t)
	env.Config.Guardrails.AutoSend = true
	env.Config.Guardrails.AllowedDomains = []string{"example.com"}
	n := &draftNotifier{}
	env.Service.Notifier = n
	task := env.createTask(t)
	d := env.createDraft(t, task.ID, "ana@elsewhere.net")

	got, err := env.Service.AutoSend(env.Ctx, d.ID)
	if err != nil {
		t.Fatalf("autosend: %v", err)
	}
	if got.Status != domain.DraftPending {
		t.Fatalf("expected PENDING, got %s", got.Status)
	}
	if len(n.blocked) != 1 {
		t.Fatalf("expected 1 block, got %v", n.blocked)
	}
}

func TestAutoSendQuietHours(t *testing.T) {
	env := newTestEnv(t)
	env.Config.Guardrails.AutoSend = true
	env.Config.Guardrails.QuietHoursStart = 10
	env.Config.Guardrails.QuietHoursEnd = 14
	task := env.createTask(t)
	d := env.createDraft(t, task.ID, "ana@example.com")

	// Fixed clock reads 12:00 UTC, inside the window.
	ok, reason := env.Service.GuardrailCheck(d)
	if ok || reason != "quiet hours" {
		t.Fatalf("expected quiet hours block, got ok=%v reason=%q", ok, reason)
	}

	env.Config.Guardrails.QuietHoursStart = 22
	env.Config.Guardrails.QuietHoursEnd = 6
	if ok, _ := env.Service.GuardrailCheck(d); !ok {
		t.Fatal("12:00 is outside a 22-06 window")
	}
}

func TestAutoSendDeliveryFailureLeavesDraft(t *testing.T) {
	env := newTestEnv(t)
	env.Config.Guardrails.AutoSend = true
	env.Service.Email = &fakeEmail{err: fmt.Errorf("smtp down")}
	task := env.createTask(t)
	d := env.createDraft(t, task.ID, "ana@example.com")

	if _, err := env.Service.AutoSend(env.Ctx, d.ID); err == nil {
		t.Fatal("expected delivery error")
	}
	got, err := env.Service.GetDraft(env.Ctx, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.DraftPending {
		t.Fatalf("failed delivery must leave the draft PENDING, got %s", got.Status)
	}
}
