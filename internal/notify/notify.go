package notify

import (
	"context"
	"fmt"
	"log/slog"

	"chronicle/internal/config"
	"chronicle/internal/domain"
)

// EmailSender delivers a notification email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// ChannelSender posts a notification line to a channel.
type ChannelSender interface {
	Post(ctx context.Context, channel, text string) error
}

// Notifier fans operational notifications out to the configured targets.
// All sends are best effort: failures are logged and never propagate to
// the state transition that triggered them.
type Notifier struct {
	Targets []config.NotificationTarget
	Email   EmailSender
	Channel ChannelSender
}

func New(cfg *config.Config, email EmailSender, channel ChannelSender) *Notifier {
	var targets []config.NotificationTarget
	if cfg != nil {
		targets = cfg.Notifications.Targets
	}
	return &Notifier{Targets: targets, Email: email, Channel: channel}
}

func (n *Notifier) fanOut(ctx context.Context, subject, body string) error {
	for _, t := range n.Targets {
		var err error
		switch t.Kind {
		case "email":
			if n.Email != nil {
				err = n.Email.SendEmail(ctx, t.Address, subject, body)
			}
		case "channel":
			if n.Channel != nil {
				err = n.Channel.Post(ctx, t.Address, subject+": "+body)
			}
		}
		if err != nil {
			slog.Warn("notification delivery failed", "kind", t.Kind, "address", t.Address, "error", err)
		}
	}
	return nil
}

// TaskFinished announces a terminal task outcome.
func (n *Notifier) TaskFinished(ctx context.Context, task domain.Task) error {
	return n.fanOut(ctx, "Task "+task.Status,
		fmt.Sprintf("task %s (%s) finished with status %s", task.ID, task.Type, task.Status))
}

// ApprovalRequired announces a prompt waiting for review.
func (n *Notifier) ApprovalRequired(ctx context.Context, prompt domain.Prompt) error {
	return n.fanOut(ctx, "Approval required",
		fmt.Sprintf("prompt %s (%q) awaits review", prompt.ID, prompt.Title))
}

// DraftReady announces a draft waiting for a human decision.
func (n *Notifier) DraftReady(ctx context.Context, draft domain.MessageDraft) error {
	return n.fanOut(ctx, "Draft ready",
		fmt.Sprintf("draft %s for task %s awaits review", draft.ID, draft.TaskID))
}

// FollowUpSent announces a delivered follow-up.
func (n *Notifier) FollowUpSent(ctx context.Context, draft domain.MessageDraft) error {
	return n.fanOut(ctx, "Follow-up sent",
		fmt.Sprintf("draft %s sent to %s", draft.ID, draft.RecipientEmail))
}

// GuardrailBlocked announces an auto-send stopped by policy.
func (n *Notifier) GuardrailBlocked(ctx context.Context, draft domain.MessageDraft, reason string) error {
	return n.fanOut(ctx, "Guardrail blocked send",
		fmt.Sprintf("draft %s held: %s", draft.ID, reason))
}
