package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"chronicle/internal/domain"
	"chronicle/internal/ledger"
)

// EmailSender fans a capsule out to email recipients.
type EmailSender interface {
	SendBulk(ctx context.Context, recipients []string, assets map[string]string) error
}

// ChannelSender publishes a capsule to a named channel.
type ChannelSender interface {
	Publish(ctx context.Context, channel string, assets map[string]string) error
}

// Dispatcher fans approved content out to email and channel targets, then
// records the dispatch as a sealed act. The act documents intent to
// dispatch, not delivery confirmation: partial delivery failure still
// produces a sealed record so the audit trail stays unbroken.
type Dispatcher struct {
	Ledger  ledger.Ledger
	Email   EmailSender
	Channel ChannelSender
}

func New(l ledger.Ledger, email EmailSender, channel ChannelSender) Dispatcher {
	return Dispatcher{Ledger: l, Email: email, Channel: channel}
}

// Capsule is a unit of approved outbound content.
type Capsule struct {
	Targets  []string
	Assets   map[string]string
	Schedule string
	ActorID  string
}

// DispatchCapsule partitions targets into email addresses and channel
// identifiers, delivers to each side independently, and seals a broadcast
// act. Returns the sealed act id.
func (d Dispatcher) DispatchCapsule(ctx context.Context, c Capsule) (string, error) {
	if len(c.Targets) == 0 {
		return "", domain.ValidationError{Field: "targets", Reason: "required"}
	}
	var emails, channels []string
	for _, t := range c.Targets {
		if strings.Contains(t, "@") {
			emails = append(emails, t)
		} else {
			channels = append(channels, t)
		}
	}

	if len(emails) > 0 && d.Email != nil {
		if err := d.Email.SendBulk(ctx, emails, c.Assets); err != nil {
			slog.Error("broadcast email delivery failed", "recipients", len(emails), "error", err)
		}
	}
	for _, ch := range channels {
		if d.Channel == nil {
			break
		}
		if err := d.Channel.Publish(ctx, ch, c.Assets); err != nil {
			slog.Error("broadcast channel delivery failed", "channel", ch, "error", err)
		}
	}

	body, err := json.Marshal(map[string]any{
		"targets":  c.Targets,
		"emails":   len(emails),
		"channels": channels,
		"schedule": c.Schedule,
	})
	if err != nil {
		return "", err
	}
	act, err := d.Ledger.CreateAct(ctx, ledger.ActCreateOptions{
		Type:        "broadcast",
		Cycle:       domain.CycleDaily,
		Title:       "Broadcast dispatch",
		BodyJSON:    string(body),
		LineageTags: []string{"Broadcast Capsule"},
		ActorID:     c.ActorID,
	})
	if err != nil {
		return "", err
	}
	if _, err := d.Ledger.SealAct(ctx, act.ID, c.ActorID, c.ActorID); err != nil {
		return "", err
	}
	return act.ID, nil
}
