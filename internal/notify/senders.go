package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// LogEmailSender records outbound mail in the structured log instead of
// delivering it. Used when no mail relay is configured.
type LogEmailSender struct{}

func (LogEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	slog.Info("email (log only)", "to", to, "subject", subject)
	return nil
}

// SendBulk satisfies the broadcast email collaborator.
func (s LogEmailSender) SendBulk(ctx context.Context, recipients []string, assets map[string]string) error {
	for _, r := range recipients {
		if err := s.SendEmail(ctx, r, assets["subject"], assets["body"]); err != nil {
			return err
		}
	}
	return nil
}

// HTTPChannelSender posts channel messages as JSON to a base URL, one
// endpoint per channel name.
type HTTPChannelSender struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPChannelSender(baseURL string) *HTTPChannelSender {
	return &HTTPChannelSender{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *HTTPChannelSender) Post(ctx context.Context, channel, text string) error {
	payload, err := json.Marshal(map[string]string{"channel": channel, "text": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/"+channel, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("channel %s: status %d", channel, res.StatusCode)
	}
	return nil
}

// Publish satisfies the broadcast channel collaborator by flattening the
// asset map into a single message.
func (s *HTTPChannelSender) Publish(ctx context.Context, channel string, assets map[string]string) error {
	text := assets["subject"]
	if body := assets["body"]; body != "" {
		if text != "" {
			text += "\n"
		}
		text += body
	}
	return s.Post(ctx, channel, text)
}
