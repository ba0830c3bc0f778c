package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"chronicle/internal/config"
	"chronicle/internal/domain"
	"chronicle/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher polls the journal and delivers new entries to the
// configured webhook URLs. Each hook keeps its own cursor; delivery stops
// at the first failure so the hook retries from the same entry next tick.
type WebhookDispatcher struct {
	Repo     repo.Repo
	Project  string
	Webhooks []config.Webhook
	client   *http.Client

	mu      sync.Mutex
	cursors map[int]int64
}

// StartWebhookDispatcher launches the polling loop when hooks are
// configured. Returns a stop function.
func StartWebhookDispatcher(r repo.Repo, cfg *config.Config) func() {
	if cfg == nil || len(cfg.Webhooks) == 0 {
		return func() {}
	}
	d := &WebhookDispatcher{
		Repo:     r,
		Project:  cfg.Project.ID,
		Webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
	done := make(chan struct{})
	go d.run(done)
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (d *WebhookDispatcher) run(done <-chan struct{}) {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

func (d *WebhookDispatcher) dispatchAll() {
	for i, hook := range d.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(idx int, hook config.Webhook) {
	ctx := context.Background()
	cursor := d.cursorFor(idx)
	entries, err := d.Repo.JournalAfter(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		slog.Error("webhook journal fetch failed", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}
	filter := newTypeFilter(hook.Types)
	for _, entry := range entries {
		if !filter.match(entry.Type) {
			d.setCursor(idx, entry.ID)
			continue
		}
		if err := d.postEntry(ctx, hook, entry); err != nil {
			slog.Error("webhook delivery failed", "url", hook.URL, "error", err)
			return
		}
		d.setCursor(idx, entry.ID)
	}
}

func (d *WebhookDispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.Repo.LatestJournalID(context.Background())
	if err != nil {
		slog.Error("webhook cursor init failed", "error", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEntry struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *WebhookDispatcher) postEntry(ctx context.Context, hook config.Webhook, entry domain.JournalEntry) error {
	payload := json.RawMessage([]byte("{}"))
	if entry.Payload != "" && json.Valid([]byte(entry.Payload)) {
		payload = json.RawMessage([]byte(entry.Payload))
	}
	body := webhookEntry{
		ID:         entry.ID,
		Type:       entry.Type,
		ProjectID:  d.Project,
		EntityKind: entry.EntityKind,
		EntityID:   entry.EntityID,
		ActorID:    entry.ActorID,
		TS:         entry.TS,
		Payload:    payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Chronicle-Event", entry.Type)
	req.Header.Set("X-Chronicle-Delivery", fmt.Sprintf("%d", entry.ID))
	req.Header.Set("X-Chronicle-Project", d.Project)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Chronicle-Secret", hook.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type typeFilter struct {
	all bool
	set map[string]struct{}
}

func newTypeFilter(types []string) typeFilter {
	if len(types) == 0 {
		return typeFilter{all: true}
	}
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		key := strings.TrimSpace(t)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return typeFilter{all: true}
	}
	return typeFilter{set: set}
}

func (f typeFilter) match(t string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[t]
	return ok
}
