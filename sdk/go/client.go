package chroniclesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Chronicle HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Mode      string `json:"mode"`
	OwnerType string `json:"owner_type"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// Act represents a ledger entry.
type Act struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Cycle       string   `json:"cycle"`
	Status      string   `json:"status"`
	LineageTags []string `json:"lineage_tags"`
	CreatedAt   string   `json:"created_at"`
}

// Seal freezes an act.
type Seal struct {
	ID        string `json:"id"`
	ActID     string `json:"act_id"`
	SealCode  string `json:"seal_code"`
	CreatedAt string `json:"created_at"`
}

// Prompt represents a reviewable unit of work.
type Prompt struct {
	ID       string `json:"id"`
	IssuerID string `json:"issuer_id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
}

// JournalEntry is a log row.
type JournalEntry struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task in PENDING.
func (c *Client) CreateTask(ctx context.Context, taskType, ownerType, subjectRefType, subjectRefID string) (Task, error) {
	body := map[string]any{
		"type":             taskType,
		"owner_type":       ownerType,
		"subject_ref_type": subjectRefType,
		"subject_ref_id":   subjectRefID,
	}
	var resp struct {
		Task Task `json:"task"`
	}
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp.Task, err
}

// TransitionTask moves a task to a new status.
func (c *Client) TransitionTask(ctx context.Context, taskID, status, actorType, actorID string) (Task, error) {
	body := map[string]any{
		"new_status": status,
		"actor_type": actorType,
		"actor_id":   actorID,
	}
	var resp struct {
		Task Task `json:"task"`
	}
	endpoint := fmt.Sprintf("v0/tasks/%s", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp.Task, err
}

// CreateAct records a draft act.
func (c *Client) CreateAct(ctx context.Context, actType, title, cycle string, lineageTags []string) (Act, error) {
	body := map[string]any{
		"type":         actType,
		"title":        title,
		"cycle":        cycle,
		"lineage_tags": lineageTags,
	}
	var resp struct {
		Act Act `json:"act"`
	}
	err := c.do(ctx, http.MethodPost, "v0/acts", body, &resp)
	return resp.Act, err
}

// SealAct finalizes an act.
func (c *Client) SealAct(ctx context.Context, actID string) (Seal, error) {
	var resp struct {
		Seal Seal `json:"seal"`
	}
	endpoint := fmt.Sprintf("v0/acts/%s/seal", url.PathEscape(actID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp.Seal, err
}

// CreatePrompt opens a prompt for review.
func (c *Client) CreatePrompt(ctx context.Context, title, body string) (Prompt, error) {
	payload := map[string]any{"title": title, "body": body}
	var resp struct {
		Prompt Prompt `json:"prompt"`
	}
	err := c.do(ctx, http.MethodPost, "v0/prompts", payload, &resp)
	return resp.Prompt, err
}

// ExecutePrompt queues background execution.
func (c *Client) ExecutePrompt(ctx context.Context, promptID string) (Prompt, error) {
	var resp struct {
		Prompt Prompt `json:"prompt"`
	}
	endpoint := fmt.Sprintf("v0/prompts/%s/execute", url.PathEscape(promptID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp.Prompt, err
}

// ApprovePrompt closes the prompt and returns the seal of its closure act.
func (c *Client) ApprovePrompt(ctx context.Context, promptID string) (Prompt, Seal, error) {
	var resp struct {
		Prompt Prompt `json:"prompt"`
		Seal   Seal   `json:"seal"`
	}
	endpoint := fmt.Sprintf("v0/prompts/%s/approve", url.PathEscape(promptID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp.Prompt, resp.Seal, err
}

// DispatchCapsule fans out a broadcast and returns the sealed act id.
func (c *Client) DispatchCapsule(ctx context.Context, targets []string, assets map[string]string, schedule string) (string, error) {
	body := map[string]any{
		"targets":  targets,
		"assets":   assets,
		"schedule": schedule,
	}
	var resp struct {
		OK    bool   `json:"ok"`
		ActID string `json:"act_id"`
	}
	err := c.do(ctx, http.MethodPost, "v0/broadcast/dispatch", body, &resp)
	return resp.ActID, err
}

// Journal returns recent journal entries.
func (c *Client) Journal(ctx context.Context, limit int) ([]JournalEntry, error) {
	endpoint := "v0/journal"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Entries []JournalEntry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Entries, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
