package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"chronicle/internal/broadcast"
	"chronicle/internal/config"
	"chronicle/internal/db"
	"chronicle/internal/domain"
	"chronicle/internal/drafts"
	"chronicle/internal/engine"
	"chronicle/internal/ledger"
	"chronicle/internal/migrate"
	"chronicle/internal/repo"
	"chronicle/internal/workflow"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("chronicle-test")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	l := ledger.New(conn)
	handler, err := New(Config{
		Tasks:     engine.New(conn, cfg),
		Ledger:    l,
		Workflow:  workflow.New(conn),
		Drafts:    drafts.New(conn, cfg),
		Broadcast: broadcast.New(l, nil, nil),
		Repo:      repo.Repo{DB: conn},
		ProjectID: cfg.Project.ID,
		BasePath:  "/v0",
		Auth:      AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func createTaskOverHTTP(t *testing.T, srv *testServer) domain.Task {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"type":             "follow-up",
		"owner_type":       "HUMAN",
		"owner_id":         "tester",
		"subject_ref_type": "contact",
		"subject_ref_id":   "c-1",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var created TaskResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return created.Task
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	task := createTaskOverHTTP(t, srv)
	if task.Status != domain.TaskPending {
		t.Fatalf("expected PENDING, got %s", task.Status)
	}

	for _, status := range []string{domain.TaskScheduled, domain.TaskInProgress, domain.TaskCompleted} {
		res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID, map[string]any{
			"new_status": status,
			"actor_type": "HUMAN",
		}, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("transition to %s: %d %s", status, res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID+"/events", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events TaskEventsResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events.Events) != 3 {
		t.Fatalf("expected 3 transition events, got %d", len(events.Events))
	}
}

func TestInvalidTransitionEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	task := createTaskOverHTTP(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID, map[string]any{
		"new_status": domain.TaskCompleted,
		"actor_type": "HUMAN",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	var envelope errorEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %q", envelope.Error.Code)
	}
	if envelope.Error.Details["from"] != domain.TaskPending {
		t.Fatalf("unexpected details: %v", envelope.Error.Details)
	}
}

func TestSealActConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/acts", map[string]any{
		"type":  "broadcast",
		"title": "Release digest",
		"cycle": "seasonal",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create act: %d %s", res.StatusCode, string(data))
	}
	var created ActResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal act: %v", err)
	}

	sealRes, sealBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/acts/"+created.Act.ID+"/seal", map[string]any{}, nil)
	if sealRes.StatusCode != http.StatusCreated {
		t.Fatalf("seal: %d %s", sealRes.StatusCode, string(sealBody))
	}
	var sealed SealResponse
	if err := json.Unmarshal(sealBody, &sealed); err != nil {
		t.Fatalf("unmarshal seal: %v", err)
	}
	if sealed.Seal.SealCode == "" {
		t.Fatal("expected a seal code")
	}

	again, againBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/acts/"+created.Act.ID+"/seal", map[string]any{}, nil)
	if again.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d %s", again.StatusCode, string(againBody))
	}
	var envelope errorEnvelope
	_ = json.Unmarshal(againBody, &envelope)
	if envelope.Error.Code != "already_sealed" {
		t.Fatalf("expected already_sealed, got %q", envelope.Error.Code)
	}
}

func TestDuplicateDraftConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	task := createTaskOverHTTP(t, srv)
	payload := map[string]any{
		"task_id":         task.ID,
		"subject":         "Following up",
		"body_text":       "Checking in.",
		"recipient_email": "ana@example.com",
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/drafts", payload, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create draft: %d %s", res.StatusCode, string(data))
	}
	dup, dupBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/drafts", payload, nil)
	if dup.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d %s", dup.StatusCode, string(dupBody))
	}
	var envelope errorEnvelope
	_ = json.Unmarshal(dupBody, &envelope)
	if envelope.Error.Code != "duplicate_draft" {
		t.Fatalf("expected duplicate_draft, got %q", envelope.Error.Code)
	}
}

func TestApprovePromptReturnsSeal(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/prompts", map[string]any{
		"title": "Review the digest",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create prompt: %d %s", res.StatusCode, string(data))
	}
	var created PromptResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal prompt: %v", err)
	}

	appRes, appBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/prompts/"+created.Prompt.ID+"/approve", nil, nil)
	if appRes.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", appRes.StatusCode, string(appBody))
	}
	var approved ApprovePromptResponse
	if err := json.Unmarshal(appBody, &approved); err != nil {
		t.Fatalf("unmarshal approval: %v", err)
	}
	if approved.Prompt.Status != domain.PromptClosed {
		t.Fatalf("expected closed, got %s", approved.Prompt.Status)
	}
	if approved.Seal.SealCode == "" {
		t.Fatal("expected a closure seal")
	}
}

func TestUnknownTaskNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/nope", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestRequestsWithoutCredentialsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/tasks", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestHealthIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, err := srv.Client().Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
}
