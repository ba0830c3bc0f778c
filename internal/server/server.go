package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"chronicle/internal/broadcast"
	"chronicle/internal/domain"
	"chronicle/internal/drafts"
	"chronicle/internal/engine"
	"chronicle/internal/ledger"
	"chronicle/internal/repo"
	"chronicle/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Tasks     engine.Engine
	Ledger    ledger.Ledger
	Workflow  workflow.Engine
	Drafts    drafts.Service
	Broadcast broadcast.Dispatcher
	Repo      repo.Repo
	ProjectID string
	BasePath  string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"task cannot move from COMPLETED to SCHEDULED"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Chronicle API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Repo))
	hcfg := huma.DefaultConfig("Chronicle API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg)
	registerTasks(group, cfg.Tasks)
	registerActs(group, cfg.Ledger)
	registerPrompts(group, cfg.Workflow)
	registerDrafts(group, cfg.Drafts)
	registerBroadcast(group, cfg.Broadcast)
	registerJournal(group, cfg.Repo)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps domain errors to the API envelope. Terminal-state and
// transition conflicts get their own codes so clients can render "already
// finished" instead of a generic bad request.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve domain.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation", err.Error(), map[string]any{"field": ve.Field})
	}
	var te domain.InvalidTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"entity": te.Entity,
			"from":   te.From,
			"to":     te.To,
		})
	}
	if errors.Is(err, domain.ErrAlreadySealed) {
		return newAPIError(http.StatusConflict, "already_sealed", err.Error(), nil)
	}
	if errors.Is(err, domain.ErrDuplicateDraft) {
		return newAPIError(http.StatusConflict, "duplicate_draft", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Chronicle API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Workspace status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		taskCounts, err := cfg.Repo.CountTasksByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		actCounts, err := cfg.Repo.CountActsByType(ctx, "", "")
		if err != nil {
			return nil, handleError(err)
		}
		jobCounts, err := cfg.Repo.CountJobsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{
			ProjectID:  cfg.ProjectID,
			TaskCounts: taskCounts,
			ActCounts:  actCounts,
			JobCounts:  jobCounts,
		}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		payload, due := taskFromCreate(input.Body)
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			Type:           input.Body.Type,
			Mode:           input.Body.Mode,
			Priority:       input.Body.Priority,
			OwnerType:      input.Body.OwnerType,
			OwnerID:        input.Body.OwnerID,
			SubjectRefType: input.Body.SubjectRefType,
			SubjectRefID:   input.Body.SubjectRefID,
			PayloadJSON:    payload,
			DueAt:          due,
			Source:         input.Body.Source,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Task: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		Status          string `query:"status"`
		Type            string `query:"type"`
		OwnerType       string `query:"owner_type"`
		OwnerID         string `query:"owner_id"`
		SubjectRefType  string `query:"subject_ref_type"`
		SubjectRefID    string `query:"subject_ref_id"`
		Limit           int    `query:"limit"`
		CursorCreatedAt string `query:"cursor_created_at"`
		CursorID        string `query:"cursor_id"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		tasks, err := e.ListTasks(ctx, repo.TaskFilters{
			Status:          input.Status,
			Type:            input.Type,
			OwnerType:       input.OwnerType,
			OwnerID:         input.OwnerID,
			SubjectRefType:  input.SubjectRefType,
			SubjectRefID:    input.SubjectRefID,
			Limit:           input.Limit,
			CursorCreatedAt: input.CursorCreatedAt,
			CursorID:        input.CursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: TaskListResponse{Tasks: tasks}}, nil
	})

	type taskPath struct {
		TaskID string `path:"task_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Task: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Transition task status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string                `path:"task_id"`
		Body   TransitionTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID := input.Body.ActorID
		if actorID == "" {
			id, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			actorID = id
		}
		actorType := input.Body.ActorType
		if actorType == "" {
			actorType = domain.OwnerHuman
		}
		t, err := e.TransitionWith(ctx, input.TaskID, input.Body.NewStatus, engine.Actor{Type: actorType, ID: actorID},
			engine.TransitionOptions{ScheduledAt: input.Body.ScheduledAt})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Task: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-events",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/events",
		Summary:     "Task transition history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body TaskEventsResponse `json:"body"`
	}, error) {
		events, err := e.TaskEvents(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskEventsResponse `json:"body"`
		}{Body: TaskEventsResponse{Events: events}}, nil
	})
}

func registerActs(api huma.API, l ledger.Ledger) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-act",
		Method:        http.MethodPost,
		Path:          "/acts",
		Summary:       "Record act",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateActRequest `json:"body"`
	}) (*struct {
		Body ActResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		body := ""
		if input.Body.Body != nil {
			body = *input.Body.Body
		}
		a, err := l.CreateAct(ctx, ledger.ActCreateOptions{
			Type:        input.Body.Type,
			Cycle:       input.Body.Cycle,
			Title:       input.Body.Title,
			BodyJSON:    body,
			LineageTags: input.Body.LineageTags,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActResponse `json:"body"`
		}{Body: ActResponse{Act: a}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-acts",
		Method:      http.MethodGet,
		Path:        "/acts",
		Summary:     "List acts",
	}, func(ctx context.Context, input *struct {
		Type            string `query:"type"`
		Cycle           string `query:"cycle"`
		Status          string `query:"status"`
		Limit           int    `query:"limit"`
		CursorCreatedAt string `query:"cursor_created_at"`
		CursorID        string `query:"cursor_id"`
	}) (*struct {
		Body ActListResponse `json:"body"`
	}, error) {
		acts, err := l.ListActs(ctx, repo.ActFilters{
			Type:            input.Type,
			Cycle:           input.Cycle,
			Status:          input.Status,
			Limit:           input.Limit,
			CursorCreatedAt: input.CursorCreatedAt,
			CursorID:        input.CursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActListResponse `json:"body"`
		}{Body: ActListResponse{Acts: acts}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "acts-index",
		Method:      http.MethodGet,
		Path:        "/acts/index",
		Summary:     "Act counts by type",
	}, func(ctx context.Context, input *struct {
		From string `query:"from"`
		To   string `query:"to"`
	}) (*struct {
		Body ActIndexResponse `json:"body"`
	}, error) {
		counts, err := l.IndexByType(ctx, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActIndexResponse `json:"body"`
		}{Body: ActIndexResponse{Counts: counts}}, nil
	})

	type actPath struct {
		ActID string `path:"act_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-act",
		Method:      http.MethodGet,
		Path:        "/acts/{act_id}",
		Summary:     "Get act",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *actPath) (*struct {
		Body ActResponse `json:"body"`
	}, error) {
		a, s, err := l.GetAct(ctx, input.ActID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActResponse `json:"body"`
		}{Body: ActResponse{Act: a, Seal: s}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "seal-act",
		Method:        http.MethodPost,
		Path:          "/acts/{act_id}/seal",
		Summary:       "Seal act",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ActID string         `path:"act_id"`
		Body  SealActRequest `json:"body,omitempty"`
	}) (*struct {
		Body SealResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stampedBy := input.Body.StampedBy
		if stampedBy == "" {
			stampedBy = actorID
		}
		s, err := l.SealAct(ctx, input.ActID, stampedBy, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SealResponse `json:"body"`
		}{Body: SealResponse{Seal: s}}, nil
	})
}

func registerPrompts(api huma.API, wf workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-prompt",
		Method:        http.MethodPost,
		Path:          "/prompts",
		Summary:       "Create prompt",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreatePromptRequest `json:"body"`
	}) (*struct {
		Body PromptResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := wf.CreatePrompt(ctx, workflow.PromptCreateOptions{
			DashboardID: input.Body.DashboardID,
			IssuerID:    actorID,
			Title:       input.Body.Title,
			Body:        input.Body.Body,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PromptResponse `json:"body"`
		}{Body: PromptResponse{Prompt: p}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-prompts",
		Method:      http.MethodGet,
		Path:        "/prompts",
		Summary:     "List prompts",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body PromptListResponse `json:"body"`
	}, error) {
		prompts, err := wf.ListPrompts(ctx, input.Status, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PromptListResponse `json:"body"`
		}{Body: PromptListResponse{Prompts: prompts}}, nil
	})

	type promptPath struct {
		PromptID string `path:"prompt_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-prompt",
		Method:      http.MethodGet,
		Path:        "/prompts/{prompt_id}",
		Summary:     "Get prompt",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *promptPath) (*struct {
		Body PromptResponse `json:"body"`
	}, error) {
		p, approvals, err := wf.GetPrompt(ctx, input.PromptID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PromptResponse `json:"body"`
		}{Body: PromptResponse{Prompt: p, Approvals: approvals}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-prompt",
		Method:      http.MethodPost,
		Path:        "/prompts/{prompt_id}/execute",
		Summary:     "Execute prompt",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *promptPath) (*struct {
		Body PromptResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := wf.ExecutePrompt(ctx, input.PromptID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PromptResponse `json:"body"`
		}{Body: PromptResponse{Prompt: p}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-prompt",
		Method:      http.MethodPost,
		Path:        "/prompts/{prompt_id}/approve",
		Summary:     "Approve and close prompt",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *promptPath) (*struct {
		Body ApprovePromptResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, seal, err := wf.ApprovePrompt(ctx, input.PromptID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApprovePromptResponse `json:"body"`
		}{Body: ApprovePromptResponse{Prompt: p, Seal: seal}}, nil
	})
}

func registerDrafts(api huma.API, svc drafts.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-draft",
		Method:        http.MethodPost,
		Path:          "/drafts",
		Summary:       "Create message draft",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateDraftRequest `json:"body"`
	}) (*struct {
		Body DraftResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bodyHTML := ""
		if input.Body.BodyHTML != nil {
			bodyHTML = *input.Body.BodyHTML
		}
		metadata := ""
		if input.Body.Metadata != nil {
			metadata = *input.Body.Metadata
		}
		d, err := svc.CreateDraft(ctx, drafts.DraftCreateOptions{
			TaskID:         input.Body.TaskID,
			Subject:        input.Body.Subject,
			BodyText:       input.Body.BodyText,
			BodyHTML:       bodyHTML,
			RecipientEmail: input.Body.RecipientEmail,
			RecipientType:  input.Body.RecipientType,
			MetadataJSON:   metadata,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DraftResponse `json:"body"`
		}{Body: DraftResponse{Draft: d}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-drafts",
		Method:      http.MethodGet,
		Path:        "/drafts",
		Summary:     "List drafts",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body DraftListResponse `json:"body"`
	}, error) {
		list, err := svc.ListDrafts(ctx, input.Status, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DraftListResponse `json:"body"`
		}{Body: DraftListResponse{Drafts: list}}, nil
	})

	type draftPath struct {
		DraftID string `path:"draft_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-draft",
		Method:      http.MethodGet,
		Path:        "/drafts/{draft_id}",
		Summary:     "Get draft",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *draftPath) (*struct {
		Body DraftResponse `json:"body"`
	}, error) {
		d, err := svc.GetDraft(ctx, input.DraftID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DraftResponse `json:"body"`
		}{Body: DraftResponse{Draft: d}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-draft-status",
		Method:      http.MethodPost,
		Path:        "/drafts/{draft_id}/status",
		Summary:     "Update draft status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		DraftID string                   `path:"draft_id"`
		Body    UpdateDraftStatusRequest `json:"body"`
	}) (*struct {
		Body DraftResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := svc.UpdateDraftStatus(ctx, input.DraftID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DraftResponse `json:"body"`
		}{Body: DraftResponse{Draft: d}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "autosend-draft",
		Method:      http.MethodPost,
		Path:        "/drafts/{draft_id}/autosend",
		Summary:     "Attempt guardrail-gated automatic send",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *draftPath) (*struct {
		Body DraftResponse `json:"body"`
	}, error) {
		d, err := svc.AutoSend(ctx, input.DraftID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DraftResponse `json:"body"`
		}{Body: DraftResponse{Draft: d}}, nil
	})
}

func registerBroadcast(api huma.API, d broadcast.Dispatcher) {
	huma.Register(api, huma.Operation{
		OperationID: "dispatch-capsule",
		Method:      http.MethodPost,
		Path:        "/broadcast/dispatch",
		Summary:     "Dispatch broadcast capsule",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body DispatchCapsuleRequest `json:"body"`
	}) (*struct {
		Body DispatchResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		actID, err := d.DispatchCapsule(ctx, broadcast.Capsule{
			Targets:  input.Body.Targets,
			Assets:   input.Body.Assets,
			Schedule: input.Body.Schedule,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DispatchResponse `json:"body"`
		}{Body: DispatchResponse{OK: true, ActID: actID}}, nil
	})
}

func registerJournal(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "journal",
		Method:      http.MethodGet,
		Path:        "/journal",
		Summary:     "Latest journal entries",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Cursor     int64  `query:"cursor"`
	}) (*struct {
		Body JournalResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		var entries []domain.JournalEntry
		var err error
		if input.Cursor > 0 {
			entries, err = r.LatestJournalFrom(ctx, limit, input.Cursor, input.Type, input.EntityKind, input.EntityID)
		} else {
			entries, err = r.LatestJournal(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JournalResponse `json:"body"`
		}{Body: JournalResponse{Entries: entries}}, nil
	})
}
