// Package server exposes the lifecycle engine over HTTP with an OpenAPI
// description and Swagger UI.
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

	"taskmint/internal/domain"
	"taskmint/internal/ledger"
	"taskmint/internal/lifecycle"
	"taskmint/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *lifecycle.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"insufficient_tokens"`
	Message string         `json:"message" example:"project p1: insufficient tokens"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Taskmint API.
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
			// Schema/request validation errors should be 400 bad_request.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Store))
	hcfg := huma.DefaultConfig("Taskmint API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerMembers(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

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

// handleError maps the engine's typed failures onto stable status codes.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ite ledger.InsufficientTokensError
	if errors.As(err, &ite) {
		return newAPIError(http.StatusUnprocessableEntity, "insufficient_tokens", err.Error(), map[string]any{
			"pool":      ite.Pool,
			"spent":     ite.Spent,
			"reserved":  ite.Reserved,
			"requested": ite.Requested,
			"shortfall": ite.Shortfall(),
		})
	}
	var it lifecycle.IllegalTransitionError
	if errors.As(err, &it) {
		return newAPIError(http.StatusConflict, "illegal_transition", err.Error(), map[string]any{
			"status": it.Status,
		})
	}
	if errors.Is(err, lifecycle.ErrNoAssignees) {
		return newAPIError(http.StatusUnprocessableEntity, "no_assignees", err.Error(), nil)
	}
	if errors.Is(err, lifecycle.ErrBusy) {
		return newAPIError(http.StatusConflict, "busy", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ve lifecycle.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", ve.Msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "persistence_failure", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
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
    <title>Taskmint API Docs</title>
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

func registerProjects(api huma.API, e *lifecycle.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		p, err := e.InitProject(ctx, actorID, input.Body.ID, input.Body.Name, desc)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.Store.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.Store.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/approval",
		Summary:     "Approve or reject a project, funding its token pool",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      struct {
			Approved bool `json:"approved"`
		} `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetProjectApproval(ctx, actorID, input.ProjectID, input.Body.Approved)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-ledger-period",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/ledger/reset",
		Summary:     "Zero the spent counter for a new accounting period",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ResetPeriod(ctx, actorID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})
}

func registerTasks(api huma.API, e *lifecycle.Engine) {
	type taskPath struct {
		TaskID string `path:"task_id"`
	}
	type taskOut struct {
		Body TaskResponse `json:"body"`
	}
	taskOK := func(t *domain.Task) (*taskOut, error) {
		return &taskOut{Body: taskResponse(t)}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*taskOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, actorID, lifecycle.CreateTaskInput{
			ProjectID:    input.ProjectID,
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			SkillID:      input.Body.SkillID,
			SkillLevel:   input.Body.SkillLevel,
			RewardTokens: input.Body.RewardTokens,
			Activity:     domain.Activity(input.Body.Activity),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return taskOK(t)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Activity  string `query:"activity" enum:",inactive,active,urgent,completed"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		items, err := e.Store.ListTasks(ctx, input.ProjectID, input.Activity)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*taskOut, error) {
		t, err := e.Store.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return taskOK(t)
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/claim",
		Summary:     "Claim task",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   struct {
			MemberID string `json:"member_id,omitempty"`
		} `json:"body"`
	}) (*taskOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Claim(ctx, actorID, input.TaskID, input.Body.MemberID)
		if err != nil {
			return nil, handleError(err)
		}
		return taskOK(t)
	})

	huma.Register(api, huma.Operation{
		OperationID: "drop-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/drop",
		Summary:     "Drop task assignment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   struct {
			MemberID string `json:"member_id,omitempty"`
		} `json:"body"`
	}) (*taskOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Drop(ctx, actorID, input.TaskID, input.Body.MemberID)
		if err != nil {
			return nil, handleError(err)
		}
		return taskOK(t)
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/submit",
		Summary:     "Submit task for review",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *taskPath) (*taskOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Submit(ctx, actorID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return taskOK(t)
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/reject",
		Summary:     "Reject a submitted task",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *taskPath) (*taskOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Reject(ctx, actorID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return taskOK(t)
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/approve",
		Summary:     "Approve a submitted task and pay its assignees",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body ApproveResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, summary, err := e.Approve(ctx, actorID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApproveResponse `json:"body"`
		}{Body: ApproveResponse{
			Task:   taskResponse(t),
			Payout: payoutResponse(summary),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-reward",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/reward",
		Summary:     "Update task reward",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   struct {
			RewardTokens int `json:"reward_tokens" minimum:"0"`
		} `json:"body"`
	}) (*taskOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateReward(ctx, actorID, input.TaskID, input.Body.RewardTokens)
		if err != nil {
			return nil, handleError(err)
		}
		return taskOK(t)
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-task-activity",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/activity",
		Summary:     "Change task activity",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   struct {
			Activity string `json:"activity" enum:"inactive,active,urgent,completed"`
		} `json:"body"`
	}) (*taskOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ChangeActivity(ctx, actorID, input.TaskID, domain.Activity(input.Body.Activity))
		if err != nil {
			return nil, handleError(err)
		}
		return taskOK(t)
	})

	huma.Register(api, huma.Operation{
		OperationID: "granularize-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/granularize",
		Summary:     "Replace a task with finer-grained pieces",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   struct {
			Pieces []GranularPieceRequest `json:"pieces" minItems:"1"`
		} `json:"body"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pieces := make([]lifecycle.GranularPiece, 0, len(input.Body.Pieces))
		for _, p := range input.Body.Pieces {
			pieces = append(pieces, lifecycle.GranularPiece{
				Title:        p.Title,
				Description:  p.Description,
				SkillID:      p.SkillID,
				SkillLevel:   p.SkillLevel,
				RewardTokens: p.RewardTokens,
				DependsOn:    p.DependsOn,
			})
		}
		out, err := e.Granularize(ctx, actorID, input.TaskID, pieces)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(out)}, nil
	})
}

func registerMembers(api huma.API, e *lifecycle.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/members",
		Summary:     "List members",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []MemberResponse `json:"body"`
	}, error) {
		items, err := e.Store.ListMembers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]MemberResponse, 0, len(items))
		for i := range items {
			skills, err := e.Store.ListSkillProgress(ctx, items[i].ID)
			if err != nil {
				return nil, handleError(err)
			}
			out = append(out, memberResponse(&items[i], skills))
		}
		return &struct {
			Body []MemberResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-member",
		Method:      http.MethodGet,
		Path:        "/members/{member_id}",
		Summary:     "Get member with skill progression",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MemberID string `path:"member_id"`
	}) (*struct {
		Body MemberResponse `json:"body"`
	}, error) {
		m, err := e.Store.GetMember(ctx, input.MemberID)
		if err != nil {
			return nil, handleError(err)
		}
		skills, err := e.Store.ListSkillProgress(ctx, m.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MemberResponse `json:"body"`
		}{Body: memberResponse(m, skills)}, nil
	})
}

func registerEvents(api huma.API, e *lifecycle.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events, newest first",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.Store.ListEvents(ctx, input.ProjectID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}
