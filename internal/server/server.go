package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"fixline/internal/domain"
	"fixline/internal/engine"
	"fixline/internal/engine/fault"
	"fixline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"job j1: cannot transition from pending to completed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"pending\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Fixline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Fixline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerActors(group, cfg.Engine)
	registerJobs(group, cfg.Engine)
	registerQuotes(group, cfg.Engine)
	registerScheduling(group, cfg.Engine)
	registerSheets(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerEventStream(router, basePath, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Engine, cfg.Auth)
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

// handleError translates engine faults into the HTTP envelope. Each typed
// fault maps to one status code and one stable code string.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve fault.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field, "reason": ve.Reason})
	}
	var ise fault.InvalidStateError
	if errors.As(err, &ise) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), map[string]any{"entity": ise.Entity, "status": ise.Status})
	}
	var ite fault.InvalidTransitionError
	if errors.As(err, &ite) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"from": ite.From, "to": ite.To})
	}
	var pe fault.PreconditionError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusUnprocessableEntity, "precondition_failed", err.Error(), map[string]any{"invariant": pe.Invariant})
	}
	var ce fault.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), map[string]any{"entity": ce.Entity, "reason": ce.Reason})
	}
	var le fault.LocationUnavailableError
	if errors.As(err, &le) {
		return newAPIError(http.StatusUnprocessableEntity, "location_unavailable", err.Error(), map[string]any{"reason": le.Reason})
	}
	var ae fault.AuthorizationError
	if errors.As(err, &ae) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"operation": ae.Operation})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
		return "precondition_failed"
	case http.StatusForbidden:
		return "forbidden"
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
	openPaths := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if openPaths[route] {
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
    <title>Fixline API Docs</title>
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

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Service status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		counts, err := e.Repo.CountJobsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		serviceID := ""
		if e.Config != nil {
			serviceID = e.Config.Service.ID
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"service_id": serviceID,
			"job_counts": counts,
		}}, nil
	})
}

func registerActors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-actor",
		Method:        http.MethodPost,
		Path:          "/actors",
		Summary:       "Register actor",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body RegisterActorRequest `json:"body"`
	}) (*struct {
		Body ActorResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		a, err := e.RegisterActor(ctx, domain.Actor{
			ID:       input.Body.ID,
			Role:     input.Body.Role,
			Name:     stringOrEmpty(input.Body.Name),
			Trade:    stringOrEmpty(input.Body.Trade),
			Location: stringOrEmpty(input.Body.Location),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActorResponse `json:"body"`
		}{Body: actorResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-actor",
		Method:      http.MethodGet,
		Path:        "/actors/{id}",
		Summary:     "Get actor",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ActorResponse `json:"body"`
	}, error) {
		a, err := e.Repo.GetActor(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActorResponse `json:"body"`
		}{Body: actorResponse(a)}, nil
	})
}

func registerJobs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "File a job request",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateJobRequest `json:"body"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.JobCreateOptions{
			HomeownerID:   actorID,
			Trade:         input.Body.Trade,
			Title:         input.Body.Title,
			Description:   input.Body.Description,
			Location:      stringOrEmpty(input.Body.Location),
			PreferredDate: stringOrEmpty(input.Body.PreferredDate),
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		j, err := e.CreateJob(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(j)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		HomeownerID  string `query:"homeowner_id"`
		ContractorID string `query:"contractor_id"`
		Status       string `query:"status"`
		Trade        string `query:"trade"`
		Limit        int    `query:"limit" default:"50"`
		Cursor       string `query:"cursor"`
	}) (*struct {
		Body paginatedJobs `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		filter := repo.JobFilters{
			HomeownerID:     input.HomeownerID,
			ContractorID:    input.ContractorID,
			Status:          input.Status,
			Trade:           input.Trade,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		}
		jobs, err := e.Repo.ListJobs(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedJobs{Items: []JobResponse{}}
		if len(jobs) > limit {
			resp.NextCursor = composeCursor(jobs[limit].CreatedAt, jobs[limit].ID)
			jobs = jobs[:limit]
		}
		resp.Items = mapJobs(jobs)
		return &struct {
			Body paginatedJobs `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}",
		Summary:     "Get job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		j, err := e.Repo.GetJob(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(j)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-job",
		Method:      http.MethodPatch,
		Path:        "/jobs/{id}",
		Summary:     "Edit job request",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body UpdateJobRequest `json:"body"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.PatchJob(ctx, engine.JobPatchOptions{
			JobID:         input.ID,
			ActorID:       actorID,
			Title:         input.Body.Title,
			Description:   input.Body.Description,
			Location:      input.Body.Location,
			PreferredDate: input.Body.PreferredDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(j)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{id}/status",
		Summary:     "Request a status transition",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body TransitionJobRequest `json:"body"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		j, err := e.Transition(ctx, input.ID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(j)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{id}/cancel",
		Summary:     "Cancel job",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.CancelJob(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(j)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-job-paid",
		Method:      http.MethodPost,
		Path:        "/jobs/{id}/paid",
		Summary:     "Mark job paid",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.MarkPaid(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(j)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "job-candidates",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}/candidates",
		Summary:     "List matching contractors",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []ActorResponse `json:"body"`
	}, error) {
		candidates, err := e.MatchCandidates(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ActorResponse `json:"body"`
		}{Body: mapActors(candidates)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-job-photo",
		Method:      http.MethodPost,
		Path:        "/jobs/{id}/photos",
		Summary:     "Attach a photo to the job request",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body AddPhotoRequest `json:"body"`
	}) (*struct {
		Body PhotoResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		data, err := base64.StdEncoding.DecodeString(input.Body.DataBase64)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "data_base64 is not valid base64", nil)
		}
		_, ref, err := e.AddJobPhoto(ctx, input.ID, actorID, data)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PhotoResponse `json:"body"`
		}{Body: PhotoResponse{Ref: ref}}, nil
	})
}

func registerQuotes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-quote",
		Method:        http.MethodPost,
		Path:          "/jobs/{id}/quotes",
		Summary:       "Submit quote",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body CreateQuoteRequest `json:"body"`
	}) (*struct {
		Body QuoteResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.QuoteOptions{
			JobID:           input.ID,
			ContractorID:    actorID,
			Amount:          input.Body.Amount,
			DurationMinutes: input.Body.DurationMinutes,
			Description:     stringOrEmpty(input.Body.Description),
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		q, err := e.SubmitQuote(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuoteResponse `json:"body"`
		}{Body: quoteResponse(q)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-quotes",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}/quotes",
		Summary:     "List quotes for a job",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []QuoteResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		quotes, err := e.ListQuotes(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []QuoteResponse `json:"body"`
		}{Body: mapQuotes(quotes)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-quote",
		Method:      http.MethodPost,
		Path:        "/jobs/{id}/quotes/{quote_id}/accept",
		Summary:     "Accept quote",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		QuoteID string `path:"quote_id"`
	}) (*struct {
		Body QuoteResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := e.AcceptQuote(ctx, input.ID, input.QuoteID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuoteResponse `json:"body"`
		}{Body: quoteResponse(q)}, nil
	})
}

func registerScheduling(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-slot",
		Method:        http.MethodPost,
		Path:          "/slots",
		Summary:       "Declare availability slot",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateSlotRequest `json:"body"`
	}) (*struct {
		Body SlotResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.SlotOptions{
			ContractorID: actorID,
			StartTime:    input.Body.StartTime,
			EndTime:      input.Body.EndTime,
			Title:        stringOrEmpty(input.Body.Title),
			Notes:        stringOrEmpty(input.Body.Notes),
			Location:     stringOrEmpty(input.Body.Location),
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		s, err := e.CreateSlot(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotResponse `json:"body"`
		}{Body: slotResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-slots",
		Method:      http.MethodGet,
		Path:        "/slots",
		Summary:     "List availability slots",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ContractorID string `query:"contractor_id"`
		Available    bool   `query:"available"`
	}) (*struct {
		Body []SlotResponse `json:"body"`
	}, error) {
		contractorID := input.ContractorID
		if contractorID == "" {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			contractorID = actorID
		}
		slots, err := e.ListSlots(ctx, contractorID, input.Available)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SlotResponse `json:"body"`
		}{Body: mapSlots(slots)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-slot",
		Method:      http.MethodDelete,
		Path:        "/slots/{id}",
		Summary:     "Delete availability slot",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSlot(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "book-slot",
		Method:      http.MethodPost,
		Path:        "/slots/{id}/book",
		Summary:     "Book availability slot for a job",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body BookSlotRequest `json:"body"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.JobID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "job_id is required", nil)
		}
		j, err := e.BookSlot(ctx, input.ID, input.Body.JobID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(j)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-proposal",
		Method:        http.MethodPost,
		Path:          "/jobs/{id}/proposals",
		Summary:       "Propose appointment time",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body CreateProposalRequest `json:"body"`
	}) (*struct {
		Body ProposalResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ProposalOptions{
			JobID:      input.ID,
			ProposedBy: actorID,
			StartTime:  input.Body.StartTime,
			EndTime:    input.Body.EndTime,
			Message:    stringOrEmpty(input.Body.Message),
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		p, err := e.Propose(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposalResponse `json:"body"`
		}{Body: proposalResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-proposals",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}/proposals",
		Summary:     "List proposals for a job",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []ProposalResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		proposals, err := e.ListProposals(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProposalResponse `json:"body"`
		}{Body: mapProposals(proposals)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/{id}/respond",
		Summary:     "Respond to appointment proposal",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body RespondProposalRequest `json:"body"`
	}) (*struct {
		Body ProposalResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Respond(ctx, engine.RespondOptions{
			ProposalID:   input.ID,
			ActorID:      actorID,
			Response:     input.Body.Response,
			Message:      stringOrEmpty(input.Body.Message),
			CounterStart: stringOrEmpty(input.Body.CounterStart),
			CounterEnd:   stringOrEmpty(input.Body.CounterEnd),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposalResponse `json:"body"`
		}{Body: proposalResponse(p)}, nil
	})
}

func registerSheets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "check-in",
		Method:      http.MethodPost,
		Path:        "/jobs/{id}/checkin",
		Summary:     "Check in on site",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body CheckRequest `json:"body"`
	}) (*struct {
		Body SheetResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sheet, err := e.CheckIn(ctx, input.ID, actorID, geoFix(input.Body.Location))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SheetResponse `json:"body"`
		}{Body: sheetResponse(sheet)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-out",
		Method:      http.MethodPost,
		Path:        "/jobs/{id}/checkout",
		Summary:     "Check out from site",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body CheckRequest `json:"body"`
	}) (*struct {
		Body SheetResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sheet, err := e.CheckOut(ctx, input.ID, actorID, geoFix(input.Body.Location))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SheetResponse `json:"body"`
		}{Body: sheetResponse(sheet)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-sheet",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}/sheet",
		Summary:     "Get job sheet",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body SheetResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sheet, err := e.GetSheet(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SheetResponse `json:"body"`
		}{Body: sheetResponse(sheet)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-work",
		Method:      http.MethodPatch,
		Path:        "/jobs/{id}/sheet",
		Summary:     "Record work on job sheet",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body RecordWorkRequest `json:"body"`
	}) (*struct {
		Body SheetResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sheet, err := e.RecordWork(ctx, input.ID, actorID, engine.WorkRecord{
			Notes:            input.Body.Notes,
			Materials:        input.Body.Materials,
			TimeSpentMinutes: input.Body.TimeSpentMinutes,
			AdditionalCosts:  input.Body.AdditionalCosts,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SheetResponse `json:"body"`
		}{Body: sheetResponse(sheet)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-sheet-photo",
		Method:      http.MethodPost,
		Path:        "/jobs/{id}/sheet/photos",
		Summary:     "Attach a work photo to the job sheet",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body AddPhotoRequest `json:"body"`
	}) (*struct {
		Body PhotoResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		data, err := base64.StdEncoding.DecodeString(input.Body.DataBase64)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "data_base64 is not valid base64", nil)
		}
		_, ref, err := e.AddSheetPhoto(ctx, input.ID, actorID, data)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PhotoResponse `json:"body"`
		}{Body: PhotoResponse{Ref: ref}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attach-signature",
		Method:      http.MethodPost,
		Path:        "/jobs/{id}/signatures",
		Summary:     "Attach completion signature",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body AttachSignatureRequest `json:"body"`
	}) (*struct {
		Body SheetResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stroke, err := base64.StdEncoding.DecodeString(input.Body.StrokeBase64)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "stroke_base64 is not valid base64", nil)
		}
		sheet, err := e.AttachSignature(ctx, input.ID, input.Body.Role, actorID, stroke)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SheetResponse `json:"body"`
		}{Body: sheetResponse(sheet)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		JobID      string `query:"job_id"`
		EntityKind string `query:"entity_kind" enum:"job,quote,slot,proposal,job_sheet"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		var items []domain.Event
		var err error
		if cursorID > 0 {
			items, err = e.Repo.EventsAfter(ctx, limit+1, cursorID, input.JobID)
		} else {
			items, err = e.Repo.LatestEvents(ctx, limit+1, input.JobID, input.Type, input.EntityKind, input.EntityID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID: principal.ActorID,
			Role:    principal.Role,
			Source:  principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Role)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func geoFix(in *GeoFixRequest) *domain.GeoFix {
	if in == nil {
		return nil
	}
	return &domain.GeoFix{Lat: in.Lat, Lng: in.Lng, Accuracy: in.Accuracy}
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
