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
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"permitline/internal/domain"
	"permitline/internal/engine"
	"permitline/internal/events"
	"permitline/internal/obs"
	"permitline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Hub      *events.Hub
	Metrics  *obs.Metrics
	Logger   *zap.Logger
	BasePath string
	Auth     AuthConfig
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64
	RateBurst int
	// TrustProxy takes the client address from X-Forwarded-For/X-Real-IP.
	// Leave it off unless a proxy that overwrites those headers fronts the API.
	TrustProxy bool
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state"`
	Message string         `json:"message" example:"wrong sequence position"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"expected\":\"enganche\"}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Permitline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
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
	router.Use(middleware.RequestID)
	if cfg.TrustProxy {
		router.Use(middleware.RealIP)
	}
	router.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.Instrument)
	}
	router.Use(requestLogger(logger))
	if cfg.RateLimit > 0 {
		router.Use(newRateLimiter(cfg.RateLimit, cfg.RateBurst).middleware)
	}
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))

	hcfg := huma.DefaultConfig("Permitline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	if cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}
	registerHealth(group, cfg.Engine, cfg.Hub)
	registerPermitTypes(group, cfg.Engine)
	registerJobs(group, cfg.Engine)
	registerPermits(group, cfg.Engine)
	if cfg.Hub != nil {
		router.Get(path.Join(basePath, "eventos"), streamHandler(cfg.Hub, logger))
	}
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var nf engine.NotFoundError
	if errors.As(err, &nf) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"kind": nf.Kind, "id": nf.ID})
	}
	var ia engine.InvalidActorError
	if errors.As(err, &ia) {
		return newAPIError(http.StatusForbidden, "invalid_actor", err.Error(), map[string]any{"actor": ia.ActorID})
	}
	var is engine.InvalidStateError
	if errors.As(err, &is) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), is.Details)
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		var details map[string]any
		if ve.Field != "" {
			details = map[string]any{"field": ve.Field}
		}
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), details)
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
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	healthPath := path.Join("/", basePath, "health")
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
<html lang="es">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Permitline API Docs</title>
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

func registerHealth(api huma.API, e engine.Engine, hub *events.Hub) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
		out := &HealthOutput{}
		out.Body.Status = "ok"
		out.Body.ConnectedUsers = []string{}
		if hub != nil {
			out.Body.ConnectedUsers = hub.Connected()
		}
		out.Body.SequenceOrder = e.Policy.Order()
		return out, nil
	})
}

func registerPermitTypes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-permit-types",
		Method:      http.MethodGet,
		Path:        "/tipos-permiso",
		Summary:     "List permit types",
	}, func(ctx context.Context, _ *struct{}) (*PermitTypesOutput, error) {
		items, err := e.ListPermitTypes(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &PermitTypesOutput{Body: items}, nil
	})
}

func registerJobs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-job",
		Method:        http.MethodPost,
		Path:          "/trabajos",
		Summary:       "Create job",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateJobRequest `json:"body"`
	}) (*JobOutput, error) {
		if err := requireAnyRole(ctx, e, domain.RoleSupervisor, domain.RoleAdmin); err != nil {
			return nil, err
		}
		j, err := e.CreateJob(ctx, engine.JobCreateOptions{
			Title:        input.Body.Title,
			Description:  strValue(input.Body.Description),
			AreaID:       input.Body.AreaID,
			TechnicianID: strValue(input.Body.TechnicianID),
			ScheduledAt:  strValue(input.Body.ScheduledAt),
			Comments:     strValue(input.Body.Comments),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &JobOutput{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/trabajos",
		Summary:     "List jobs",
	}, func(ctx context.Context, input *struct {
		TechnicianID string `query:"tecnicoId"`
		AreaID       string `query:"areaId"`
		State        string `query:"estado"`
	}) (*JobsOutput, error) {
		if input.State != "" && !validJobState(input.State) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown job state", map[string]any{"estado": input.State})
		}
		items, err := e.ListJobs(ctx, repo.JobFilters{
			TechnicianID: input.TechnicianID,
			AreaID:       input.AreaID,
			State:        input.State,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &JobsOutput{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs-awaiting-start",
		Method:      http.MethodGet,
		Path:        "/trabajos/pendientes-aprobacion",
		Summary:     "List jobs awaiting start approval",
	}, func(ctx context.Context, _ *struct{}) (*JobsOutput, error) {
		return &JobsOutput{Body: e.ListPendingApproval(ctx)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/trabajos/{id}",
		Summary:     "Get job",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*JobOutput, error) {
		j, err := e.GetJob(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &JobOutput{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-job",
		Method:      http.MethodPatch,
		Path:        "/trabajos/{id}/asignar",
		Summary:     "Assign job to a technician",
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body AssignJobRequest `json:"body"`
	}) (*JobOutput, error) {
		if err := requireAnyRole(ctx, e, domain.RoleSupervisor, domain.RoleAdmin); err != nil {
			return nil, err
		}
		j, err := e.AssignJob(ctx, input.ID, input.Body.TechnicianID)
		if err != nil {
			return nil, handleError(err)
		}
		return &JobOutput{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-job",
		Method:      http.MethodPost,
		Path:        "/trabajos/{id}/cancelar",
		Summary:     "Cancel job",
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body CancelJobRequest `json:"body"`
	}) (*JobOutput, error) {
		if err := requireActor(ctx, e, input.Body.SupervisorID); err != nil {
			return nil, err
		}
		j, err := e.CancelJob(ctx, input.ID, input.Body.SupervisorID, strValue(input.Body.Reason))
		if err != nil {
			return nil, handleError(err)
		}
		return &JobOutput{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-job",
		Method:      http.MethodPost,
		Path:        "/trabajos/{id}/iniciar",
		Summary:     "Request job start",
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body StartJobRequest `json:"body"`
	}) (*JobStartStatusOutput, error) {
		if err := requireActor(ctx, e, input.Body.TechnicianID); err != nil {
			return nil, err
		}
		status, err := e.StartJob(ctx, engine.StartJobOptions{
			JobID:        input.ID,
			TechnicianID: input.Body.TechnicianID,
			PhotoRef:     strValue(input.Body.PhotoRef),
			Comments:     strValue(input.Body.Comments),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &JobStartStatusOutput{Body: status}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-job-start",
		Method:      http.MethodPatch,
		Path:        "/trabajos/{id}/aprobar",
		Summary:     "Approve or reject a job start",
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body DecideJobStartRequest `json:"body"`
	}) (*JobStartStatusOutput, error) {
		if err := requireActor(ctx, e, input.Body.SupervisorID); err != nil {
			return nil, err
		}
		status, err := e.DecideJobStart(ctx, engine.DecideJobStartOptions{
			JobID:        input.ID,
			SupervisorID: input.Body.SupervisorID,
			Approved:     input.Body.Approved,
			Comments:     strValue(input.Body.Comments),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &JobStartStatusOutput{Body: status}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job-start-status",
		Method:      http.MethodGet,
		Path:        "/trabajos/{id}/estado-aprobacion",
		Summary:     "Get job start approval status",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*JobStartStatusOutput, error) {
		status, err := e.JobStartStatus(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &JobStartStatusOutput{Body: status}, nil
	})
}

func registerPermits(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-permit",
		Method:        http.MethodPost,
		Path:          "/permisos",
		Summary:       "Request a permit",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreatePermitRequest `json:"body"`
	}) (*PermitOutput, error) {
		if err := requireActor(ctx, e, input.Body.TechnicianID); err != nil {
			return nil, err
		}
		p, err := e.CreatePermit(ctx, engine.PermitCreateOptions{
			JobID:        input.Body.JobID,
			TechnicianID: input.Body.TechnicianID,
			PermitTypeID: input.Body.PermitTypeID,
			PhotoRef:     strValue(input.Body.PhotoRef),
			Comments:     strValue(input.Body.Comments),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &PermitOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pending-permits",
		Method:      http.MethodGet,
		Path:        "/permisos/pendientes",
		Summary:     "List permits awaiting review",
	}, func(ctx context.Context, input *struct {
		State   string `query:"estado"`
		AreaID  string `query:"areaId"`
		MinDate string `query:"fechaInicioMin"`
		MaxDate string `query:"fechaFinMax"`
	}) (*PermitsOutput, error) {
		from, err := normalizeTime("fechaInicioMin", input.MinDate)
		if err != nil {
			return nil, err
		}
		to, err := normalizeTime("fechaFinMax", input.MaxDate)
		if err != nil {
			return nil, err
		}
		items, err := e.ListPendingPermits(ctx, engine.PendingPermitFilters{
			State:         input.State,
			AreaID:        input.AreaID,
			SubmittedFrom: from,
			SubmittedTo:   to,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &PermitsOutput{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-job-permits",
		Method:      http.MethodGet,
		Path:        "/permisos/by-trabajo/{jobId}",
		Summary:     "List permits of a job",
	}, func(ctx context.Context, input *struct {
		JobID string `path:"jobId"`
	}) (*PermitsOutput, error) {
		items, err := e.ListPermitsByJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &PermitsOutput{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-technician-permits",
		Method:      http.MethodGet,
		Path:        "/permisos/tecnico/{technicianId}",
		Summary:     "List permits requested by a technician",
	}, func(ctx context.Context, input *struct {
		TechnicianID string `path:"technicianId"`
	}) (*PermitsOutput, error) {
		items, err := e.ListPermitsByTechnician(ctx, input.TechnicianID)
		if err != nil {
			return nil, handleError(err)
		}
		return &PermitsOutput{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-permit",
		Method:      http.MethodGet,
		Path:        "/permisos/{id}",
		Summary:     "Get permit",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*PermitOutput, error) {
		p, err := e.GetPermit(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &PermitOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "authorize-permit",
		Method:      http.MethodPatch,
		Path:        "/permisos/{id}/authorize",
		Summary:     "Approve or reject a permit",
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body AuthorizePermitRequest `json:"body"`
	}) (*PermitOutput, error) {
		if err := requireActor(ctx, e, input.Body.SupervisorID); err != nil {
			return nil, err
		}
		p, err := e.AuthorizePermit(ctx, engine.PermitAuthorizeOptions{
			PermitID:     input.ID,
			SupervisorID: input.Body.SupervisorID,
			Decision:     input.Body.State,
			Comments:     strValue(input.Body.Comments),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &PermitOutput{Body: p}, nil
	})
}

func validJobState(s string) bool {
	switch s {
	case domain.JobPending, domain.JobAssigned, domain.JobInProcess,
		domain.JobPendingApproval, domain.JobCompleted, domain.JobCancelled:
		return true
	}
	return false
}

// normalizeTime accepts RFC3339 or a bare date and returns the stored
// RFC3339 UTC form.
func normalizeTime(field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC().Format(time.RFC3339), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC().Format(time.RFC3339), nil
	}
	return "", newAPIError(http.StatusBadRequest, "bad_request", field+" must be an RFC3339 timestamp or a date", map[string]any{"field": field})
}
