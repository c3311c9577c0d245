package permitlinesdk

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

// Client is a minimal Permitline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Job represents the API job model (partial).
type Job struct {
	ID                   string  `json:"id"`
	Titulo               string  `json:"titulo"`
	AreaID               string  `json:"areaId"`
	TecnicoAsignadoID    *string `json:"tecnicoAsignadoId,omitempty"`
	Estado               string  `json:"estado"`
	SiguienteTipoPermiso string  `json:"siguienteTipoPermiso"`
	FechaInicioReal      *string `json:"fechaInicioReal,omitempty"`
	FechaFinReal         *string `json:"fechaFinReal,omitempty"`
	Comentarios          string  `json:"comentarios,omitempty"`
	MotivoRechazo        *string `json:"motivoRechazo,omitempty"`
}

// Permit represents the API permit model (partial).
type Permit struct {
	ID                    string  `json:"id"`
	TrabajoID             string  `json:"trabajoId"`
	TecnicoID             string  `json:"tecnicoId"`
	TipoPermisoID         string  `json:"tipoPermisoId"`
	TipoPermiso           string  `json:"tipoPermiso"`
	Estado                string  `json:"estado"`
	ComentariosTecnico    string  `json:"comentariosTecnico,omitempty"`
	ComentariosSupervisor *string `json:"comentariosSupervisor,omitempty"`
	SupervisorID          *string `json:"supervisorId,omitempty"`
	EnviadoAt             string  `json:"enviadoAt"`
	RevisadoAt            *string `json:"revisadoAt,omitempty"`
}

// PermitType is a permit category.
type PermitType struct {
	ID     string `json:"id"`
	Nombre string `json:"nombre"`
}

// StartStatus is the approval view of a job start request.
type StartStatus struct {
	ID             string  `json:"id"`
	Estado         string  `json:"estado"`
	EstaAprobado   bool    `json:"estaAprobado"`
	EstaRechazado  bool    `json:"estaRechazado"`
	MotivoRechazo  *string `json:"motivoRechazo,omitempty"`
	FechaSolicitud *string `json:"fechaSolicitud,omitempty"`
}

// CreateJobInput carries the fields of a new job.
type CreateJobInput struct {
	Titulo            string `json:"titulo"`
	Descripcion       string `json:"descripcion,omitempty"`
	AreaID            string `json:"areaId"`
	TecnicoAsignadoID string `json:"tecnicoAsignadoId,omitempty"`
	FechaProgramada   string `json:"fechaProgramada,omitempty"`
	Comentarios       string `json:"comentarios,omitempty"`
}

// CreatePermitInput carries a permit request.
type CreatePermitInput struct {
	TrabajoID          string `json:"trabajoId"`
	TecnicoID          string `json:"tecnicoId"`
	TipoPermisoID      string `json:"tipoPermisoId"`
	FotoKey            string `json:"fotoKey,omitempty"`
	ComentariosTecnico string `json:"comentariosTecnico,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateJob creates a job.
func (c *Client) CreateJob(ctx context.Context, in CreateJobInput) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, c.path("trabajos"), in, &resp)
	return resp, err
}

// GetJob fetches a job by id.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodGet, c.path("trabajos", id), nil, &resp)
	return resp, err
}

// ListJobs lists jobs, optionally filtered by state.
func (c *Client) ListJobs(ctx context.Context, state string) ([]Job, error) {
	endpoint := c.path("trabajos")
	if state != "" {
		endpoint += "?estado=" + url.QueryEscape(state)
	}
	var resp []Job
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// StartJob asks a supervisor to approve starting a job.
func (c *Client) StartJob(ctx context.Context, jobID, technicianID, comments string) (StartStatus, error) {
	body := map[string]any{"tecnicoId": technicianID}
	if comments != "" {
		body["comentarios"] = comments
	}
	var resp StartStatus
	err := c.do(ctx, http.MethodPost, c.path("trabajos", jobID, "iniciar"), body, &resp)
	return resp, err
}

// DecideJobStart approves or rejects a job start request.
func (c *Client) DecideJobStart(ctx context.Context, jobID, supervisorID string, approved bool, comments string) (StartStatus, error) {
	body := map[string]any{"supervisorId": supervisorID, "aprobado": approved}
	if comments != "" {
		body["comentarios"] = comments
	}
	var resp StartStatus
	err := c.do(ctx, http.MethodPatch, c.path("trabajos", jobID, "aprobar"), body, &resp)
	return resp, err
}

// RequestPermit requests the next permit of a job.
func (c *Client) RequestPermit(ctx context.Context, in CreatePermitInput) (Permit, error) {
	var resp Permit
	err := c.do(ctx, http.MethodPost, c.path("permisos"), in, &resp)
	return resp, err
}

// AuthorizePermit records a supervisor decision: "aprobado" or "rechazado".
func (c *Client) AuthorizePermit(ctx context.Context, permitID, supervisorID, decision, comments string) (Permit, error) {
	body := map[string]any{"estado": decision, "supervisorId": supervisorID}
	if comments != "" {
		body["comentariosSupervisor"] = comments
	}
	var resp Permit
	err := c.do(ctx, http.MethodPatch, c.path("permisos", permitID, "authorize"), body, &resp)
	return resp, err
}

// PendingPermits returns the supervisor review queue.
func (c *Client) PendingPermits(ctx context.Context, areaID string) ([]Permit, error) {
	endpoint := c.path("permisos", "pendientes")
	if areaID != "" {
		endpoint += "?areaId=" + url.QueryEscape(areaID)
	}
	var resp []Permit
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// JobPermits lists every permit of a job.
func (c *Client) JobPermits(ctx context.Context, jobID string) ([]Permit, error) {
	var resp []Permit
	err := c.do(ctx, http.MethodGet, c.path("permisos", "by-trabajo", jobID), nil, &resp)
	return resp, err
}

// PermitTypes lists permit types.
func (c *Client) PermitTypes(ctx context.Context) ([]PermitType, error) {
	var resp []PermitType
	err := c.do(ctx, http.MethodGet, c.path("tipos-permiso"), nil, &resp)
	return resp, err
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
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) path(parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	if bp := strings.Trim(c.BasePath, "/"); bp != "" {
		escaped = append(escaped, bp)
	}
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return strings.Join(escaped, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
