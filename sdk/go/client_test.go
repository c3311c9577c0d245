package permitlinesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permitline/internal/app"
	"permitline/internal/config"
	"permitline/internal/domain"
	"permitline/internal/server"
)

func newClient(t *testing.T) (*Client, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Seed.Areas = []config.SeedArea{{Name: "Patio"}}
	cfg.Seed.Users = []config.SeedUser{
		{ID: "tec-1", Email: "t@example.com", Name: "Tomas", Role: domain.RoleTechnician},
		{ID: "adm-1", Email: "a@example.com", Name: "Alba", Role: domain.RoleAdmin},
		{ID: "sup-1", Email: "s@example.com", Name: "Sara", Role: domain.RoleSupervisor},
	}
	e, err := app.Open(context.Background(), app.Options{Workspace: t.TempDir(), Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { e.DB.Close() })
	handler, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{JWTSecret: "sdk-secret"}})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	token, err := server.SignToken("sdk-secret", "adm-1", []string{domain.RoleAdmin})
	require.NoError(t, err)
	c := New(ts.URL)
	c.BearerToken = token
	return c, app.AreaID("Patio")
}

func TestClientPermitSequence(t *testing.T) {
	c, area := newClient(t)
	ctx := context.Background()

	types, err := c.PermitTypes(ctx)
	require.NoError(t, err)
	ids := map[string]string{}
	for _, pt := range types {
		ids[pt.Nombre] = pt.ID
	}
	require.Len(t, ids, 3)

	job, err := c.CreateJob(ctx, CreateJobInput{Titulo: "Cambio de poste", AreaID: area, TecnicoAsignadoID: "tec-1"})
	require.NoError(t, err)
	assert.Equal(t, "altura", job.SiguienteTipoPermiso)

	for _, step := range []string{"altura", "enganche", "cierre"} {
		p, err := c.RequestPermit(ctx, CreatePermitInput{TrabajoID: job.ID, TecnicoID: "tec-1", TipoPermisoID: ids[step]})
		require.NoError(t, err, step)
		p, err = c.AuthorizePermit(ctx, p.ID, "sup-1", "aprobado", "")
		require.NoError(t, err, step)
		assert.Equal(t, "aprobado", p.Estado)
	}

	job, err = c.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "completado", job.Estado)
	assert.Equal(t, "finalizado", job.SiguienteTipoPermiso)
	require.NotNil(t, job.FechaFinReal)

	permits, err := c.JobPermits(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, permits, 3)

	_, err = c.RequestPermit(ctx, CreatePermitInput{TrabajoID: job.ID, TecnicoID: "tec-1", TipoPermisoID: ids["altura"]})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "invalid_state", apiErr.Code)
	assert.Equal(t, "job already finished", apiErr.Message)
}

func TestClientStartRejected(t *testing.T) {
	c, area := newClient(t)
	ctx := context.Background()
	job, err := c.CreateJob(ctx, CreateJobInput{Titulo: "Inspeccion", AreaID: area, TecnicoAsignadoID: "tec-1"})
	require.NoError(t, err)

	st, err := c.StartJob(ctx, job.ID, "tec-1", "")
	require.NoError(t, err)
	assert.Equal(t, "pendiente_aprobacion", st.Estado)

	st, err = c.DecideJobStart(ctx, job.ID, "sup-1", false, "Viento fuerte")
	require.NoError(t, err)
	assert.True(t, st.EstaRechazado)
	require.NotNil(t, st.MotivoRechazo)
	assert.Equal(t, "Viento fuerte", *st.MotivoRechazo)

	cancelled, err := c.ListJobs(ctx, "cancelado")
	require.NoError(t, err)
	assert.Len(t, cancelled, 1)
}
