package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permitline/internal/config"
	"permitline/internal/domain"
)

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Seed.Areas = []config.SeedArea{{Name: "Planta Norte"}}
	cfg.Seed.Users = []config.SeedUser{
		{ID: "sup-1", Email: "sup@example.com", Name: "Marta", Role: domain.RoleSupervisor, Area: "Planta Norte"},
	}
	e, err := Open(ctx, Options{Workspace: t.TempDir(), Config: cfg})
	require.NoError(t, err)
	defer e.DB.Close()

	res, err := Seed(ctx, e.Repo, cfg.Seed, time.Now())
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Roles: 3, Areas: 1, PermitTypes: 3, Users: 1}, res)

	types, err := e.Repo.ListPermitTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, 3)
	areas, err := e.Repo.ListAreas(ctx)
	require.NoError(t, err)
	require.Len(t, areas, 1)
	assert.Equal(t, AreaID("Planta Norte"), areas[0].ID)

	u, err := e.Repo.GetUser(ctx, "sup-1")
	require.NoError(t, err)
	require.NotNil(t, u.AreaID)
	assert.Equal(t, AreaID("Planta Norte"), *u.AreaID)
}

func TestSeedIDsAreDeterministic(t *testing.T) {
	assert.Equal(t, AreaID("Norte"), AreaID("Norte"))
	assert.NotEqual(t, AreaID("Norte"), AreaID("Sur"))
	assert.NotEqual(t, AreaID("altura"), PermitTypeID("altura"))
}

func TestSeedRejectsUnknownArea(t *testing.T) {
	ctx := context.Background()
	e, err := Open(ctx, Options{Workspace: t.TempDir(), SkipSeed: true})
	require.NoError(t, err)
	defer e.DB.Close()

	_, err = Seed(ctx, e.Repo, config.Seed{
		Users: []config.SeedUser{{ID: "u1", Email: "u@example.com", Name: "U", Role: domain.RoleTechnician, Area: "Sur"}},
	}, time.Now())
	assert.Error(t, err)
	_, err = e.Repo.GetUser(ctx, "u1")
	assert.Error(t, err)
}
