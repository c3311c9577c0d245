package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.Equal(t, []string{"altura", "enganche", "cierre"}, cfg.Sequence.Order)
	assert.Len(t, cfg.Seed.PermitTypes, 3)
	assert.Len(t, cfg.Seed.Roles, 3)
}

func TestFromYAMLOverrides(t *testing.T) {
	cfg, err := FromYAML([]byte(`
server:
  addr: 0.0.0.0:9000
database:
  driver: postgres
  dsn: postgres://localhost/permitline
seed:
  areas:
    - name: Subestacion
  users:
    - id: sup-1
      email: sup@example.com
      name: Marta
      role: supervisor
      area: Subestacion
webhooks:
  - url: http://hooks.local/permits
    events: [permisoNotification]
    timeout: 2s
`))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, 2*time.Second, cfg.Webhooks[0].Timeout)
	assert.Len(t, cfg.Seed.PermitTypes, 3)
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]string{
		"unknown driver":    "database:\n  driver: mysql\n",
		"postgres sans dsn": "database:\n  driver: postgres\n",
		"relative base":     "server:\n  base_path: v0\n",
		"negative rate":     "server:\n  rate_limit: -1\n",
		"log format":        "log:\n  format: xml\n",
		"terminal marker":   "sequence:\n  order: [altura, finalizado]\n",
		"repeated step":     "sequence:\n  order: [altura, altura]\n",
		"unseeded step":     "sequence:\n  order: [altura, soldadura]\n",
		"unknown role":      "seed:\n  users:\n    - {id: u1, email: u@x, name: U, role: gerente}\n",
		"unknown area":      "seed:\n  users:\n    - {id: u1, email: u@x, name: U, role: tecnico, area: Norte}\n",
		"webhook url":       "webhooks:\n  - events: [permisoNotification]\n",
		"webhook event":     "webhooks:\n  - url: http://x\n    events: [otro]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pl init")

	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "permitline.yml"), []byte(GenerateDefault()), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
}
