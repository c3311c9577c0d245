package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"permitline/internal/config"
	"permitline/internal/db"
	"permitline/internal/engine"
	"permitline/internal/migrate"
)

// Options select the workspace and the collaborators wired into the engine.
type Options struct {
	Workspace string
	Config    *config.Config
	Logger    *zap.Logger
	// SkipSeed leaves reference data untouched.
	SkipSeed bool
}

// Open connects to the configured store, applies migrations, seeds reference
// data and returns a ready engine. Callers own the returned DB.
func Open(ctx context.Context, opts Options) (engine.Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, dialect, err := db.Open(db.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, Workspace: opts.Workspace})
	if err != nil {
		return engine.Engine{}, fmt.Errorf("open database: %w", err)
	}
	eng, err := build(ctx, conn, dialect, cfg, logger, opts.SkipSeed)
	if err != nil {
		conn.Close()
		return engine.Engine{}, err
	}
	return eng, nil
}

func build(ctx context.Context, conn *sql.DB, dialect db.Dialect, cfg *config.Config, logger *zap.Logger, skipSeed bool) (engine.Engine, error) {
	if err := conn.PingContext(ctx); err != nil {
		return engine.Engine{}, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate.Migrate(ctx, conn, dialect); err != nil {
		return engine.Engine{}, fmt.Errorf("migrate: %w", err)
	}
	eng, err := engine.New(conn, dialect, cfg)
	if err != nil {
		return engine.Engine{}, err
	}
	eng.Logger = logger
	if !skipSeed {
		res, err := Seed(ctx, eng.Repo, cfg.Seed, eng.Now())
		if err != nil {
			return engine.Engine{}, fmt.Errorf("seed: %w", err)
		}
		logger.Debug("reference data seeded",
			zap.Int("roles", res.Roles), zap.Int("areas", res.Areas),
			zap.Int("permit_types", res.PermitTypes), zap.Int("users", res.Users))
	}
	return eng, nil
}
