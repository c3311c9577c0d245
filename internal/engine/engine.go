package engine

import (
	"database/sql"
	"strings"
	"time"

	"go.uber.org/zap"

	"permitline/internal/config"
	"permitline/internal/db"
	"permitline/internal/engine/auth"
	"permitline/internal/events"
	"permitline/internal/obs"
	"permitline/internal/repo"
	"permitline/internal/sequence"
)

// Engine runs the job lifecycle and permit flow. Every mutation validates,
// writes and commits in one transaction, then notifies.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Auth     auth.Service
	Policy   sequence.Policy
	Notifier events.Notifier
	Logger   *zap.Logger
	Metrics  *obs.Metrics
	Config   *config.Config
	Now      func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	policy := sequence.Default()
	if len(cfg.Sequence.Order) > 0 {
		p, err := sequence.New(cfg.Sequence.Order)
		if err != nil {
			return Engine{}, err
		}
		policy = p
	}
	r := repo.Repo{DB: conn, Dialect: dialect}
	return Engine{
		DB:       conn,
		Repo:     r,
		Auth:     auth.Service{Users: r},
		Policy:   policy,
		Notifier: events.Nop{},
		Logger:   zap.NewNop(),
		Config:   cfg,
		Now:      time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e Engine) notifier() events.Notifier {
	if e.Notifier != nil {
		return e.Notifier
	}
	return events.Nop{}
}

// appendComment adds a paragraph to free-text comments.
func appendComment(existing, line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return existing
	}
	if strings.TrimSpace(existing) == "" {
		return line
	}
	return existing + "\n\n" + line
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
