package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models permitline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
		// RateLimit is requests per second per client; 0 disables limiting.
		RateLimit float64 `yaml:"rate_limit"`
		RateBurst int     `yaml:"rate_burst"`
		// TrustProxy reads client addresses from forwarding headers.
		TrustProxy bool `yaml:"trust_proxy"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Sequence struct {
		Order []string `yaml:"order"`
	} `yaml:"sequence"`
	Seed     Seed      `yaml:"seed"`
	Webhooks []Webhook `yaml:"webhooks"`
}

// Seed lists reference data loaded by `pl seed` and on first start.
type Seed struct {
	Roles       []SeedRole       `yaml:"roles"`
	Areas       []SeedArea       `yaml:"areas"`
	PermitTypes []SeedPermitType `yaml:"permit_types"`
	Users       []SeedUser       `yaml:"users"`
}

type SeedRole struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type SeedArea struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type SeedPermitType struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type SeedUser struct {
	ID    string `yaml:"id"`
	Email string `yaml:"email"`
	Name  string `yaml:"name"`
	Role  string `yaml:"role"`
	Area  string `yaml:"area"`
}

// Webhook is an outbound notification sink.
type Webhook struct {
	URL     string        `yaml:"url"`
	Events  []string      `yaml:"events"`
	Timeout time.Duration `yaml:"timeout"`
	Secret  string        `yaml:"secret"`
}

var validEvents = map[string]struct{}{
	"permisoNotification": {},
	"trabajoNotification": {},
	"connectedUsers":      {},
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "", "sqlite", "sqlite3":
	case "postgres", "postgresql", "pgx":
		if c.Database.DSN == "" {
			return fmt.Errorf("config.database.dsn is required for driver %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("config.database.driver %q is not supported", c.Database.Driver)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("config.server rate limits must not be negative")
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	seen := map[string]struct{}{}
	for _, name := range c.Sequence.Order {
		if name == "" {
			return fmt.Errorf("config.sequence.order contains an empty name")
		}
		if name == "finalizado" {
			return fmt.Errorf("config.sequence.order must not contain the terminal marker finalizado")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("config.sequence.order repeats %s", name)
		}
		seen[name] = struct{}{}
	}
	if err := c.Seed.validate(c.Sequence.Order); err != nil {
		return err
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, evt := range wh.Events {
			if _, ok := validEvents[evt]; !ok {
				return fmt.Errorf("config.webhooks[%d] has unknown event %s", i, evt)
			}
		}
	}
	return nil
}

func (s Seed) validate(order []string) error {
	roles := map[string]struct{}{}
	for _, r := range s.Roles {
		if r.Name == "" {
			return fmt.Errorf("seed.roles contains empty name")
		}
		roles[r.Name] = struct{}{}
	}
	areas := map[string]struct{}{}
	for _, a := range s.Areas {
		if a.Name == "" {
			return fmt.Errorf("seed.areas contains empty name")
		}
		areas[a.Name] = struct{}{}
	}
	types := map[string]struct{}{}
	for _, pt := range s.PermitTypes {
		if pt.Name == "" {
			return fmt.Errorf("seed.permit_types contains empty name")
		}
		types[pt.Name] = struct{}{}
	}
	if len(s.PermitTypes) > 0 {
		for _, name := range order {
			if _, ok := types[name]; !ok {
				return fmt.Errorf("sequence step %s has no seeded permit type", name)
			}
		}
	}
	for _, u := range s.Users {
		if u.ID == "" || u.Email == "" || u.Name == "" {
			return fmt.Errorf("seed.users entries need id, email and name")
		}
		if _, ok := roles[u.Role]; !ok && len(roles) > 0 {
			return fmt.Errorf("seed user %s references unknown role %s", u.ID, u.Role)
		}
		if u.Area != "" {
			if _, ok := areas[u.Area]; !ok {
				return fmt.Errorf("seed user %s references unknown area %s", u.ID, u.Area)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "permitline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0
  rate_limit: 20
  rate_burst: 40
  trust_proxy: false

database:
  driver: sqlite
  dsn: ""

auth:
  jwt_secret: ""
  allow_legacy_actor_header: false

log:
  level: info
  format: json

sequence:
  order: [altura, enganche, cierre]

seed:
  roles:
    - name: tecnico
      description: "Requests permits and starts jobs"
    - name: supervisor
      description: "Decides permits and job starts"
    - name: admin
      description: "Manages reference data"
  permit_types:
    - name: altura
      description: "Work at height"
    - name: enganche
      description: "Hookup to the line"
    - name: cierre
      description: "Closure and sign-off"
  areas: []
  users: []

webhooks: []
`
