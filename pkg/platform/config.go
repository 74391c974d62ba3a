// Package platform provides the main server orchestration: it builds data
// source instances from configuration, exposes their execution contexts over
// MCP, and manages startup and shutdown.
package platform

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/txn2/mcp-dbinstance/pkg/instance/postgres"
	"github.com/txn2/mcp-dbinstance/pkg/instance/trino"
)

// Config holds the complete server configuration.
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Auth      AuthConfig     `yaml:"auth"`
	Database  DatabaseConfig `yaml:"database"`
	Audit     AuditConfig    `yaml:"audit"`
	Instances []InstanceDef  `yaml:"instances"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	Transport string `yaml:"transport"` // "stdio", "http"
	Address   string `yaml:"address"`
}

// AuthConfig configures authentication for the HTTP transport.
type AuthConfig struct {
	APIKeys        APIKeyAuthConfig `yaml:"api_keys"`
	Bearer         BearerAuthConfig `yaml:"bearer"`
	AllowAnonymous bool             `yaml:"allow_anonymous"`
}

// APIKeyAuthConfig configures API key authentication.
type APIKeyAuthConfig struct {
	Enabled bool        `yaml:"enabled"`
	Keys    []APIKeyDef `yaml:"keys"`
}

// APIKeyDef defines an API key. Key holds the plaintext secret; KeyHash
// holds a bcrypt hash instead, for configs that must not carry plaintext.
type APIKeyDef struct {
	Key     string `yaml:"key"`
	KeyHash string `yaml:"key_hash"`
	Name    string `yaml:"name"`
}

// BearerAuthConfig configures JWT bearer authentication.
type BearerAuthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SigningKey string `yaml:"signing_key"` // Base64-encoded HMAC key
	Issuer     string `yaml:"issuer"`
}

// DatabaseConfig configures the server's own database, used for audit
// storage. Unrelated to the managed instances.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// AuditConfig configures audit logging.
type AuditConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RetentionDays int           `yaml:"retention_days"`
	CleanupEvery  time.Duration `yaml:"cleanup_every"`
}

// InstanceDef defines one managed data source instance.
type InstanceDef struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"` // "postgres", "trino"
	InitMain bool   `yaml:"init_main"`

	Postgres *postgres.Config `yaml:"postgres,omitempty"`
	Trino    *trino.Config    `yaml:"trino,omitempty"`
}

// Instance kinds.
const (
	KindPostgres = "postgres"
	KindTrino    = "trino"
)

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns a configuration with defaults applied and no
// managed instances.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "mcp-dbinstance"
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "1.0.0"
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = "stdio"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 90
	}
	if cfg.Audit.CleanupEvery == 0 {
		cfg.Audit.CleanupEvery = time.Hour
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	seen := make(map[string]bool, len(c.Instances))
	for _, def := range c.Instances {
		if def.Name == "" {
			errs = append(errs, "instances[].name is required")
			continue
		}
		if seen[def.Name] {
			errs = append(errs, fmt.Sprintf("duplicate instance name %q", def.Name))
		}
		seen[def.Name] = true

		switch def.Kind {
		case KindPostgres:
			if def.Postgres == nil {
				errs = append(errs, fmt.Sprintf("instance %q: postgres section is required", def.Name))
			}
		case KindTrino:
			if def.Trino == nil {
				errs = append(errs, fmt.Sprintf("instance %q: trino section is required", def.Name))
			}
		default:
			errs = append(errs, fmt.Sprintf("instance %q: unknown kind %q", def.Name, def.Kind))
		}
	}

	if c.Audit.Enabled && c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required when audit is enabled")
	}
	if c.Auth.Bearer.Enabled && c.Auth.Bearer.SigningKey == "" {
		errs = append(errs, "auth.bearer.signing_key is required when bearer auth is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
