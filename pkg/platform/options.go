package platform

import (
	"database/sql"
	"log/slog"

	"github.com/txn2/mcp-dbinstance/pkg/audit"
	"github.com/txn2/mcp-dbinstance/pkg/instance"
)

// Options configures the platform.
type Options struct {
	// Config is the server configuration.
	Config *Config

	// Logger is the structured logger (optional, defaults to slog.Default()).
	Logger *slog.Logger

	// DB is the server's own database connection for audit storage
	// (optional, will be opened from config if not provided).
	DB *sql.DB

	// AuditLogger (optional, will be created from config if not provided).
	AuditLogger audit.Logger

	// Instances are pre-built instances keyed by name (optional, built from
	// config if not provided). Used by tests to inject fakes.
	Instances map[string]instance.Remote
}

// Option is a functional option for configuring the platform.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = log
	}
}

// WithDB sets the audit database connection.
func WithDB(db *sql.DB) Option {
	return func(o *Options) {
		o.DB = db
	}
}

// WithAuditLogger sets the audit logger.
func WithAuditLogger(logger audit.Logger) Option {
	return func(o *Options) {
		o.AuditLogger = logger
	}
}

// WithInstance adds a pre-built instance.
func WithInstance(name string, inst instance.Remote) Option {
	return func(o *Options) {
		if o.Instances == nil {
			o.Instances = make(map[string]instance.Remote)
		}
		o.Instances[name] = inst
	}
}
