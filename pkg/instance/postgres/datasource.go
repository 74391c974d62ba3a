// Package postgres provides a PostgreSQL data source for the instance
// lifecycle core. Each execution context owns one dedicated physical
// connection (a *sql.DB pinned to a single conn), so a context really is one
// backend session.
package postgres

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	// Registers the "postgres" driver with database/sql.
	_ "github.com/lib/pq"

	"github.com/txn2/mcp-dbinstance/pkg/instance"
)

const defaultPort = 5432

// Config holds PostgreSQL data source configuration.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`

	// ConnectTimeout is handed to the driver; this layer enforces no
	// timeouts of its own.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ApplicationName is reported to the server for non-isolated sessions.
	ApplicationName string `yaml:"application_name"`

	// MetaSeparateConnection enables a dedicated metadata connection for
	// instances of this data source.
	MetaSeparateConnection bool `yaml:"meta_separate_connection"`
}

// openFunc opens a database handle for a DSN. Swapped out in tests.
type openFunc func(dsn string) (*sql.DB, error)

// DataSource implements instance.DataSource for PostgreSQL.
type DataSource struct {
	name string
	cfg  Config
	log  *slog.Logger
	open openFunc
	seq  atomic.Uint64
}

// Option configures a DataSource.
type Option func(*DataSource)

// WithLogger injects the data source's structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *DataSource) {
		d.log = log
	}
}

// WithOpener replaces the connection opener. Used by tests to substitute a
// mock database handle.
func WithOpener(open func(dsn string) (*sql.DB, error)) Option {
	return func(d *DataSource) {
		d.open = open
	}
}

// New creates a PostgreSQL data source.
func New(name string, cfg Config, opts ...Option) (*DataSource, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("postgres host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("postgres user is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("postgres database is required")
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}

	d := &DataSource{
		name: name,
		cfg:  cfg,
		log:  slog.Default(),
		open: func(dsn string) (*sql.DB, error) {
			return sql.Open("postgres", dsn) //nolint:wrapcheck // wrapped at the call site
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Name returns the data source's display name.
func (d *DataSource) Name() string {
	return d.name
}

// Driver returns the driver capability surface. PostgreSQL is never
// embedded.
func (d *DataSource) Driver() instance.Driver {
	return pqDriver{}
}

// Preferences returns the data source's preference store.
func (d *DataSource) Preferences() instance.PreferenceStore {
	return prefs{separateMeta: d.cfg.MetaSeparateConnection}
}

// CreateExecutionContext creates a new, unconnected context for the given
// role. Context names carry a sequence number so two isolated contexts with
// the same purpose remain distinguishable in progress output and logs.
func (d *DataSource) CreateExecutionContext(owner instance.Owner, role instance.Role) (instance.ExecutionContext, error) {
	n := d.seq.Add(1)
	return &Context{
		ds:    d,
		owner: owner,
		name:  fmt.Sprintf("%s <%s> #%d", d.name, role, n),
		role:  role,
	}, nil
}

// dsn builds the lib/pq key=value connection string.
func (d *DataSource) dsn() string {
	parts := []string{
		"host=" + quoteDSNValue(d.cfg.Host),
		fmt.Sprintf("port=%d", d.cfg.Port),
		"user=" + quoteDSNValue(d.cfg.User),
		"dbname=" + quoteDSNValue(d.cfg.Database),
	}
	if d.cfg.Password != "" {
		parts = append(parts, "password="+quoteDSNValue(d.cfg.Password))
	}
	if d.cfg.SSLMode != "" {
		parts = append(parts, "sslmode="+quoteDSNValue(d.cfg.SSLMode))
	}
	if d.cfg.ConnectTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", int(d.cfg.ConnectTimeout.Seconds())))
	}
	if d.cfg.ApplicationName != "" {
		parts = append(parts, "application_name="+quoteDSNValue(d.cfg.ApplicationName))
	}
	return strings.Join(parts, " ")
}

// quoteDSNValue quotes a DSN value per lib/pq rules when it contains
// characters that would break key=value parsing.
func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// pqDriver answers capability queries for the PostgreSQL wire driver.
type pqDriver struct{}

func (pqDriver) IsEmbedded() bool { return false }

// prefs resolves data source preferences from static configuration.
type prefs struct {
	separateMeta bool
}

func (p prefs) Bool(key string) bool {
	if key == instance.PrefMetaSeparateConnection {
		return p.separateMeta
	}
	return false
}

// Verify interface compliance.
var _ instance.DataSource = (*DataSource)(nil)
