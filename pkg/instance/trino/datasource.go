// Package trino provides a Trino data source for the instance lifecycle
// core. Unlike PostgreSQL there is no session-pinned handle; each execution
// context owns its own Trino client, which gives it an independent HTTP
// session against the coordinator.
package trino

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	trinoclient "github.com/txn2/mcp-trino/pkg/client"

	"github.com/txn2/mcp-dbinstance/pkg/instance"
)

const (
	defaultPlainPort = 8080
	defaultSSLPort   = 443

	defaultTimeout = 30 * time.Second

	clientSource = "mcp-dbinstance"
)

// Config holds Trino data source configuration.
type Config struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	User      string        `yaml:"user"`
	Password  string        `yaml:"password"`
	Catalog   string        `yaml:"catalog"`
	Schema    string        `yaml:"schema"`
	SSL       bool          `yaml:"ssl"`
	SSLVerify bool          `yaml:"ssl_verify"`
	Timeout   time.Duration `yaml:"timeout"`

	// MetaSeparateConnection enables a dedicated metadata connection for
	// instances of this data source.
	MetaSeparateConnection bool `yaml:"meta_separate_connection"`
}

// queryClient is the slice of the Trino client used by execution contexts.
// *trinoclient.Client satisfies this implicitly.
type queryClient interface {
	Query(ctx context.Context, sql string, opts trinoclient.QueryOptions) (*trinoclient.QueryResult, error)
	Close() error
}

// dialFunc builds a client for a session. Swapped out in tests.
type dialFunc func(cfg trinoclient.Config) (queryClient, error)

// DataSource implements instance.DataSource for Trino.
type DataSource struct {
	name string
	cfg  Config
	log  *slog.Logger
	dial dialFunc
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

// WithDialer replaces the client constructor. Used by tests to substitute a
// fake coordinator session.
func WithDialer(dial func(cfg trinoclient.Config) (queryClient, error)) Option {
	return func(d *DataSource) {
		d.dial = dial
	}
}

// New creates a Trino data source.
func New(name string, cfg Config, opts ...Option) (*DataSource, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("trino host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("trino user is required")
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPortFor(cfg.SSL)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	d := &DataSource{
		name: name,
		cfg:  cfg,
		log:  slog.Default(),
		dial: func(cc trinoclient.Config) (queryClient, error) {
			return trinoclient.New(cc) //nolint:wrapcheck // wrapped at the call site
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func defaultPortFor(ssl bool) int {
	if ssl {
		return defaultSSLPort
	}
	return defaultPlainPort
}

// Name returns the data source's display name.
func (d *DataSource) Name() string {
	return d.name
}

// Driver returns the driver capability surface. Trino always speaks to a
// remote coordinator.
func (d *DataSource) Driver() instance.Driver {
	return trinoDriver{}
}

// Preferences returns the data source's preference store.
func (d *DataSource) Preferences() instance.PreferenceStore {
	return prefs{separateMeta: d.cfg.MetaSeparateConnection}
}

// CreateExecutionContext creates a new, unconnected context for the given
// role.
func (d *DataSource) CreateExecutionContext(owner instance.Owner, role instance.Role) (instance.ExecutionContext, error) {
	n := d.seq.Add(1)
	return &Context{
		ds:    d,
		owner: owner,
		name:  fmt.Sprintf("%s <%s> #%d", d.name, role, n),
		role:  role,
	}, nil
}

// clientConfig builds the session's client configuration. Isolated contexts
// advertise their purpose through the query source so they are
// distinguishable in the coordinator's query log.
func (d *DataSource) clientConfig(purpose string) trinoclient.Config {
	source := clientSource
	if purpose != "" {
		source = fmt.Sprintf("%s:%s", clientSource, purpose)
	}
	return trinoclient.Config{
		Host:      d.cfg.Host,
		Port:      d.cfg.Port,
		User:      d.cfg.User,
		Password:  d.cfg.Password,
		Catalog:   d.cfg.Catalog,
		Schema:    d.cfg.Schema,
		SSL:       d.cfg.SSL,
		SSLVerify: d.cfg.SSLVerify,
		Timeout:   d.cfg.Timeout,
		Source:    source,
	}
}

// trinoDriver answers capability queries for the Trino protocol.
type trinoDriver struct{}

func (trinoDriver) IsEmbedded() bool { return false }

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
