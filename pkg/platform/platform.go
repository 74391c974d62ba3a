package platform

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	// Registers the "postgres" driver for the audit database.
	_ "github.com/lib/pq"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-dbinstance/pkg/audit"
	auditpg "github.com/txn2/mcp-dbinstance/pkg/audit/postgres"
	"github.com/txn2/mcp-dbinstance/pkg/database/migrate"
	"github.com/txn2/mcp-dbinstance/pkg/instance"
	"github.com/txn2/mcp-dbinstance/pkg/instance/postgres"
	"github.com/txn2/mcp-dbinstance/pkg/instance/trino"
)

// Platform is the main server facade. It owns the managed instances, the
// audit trail, and the MCP surface over both.
type Platform struct {
	config *Config
	log    *slog.Logger

	mcpServer *mcp.Server
	lifecycle *Lifecycle

	// instances is populated at construction and stable afterwards; the
	// instances themselves manage their own context registries.
	instances map[string]instance.Remote
	order     []string

	db          *sql.DB
	auditLogger audit.Logger
	auditStore  *auditpg.Store
	ownsDB      bool
}

// New creates a new platform. Instances are built but not connected; call
// Start to establish the configured main contexts.
func New(opts ...Option) (*Platform, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := options.Config.Validate(); err != nil {
		return nil, err
	}

	log := options.Logger
	if log == nil {
		log = slog.Default()
	}

	p := &Platform{
		config:    options.Config,
		log:       log,
		lifecycle: NewLifecycle(),
		instances: make(map[string]instance.Remote),
	}

	if err := p.initInstances(options); err != nil {
		return nil, err
	}
	if err := p.initAudit(options); err != nil {
		return nil, err
	}
	p.initMCPServer()
	p.registerLifecycle()

	return p, nil
}

// initInstances builds the managed instances from configuration, or adopts
// injected ones.
func (p *Platform) initInstances(opts *Options) error {
	for name, inst := range opts.Instances {
		p.instances[name] = inst
		p.order = append(p.order, name)
	}
	sort.Strings(p.order)

	for _, def := range p.config.Instances {
		if _, ok := p.instances[def.Name]; ok {
			continue
		}

		ds, err := p.buildDataSource(def)
		if err != nil {
			return fmt.Errorf("building data source %q: %w", def.Name, err)
		}

		inst, err := instance.New(context.Background(), instance.NoopMonitor{}, ds, false,
			instance.WithLogger(p.log))
		if err != nil {
			return fmt.Errorf("creating instance %q: %w", def.Name, err)
		}

		p.instances[def.Name] = inst
		p.order = append(p.order, def.Name)
	}
	return nil
}

// buildDataSource constructs the data source for an instance definition.
func (p *Platform) buildDataSource(def InstanceDef) (instance.DataSource, error) {
	switch def.Kind {
	case KindPostgres:
		return postgres.New(def.Name, *def.Postgres, postgres.WithLogger(p.log))
	case KindTrino:
		return trino.New(def.Name, *def.Trino, trino.WithLogger(p.log))
	default:
		return nil, fmt.Errorf("unknown instance kind %q", def.Kind)
	}
}

// initAudit wires the audit trail: a PostgreSQL-backed store when auditing
// is enabled and a database is configured, a no-op sink otherwise.
func (p *Platform) initAudit(opts *Options) error {
	if opts.AuditLogger != nil {
		p.auditLogger = opts.AuditLogger
		return nil
	}

	if !p.config.Audit.Enabled {
		p.auditLogger = audit.NoopLogger{}
		return nil
	}

	db := opts.DB
	if db == nil {
		var err error
		db, err = sql.Open("postgres", p.config.Database.DSN)
		if err != nil {
			return fmt.Errorf("opening audit database: %w", err)
		}
		db.SetMaxOpenConns(p.config.Database.MaxOpenConns)
		p.ownsDB = true
	}
	p.db = db

	if err := migrate.Run(db); err != nil {
		return fmt.Errorf("migrating audit database: %w", err)
	}

	p.auditStore = auditpg.New(db, auditpg.Config{RetentionDays: p.config.Audit.RetentionDays})
	p.auditLogger = p.auditStore
	return nil
}

// initMCPServer builds the MCP server and registers the tool and resource
// surface.
func (p *Platform) initMCPServer() {
	p.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    p.config.Server.Name,
		Version: p.config.Server.Version,
	}, nil)

	p.registerInfoTool()
	p.registerContextTools()
	p.registerResourceTemplates()
}

// registerLifecycle wires startup and shutdown order: connect the configured
// main contexts on start, shut every instance down on stop.
func (p *Platform) registerLifecycle() {
	p.lifecycle.OnStart(p.connectInstances)
	p.lifecycle.OnStop(func(_ context.Context) error {
		p.shutdownInstances()
		return nil
	})

	if p.auditStore != nil {
		p.lifecycle.OnStart(func(_ context.Context) error {
			p.auditStore.StartCleanupRoutine(p.config.Audit.CleanupEvery)
			return nil
		})
	}
}

// connectInstances establishes the main context of every instance configured
// with init_main.
func (p *Platform) connectInstances(ctx context.Context) error {
	mon := instance.NewSlogMonitor(p.log)
	for _, def := range p.config.Instances {
		if !def.InitMain {
			continue
		}
		inst, ok := p.instances[def.Name]
		if !ok {
			return fmt.Errorf("instance %q not found", def.Name)
		}
		if err := inst.InitializeMainContext(ctx, mon); err != nil {
			return fmt.Errorf("connecting instance %q: %w", def.Name, err)
		}
	}
	return nil
}

// shutdownInstances closes every context of every managed instance.
func (p *Platform) shutdownInstances() {
	mon := instance.NewSlogMonitor(p.log)
	for _, name := range p.order {
		p.instances[name].Shutdown(mon)
	}
}

// Start starts the platform.
func (p *Platform) Start(ctx context.Context) error {
	return p.lifecycle.Start(ctx)
}

// Stop stops the platform.
func (p *Platform) Stop(ctx context.Context) error {
	return p.lifecycle.Stop(ctx)
}

// MCPServer returns the MCP server.
func (p *Platform) MCPServer() *mcp.Server {
	return p.mcpServer
}

// Config returns the platform configuration.
func (p *Platform) Config() *Config {
	return p.config
}

// Instance returns a managed instance by name.
func (p *Platform) Instance(name string) (instance.Remote, bool) {
	inst, ok := p.instances[name]
	return inst, ok
}

// InstanceNames returns the managed instance names in stable order.
func (p *Platform) InstanceNames() []string {
	names := make([]string, len(p.order))
	copy(names, p.order)
	return names
}

// AuditLogger returns the audit sink.
func (p *Platform) AuditLogger() audit.Logger {
	return p.auditLogger
}

// closeResource closes a resource and appends any error.
func closeResource(errs *[]error, closer Closer) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		*errs = append(*errs, err)
	}
}

// Close closes all platform resources. Stop should be called first; Close
// releases what remains.
func (p *Platform) Close() error {
	var errs []error

	closeResource(&errs, p.auditLogger)
	if p.ownsDB && p.db != nil {
		closeResource(&errs, p.db)
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing platform: %v", errs)
	}
	return nil
}
