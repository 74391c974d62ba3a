package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/lib/pq"

	"github.com/txn2/mcp-dbinstance/pkg/instance"
)

// Context is one physical PostgreSQL session. The underlying *sql.DB is
// pinned to a single connection so session-level state (read-only default,
// application_name) sticks for the context's lifetime.
type Context struct {
	ds    *DataSource
	owner instance.Owner
	name  string
	role  instance.Role

	mu            sync.Mutex
	db            *sql.DB
	serverVersion string
}

// Name returns the context's display name.
func (c *Context) Name() string {
	return c.name
}

// Role returns the context's role tag.
func (c *Context) Role() instance.Role {
	return c.role
}

// Connected reports whether the physical session is established.
func (c *Context) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db != nil
}

// DB returns the context's database handle, or nil when not connected.
// Query execution over a context happens through this handle; it is pinned
// to the context's single physical connection.
func (c *Context) DB() *sql.DB {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db
}

// ServerVersion returns the backend version captured during session
// initialization, or empty when the context connected without Initialize.
func (c *Context) ServerVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverVersion
}

// Connect establishes the physical session. Already-connected contexts
// return immediately. Cancellation arrives through ctx and is forwarded to
// the driver; no timeout is enforced at this layer.
func (c *Context) Connect(ctx context.Context, mon instance.Monitor, opts instance.ConnectOptions) error {
	c.mu.Lock()
	connected := c.db != nil
	c.mu.Unlock()
	if connected {
		return nil
	}

	mon.SubTask(fmt.Sprintf("Connect to '%s'", c.name))

	db, err := c.ds.open(c.ds.dsn())
	if err != nil {
		return fmt.Errorf("opening connection for %s: %w", c.name, err)
	}

	// One context, one backend session.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := c.setup(ctx, db, opts); err != nil {
		_ = db.Close()
		return err
	}

	c.mu.Lock()
	c.db = db
	c.mu.Unlock()

	c.ds.log.Debug("execution context connected",
		"datasource", c.ds.name, "context", c.name, "role", c.role)
	mon.Worked(1)
	return nil
}

// setup establishes session state on the fresh connection.
func (c *Context) setup(ctx context.Context, db *sql.DB, opts instance.ConnectOptions) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging %s: %w", c.name, err)
	}

	if opts.MetaOnly {
		if _, err := db.ExecContext(ctx, "SET default_transaction_read_only = on"); err != nil {
			return fmt.Errorf("marking %s read-only: %w", c.name, err)
		}
	}

	if opts.Purpose != "" {
		stmt := "SET application_name = " + pq.QuoteLiteral(opts.Purpose)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("naming session for %s: %w", c.name, err)
		}
	}

	if opts.Initialize {
		var version string
		if err := db.QueryRowContext(ctx, "SHOW server_version").Scan(&version); err != nil {
			return fmt.Errorf("initializing session caches for %s: %w", c.name, err)
		}
		c.mu.Lock()
		c.serverVersion = version
		c.mu.Unlock()
	}

	return nil
}

// Close tears down the physical session and removes the context from its
// owning instance. Closing an unconnected context only deregisters it.
func (c *Context) Close() error {
	c.mu.Lock()
	db := c.db
	c.db = nil
	c.mu.Unlock()

	var closeErr error
	if db != nil {
		closeErr = db.Close()
	}

	if c.owner != nil {
		c.owner.Remove(c)
	}

	if closeErr != nil {
		return fmt.Errorf("closing %s: %w", c.name, closeErr)
	}
	return nil
}

// Verify interface compliance.
var _ instance.ExecutionContext = (*Context)(nil)
