package trino

import (
	"context"
	"fmt"
	"sync"

	trinoclient "github.com/txn2/mcp-trino/pkg/client"

	"github.com/txn2/mcp-dbinstance/pkg/instance"
)

// Context is one Trino session. Each context carries its own client so its
// query source and credentials are independent of sibling contexts.
type Context struct {
	ds    *DataSource
	owner instance.Owner
	name  string
	role  instance.Role

	mu     sync.Mutex
	client queryClient
}

// Name returns the context's display name.
func (c *Context) Name() string {
	return c.name
}

// Role returns the context's role tag.
func (c *Context) Role() instance.Role {
	return c.role
}

// Connected reports whether the session is established.
func (c *Context) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// Query runs a statement over the context's session.
func (c *Context) Query(ctx context.Context, sql string, opts trinoclient.QueryOptions) (*trinoclient.QueryResult, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("context %s is not connected", c.name)
	}
	return client.Query(ctx, sql, opts) //nolint:wrapcheck // caller attributes the context
}

// Connect establishes the session. Already-connected contexts return
// immediately. With Initialize set, connectivity to the coordinator is
// verified with a probe query before the context reports connected.
func (c *Context) Connect(ctx context.Context, mon instance.Monitor, opts instance.ConnectOptions) error {
	c.mu.Lock()
	connected := c.client != nil
	c.mu.Unlock()
	if connected {
		return nil
	}

	mon.SubTask(fmt.Sprintf("Connect to '%s'", c.name))

	client, err := c.ds.dial(c.ds.clientConfig(opts.Purpose))
	if err != nil {
		return fmt.Errorf("creating trino client for %s: %w", c.name, err)
	}

	if opts.Initialize {
		if _, err := client.Query(ctx, "SELECT 1", trinoclient.QueryOptions{}); err != nil {
			_ = client.Close()
			return fmt.Errorf("probing coordinator for %s: %w", c.name, err)
		}
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	c.ds.log.Debug("execution context connected",
		"datasource", c.ds.name, "context", c.name, "role", c.role)
	mon.Worked(1)
	return nil
}

// Close tears down the session and removes the context from its owning
// instance. Closing an unconnected context only deregisters it.
func (c *Context) Close() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	var closeErr error
	if client != nil {
		closeErr = client.Close()
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
