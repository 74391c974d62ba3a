package instance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Remote is the data-source-independent surface of an Instance. The platform
// registry holds instances of different data-source types through this
// interface; only DataSource() needs the concrete type parameter.
type Remote interface {
	Owner

	Persisted() bool
	Description() string
	InitializeMainContext(ctx context.Context, mon Monitor) error
	InitializeMetaContext(ctx context.Context, mon Monitor) (ExecutionContext, error)
	OpenIsolatedContext(ctx context.Context, mon Monitor, purpose string) (ExecutionContext, error)
	AllContexts() []ExecutionContext
	DefaultContext(meta bool) ExecutionContext
	Shutdown(mon Monitor)
	ShutdownKeeping(mon Monitor, keepMeta bool)
}

// Instance represents one logical connection endpoint to a backend engine.
// It owns at most one main context, at most one metadata context, and the
// registry of every context it has created (main and metadata are always
// also registry members).
//
// Multiple goroutines may request contexts, close the instance, and iterate
// existing contexts concurrently. All mutations of the registry and of the
// two cached fast-path references are serialized through one instance-scoped
// mutex; iteration takes a point-in-time snapshot under the lock and then
// proceeds unlocked.
type Instance[DS DataSource] struct {
	ds  DS
	log *slog.Logger

	mu          sync.Mutex
	mainContext ExecutionContext
	metaContext ExecutionContext
	allContexts []ExecutionContext
}

// Option configures an Instance.
type Option func(*options)

type options struct {
	log *slog.Logger
}

// WithLogger injects the instance's structured logger. The default is
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// New creates an instance bound to the given data source. When initMain is
// true the main context is established synchronously before New returns; a
// connect failure is returned as a *ConnectivityError and the instance is
// left without a main context (the caller may retry InitializeMainContext).
func New[DS DataSource](ctx context.Context, mon Monitor, ds DS, initMain bool, opts ...Option) (*Instance[DS], error) {
	o := &options{log: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	i := &Instance[DS]{ds: ds, log: o.log}
	if initMain {
		if err := i.InitializeMainContext(ctx, mon); err != nil {
			return nil, err
		}
	}
	return i, nil
}

// Name returns the data source's name.
func (i *Instance[DS]) Name() string {
	return i.ds.Name()
}

// DataSource returns the data source this instance connects to.
func (i *Instance[DS]) DataSource() DS {
	return i.ds
}

// Parent returns the instance's parent object, which is its data source.
func (i *Instance[DS]) Parent() DS {
	return i.ds
}

// Persisted reports whether the instance is persisted. Always true.
func (i *Instance[DS]) Persisted() bool {
	return true
}

// Description returns the instance description. Always empty.
func (i *Instance[DS]) Description() string {
	return ""
}

// InitializeMainContext idempotently establishes the instance's primary
// context: if a main context already exists it returns immediately.
// Otherwise it creates a context tagged RoleMain, connects it synchronously
// (non-isolated, not metadata-only, initializing schema caches), and stores
// it as both the cached main reference and a registry member. On failure a
// *ConnectivityError is returned and the instance keeps no main context.
func (i *Instance[DS]) InitializeMainContext(ctx context.Context, mon Monitor) error {
	i.mu.Lock()
	exists := i.mainContext != nil
	i.mu.Unlock()
	if exists {
		return nil
	}

	ec, err := i.ds.CreateExecutionContext(i, RoleMain)
	if err != nil {
		return connectivityError(i.ds.Name(), RoleMain, err)
	}
	if err := ec.Connect(ctx, mon, ConnectOptions{Initialize: true}); err != nil {
		return connectivityError(i.ds.Name(), RoleMain, err)
	}

	i.mu.Lock()
	i.mainContext = ec
	i.allContexts = append(i.allContexts, ec)
	i.mu.Unlock()
	return nil
}

// InitializeMetaContext idempotently establishes (or elides) the context
// dedicated to metadata operations. If the driver is embedded, or the
// separate-metadata-connection preference is disabled, no context is created
// and the main context is returned: data and metadata operations share one
// connection.
//
// In the separate-connection branch, the check-then-create sequence runs
// while holding the instance lock so that two concurrent callers cannot each
// open a redundant metadata context. This is the one place a connect call
// executes under the lock; callers must tolerate a blocking wait here rather
// than assume instant return.
func (i *Instance[DS]) InitializeMetaContext(ctx context.Context, mon Monitor) (ExecutionContext, error) {
	i.mu.Lock()
	if i.metaContext != nil {
		mc := i.metaContext
		i.mu.Unlock()
		return mc, nil
	}
	i.mu.Unlock()

	if i.ds.Driver().IsEmbedded() || !i.ds.Preferences().Bool(PrefMetaSeparateConnection) {
		i.mu.Lock()
		mc := i.mainContext
		i.mu.Unlock()
		return mc, nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.metaContext != nil {
		return i.metaContext, nil
	}

	ec, err := i.ds.CreateExecutionContext(i, RoleMetadata)
	if err != nil {
		return nil, connectivityError(i.ds.Name(), RoleMetadata, err)
	}
	if err := ec.Connect(ctx, mon, ConnectOptions{MetaOnly: true, Initialize: true}); err != nil {
		return nil, connectivityError(i.ds.Name(), RoleMetadata, err)
	}

	i.metaContext = ec
	i.allContexts = append(i.allContexts, ec)
	return ec, nil
}

// OpenIsolatedContext creates a brand-new context tagged with the given
// purpose, connects it, registers it, and returns it. Isolated contexts are
// never cached or deduplicated: two calls with the same purpose yield two
// distinct contexts. The caller owns the returned context and must close it
// explicitly; that close is the only path that removes it from the registry.
func (i *Instance[DS]) OpenIsolatedContext(ctx context.Context, mon Monitor, purpose string) (ExecutionContext, error) {
	role := IsolatedRole(purpose)

	ec, err := i.ds.CreateExecutionContext(i, role)
	if err != nil {
		return nil, connectivityError(i.ds.Name(), role, err)
	}
	if err := ec.Connect(ctx, mon, ConnectOptions{Purpose: purpose, Isolated: true, Initialize: true}); err != nil {
		return nil, connectivityError(i.ds.Name(), role, err)
	}

	i.mu.Lock()
	i.allContexts = append(i.allContexts, ec)
	i.mu.Unlock()
	return ec, nil
}

// AllContexts returns a point-in-time snapshot of the registry, in creation
// order. Callers may iterate it without holding any lock.
func (i *Instance[DS]) AllContexts() []ExecutionContext {
	i.mu.Lock()
	defer i.mu.Unlock()

	snapshot := make([]ExecutionContext, len(i.allContexts))
	copy(snapshot, i.allContexts)
	return snapshot
}

// DefaultContext resolves the context to use for an operation. The metadata
// context wins when one exists and either meta is requested or no main
// context exists; otherwise the main context is returned. When neither
// exists the degenerate state is logged and nil is returned: this is
// intentionally non-exceptional, unlike the error reporting elsewhere in
// this package, because callers query it opportunistically before any
// connection has been made.
func (i *Instance[DS]) DefaultContext(meta bool) ExecutionContext {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.metaContext != nil && (meta || i.mainContext == nil) {
		return i.metaContext
	}
	if i.mainContext == nil {
		i.log.Debug("no execution context available", "datasource", i.ds.Name())
		return nil
	}
	return i.mainContext
}

// Shutdown closes all of the instance's contexts.
func (i *Instance[DS]) Shutdown(mon Monitor) {
	i.ShutdownKeeping(mon, false)
}

// ShutdownKeeping closes the instance's contexts, optionally keeping the
// metadata context open. It snapshots the registry under the lock and then
// closes outside it: a close may block on network I/O and may trigger
// collaborator callbacks that touch the registry, so holding the lock here
// would deadlock. A context that fails to close is logged and still counts
// as progress; the pass never aborts early. Contexts registered concurrently
// after the snapshot are not closed by this invocation — shutdown is a
// terminal, one-shot operation.
func (i *Instance[DS]) ShutdownKeeping(mon Monitor, keepMeta bool) {
	i.mu.Lock()
	snapshot := make([]ExecutionContext, len(i.allContexts))
	copy(snapshot, i.allContexts)
	meta := i.metaContext
	i.mu.Unlock()

	for _, ec := range snapshot {
		if keepMeta && ec == meta {
			continue
		}
		mon.SubTask(fmt.Sprintf("Close context '%s'", ec.Name()))
		if err := ec.Close(); err != nil {
			i.log.Warn("closing execution context",
				"datasource", i.ds.Name(), "context", ec.Name(), "error", err)
		}
		mon.Worked(1)
	}
}

// Remove implements Owner. It clears the cached main or metadata reference
// when the removed context is one of them (registry membership and the
// fast-path fields must never diverge) and reports whether the context was
// present.
func (i *Instance[DS]) Remove(ec ExecutionContext) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if ec == i.mainContext {
		i.mainContext = nil
	}
	if ec == i.metaContext {
		i.metaContext = nil
	}
	for idx, c := range i.allContexts {
		if c == ec {
			i.allContexts = append(i.allContexts[:idx], i.allContexts[idx+1:]...)
			return true
		}
	}
	return false
}

// Verify interface compliance.
var _ Remote = (*Instance[DataSource])(nil)
