// Package instance manages the lifecycle of live execution contexts bound to
// one logical backend database instance: a required main context, an optional
// metadata context, and any number of caller-owned isolated contexts. All
// registry state is guarded by a single per-instance lock; connection
// establishment and teardown are slow, network-bound operations and run
// outside that lock except where noted.
package instance

import "context"

// Role tags an execution context with its function within the instance.
type Role string

const (
	// RoleMain is the instance's primary data connection.
	RoleMain Role = "main"

	// RoleMetadata is the optional secondary connection dedicated to
	// schema and catalog introspection.
	RoleMetadata Role = "metadata"

	isolatedPrefix = "isolated:"
)

// IsolatedRole returns the role tag for an isolated context created for the
// given caller-supplied purpose.
func IsolatedRole(purpose string) Role {
	return Role(isolatedPrefix + purpose)
}

// Isolated reports whether the role tags an isolated context.
func (r Role) Isolated() bool {
	return len(r) > len(isolatedPrefix) && r[:len(isolatedPrefix)] == isolatedPrefix
}

// Purpose returns the caller-supplied purpose of an isolated role, or the
// role itself for main and metadata contexts.
func (r Role) Purpose() string {
	if r.Isolated() {
		return string(r[len(isolatedPrefix):])
	}
	return string(r)
}

// ConnectOptions controls how an execution context establishes its physical
// session.
type ConnectOptions struct {
	// MetaOnly marks the session as dedicated to catalog introspection.
	MetaOnly bool

	// Purpose is the caller-supplied purpose for isolated sessions.
	Purpose string

	// Isolated marks the session as exclusively owned by its opener.
	Isolated bool

	// Initialize warms the context's schema caches after connecting.
	Initialize bool
}

// ExecutionContext represents one physical session to a backend engine. A
// context is exclusively owned by the Instance that created it until it is
// closed. Implementations must deregister themselves from their owner when
// closed (via Owner.Remove); that close path is the only way a context leaves
// the registry.
type ExecutionContext interface {
	// Name returns the context's display name.
	Name() string

	// Role returns the context's role tag.
	Role() Role

	// Connected reports whether the physical session is established.
	Connected() bool

	// Connect establishes the physical session. It may block on network
	// I/O; cancellation is delivered through ctx and forwarded to the
	// transport, never interpreted at this layer.
	Connect(ctx context.Context, mon Monitor, opts ConnectOptions) error

	// Close tears down the physical session and removes the context from
	// its owning instance.
	Close() error
}

// Owner is the registry surface a context uses to deregister itself on
// close. *Instance implements Owner.
type Owner interface {
	// Name returns the owning instance's name.
	Name() string

	// Remove takes the context out of the registry, clearing any cached
	// main or metadata reference that points at it. It reports whether
	// the context was a registry member.
	Remove(ec ExecutionContext) bool
}
