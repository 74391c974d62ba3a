package instance

// PrefMetaSeparateConnection is the preference key enabling a dedicated
// metadata connection. When disabled (or when the driver is embedded),
// metadata requests are served by the main context.
const PrefMetaSeparateConnection = "meta.separate_connection"

// Driver exposes the capability queries the instance needs from the backend
// driver. Embedded drivers share a single in-process connection and never get
// a separate metadata context.
type Driver interface {
	IsEmbedded() bool
}

// PreferenceStore resolves configuration preferences for a data source.
type PreferenceStore interface {
	Bool(key string) bool
}

// DataSource is the factory an instance delegates context creation to. It is
// a collaborator: the concrete transport (driver, DSN handling, wire
// protocol) lives behind it and is not this package's concern.
type DataSource interface {
	// Name returns the data source's display name.
	Name() string

	// CreateExecutionContext creates a new, not-yet-connected context
	// tagged with the given role, owned by owner.
	CreateExecutionContext(owner Owner, role Role) (ExecutionContext, error)

	// Driver returns the backend driver's capability surface.
	Driver() Driver

	// Preferences returns the data source's preference store.
	Preferences() PreferenceStore
}
