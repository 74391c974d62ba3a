package instance

import (
	"errors"
	"fmt"
)

// ConnectivityError indicates that creating or connecting an execution
// context failed. It is propagated to the immediate caller and never retried
// internally; the caller decides whether to retry the initializing operation.
type ConnectivityError struct {
	// DataSource is the name of the data source the connect targeted.
	DataSource string

	// Role is the role of the context that failed.
	Role Role

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connecting %s context to %q: %v", e.Role, e.DataSource, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// IsConnectivityError reports whether err wraps a ConnectivityError.
func IsConnectivityError(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

func connectivityError(ds string, role Role, err error) *ConnectivityError {
	return &ConnectivityError{DataSource: ds, Role: role, Err: err}
}
