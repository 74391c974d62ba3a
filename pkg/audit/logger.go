// Package audit provides audit logging for execution context lifecycle
// events.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Logger defines the interface for audit logging.
type Logger interface {
	// Log records an audit event.
	Log(ctx context.Context, event Event) error

	// Query retrieves audit events matching the filter.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Close releases resources.
	Close() error
}

// Event represents one lifecycle event of an execution context or instance.
type Event struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Type         EventType `json:"type"`
	Instance     string    `json:"instance"`
	Context      string    `json:"context,omitempty"`
	Role         string    `json:"role,omitempty"`
	Purpose      string    `json:"purpose,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// QueryFilter defines criteria for querying audit events.
type QueryFilter struct {
	StartTime *time.Time
	EndTime   *time.Time
	Type      EventType
	Instance  string
	Success   *bool
	Limit     int
	Offset    int
}

// Config configures audit logging.
type Config struct {
	Enabled       bool
	RetentionDays int
}

// NoopLogger discards all events. It is the default when auditing is
// disabled.
type NoopLogger struct{}

func (NoopLogger) Log(context.Context, Event) error { return nil }

func (NoopLogger) Query(context.Context, QueryFilter) ([]Event, error) { return nil, nil }

func (NoopLogger) Close() error { return nil }

// SlogLogger writes events to a structured logger. It supports Log only;
// Query always returns no events.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger-backed audit sink. A nil logger falls back
// to slog.Default().
func NewSlogLogger(log *slog.Logger) *SlogLogger {
	if log == nil {
		log = slog.Default()
	}
	return &SlogLogger{log: log}
}

func (l *SlogLogger) Log(_ context.Context, event Event) error {
	l.log.Info("audit event",
		"type", event.Type,
		"instance", event.Instance,
		"context", event.Context,
		"role", event.Role,
		"success", event.Success,
		"duration_ms", event.DurationMS,
		"error", event.ErrorMessage,
	)
	return nil
}

func (l *SlogLogger) Query(context.Context, QueryFilter) ([]Event, error) {
	return nil, nil
}

func (l *SlogLogger) Close() error { return nil }

// Verify interface compliance.
var (
	_ Logger = NoopLogger{}
	_ Logger = (*SlogLogger)(nil)
)
