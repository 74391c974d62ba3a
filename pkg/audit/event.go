package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType categorizes audit events.
type EventType string

const (
	// EventTypeContextOpened records a successfully connected execution
	// context.
	EventTypeContextOpened EventType = "context_opened"

	// EventTypeContextClosed records an execution context teardown.
	EventTypeContextClosed EventType = "context_closed"

	// EventTypeConnectFailed records a failed connection attempt.
	EventTypeConnectFailed EventType = "connect_failed"

	// EventTypeInstanceShutdown records an instance-wide shutdown.
	EventTypeInstanceShutdown EventType = "instance_shutdown"
)

// NewEvent creates a new audit event for an instance.
func NewEvent(eventType EventType, instanceName string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Type:      eventType,
		Instance:  instanceName,
		Success:   true,
	}
}

// WithContext adds execution context information to the event.
func (e *Event) WithContext(name, role string) *Event {
	e.Context = name
	e.Role = role
	return e
}

// WithPurpose adds the isolated context's purpose to the event.
func (e *Event) WithPurpose(purpose string) *Event {
	e.Purpose = purpose
	return e
}

// WithError marks the event as failed.
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	return e
}

// WithDuration adds the operation duration to the event.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.DurationMS = d.Milliseconds()
	return e
}
