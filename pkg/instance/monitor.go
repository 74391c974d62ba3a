package instance

import "log/slog"

// Monitor receives progress reports from blocking lifecycle operations. It is
// a cooperative collaborator: this package forwards it to connect and close
// paths but never interprets cancellation itself (that is ctx's job) and
// never enforces timeouts.
type Monitor interface {
	// SubTask reports the label of the step about to run.
	SubTask(label string)

	// Worked reports units of completed progress.
	Worked(units int)
}

// NoopMonitor discards all progress reports.
type NoopMonitor struct{}

// SubTask implements Monitor.
func (NoopMonitor) SubTask(string) {}

// Worked implements Monitor.
func (NoopMonitor) Worked(int) {}

// SlogMonitor reports progress to a structured logger at debug level.
type SlogMonitor struct {
	log *slog.Logger
}

// NewSlogMonitor creates a monitor backed by the given logger. A nil logger
// falls back to slog.Default().
func NewSlogMonitor(log *slog.Logger) *SlogMonitor {
	if log == nil {
		log = slog.Default()
	}
	return &SlogMonitor{log: log}
}

// SubTask implements Monitor.
func (m *SlogMonitor) SubTask(label string) {
	m.log.Debug("progress", "subtask", label)
}

// Worked implements Monitor.
func (m *SlogMonitor) Worked(units int) {
	m.log.Debug("progress", "worked", units)
}

// Verify interface compliance.
var (
	_ Monitor = NoopMonitor{}
	_ Monitor = (*SlogMonitor)(nil)
)
