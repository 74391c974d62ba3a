package instance

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoopMonitor_DiscardsReports(t *testing.T) {
	var mon Monitor = NoopMonitor{}

	assert.NotPanics(t, func() {
		mon.SubTask("Close context 'x'")
		mon.Worked(1)
	})
}

func TestSlogMonitor_ReportsAtDebug(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	mon := NewSlogMonitor(log)
	mon.SubTask("Connect to 'analytics'")
	mon.Worked(2)

	out := buf.String()
	assert.Contains(t, out, "Connect to 'analytics'")
	assert.Contains(t, out, "worked=2")
}

func TestSlogMonitor_NilLoggerUsesDefault(t *testing.T) {
	mon := NewSlogMonitor(nil)
	assert.NotPanics(t, func() { mon.SubTask("x") })
}
