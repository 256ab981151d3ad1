package telemetry

import (
	"log/slog"

	coretelemetry "github.com/wisbric/core/pkg/telemetry"
)

// NewLogger builds the process logger (JSON by default).
func NewLogger(format, level string) *slog.Logger {
	return coretelemetry.NewLogger(format, level)
}
