// Package observability owns botlink's structured logging and Prometheus
// instrumentation: the process logger, the gateway call and frame metrics,
// and the gin middleware for the admin surface.
package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger builds the process-wide console logger tagged with the daemon
// name and installs it as the zerolog default. Components derive their own
// loggers from the returned one via With().
func InitLogger(daemon string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).With().Timestamp().Str("daemon", daemon).Logger()
	log.Logger = logger
	return logger
}
