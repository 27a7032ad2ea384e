package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ServiceName is stamped on every line the engine writes.
const ServiceName = "payment-webhook-engine"

// New builds the engine logger. level accepts zerolog level names and
// falls back to info; pretty switches to console output for local runs.
func New(level string, pretty bool) zerolog.Logger {
	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return base(level, w).Caller().Logger()
}

// NewWithWriter builds the engine logger on w, without caller info.
func NewWithWriter(level string, w io.Writer) zerolog.Logger {
	return base(level, w).Logger()
}

func base(level string, w io.Writer) zerolog.Context {
	return zerolog.New(w).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Str("service", ServiceName)
}

// WithCorrelation tags every line with the correlation id a delivery
// carries from intake to its last attempt.
func WithCorrelation(log zerolog.Logger, correlationID string) zerolog.Logger {
	if correlationID == "" {
		return log
	}
	return log.With().Str("correlation_id", correlationID).Logger()
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
