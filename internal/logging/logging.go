// Package logging configures the process-wide zerolog logger and
// provides context-scoped child loggers for background agents.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger from a level string (e.g. "info",
// "debug"). An empty or unrecognized level defaults to info.
func Init(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
	log.Logger = logger
}

// For returns a child logger tagged with the given agent/component name, for
// attaching consistent structured fields across a background duty cycle.
func For(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// WithUser returns a child logger tagged with a user id, for per-user
// agent work (extraction, enrichment, notification).
func WithUser(l zerolog.Logger, user string) zerolog.Logger {
	return l.With().Str("user_id", user).Logger()
}

// FromContext returns the logger attached to ctx, or the global logger if
// none is attached.
func FromContext(ctx context.Context) *zerolog.Logger {
	return log.Ctx(ctx)
}

// WithContext attaches l to ctx so downstream calls can retrieve it with
// FromContext.
func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}
