// Package logging configures the zerolog logger used throughout the
// gateway. The logger is constructed once in main and threaded explicitly
// through constructors; no package keeps a global logger.
package logging

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/fielddispatch/gateway/internal/config"
)

// New returns a configured zerolog.Logger for the given environment and
// log-level.
func New(cfg *config.Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if cfg.IsDevelopment() {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		return zerolog.New(out).With().Timestamp().Str("service", "dispatch-gateway").Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "dispatch-gateway").Logger()
}
