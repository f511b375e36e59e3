// Package logging builds the process-wide zerolog.Logger from config.
package logging

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/adred-codev/gatewaymux/internal/config"
)

// New builds a logger according to cfg.LogLevel / cfg.LogFormat.
// "console" produces a human-readable writer for local development;
// anything else (including the default "json") logs structured JSON
// to stdout, suitable for aggregation.
func New(cfg *config.Config) zerolog.Logger {
	var writer = os.Stdout

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if cfg.LogFormat == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: writer}).
			Level(cfg.ZerologLevel()).
			With().
			Timestamp().
			Logger()
	}

	return zerolog.New(writer).
		Level(cfg.ZerologLevel()).
		With().
		Timestamp().
		Logger()
}
