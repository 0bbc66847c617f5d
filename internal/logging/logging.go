// Package logging centralizes zerolog construction so every component gets
// the same structured, leveled logger instead of ad hoc log.Printf calls.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to w (os.Stdout in production) at the
// given level name ("debug", "info", "warn", "error"; defaults to "info"
// on anything else). console controls whether output is the
// human-readable ConsoleWriter (for local dev) or raw JSON lines (for
// production log aggregation).
func New(w io.Writer, levelName string, console bool) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = w
	if console {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Default returns a production-shaped logger: JSON to stdout, info level.
func Default() zerolog.Logger {
	return New(os.Stdout, "info", false)
}
