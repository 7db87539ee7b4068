// Package logger builds the root zerolog logger shared by both binaries.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New returns the root logger and installs it as the global one. Local and
// dev environments get a console writer at debug level, everything else
// JSON at info. level overrides the default when it parses.
func New(env, level string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}

	lvl := zerolog.InfoLevel
	local := env == "local" || env == "dev"
	if local {
		lvl = zerolog.DebugLevel
		w = zerolog.ConsoleWriter{Out: w}
	}
	if level != "" {
		if parsed, err := zerolog.ParseLevel(level); err == nil {
			lvl = parsed
		}
	}

	l := zerolog.New(w).Level(lvl).With().Timestamp().Caller().Logger()
	log.Logger = l
	return l
}
