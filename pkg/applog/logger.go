package applog

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New returns a JSON logger writing to w (stdout when nil) at the given level.
// Writes go through zerolog.SyncWriter so concurrent events never interleave.
func New(level string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return zerolog.New(zerolog.SyncWriter(w)).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Reloadable returns a logger whose threshold follows SetLevel, starting at level.
func Reloadable(level string, w io.Writer) zerolog.Logger {
	SetLevel(level)
	return New(zerolog.TraceLevel.String(), w)
}

// SetLevel changes the process-wide threshold. Loggers built by New keep
// their own level as a floor.
func SetLevel(level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
}
