package observability

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var root atomic.Pointer[zerolog.Logger]

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	l := newRoot(os.Stdout, ParseLogLevel(os.Getenv("TM_LOG_LEVEL")))
	root.Store(&l)
}

// SetupLogging replaces the process logger. Call it once from main before
// any component logger is derived; earlier loggers keep the old settings.
func SetupLogging(level string, pretty bool) {
	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	}
	l := newRoot(w, ParseLogLevel(level))
	root.Store(&l)
}

// NewLogger derives a component logger from the process logger.
func NewLogger(component string) zerolog.Logger {
	return root.Load().With().Str("component", component).Logger()
}

// NewLoggerTo builds a standalone logger on w.
func NewLoggerTo(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return newRoot(w, level).With().Str("component", component).Logger()
}

func newRoot(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// ParseLogLevel accepts zerolog level names in any case. Unknown or empty
// names mean info.
func ParseLogLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
