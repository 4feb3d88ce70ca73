package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger from environment variables.
//
// LOG_LEVEL controls the level: debug, info, warn, error (default: info).
// LOG_FORMAT=console switches to the human-readable writer; anything else
// keeps zerolog's JSON output, which CloudWatch Logs Insights can query.
func Init() {
	InitWithWriter(os.Stderr)
}

// InitWithWriter is Init with an explicit destination. Tests use it to capture output.
func InitWithWriter(w io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv("LOG_LEVEL")))

	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		w = zerolog.ConsoleWriter{Out: w}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// ParseLevel maps a LOG_LEVEL value to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
