package logger

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog logger writing console output to w at the given
// level string (debug, info, warn, error).
func New(w io.Writer, level string) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}

	l := zerolog.New(output).Level(parseLevel(level)).With().Timestamp().Logger()
	return &l
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
