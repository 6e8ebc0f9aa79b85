package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var log zerolog.Logger

func init() {
	Configure(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Stderr)
}

// ParseLevel maps LOG_LEVEL values to a Level. Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DebugLevel
	case "WARN":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Configure replaces the package logger. format "console" writes human
// readable lines, anything else writes JSON.
func Configure(level, format string, out io.Writer) {
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	log = zerolog.New(out).
		Level(toZerolog(ParseLevel(level))).
		With().
		Timestamp().
		Str("service", "bunker-oracle").
		Logger()
}

func toZerolog(l Level) zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func Debug(format string, args ...interface{}) {
	log.Debug().Msgf(format, args...)
}

func Info(format string, args ...interface{}) {
	log.Info().Msgf(format, args...)
}

func Warn(format string, args ...interface{}) {
	log.Warn().Msgf(format, args...)
}

func Error(format string, args ...interface{}) {
	log.Error().Msgf(format, args...)
}
