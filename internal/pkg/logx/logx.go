/*
Package logx wraps zerolog for the relay server.

It owns the process-wide logger, picks a console or JSON encoder depending on
the environment, and exposes short helpers for the levels used across the code
base. Long-lived components derive their own child logger via For.
*/
package logx

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitGlobalLogger configures the global zerolog instance.
//
// In development the output is a colored console stream at debug level. Otherwise
// records are emitted as JSON at the level named by level ("info" when empty or
// unknown). Every record carries a timestamp and the caller.
func InitGlobalLogger(isDevelopment bool, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var out io.Writer = os.Stdout
	lvl := parseLevel(level, zerolog.InfoLevel)

	if isDevelopment {
		out = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
		lvl = parseLevel(level, zerolog.DebugLevel)
	}

	log.Logger = zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Caller().
		Logger()
}

func parseLevel(level string, fallback zerolog.Level) zerolog.Level {
	if level == "" {
		return fallback
	}

	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || parsed == zerolog.NoLevel {
		return fallback
	}

	return parsed
}

// Logger returns the global logger.
func Logger() *zerolog.Logger {
	return &log.Logger
}

// For returns a child of the global logger tagged with the given component name.
func For(component string) zerolog.Logger {
	return Logger().With().Str("component", component).Logger()
}

// checkFields drops an odd-length key/value list instead of letting zerolog
// mis-pair keys and values.
func checkFields(level string, fields []any) []any {
	if len(fields)%2 != 0 {
		Logger().Warn().
			Int("fields_count", len(fields)).
			Str("log_level", level).
			Msg("logx call received an odd number of fields; fields ignored")
		return nil
	}
	return fields
}

// Info logs msg at info level with optional key/value pairs.
func Info(msg string, fields ...any) {
	Logger().Info().
		Fields(checkFields("info", fields)).
		CallerSkipFrame(1).
		Msg(msg)
}

// Warn logs msg at warn level with optional key/value pairs.
func Warn(msg string, fields ...any) {
	Logger().Warn().
		Fields(checkFields("warn", fields)).
		CallerSkipFrame(1).
		Msg(msg)
}

// Error logs err and msg at error level with optional key/value pairs.
func Error(err error, msg string, fields ...any) {
	Logger().Error().
		Err(err).
		Fields(checkFields("error", fields)).
		CallerSkipFrame(1).
		Msg(msg)
}

// Fatal logs err and msg at fatal level and exits the process.
func Fatal(err error, msg string, fields ...any) {
	Logger().Fatal().
		Err(err).
		Fields(checkFields("fatal", fields)).
		CallerSkipFrame(1).
		Msg(msg)
}
