package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jmcallister/perimeter-core/internal/infrastructure/config"
)

// Logger is the structured logger handed to every component of the
// perimeter core. It embeds *slog.Logger, so all the usual Info/Warn/
// Error methods are available directly.
//
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of the configuration.
//
// Every entry carries two fixed fields, service=perimeter and the
// build version, so log aggregation can tell core instances apart.
//
// Parameters:
//   - cfg: logging configuration (level, format, output)
//   - version: build version stamped onto every entry
//
// Returns:
//   - *Logger: configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		output = os.Stderr
	}

	handler := newHandler(output, cfg.Format, parseLevel(cfg.Level)).
		WithAttrs([]slog.Attr{
			slog.String("service", "perimeter"),
			slog.String("version", version),
		})

	return &Logger{Logger: slog.New(handler)}
}

// newHandler selects the slog handler for the configured format.
// JSON is the default; text is for watching a dev console.
func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// parseLevel maps a config string to a slog.Level.
// Unrecognised values fall back to info rather than failing startup.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child Logger carrying additional default attributes.
//
// Example:
//
//	mqttLog := log.With("component", "mqtt")
//	mqttLog.Info("connected") // includes component=mqtt
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default returns a stdout JSON logger at info level for use during
// early startup, before the configuration has been loaded.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

// Discard returns a Logger that drops everything. Tests use it to keep
// component output out of go test's stderr.
func Discard() *Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	})
	return &Logger{Logger: slog.New(handler)}
}
