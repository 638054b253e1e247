package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var log = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// Options selects level, encoding and destination of the package logger.
type Options struct {
	Level  string
	Format string // "json" (default) or "text"
	Output io.Writer
}

// Init configures the package logger from LOG_LEVEL and LOG_FORMAT.
func Init() {
	Setup(Options{Level: os.Getenv("LOG_LEVEL"), Format: os.Getenv("LOG_FORMAT")})
}

func Setup(o Options) {
	log = New(o)
}

func New(o Options) *slog.Logger {
	w := o.Output
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(o.Level)}
	if strings.EqualFold(o.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func Info(msg string, args ...any)  { log.Info(msg, args...) }
func Warn(msg string, args ...any)  { log.Warn(msg, args...) }
func Error(msg string, args ...any) { log.Error(msg, args...) }
func Debug(msg string, args ...any) { log.Debug(msg, args...) }

func Infof(format string, v ...any) {
	log.Info(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	log.Error(fmt.Sprintf(format, v...))
}

func Fatalf(format string, v ...any) {
	log.Error(fmt.Sprintf(format, v...))
	os.Exit(1)
}

// WithError returns a logger carrying err under the "error" key.
func WithError(err error) *slog.Logger {
	return log.With("error", err)
}

// Component tags every record with the emitting subsystem, e.g. "poller".
func Component(name string) *slog.Logger {
	return log.With("component", name)
}
