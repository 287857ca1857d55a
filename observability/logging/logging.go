package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig describes an optional rotating log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup configures the standard library logger to emit structured JSON on
// stdout and returns the underlying slog.Logger. All log lines include the
// service name and environment when provided.
func Setup(service, env string) *slog.Logger {
	return SetupWriter(os.Stdout, service, env)
}

// SetupWithFile behaves like Setup but additionally writes every line to a
// rotating file. The returned closer flushes and closes the file.
func SetupWithFile(service, env string, file FileConfig) (*slog.Logger, io.Closer) {
	path := strings.TrimSpace(file.Path)
	if path == "" {
		return Setup(service, env), io.NopCloser(nil)
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    positiveOr(file.MaxSizeMB, 100),
		MaxBackups: positiveOr(file.MaxBackups, 5),
		MaxAge:     positiveOr(file.MaxAgeDays, 28),
		Compress:   true,
	}
	return SetupWriter(io.MultiWriter(os.Stdout, rotator), service, env), rotator
}

// SetupWriter installs a JSON handler writing to w as the process default.
func SetupWriter(w io.Writer, service, env string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: false,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			}
			if attr.Key == slog.LevelKey {
				level := strings.ToUpper(attr.Value.String())
				return slog.String("severity", level)
			}
			if attr.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return redactAttr(attr)
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
