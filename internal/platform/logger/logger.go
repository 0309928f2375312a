package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/phrazzld/kit/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DebugFileName is the file written inside the log folder.
const DebugFileName = "debug.log"

type ctxKey struct{}

// ParseLevel converts a configured level name to a slog.Level.
// Unknown names fall back to info.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// Setup builds the application logger and installs it as the slog default.
//
// Records go to stdout, plus a rotated debug.log when cfg.Folder is set. In
// debug mode the level is lowered to debug regardless of cfg.Level. The
// returned closer releases the log file and must be called on shutdown.
func Setup(cfg config.LogConfig, debug bool) (*slog.Logger, io.Closer, error) {
	return setup(cfg, debug, os.Stdout)
}

func setup(cfg config.LogConfig, debug bool, stdout io.Writer) (*slog.Logger, io.Closer, error) {
	level, ok := ParseLevel(cfg.Level)
	if !ok {
		tmp := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmp.Warn("invalid log level configured, using default level",
			"configured_level", cfg.Level,
			"default_level", "info")
	}
	if debug {
		level = slog.LevelDebug
	}

	out := stdout
	var closer io.Closer = nopCloser{}
	if cfg.Folder != "" {
		if err := os.MkdirAll(cfg.Folder, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log folder %s: %w", cfg.Folder, err)
		}
		file := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Folder, DebugFileName),
			MaxSize:    1, // megabytes
			MaxBackups: 5,
			Compress:   false,
		}
		out = io.MultiWriter(stdout, file)
		closer = file
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: debug}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// WithLogger returns a context carrying l. It panics on a nil logger.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	if l == nil {
		panic("logger: nil logger")
	}
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	return FromContextOrDefault(ctx, slog.Default())
}

// FromContextOrDefault returns the logger stored in ctx, or def.
func FromContextOrDefault(ctx context.Context, def *slog.Logger) *slog.Logger {
	if ctx == nil {
		return def
	}
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return def
}
