package database

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/phrazzld/kit/internal/platform/logger"
	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrationsFS embed.FS

// goose keeps its dialect, file system and logger in package state.
var gooseMu sync.Mutex

// slogGooseLogger forwards goose output to slog.
type slogGooseLogger struct {
	log *slog.Logger
}

func (l slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf logs at error level; goose's own Fatalf would exit the process.
func (l slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Migrate runs a goose command over the embedded core migrations of the
// engine's dialect and returns the resulting schema version.
//
// Commands: up [version], down [version], status, version, reset, redo.
func Migrate(ctx context.Context, e *Engine, command string, args ...string) (int64, error) {
	log := logger.FromContext(ctx).With("component", "migrations", "command", command)

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(slogGooseLogger{log: log})
	if err := goose.SetDialect(e.dialect.GooseDialect()); err != nil {
		return 0, fmt.Errorf("failed to set migration dialect: %w", err)
	}
	dir := "migrations/" + e.dialect.Name()

	target := int64(-1)
	if len(args) > 0 {
		v, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid migration version %q: %w", args[0], err)
		}
		target = v
	}

	var err error
	switch command {
	case "up":
		if target >= 0 {
			err = goose.UpToContext(ctx, e.db, dir, target)
		} else {
			err = goose.UpContext(ctx, e.db, dir)
		}
	case "down":
		if target >= 0 {
			err = goose.DownToContext(ctx, e.db, dir, target)
		} else {
			err = goose.DownContext(ctx, e.db, dir)
		}
	case "status":
		err = goose.StatusContext(ctx, e.db, dir)
	case "version":
	case "reset":
		err = goose.ResetContext(ctx, e.db, dir)
	case "redo":
		err = goose.RedoContext(ctx, e.db, dir)
	default:
		return 0, fmt.Errorf("unknown migration command %q", command)
	}
	if err != nil {
		return 0, fmt.Errorf("migration %s failed: %w", command, err)
	}

	version, err := goose.GetDBVersionContext(ctx, e.db)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	log.Debug("migration finished", slog.Int64("version", version))
	return version, nil
}
