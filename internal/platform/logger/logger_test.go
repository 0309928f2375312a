package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/phrazzld/kit/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		want  slog.Level
		valid bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"", slog.LevelInfo, true},
		{"loud", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseLevel(tt.name)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.valid, ok)
		})
	}
}

func TestSetupWritesJSON(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	buf := &TestLogBuffer{}
	l, closer, err := setup(config.LogConfig{Level: "warn", Format: "json"}, false, buf)
	require.NoError(t, err)
	defer closer.Close()

	l.Info("hidden")
	l.Warn("shown", "component", "test")

	entries, err := buf.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0]["msg"])
	assert.Equal(t, "test", entries[0]["component"])
	assert.Same(t, l, slog.Default(), "Setup must install the default logger")
}

func TestSetupDebugOverridesLevel(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	buf := &TestLogBuffer{}
	l, _, err := setup(config.LogConfig{Level: "error", Format: "text"}, true, buf)
	require.NoError(t, err)

	l.Debug("visible in debug mode")
	assert.Contains(t, buf.String(), "visible in debug mode")
	assert.False(t, strings.HasPrefix(buf.String(), "{"), "text format expected")
}

func TestSetupWritesDebugFile(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	dir := filepath.Join(t.TempDir(), "logs")
	buf := &TestLogBuffer{}
	l, closer, err := setup(config.LogConfig{Level: "info", Format: "json", Folder: dir}, false, buf)
	require.NoError(t, err)

	l.Info("to both")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, DebugFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}

func TestFromContext(t *testing.T) {
	custom := slog.New(slog.NewTextHandler(&TestLogBuffer{}, nil))

	assert.Same(t, slog.Default(), FromContext(context.Background()))
	//nolint:staticcheck // nil context is accepted on purpose
	assert.Same(t, custom, FromContextOrDefault(nil, custom))
	assert.Same(t, custom, FromContext(WithLogger(context.Background(), custom)))
	assert.Panics(t, func() { WithLogger(context.Background(), nil) })
}
