package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/phrazzld/kit/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	root := "/srv/app"
	tests := []struct {
		name     string
		url      string
		driver   string
		dialect  Dialect
		inMemory bool
		dsn      string
	}{
		{name: "memory", url: "sqlite://", driver: "sqlite", dialect: SQLite, inMemory: true, dsn: ":memory:"},
		{name: "relative file", url: "sqlite:///db/app.db", driver: "sqlite", dialect: SQLite, dsn: "file:/srv/app/db/app.db?"},
		{name: "absolute file", url: "sqlite:////var/lib/app.db", driver: "sqlite", dialect: SQLite, dsn: "file:/var/lib/app.db?"},
		{name: "postgres", url: "postgres://u:p@db:5432/kit", driver: "pgx", dialect: PostgreSQL, dsn: "postgres://u:p@db:5432/kit"},
		{name: "postgresql", url: "postgresql://db/kit", driver: "pgx", dialect: PostgreSQL, dsn: "postgresql://db/kit"},
		{name: "mysql", url: "mysql://root:pw@db/kit?charset=utf8mb4", driver: "mysql", dialect: MySQL, dsn: "root:pw@tcp(db:3306)/kit?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseURL(tt.url, root)
			require.NoError(t, err)
			assert.Equal(t, tt.driver, got.driver)
			assert.Equal(t, tt.dialect, got.dialect)
			assert.Equal(t, tt.inMemory, got.inMemory)
			assert.True(t, strings.HasPrefix(got.dsn, tt.dsn), "dsn %q should start with %q", got.dsn, tt.dsn)
		})
	}
}

func TestParseMySQLURLOptions(t *testing.T) {
	got, err := parseURL("mysql://root:pw@db:3307/kit?charset=utf8mb4", "")
	require.NoError(t, err)
	assert.Contains(t, got.dsn, "tcp(db:3307)")
	assert.Contains(t, got.dsn, "parseTime=true")
	assert.Contains(t, got.dsn, "charset=utf8mb4")
}

func TestParseURLUnsupported(t *testing.T) {
	for _, raw := range []string{"oracle://scott:tiger@db/orcl", "not a url"} {
		_, err := parseURL(raw, "")
		assert.ErrorIs(t, err, ErrUnsupportedURL)
		assert.NotContains(t, err.Error(), "tiger")
	}
}

func TestOpenInMemoryRunsMigrations(t *testing.T) {
	e := OpenTestEngine(t)

	assert.True(t, e.InMemory())
	assert.Equal(t, SQLite, e.Dialect())

	ctx := context.Background()
	for _, table := range []string{"kit_tasks", "kit_users"} {
		var n int
		err := e.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s should exist", table)
	}

	version, err := Migrate(ctx, e, "version")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestOpenFileDatabase(t *testing.T) {
	root := t.TempDir()
	cfg := config.DatabaseConfig{
		URL:     "sqlite:///data.db",
		Migrate: false,
		Engine:  config.EngineConfig{MaxOpenConns: 4, MaxIdleConns: 2},
	}

	e, err := Open(context.Background(), cfg, root)
	require.NoError(t, err)
	defer e.Close()

	assert.False(t, e.InMemory())
	assert.FileExists(t, filepath.Join(root, "data.db"))
}

func TestMigrateDownAndUp(t *testing.T) {
	e := OpenTestEngine(t)
	ctx := context.Background()

	version, err := Migrate(ctx, e, "down")
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)

	version, err = Migrate(ctx, e, "up")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	_, err = Migrate(ctx, e, "sideways")
	assert.Error(t, err)
}
