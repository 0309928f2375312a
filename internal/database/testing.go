package database

import (
	"context"
	"testing"

	"github.com/phrazzld/kit/internal/config"
)

// OpenTestEngine opens a migrated in-memory sqlite engine that is closed
// when the test ends.
func OpenTestEngine(t testing.TB) *Engine {
	t.Helper()
	e, err := Open(context.Background(), config.DatabaseConfig{URL: "sqlite://", Migrate: true}, t.TempDir())
	if err != nil {
		t.Fatalf("failed to open test engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}
