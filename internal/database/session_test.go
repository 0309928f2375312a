package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createVisits(t *testing.T, e *Engine) {
	t.Helper()
	require.NoError(t, e.EnsureSchema(context.Background(), Schema{
		"": {"CREATE TABLE IF NOT EXISTS visits (id INTEGER PRIMARY KEY, date TEXT NOT NULL)"},
	}))
}

func countVisits(t *testing.T, s *Session) int {
	t.Helper()
	var n int
	require.NoError(t, s.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM visits").Scan(&n))
	return n
}

func TestSessionLazyTransaction(t *testing.T) {
	e := OpenTestEngine(t)
	createVisits(t, e)
	ctx := context.Background()

	s := e.NewSession()
	assert.False(t, s.Active(), "no transaction before the first statement")

	_, err := s.ExecContext(ctx, "INSERT INTO visits (date) VALUES (?)", "2024-05-01")
	require.NoError(t, err)
	assert.True(t, s.Active())

	require.NoError(t, s.Commit())
	assert.False(t, s.Active())
	assert.Equal(t, 1, countVisits(t, s), "committed rows are visible to the next transaction")
	require.NoError(t, s.Close())
}

func TestSessionRollback(t *testing.T) {
	e := OpenTestEngine(t)
	createVisits(t, e)
	ctx := context.Background()
	s := e.NewSession()

	_, err := s.ExecContext(ctx, "INSERT INTO visits (date) VALUES (?)", "2024-05-01")
	require.NoError(t, err)
	require.NoError(t, s.Rollback())

	assert.Equal(t, 0, countVisits(t, s))
	require.NoError(t, s.Close())
}

func TestSessionClose(t *testing.T) {
	e := OpenTestEngine(t)
	createVisits(t, e)
	ctx := context.Background()
	s := e.NewSession()

	_, err := s.ExecContext(ctx, "INSERT INTO visits (date) VALUES (?)", "2024-05-01")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.ExecContext(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.NoError(t, s.Commit(), "commit without transaction is a no-op")

	other := e.NewSession()
	assert.Equal(t, 0, countVisits(t, other), "close discards uncommitted work")
	require.NoError(t, other.Close())
}
