package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/phrazzld/kit/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxOptions(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		cfg     config.SessionConfig
		want    *sql.TxOptions
	}{
		{name: "defaults", dialect: PostgreSQL, want: nil},
		{name: "sqlite ignores isolation", dialect: SQLite, cfg: config.SessionConfig{Isolation: "serializable"}, want: nil},
		{name: "sqlite ignores read only", dialect: SQLite, cfg: config.SessionConfig{ReadOnly: true}, want: nil},
		{name: "read uncommitted", dialect: MySQL, cfg: config.SessionConfig{Isolation: "read_uncommitted"},
			want: &sql.TxOptions{Isolation: sql.LevelReadUncommitted}},
		{name: "read committed", dialect: PostgreSQL, cfg: config.SessionConfig{Isolation: "read_committed"},
			want: &sql.TxOptions{Isolation: sql.LevelReadCommitted}},
		{name: "repeatable read", dialect: MySQL, cfg: config.SessionConfig{Isolation: "repeatable_read"},
			want: &sql.TxOptions{Isolation: sql.LevelRepeatableRead}},
		{name: "serializable", dialect: PostgreSQL, cfg: config.SessionConfig{Isolation: "serializable"},
			want: &sql.TxOptions{Isolation: sql.LevelSerializable}},
		{name: "read only", dialect: PostgreSQL, cfg: config.SessionConfig{ReadOnly: true},
			want: &sql.TxOptions{ReadOnly: true}},
		{name: "read only serializable", dialect: MySQL, cfg: config.SessionConfig{Isolation: "serializable", ReadOnly: true},
			want: &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, txOptions(tt.dialect, tt.cfg))
		})
	}
}

// recordingConnector is a driver that remembers the options of every
// transaction and, like a database server, refuses writes in read-only
// transactions.
type recordingConnector struct {
	mu   sync.Mutex
	opts []driver.TxOptions
}

func (c *recordingConnector) Connect(context.Context) (driver.Conn, error) {
	return &recordingConn{connector: c}, nil
}

func (c *recordingConnector) Driver() driver.Driver { return recordingDriver{c} }

func (c *recordingConnector) begun() []driver.TxOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]driver.TxOptions(nil), c.opts...)
}

type recordingDriver struct{ c *recordingConnector }

func (d recordingDriver) Open(string) (driver.Conn, error) { return d.c.Connect(context.Background()) }

type recordingConn struct {
	connector *recordingConnector
	readOnly  bool
}

func (c *recordingConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepared statements are not supported")
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *recordingConn) BeginTx(_ context.Context, opts driver.TxOptions) (driver.Tx, error) {
	c.connector.mu.Lock()
	c.connector.opts = append(c.connector.opts, opts)
	c.connector.mu.Unlock()
	c.readOnly = opts.ReadOnly
	return recordingTx{c}, nil
}

func (c *recordingConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	if c.readOnly && !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") {
		return nil, errors.New("cannot execute INSERT in a read-only transaction")
	}
	return driver.RowsAffected(1), nil
}

type recordingTx struct{ c *recordingConn }

func (tx recordingTx) Commit() error {
	tx.c.readOnly = false
	return nil
}

func (tx recordingTx) Rollback() error {
	tx.c.readOnly = false
	return nil
}

func newRecordingEngine(t *testing.T, cfg config.SessionConfig) (*Engine, *recordingConnector) {
	t.Helper()
	c := &recordingConnector{}
	db := sql.OpenDB(c)
	t.Cleanup(func() { _ = db.Close() })
	return &Engine{db: db, dialect: PostgreSQL, txOpts: txOptions(PostgreSQL, cfg)}, c
}

func TestSessionUsesConfiguredTxOptions(t *testing.T) {
	e, c := newRecordingEngine(t, config.SessionConfig{Isolation: "serializable", ReadOnly: true})
	ctx := context.Background()

	s := e.NewSession()
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.ExecContext(ctx, "INSERT INTO visits (date) VALUES (?)", "2024-05-01")
	require.Error(t, err, "A read-only session must not write")
	assert.Contains(t, err.Error(), "read-only transaction")

	begun := c.begun()
	require.Len(t, begun, 1)
	assert.True(t, begun[0].ReadOnly)
	assert.Equal(t, driver.IsolationLevel(sql.LevelSerializable), begun[0].Isolation)
}

func TestSessionDefaultTxOptionsAllowWrites(t *testing.T) {
	e, c := newRecordingEngine(t, config.SessionConfig{})

	s := e.NewSession()
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.ExecContext(context.Background(), "INSERT INTO visits (date) VALUES (?)", "2024-05-01")
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	begun := c.begun()
	require.Len(t, begun, 1)
	assert.False(t, begun[0].ReadOnly)
	assert.Equal(t, driver.IsolationLevel(sql.LevelDefault), begun[0].Isolation)
}

func TestClosedSessionQueryRowKeepsCause(t *testing.T) {
	e := OpenTestEngine(t)
	createVisits(t, e)
	ctx := context.Background()

	s := e.NewSession()
	assert.NoError(t, s.Err())
	require.NoError(t, s.Close())

	var n int
	err := s.QueryRowContext(ctx, "SELECT COUNT(*) FROM visits").Scan(&n)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Err(), ErrSessionClosed, "The cause is kept on the session")

	_, err = s.Tx(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)
}
