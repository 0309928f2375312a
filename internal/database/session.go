package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/phrazzld/kit/internal/platform/logger"
)

// ErrSessionClosed is returned by a session used after Close.
var ErrSessionClosed = errors.New("session is closed")

// Session is a unit of work over an Engine. Its first statement begins a
// transaction; Commit and Rollback end it and the next statement begins a
// new one. A Session is safe for concurrent use.
type Session struct {
	engine *Engine

	mu     sync.Mutex
	tx     *sql.Tx
	closed bool
	err    error
}

// NewSession returns a session without an open transaction.
func (e *Engine) NewSession() *Session {
	return &Session{engine: e}
}

// Engine returns the engine the session runs on.
func (s *Session) Engine() *Engine { return s.engine }

// Tx returns the session transaction, beginning it if needed.
func (s *Session) Tx(ctx context.Context) (*sql.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txLocked(ctx)
}

func (s *Session) txLocked(ctx context.Context) (*sql.Tx, error) {
	if s.closed {
		s.err = ErrSessionClosed
		return nil, s.err
	}
	if s.tx != nil {
		return s.tx, nil
	}
	// The transaction outlives the statement that begins it.
	tx, err := s.engine.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		s.err = fmt.Errorf("failed to begin session transaction: %w", err)
		return nil, s.err
	}
	s.tx, s.err = tx, nil
	return tx, nil
}

// Err returns why the last statement could not get a transaction, or nil.
// QueryRowContext cannot carry that cause in the row it returns.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Active reports whether a transaction is open.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

// ExecContext runs a statement in the session transaction.
func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	tx, err := s.Tx(ctx)
	if err != nil {
		return nil, err
	}
	query = s.engine.Rebind(query)
	s.engine.logQuery(ctx, query, args)
	return tx.ExecContext(ctx, query, args...)
}

// QueryContext runs a query in the session transaction.
func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	tx, err := s.Tx(ctx)
	if err != nil {
		return nil, err
	}
	query = s.engine.Rebind(query)
	s.engine.logQuery(ctx, query, args)
	return tx.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single row query in the session transaction. When
// the session is closed or the transaction cannot begin, Scan on the
// returned row reports context.Canceled; the cause is logged and kept for
// Err. Callers needing the cause directly call Tx first.
func (s *Session) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	tx, err := s.Tx(ctx)
	if err != nil {
		logger.FromContext(ctx).Error("session query failed", "error", err)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		return s.engine.db.QueryRowContext(cctx, query, args...)
	}
	query = s.engine.Rebind(query)
	s.engine.logQuery(ctx, query, args)
	return tx.QueryRowContext(ctx, query, args...)
}

// Commit commits the open transaction, if any.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Commit()
}

// Rollback rolls back the open transaction, if any.
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// Close rolls back the open transaction and makes the session unusable.
func (s *Session) Close() error {
	err := s.Rollback()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}
