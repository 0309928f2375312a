// Package database opens the configured SQL engine and provides scoped
// sessions: a session is the unit of work of one request, one task or one
// shell, and lazily begins a transaction on its first statement.
//
// Statements are written with '?' placeholders and rebound for the engine's
// dialect, so modules run unchanged on SQLite, PostgreSQL and MySQL.
package database
