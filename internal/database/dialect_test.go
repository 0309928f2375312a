package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		query   string
		want    string
	}{
		{
			name:    "postgres numbers placeholders",
			dialect: PostgreSQL,
			query:   "INSERT INTO visits (id, date) VALUES (?, ?)",
			want:    "INSERT INTO visits (id, date) VALUES ($1, $2)",
		},
		{
			name:    "quoted question marks are kept",
			dialect: PostgreSQL,
			query:   "SELECT '?' AS q, \"a?b\" FROM t WHERE id = ?",
			want:    "SELECT '?' AS q, \"a?b\" FROM t WHERE id = $1",
		},
		{
			name:    "sqlite unchanged",
			dialect: SQLite,
			query:   "SELECT * FROM t WHERE a = ? AND b = ?",
			want:    "SELECT * FROM t WHERE a = ? AND b = ?",
		},
		{
			name:    "mysql unchanged",
			dialect: MySQL,
			query:   "SELECT ?",
			want:    "SELECT ?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Rebind(tt.dialect, tt.query))
		})
	}
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"visits"`, SQLite.QuoteIdent("visits"))
	assert.Equal(t, `"visits"`, PostgreSQL.QuoteIdent("visits"))
	assert.Equal(t, "`visits`", MySQL.QuoteIdent("visits"))
}
