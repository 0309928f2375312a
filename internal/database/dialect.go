package database

import (
	"strconv"
	"strings"
)

// Dialect abstracts the SQL differences between the supported engines.
type Dialect interface {
	// Name is one of "sqlite", "postgres" or "mysql".
	Name() string

	// Placeholder returns the bind parameter for the 1-based index.
	Placeholder(index int) string

	// QuoteIdent quotes a table or column name.
	QuoteIdent(name string) string

	// GooseDialect names the dialect for the migration tool.
	GooseDialect() string
}

var (
	// SQLite is the Dialect for modernc.org/sqlite.
	SQLite Dialect = sqliteDialect{}

	// PostgreSQL is the Dialect for pgx.
	PostgreSQL Dialect = postgresDialect{}

	// MySQL is the Dialect for MySQL and MariaDB.
	MySQL Dialect = mysqlDialect{}
)

type sqliteDialect struct{}

func (sqliteDialect) Name() string                  { return "sqlite" }
func (sqliteDialect) Placeholder(_ int) string      { return "?" }
func (sqliteDialect) QuoteIdent(name string) string { return `"` + name + `"` }
func (sqliteDialect) GooseDialect() string          { return "sqlite3" }

type postgresDialect struct{}

func (postgresDialect) Name() string                  { return "postgres" }
func (postgresDialect) Placeholder(index int) string  { return "$" + strconv.Itoa(index) }
func (postgresDialect) QuoteIdent(name string) string { return `"` + name + `"` }
func (postgresDialect) GooseDialect() string          { return "postgres" }

type mysqlDialect struct{}

func (mysqlDialect) Name() string                  { return "mysql" }
func (mysqlDialect) Placeholder(_ int) string      { return "?" }
func (mysqlDialect) QuoteIdent(name string) string { return "`" + name + "`" }
func (mysqlDialect) GooseDialect() string          { return "mysql" }

// Rebind rewrites the '?' placeholders of query for d. Question marks inside
// quoted strings and identifiers are left alone.
func Rebind(d Dialect, query string) string {
	if d.Placeholder(1) == "?" || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	var quote rune
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == '?':
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
