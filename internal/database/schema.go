package database

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// Schema maps a dialect name to the idempotent DDL statements creating a
// module's tables. The "" key applies to every dialect without its own
// entry.
type Schema map[string][]string

// EnsureSchema runs the statements of s for the engine's dialect, in order.
func (e *Engine) EnsureSchema(ctx context.Context, s Schema) error {
	stmts, ok := s[e.dialect.Name()]
	if !ok {
		stmts = s[""]
	}
	for _, stmt := range stmts {
		if _, err := e.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

var tablesQuery = map[string]string{
	"sqlite":   `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`,
	"postgres": `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema()`,
	"mysql":    `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE()`,
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Tables lists the tables of the connected database, sorted by name.
func (e *Engine) Tables(ctx context.Context) ([]string, error) {
	return listTables(ctx, e, e.dialect)
}

// Tables lists the tables visible to the session transaction.
func (s *Session) Tables(ctx context.Context) ([]string, error) {
	return listTables(ctx, s, s.engine.dialect)
}

func listTables(ctx context.Context, q queryer, d Dialect) ([]string, error) {
	rows, err := q.QueryContext(ctx, tablesQuery[d.Name()])
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to list tables: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// TableNamer can be implemented by model types to override the derived
// table name.
type TableNamer interface {
	TableName() string
}

// TableName returns the table name of model type T: its TableName method
// when it has one, otherwise the pluralised snake_case type name
// (Visit → visits, RetweetCount → retweet_counts).
func TableName[T any]() string {
	var zero T
	if tn, ok := any(zero).(TableNamer); ok {
		return tn.TableName()
	}
	if tn, ok := any(&zero).(TableNamer); ok {
		return tn.TableName()
	}

	t := reflect.TypeOf(&zero).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return inflection.Plural(CamelToSnake(t.Name()))
}

// CamelToSnake converts CamelCase to snake_case, keeping acronyms together:
// "UserID" → "user_id", "HTTPRequest" → "http_request".
func CamelToSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if !unicode.IsUpper(r) {
			b.WriteRune(r)
			continue
		}
		if i > 0 {
			prev := runes[i-1]
			var next rune
			if i+1 < len(runes) {
				next = runes[i+1]
			}
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && unicode.IsLower(next)) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
