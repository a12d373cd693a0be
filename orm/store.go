package orm

import (
	"context"
	"strings"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Statement is one SQL statement of a batch. Query statements return rows;
// the others are executed for their side effects.
type Statement struct {
	SQL   string
	Args  []any
	Query bool
}

// Store is the relational store adapter.
//
// Batch must run every statement on the same connection inside one
// transaction: a failing statement rolls back the whole batch and its error
// is returned. The result holds one entry per statement, nil for non-queries.
type Store interface {
	Query(ctx context.Context, sql string, args ...any) ([]Row, error)
	Batch(ctx context.Context, stmts []Statement) ([][]Row, error)
}

// Quote quotes an SQL identifier.
func Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
