// Package sqlite adapts a SQLite database to the orm.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cloesce/cloesce/idl"
	"github.com/cloesce/cloesce/orm"
	"github.com/cloesce/cloesce/sqlschema"
)

// DB wraps a SQLite connection pool.
type DB struct {
	*sql.DB
}

// Open opens the database at path, which may be ":memory:".
//
// The pool is limited to a single connection: temporary tables and
// in-memory databases are per connection, and SQLite serializes writers
// anyway.
func Open(path string) (*DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	return &DB{DB: db}, nil
}

// Migrate creates the tables, junction tables and views ast expects, in one
// transaction.
func (db *DB) Migrate(ctx context.Context, ast *idl.CloesceAst) error {
	stmts, err := sqlschema.Statements(ast)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate: %w\n%s", err, s)
		}
	}
	return tx.Commit()
}

// Query runs a single read.
func (db *DB) Query(ctx context.Context, query string, args ...any) ([]orm.Row, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scan(rows)
}

// Batch runs stmts in one transaction and rolls back on the first failure.
func (db *DB) Batch(ctx context.Context, stmts []orm.Statement) ([][]orm.Row, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	results := make([][]orm.Row, len(stmts))
	for i, s := range stmts {
		if !s.Query {
			if _, err := tx.ExecContext(ctx, s.SQL, s.Args...); err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
			continue
		}
		rows, err := tx.QueryContext(ctx, s.SQL, s.Args...)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i, err)
		}
		if results[i], err = scan(rows); err != nil {
			return nil, fmt.Errorf("statement %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return results, nil
}

func scan(rows *sql.Rows) ([]orm.Row, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []orm.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(orm.Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				values[i] = append([]byte(nil), b...)
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
