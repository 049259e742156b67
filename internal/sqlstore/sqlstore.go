// Package sqlstore implements the storage Encoder and Decoder over
// database/sql, for PostgreSQL and SQLite targets.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	"github.com/fieldline/expstore/internal/storage"
)

//go:embed schema_postgres.sql
var schemaPostgres string

//go:embed schema_sqlite.sql
var schemaSQLite string

// Migrate applies the schema for the dialect. Idempotent; every statement
// uses IF NOT EXISTS.
func Migrate(ctx context.Context, db *sql.DB, dialect string) error {
	var schema string
	switch dialect {
	case storage.DialectPostgres:
		schema = schemaPostgres
	case storage.DialectSQLite:
		schema = schemaSQLite
	default:
		return fmt.Errorf("unknown dialect %q", dialect)
	}

	for _, stmt := range splitStatements(schema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func splitStatements(schema string) []string {
	var stmts []string
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// rebind converts $N placeholders to ? for sqlite. Queries in this package
// use placeholders in order of appearance and never repeat one, so the
// positional rewrite is safe.
func rebind(dialect, query string) string {
	if dialect != storage.DialectSQLite {
		return query
	}

	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && isDigit(query[i+1]) {
			b.WriteByte('?')
			for i+1 < len(query) && isDigit(query[i+1]) {
				i++
			}
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// withTransaction runs fn inside a transaction, rolling back on error or
// panic.
func withTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	err = fn(tx)
	return err
}
