package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported dialects.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// DialectOf picks the dialect from the target: postgres:// and postgresql://
// URLs go to PostgreSQL, anything else (file path, :memory:, file: URL) to
// SQLite.
func DialectOf(target string) string {
	if strings.HasPrefix(target, "postgres://") || strings.HasPrefix(target, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// Connect is the default connector. It opens a database/sql handle for the
// target using the driver matching its dialect, verifies the connection,
// and applies per-driver session defaults.
func Connect(ctx context.Context, target string) (*sql.DB, error) {
	dialect := DialectOf(target)

	driverName := "sqlite"
	if dialect == DialectPostgres {
		driverName = "pgx"
	}

	db, err := sql.Open(driverName, target)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	switch dialect {
	case DialectPostgres:
		applyPoolDefaults(db)
	case DialectSQLite:
		if err := applySQLitePragmas(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return db, nil
}

// https://www.alexedwards.net/blog/configuring-sqldb
func applyPoolDefaults(db *sql.DB) {
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(5 * time.Minute)
}

func applySQLitePragmas(ctx context.Context, db *sql.DB) error {
	// Single writer; sqlite serializes writes anyway and a second
	// connection would only trade errors for lock waits.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}
