// Package database opens the SQL backends behind the message store and the
// user directory and keeps their schema migrated.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sethvargo/go-retry"
	_ "modernc.org/sqlite"

	"guppyrelay/internal/config"
	"guppyrelay/internal/logging"
)

// Dialect captures the few places where the SQL backends disagree.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DialectFor maps a config driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case config.DriverMySQL:
		return MySQL, nil
	case config.DriverPostgres:
		return Postgres, nil
	case config.DriverSQLite:
		return SQLite, nil
	}
	return "", fmt.Errorf("driver %q has no SQL dialect", driver)
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case Postgres:
		return "pgx"
	case SQLite:
		return "sqlite"
	}
	return "mysql"
}

// GooseDialect is the dialect name goose expects.
func (d Dialect) GooseDialect() string {
	if d == SQLite {
		return "sqlite3"
	}
	return string(d)
}

// Returning reports whether INSERT ... RETURNING id is used instead of
// LastInsertId. pgx does not implement LastInsertId.
func (d Dialect) Returning() bool {
	return d == Postgres
}

// Rebind rewrites '?' placeholders into the dialect's bind syntax.
// Queries in this module never contain a literal '?'.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DB is an open, migrated database handle plus its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects to the configured SQL backend, waits for it to answer,
// and runs the embedded migrations.
func Open(ctx context.Context, cfg config.Config, logger logging.Logger) (*DB, error) {
	dialect, err := DialectFor(cfg.DBDriver)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(dialect.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(cfg.DBMaxOpenConns)
	conn.SetConnMaxIdleTime(5 * time.Minute)
	if dialect == SQLite {
		// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY.
		conn.SetMaxOpenConns(1)
	}

	if err := pingWithRetry(ctx, conn, logger); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{DB: conn, Dialect: dialect}
	if err := db.Migrate(ctx, logger); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	logger.Info(ctx, "database connection established", "driver", cfg.DBDriver)
	return db, nil
}

// Wrap builds a DB around an existing handle. Used by tests.
func Wrap(conn *sql.DB, dialect Dialect) *DB {
	return &DB{DB: conn, Dialect: dialect}
}

// pingWithRetry gives a database that is still starting (docker compose)
// a few seconds before giving up.
func pingWithRetry(ctx context.Context, conn *sql.DB, logger logging.Logger) error {
	backoff := retry.WithMaxRetries(5, retry.NewExponential(200*time.Millisecond))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := conn.PingContext(ctx); err != nil {
			logger.Warn(ctx, "database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}
