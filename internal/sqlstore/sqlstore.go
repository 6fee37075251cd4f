// Package sqlstore opens the relational database behind the SQL tool and
// describes its tables for text-to-SQL prompts.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Config selects a driver and DSN. Driver is one of sqlite3, postgres or
// mysql; "sqlite" and "postgresql" are accepted as aliases.
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	Tables       []string
}

// DB wraps a connection pool with its dialect.
type DB struct {
	*sql.DB
	driver string
	tables []string
}

// Open connects and pings the database.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver, err := driverName(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// sqlite allows one writer; a single connection avoids "database is locked".
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if driver == "sqlite3" {
		if _, err := db.ExecContext(pingCtx, "PRAGMA journal_mode=WAL"); err != nil {
			logger.Warn("failed to enable WAL mode", "error", err)
		}
		if _, err := db.ExecContext(pingCtx, "PRAGMA busy_timeout=10000"); err != nil {
			logger.Warn("failed to set busy timeout", "error", err)
		}
	}
	return &DB{DB: db, driver: driver, tables: cfg.Tables}, nil
}

func driverName(d string) (string, error) {
	switch strings.ToLower(d) {
	case "", "sqlite", "sqlite3":
		return "sqlite3", nil
	case "postgres", "postgresql":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	}
	return "", fmt.Errorf("unsupported sql driver %q", d)
}

// Dialect names the SQL flavour for prompts.
func (db *DB) Dialect() string {
	switch db.driver {
	case "postgres":
		return "postgresql"
	case "mysql":
		return "mysql"
	}
	return "sqlite"
}

// Schema describes the configured tables, or every user table when none are
// configured, one line per table: "table (col TYPE, ...)".
func (db *DB) Schema(ctx context.Context) (string, error) {
	tables := db.tables
	if len(tables) == 0 {
		var err error
		if tables, err = db.listTables(ctx); err != nil {
			return "", err
		}
	}
	lines := make([]string, 0, len(tables))
	for _, t := range tables {
		cols, err := db.columns(ctx, t)
		if err != nil {
			return "", fmt.Errorf("describe table %s: %w", t, err)
		}
		lines = append(lines, fmt.Sprintf("%s (%s)", t, strings.Join(cols, ", ")))
	}
	return strings.Join(lines, "\n"), nil
}

func (db *DB) listTables(ctx context.Context) ([]string, error) {
	var q string
	switch db.driver {
	case "postgres":
		q = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' ORDER BY table_name`
	case "mysql":
		q = `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() ORDER BY table_name`
	default:
		q = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	}
	return db.strings(ctx, q)
}

func (db *DB) columns(ctx context.Context, table string) ([]string, error) {
	switch db.driver {
	case "postgres":
		return db.strings(ctx, `SELECT column_name || ' ' || data_type FROM information_schema.columns
			WHERE table_name = $1 ORDER BY ordinal_position`, table)
	case "mysql":
		return db.strings(ctx, `SELECT CONCAT(column_name, ' ', data_type) FROM information_schema.columns
			WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ordinal_position`, table)
	}
	rows, err := db.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, err
		}
		out = append(out, strings.TrimSpace(name+" "+typ))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}
	return out, nil
}

func (db *DB) strings(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
