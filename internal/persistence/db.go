// Package persistence is the Persistence Gateway of §4.10: a
// repository-style access layer over a relational schema, one
// repository per entity family in §3.
package persistence

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
	"go.uber.org/zap"
)

// DB wraps the SQLite connection shared by every repository.
type DB struct {
	conn   *sql.DB
	path   string
	logger *zap.Logger
}

// Open creates the database directory if needed and opens a WAL-mode,
// foreign-key-enforcing SQLite connection.
func Open(dbPath string, logger *zap.Logger) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)

	return &DB{conn: conn, path: dbPath, logger: logger.Named("persistence")}, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.conn.Close() }

// Conn exposes the raw *sql.DB for repositories in this package.
func (db *DB) Conn() *sql.DB { return db.conn }

// Begin starts a new transaction, used for the atomic ShadowModeStock
// replace of §4.9 step 5 and other multi-statement operations.
func (db *DB) Begin() (*sql.Tx, error) { return db.conn.Begin() }

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func orEmpty(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return ""
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
