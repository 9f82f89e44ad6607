// Package sqlite is the SQLite-backed CandleStore. Every (instrument,
// duration) pair lives in one candles table keyed by bucket start.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/fxtrader.db"
}

// Store owns the single-writer SQLite connection.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database with WAL mode and the candle schema.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer: tick upserts, reads and the journal share one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			instrument TEXT    NOT NULL,
			duration   TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (instrument, duration, ts)
		);
	`)
	return err
}

// DB returns the underlying sql.DB; the trade journal shares it.
func (s *Store) DB() *sql.DB { return s.db }

// Ping is used by the health check.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
