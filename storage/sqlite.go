// Package storage persists rule definitions, mapping-table rows, and
// deduplication statistics, and tracks fingerprint observations.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite wraps the rule and statistics database. WAL mode allows the
// read-mostly rule queries to proceed concurrently with the statistics
// writer.
type SQLite struct {
	DB     *sql.DB
	Path   string
	Logger *zap.SugaredLogger
}

// NewSQLite opens (creating if necessary) the rule database and applies
// migrations.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := configureConnection(db, dbPath); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLite{DB: db, Path: dbPath, Logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Infow("SQLite storage ready", "path", dbPath)
	return s, nil
}

func configureConnection(db *sql.DB, dbPath string) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// Statistics upserts are single-row writes; one writer avoids
	// SQLITE_BUSY churn under WAL.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.DB.Close()
}
