// Package store provides storage backends for the moderation assistant.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN. The DSN is a
// file path to the SQLite database file; a missing directory is created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveReport(r ReportRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO reports (id, kind, category, urgency, status, assignee, reporter, subject, channel, message_id, content, comment, created_at, updated_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, assignee=excluded.assignee, updated_at=excluded.updated_at, resolved_at=excluded.resolved_at`,
		r.ID, r.Kind, r.Category, r.Urgency, r.Status, nilIfEmpty(r.Assignee), nilIfEmpty(r.Reporter),
		nilIfEmpty(r.Subject), nilIfEmpty(r.Channel), nilIfEmpty(r.MessageID), nilIfEmpty(r.Content),
		nilIfEmpty(r.Comment), r.CreatedAt, r.UpdatedAt, r.ResolvedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveReport failed", "error", err, "id", r.ID)
		return fmt.Errorf("failed to save report %s: %w", r.ID, err)
	}
	slog.Debug("SQLiteStore SaveReport succeeded", "id", r.ID, "status", r.Status)
	return nil
}

func (s *SQLiteStore) UpdateReportStatus(id, status, assignee string, resolvedAt *time.Time) error {
	res, err := s.db.Exec(
		`UPDATE reports SET status = ?, assignee = ?, resolved_at = ?, updated_at = ? WHERE id = ?`,
		status, nilIfEmpty(assignee), resolvedAt, time.Now().UTC(), id,
	)
	if err != nil {
		slog.Error("SQLiteStore UpdateReportStatus failed", "error", err, "id", id)
		return fmt.Errorf("failed to update report %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update report %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetReport(id string) (ReportRecord, error) {
	row := s.db.QueryRow(selectReportSQL+` WHERE id = ?`, id)
	r, err := scanReportRow(row)
	if err == sql.ErrNoRows {
		return ReportRecord{}, fmt.Errorf("get report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ReportRecord{}, fmt.Errorf("failed to get report %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLiteStore) ListOpenReports() ([]ReportRecord, error) {
	rows, err := s.db.Query(selectReportSQL + ` WHERE status != 'RESOLVED' ORDER BY created_at`)
	if err != nil {
		slog.Error("SQLiteStore ListOpenReports query failed", "error", err)
		return nil, fmt.Errorf("failed to query open reports: %w", err)
	}
	defer rows.Close()
	return scanReports(rows)
}

func (s *SQLiteStore) IsKnownImage(hash string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM known_images WHERE hash = ?`, hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up image hash: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) AddKnownImage(hash string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO known_images (hash, added_at) VALUES (?, ?)`, hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add image hash: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
