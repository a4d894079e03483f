// Package store provides storage backends for the moderation assistant.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveReport(r ReportRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO reports (id, kind, category, urgency, status, assignee, reporter, subject, channel, message_id, content, comment, created_at, updated_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT(id) DO UPDATE SET status=EXCLUDED.status, assignee=EXCLUDED.assignee, updated_at=EXCLUDED.updated_at, resolved_at=EXCLUDED.resolved_at`,
		r.ID, r.Kind, r.Category, r.Urgency, r.Status, nilIfEmpty(r.Assignee), nilIfEmpty(r.Reporter),
		nilIfEmpty(r.Subject), nilIfEmpty(r.Channel), nilIfEmpty(r.MessageID), nilIfEmpty(r.Content),
		nilIfEmpty(r.Comment), r.CreatedAt, r.UpdatedAt, r.ResolvedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveReport failed", "error", err, "id", r.ID)
		return fmt.Errorf("failed to save report %s: %w", r.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateReportStatus(id, status, assignee string, resolvedAt *time.Time) error {
	res, err := s.db.Exec(
		`UPDATE reports SET status = $1, assignee = $2, resolved_at = $3, updated_at = $4 WHERE id = $5`,
		status, nilIfEmpty(assignee), resolvedAt, time.Now().UTC(), id,
	)
	if err != nil {
		slog.Error("PostgresStore UpdateReportStatus failed", "error", err, "id", id)
		return fmt.Errorf("failed to update report %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update report %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetReport(id string) (ReportRecord, error) {
	row := s.db.QueryRow(selectReportSQL+` WHERE id = $1`, id)
	r, err := scanReportRow(row)
	if err == sql.ErrNoRows {
		return ReportRecord{}, fmt.Errorf("get report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ReportRecord{}, fmt.Errorf("failed to get report %s: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) ListOpenReports() ([]ReportRecord, error) {
	rows, err := s.db.Query(selectReportSQL + ` WHERE status != 'RESOLVED' ORDER BY created_at`)
	if err != nil {
		slog.Error("PostgresStore ListOpenReports query failed", "error", err)
		return nil, fmt.Errorf("failed to query open reports: %w", err)
	}
	defer rows.Close()
	return scanReports(rows)
}

func (s *PostgresStore) IsKnownImage(hash string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM known_images WHERE hash = $1`, hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up image hash: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) AddKnownImage(hash string) error {
	_, err := s.db.Exec(`INSERT INTO known_images (hash, added_at) VALUES ($1, $2) ON CONFLICT DO NOTHING`, hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add image hash: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
