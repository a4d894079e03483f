// Package store provides storage backends for the moderation assistant: an
// archive of report records and the known-image hash list, with in-memory,
// SQLite, and PostgreSQL implementations behind one interface.
package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ReportRecord is the persisted form of a report.
type ReportRecord struct {
	ID         string
	Kind       string // "automated" or "user"
	Category   string
	Urgency    int
	Status     string
	Assignee   string
	Reporter   string
	Subject    string
	Channel    string
	MessageID  string
	Content    string
	Comment    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}

// Store is the persistence interface shared by all backends.
type Store interface {
	SaveReport(r ReportRecord) error
	UpdateReportStatus(id, status, assignee string, resolvedAt *time.Time) error
	GetReport(id string) (ReportRecord, error)
	ListOpenReports() ([]ReportRecord, error)
	IsKnownImage(hash string) (bool, error)
	AddKnownImage(hash string) error
	Close() error
}

// ErrNotFound is returned when a report id has no record.
var ErrNotFound = fmt.Errorf("report not found")

// DetectDSNType inspects a DSN and reports which driver it targets,
// "postgres" or "sqlite3". Anything that is not recognizably a PostgreSQL
// connection string is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Opts holds configuration for persistent store constructors.
type Opts struct {
	DSN string
}

// Option configures a store constructor.
type Option func(*Opts)

// WithDSN sets the database DSN: a file path for SQLite, a connection
// string for PostgreSQL.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// InMemoryStore keeps all records in process memory. Used by tests and by
// deployments that accept losing the archive on restart.
type InMemoryStore struct {
	mu      sync.Mutex
	reports map[string]ReportRecord
	images  map[string]bool
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		reports: make(map[string]ReportRecord),
		images:  make(map[string]bool),
	}
}

func (s *InMemoryStore) SaveReport(r ReportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.ID] = r
	return nil
}

func (s *InMemoryStore) UpdateReportStatus(id, status, assignee string, resolvedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return fmt.Errorf("update report %s: %w", id, ErrNotFound)
	}
	r.Status = status
	r.Assignee = assignee
	r.ResolvedAt = resolvedAt
	r.UpdatedAt = time.Now().UTC()
	s.reports[id] = r
	return nil
}

func (s *InMemoryStore) GetReport(id string) (ReportRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return ReportRecord{}, fmt.Errorf("get report %s: %w", id, ErrNotFound)
	}
	return r, nil
}

func (s *InMemoryStore) ListOpenReports() ([]ReportRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ReportRecord
	for _, r := range s.reports {
		if r.Status != "RESOLVED" {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) IsKnownImage(hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images[hash], nil
}

func (s *InMemoryStore) AddKnownImage(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[hash] = true
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
