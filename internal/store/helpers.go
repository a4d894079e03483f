package store

import (
	"database/sql"
	"fmt"
)

const selectReportSQL = `SELECT id, kind, category, urgency, status, assignee, reporter, subject, channel, message_id, content, comment, created_at, updated_at, resolved_at FROM reports`

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

type reportScanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(row reportScanner) (ReportRecord, error) {
	var r ReportRecord
	var assignee, reporter, subject, channel, messageID, content, comment sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.Kind, &r.Category, &r.Urgency, &r.Status, &assignee, &reporter,
		&subject, &channel, &messageID, &content, &comment,
		&r.CreatedAt, &r.UpdatedAt, &resolvedAt,
	)
	if err != nil {
		return r, err
	}
	r.Assignee = assignee.String
	r.Reporter = reporter.String
	r.Subject = subject.String
	r.Channel = channel.String
	r.MessageID = messageID.String
	r.Content = content.String
	r.Comment = comment.String
	if resolvedAt.Valid {
		r.ResolvedAt = &resolvedAt.Time
	}
	return r, nil
}

func scanReportRow(row *sql.Row) (ReportRecord, error) {
	return scanReport(row)
}

func scanReports(rows *sql.Rows) ([]ReportRecord, error) {
	var out []ReportRecord
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report failed: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
