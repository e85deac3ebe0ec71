// Package state persists cycle history and the cached open-issue list
// across daemon restarts. The cached list seeds the gateway's fallback
// path so a fresh process can ride out a hosting API outage.
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/groundskeeper/internal/db"
	"github.com/marcus/groundskeeper/internal/hosting"
)

// CycleRecord is one persisted cycle outcome.
type CycleRecord struct {
	ID              string
	StartTime       time.Time
	EndTime         time.Time
	TasksDiscovered int
	TasksCompleted  int
	TasksFailed     int
	PRsMerged       int
	Duration        time.Duration
	Degraded        bool
	Errors          []string
	ServiceStatus   string
	CircuitState    string
}

// Store reads and writes persistent daemon state.
type Store struct {
	db *db.DB
}

// New creates a Store on an opened database.
func New(database *db.DB) *Store {
	return &Store{db: database}
}

// RecordCycle appends one cycle outcome to the history.
func (s *Store) RecordCycle(rec CycleRecord) error {
	errsJSON, err := json.Marshal(rec.Errors)
	if err != nil {
		return fmt.Errorf("encoding cycle errors: %w", err)
	}

	_, err = s.db.SQL().Exec(`
		INSERT INTO cycle_history
		  (id, start_time, end_time, tasks_discovered, tasks_completed, tasks_failed,
		   prs_merged, duration_ms, degraded, errors, service_status, circuit_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StartTime, rec.EndTime,
		rec.TasksDiscovered, rec.TasksCompleted, rec.TasksFailed,
		rec.PRsMerged, rec.Duration.Milliseconds(), boolToInt(rec.Degraded),
		string(errsJSON), rec.ServiceStatus, rec.CircuitState,
	)
	if err != nil {
		return fmt.Errorf("recording cycle %s: %w", rec.ID, err)
	}
	return nil
}

// RecentCycles returns up to limit cycles, newest first.
func (s *Store) RecentCycles(limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.SQL().Query(`
		SELECT id, start_time, end_time, tasks_discovered, tasks_completed, tasks_failed,
		       prs_merged, duration_ms, degraded, errors, service_status, circuit_state
		FROM cycle_history
		ORDER BY start_time DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying cycle history: %w", err)
	}
	defer rows.Close()

	var records []CycleRecord
	for rows.Next() {
		var rec CycleRecord
		var durationMs int64
		var degraded int
		var errsJSON string
		var endTime sql.NullTime

		if err := rows.Scan(&rec.ID, &rec.StartTime, &endTime,
			&rec.TasksDiscovered, &rec.TasksCompleted, &rec.TasksFailed,
			&rec.PRsMerged, &durationMs, &degraded, &errsJSON,
			&rec.ServiceStatus, &rec.CircuitState); err != nil {
			return nil, fmt.Errorf("scanning cycle row: %w", err)
		}

		if endTime.Valid {
			rec.EndTime = endTime.Time
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.Degraded = degraded != 0
		if err := json.Unmarshal([]byte(errsJSON), &rec.Errors); err != nil {
			rec.Errors = nil
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PruneCycles deletes cycle records older than keepDays. Returns the
// number of rows removed.
func (s *Store) PruneCycles(keepDays int) (int64, error) {
	if keepDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -keepDays)

	res, err := s.db.SQL().Exec(`DELETE FROM cycle_history WHERE start_time < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning cycle history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SaveIssueCache replaces the cached open-issue list.
func (s *Store) SaveIssueCache(issues []hosting.Issue) error {
	tx, err := s.db.SQL().Begin()
	if err != nil {
		return fmt.Errorf("begin issue cache update: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM cached_issues`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clearing issue cache: %w", err)
	}

	now := time.Now()
	for _, issue := range issues {
		labelsJSON, err := json.Marshal(issue.Labels)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encoding labels for issue %d: %w", issue.ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO cached_issues (id, title, body, labels, fetched_at)
			VALUES (?, ?, ?, ?, ?)`,
			issue.ID, issue.Title, issue.Body, string(labelsJSON), now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("caching issue %d: %w", issue.ID, err)
		}
	}

	return tx.Commit()
}

// LoadIssueCache returns the cached issue list and when it was fetched.
// An empty cache returns no issues, a zero time, and no error.
func (s *Store) LoadIssueCache() ([]hosting.Issue, time.Time, error) {
	rows, err := s.db.SQL().Query(`SELECT id, title, body, labels, fetched_at FROM cached_issues ORDER BY id`)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("querying issue cache: %w", err)
	}
	defer rows.Close()

	var issues []hosting.Issue
	var fetchedAt time.Time
	for rows.Next() {
		var issue hosting.Issue
		var labelsJSON string
		if err := rows.Scan(&issue.ID, &issue.Title, &issue.Body, &labelsJSON, &fetchedAt); err != nil {
			return nil, time.Time{}, fmt.Errorf("scanning cached issue: %w", err)
		}
		if err := json.Unmarshal([]byte(labelsJSON), &issue.Labels); err != nil {
			issue.Labels = nil
		}
		issues = append(issues, issue)
	}
	return issues, fetchedAt, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
