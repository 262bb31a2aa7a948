package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/vouch/errors"
	"github.com/teranos/vouch/record"
)

// Store persists ledger entries
type Store struct {
	db *sql.DB
}

// NewStore creates a new ledger store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append writes one terminal entry. The job_id unique constraint makes
// a double archive an error rather than a silent duplicate.
func (s *Store) Append(ctx context.Context, entry *Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (job_id, user_id, first_name, last_name, branch, result, reason, attempts, created_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.JobID, entry.UserID, entry.FirstName, entry.LastName, string(entry.Branch),
		string(entry.Result), entry.Reason, entry.Attempts,
		entry.CreatedAt, entry.CompletedAt, entry.Duration.Milliseconds(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to append ledger entry for job %s", entry.JobID)
	}
	return nil
}

// ForUser returns a user's most recent outcomes, newest first
func (s *Store) ForUser(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, user_id, first_name, last_name, branch, result, reason, attempts, created_at, completed_at, duration_ms
		 FROM ledger_entries WHERE user_id = ?
		 ORDER BY completed_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query user history")
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Recent returns the most recent outcomes across all users
func (s *Store) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, user_id, first_name, last_name, branch, result, reason, attempts, created_at, completed_at, duration_ms
		 FROM ledger_entries
		 ORDER BY completed_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query recent entries")
	}
	defer rows.Close()

	return scanEntries(rows)
}

// CountForUserSince counts a user's entries completed at or after t
func (s *Store) CountForUserSince(ctx context.Context, userID string, t time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE user_id = ? AND completed_at >= ?",
		userID, t,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count user entries")
	}
	return count, nil
}

// Stats aggregates totals by terminal state
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	rows, err := s.db.QueryContext(ctx,
		"SELECT result, COUNT(*) FROM ledger_entries GROUP BY result")
	if err != nil {
		return nil, errors.Wrap(err, "failed to query ledger stats")
	}
	defer rows.Close()

	for rows.Next() {
		var result string
		var count int
		if err := rows.Scan(&result, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan ledger stats")
		}

		stats.Total += count
		switch Result(result) {
		case ResultSuccess:
			stats.Succeeded = count
		case ResultFailed:
			stats.Failed = count
		case ResultTimedOut:
			stats.TimedOut = count
		case ResultCancelled:
			stats.Cancelled = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate ledger stats")
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Total)
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE completed_at >= ?",
		midnight,
	).Scan(&stats.Today)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count today's entries")
	}

	return stats, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		entry := &Entry{}
		var branch, result string
		var durationMS int64

		err := rows.Scan(&entry.ID, &entry.JobID, &entry.UserID, &entry.FirstName, &entry.LastName,
			&branch, &result, &entry.Reason, &entry.Attempts,
			&entry.CreatedAt, &entry.CompletedAt, &durationMS)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan ledger entry")
		}

		entry.Branch = record.Branch(branch)
		entry.Result = Result(result)
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate ledger entries")
	}
	return entries, nil
}
