// Package inventory persists candidate records and hands them out to
// jobs. A record leaves the available pool the moment it is claimed
// and never returns, even when the claiming job fails; the only
// exception is ReleaseUnused for records a job never submitted.
package inventory

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/vouch/errors"
	"github.com/teranos/vouch/record"
)

// Store handles persistence of candidate records
type Store struct {
	db *sql.DB
}

// NewStore creates a new inventory store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Add inserts records, skipping rows that duplicate an existing
// identity (same first, last, branch and start date). Returns how many
// rows were inserted and how many were skipped as duplicates.
func (s *Store) Add(ctx context.Context, records []*record.Record) (inserted, skipped int, err error) {
	for _, rec := range records {
		res, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO records (first_name, last_name, branch, service_start, service_end, source_line)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rec.FirstName, rec.LastName, string(rec.Branch), rec.ServiceStart, nullString(rec.ServiceEnd), rec.SourceLine,
		)
		if err != nil {
			return inserted, skipped, errors.Wrapf(err, "failed to insert record %s", rec.FullName())
		}

		n, err := res.RowsAffected()
		if err != nil {
			return inserted, skipped, errors.Wrap(err, "failed to read insert result")
		}
		if n == 0 {
			skipped++
		} else {
			inserted++
		}
	}
	return inserted, skipped, nil
}

// Claim atomically claims the oldest available record for jobID.
// Returns (nil, nil) when the pool is empty; depletion is a normal
// condition, not an error. Two concurrent claims never receive the
// same record: the conditional single-statement UPDATE runs under
// SQLite's write lock and is the only arbiter.
func (s *Store) Claim(ctx context.Context, jobID string) (*record.Record, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET consumed_at = ?, consumed_by = ?
		 WHERE id = (SELECT id FROM records WHERE consumed_at IS NULL ORDER BY id LIMIT 1)
		   AND consumed_at IS NULL`,
		time.Now(), jobID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim record")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read claim result")
	}
	if n == 0 {
		return nil, nil
	}

	return s.byJob(ctx, jobID)
}

// byJob fetches the record claimed by jobID
func (s *Store) byJob(ctx context.Context, jobID string) (*record.Record, error) {
	rec := &record.Record{}
	var branch string
	var serviceEnd sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, branch, service_start, service_end
		 FROM records WHERE consumed_by = ?`,
		jobID,
	).Scan(&rec.ID, &rec.FirstName, &rec.LastName, &branch, &rec.ServiceStart, &serviceEnd)

	if err == sql.ErrNoRows {
		return nil, errors.Newf("no record claimed by job %s", jobID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load claimed record")
	}

	rec.Branch = record.Branch(branch)
	if serviceEnd.Valid {
		rec.ServiceEnd = serviceEnd.String
	}
	return rec, nil
}

// ReleaseUnused returns a claimed record to the available pool. Only
// valid for records whose job never issued a provider call (admission
// failed after the claim); once a submission went out the claim is
// irrevocable.
func (s *Store) ReleaseUnused(ctx context.Context, recordID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE records SET consumed_at = NULL, consumed_by = NULL WHERE id = ?",
		recordID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to release record")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read release result")
	}
	if n == 0 {
		return errors.Newf("record %d not found", recordID)
	}
	return nil
}

// CountAvailable returns how many records can still be claimed
func (s *Store) CountAvailable(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE consumed_at IS NULL").Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count available records")
	}
	return count, nil
}

// CountConsumed returns how many records have been claimed
func (s *Store) CountConsumed(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE consumed_at IS NOT NULL").Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count consumed records")
	}
	return count, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
