package proxy

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/vouch/errors"
)

// State is one endpoint's persisted bookkeeping. Checkout status is
// deliberately not part of it; a restart returns every endpoint to the
// pool.
type State struct {
	Address             string
	Health              int
	ConsecutiveFailures int
	QuarantinedUntil    time.Time // zero = not quarantined
	LastUsedAt          time.Time
}

// Store persists pool health across restarts
type Store struct {
	db *sql.DB
}

// NewStore creates a new proxy state store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Load reads persisted state keyed by address
func (s *Store) Load(ctx context.Context) (map[string]State, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, health, consecutive_failures, quarantined_until, last_used_at
		 FROM proxy_state`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load proxy state")
	}
	defer rows.Close()

	states := make(map[string]State)
	for rows.Next() {
		var st State
		var quarantinedUntil, lastUsed sql.NullTime

		if err := rows.Scan(&st.Address, &st.Health, &st.ConsecutiveFailures, &quarantinedUntil, &lastUsed); err != nil {
			return nil, errors.Wrap(err, "failed to scan proxy state")
		}

		if quarantinedUntil.Valid {
			st.QuarantinedUntil = quarantinedUntil.Time
		}
		if lastUsed.Valid {
			st.LastUsedAt = lastUsed.Time
		}
		states[st.Address] = st
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate proxy state")
	}

	return states, nil
}

// Save replaces the persisted state with the given snapshot. The
// snapshot is authoritative: rows for endpoints no longer in the list
// file are dropped.
func (s *Store) Save(ctx context.Context, states []State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin proxy state save")
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM proxy_state"); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "failed to clear proxy state")
	}

	for _, st := range states {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO proxy_state (address, health, consecutive_failures, quarantined_until, last_used_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			st.Address, st.Health, st.ConsecutiveFailures,
			nullTime(st.QuarantinedUntil), nullTime(st.LastUsedAt), time.Now(),
		)
		if err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "failed to save proxy state for %s", st.Address)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit proxy state")
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// RestoreState applies persisted bookkeeping to matching endpoints.
// Rows for addresses not in the pool are ignored; the list file is
// authoritative for membership.
func (p *Pool) RestoreState(states map[string]State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for addr, st := range states {
		e, ok := p.entries[addr]
		if !ok {
			continue
		}
		e.health = st.Health
		e.consecutiveFailures = st.ConsecutiveFailures
		e.quarantinedUntil = st.QuarantinedUntil
		e.lastUsedAt = st.LastUsedAt
	}
}

// SnapshotState captures current bookkeeping for persistence
func (p *Pool) SnapshotState() []State {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]State, 0, len(p.addrs))
	for _, addr := range p.addrs {
		e := p.entries[addr]
		out = append(out, State{
			Address:             addr,
			Health:              e.health,
			ConsecutiveFailures: e.consecutiveFailures,
			QuarantinedUntil:    e.quarantinedUntil,
			LastUsedAt:          e.lastUsedAt,
		})
	}
	return out
}
