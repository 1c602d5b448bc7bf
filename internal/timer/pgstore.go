package timer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okello/airlift/internal/model"
)

// PGStore is the Postgres-backed timer store. The timer_entries table is
// part of the engine's authoritative state and is backed up together with
// jobs and bids.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a timer store over the given pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Schedule inserts the entry, re-arming a fired or cancelled entry with the
// same external id. An entry that is still SCHEDULED is left untouched, so
// duplicate scheduling of the same logical event collapses.
func (s *PGStore) Schedule(ctx context.Context, entry model.TimerEntry) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO timer_entries (id, external_id, kind, payload, fire_at, state)
		VALUES ($1, $2, $3, $4, $5, 'SCHEDULED')
		ON CONFLICT (external_id) DO UPDATE
		SET kind = EXCLUDED.kind,
		    payload = EXCLUDED.payload,
		    fire_at = EXCLUDED.fire_at,
		    state = 'SCHEDULED',
		    fired_at = NULL
		WHERE timer_entries.state <> 'SCHEDULED'
	`, uuid.NewString(), entry.ExternalID, entry.Kind, entry.Payload, entry.FireAt)
	if err != nil {
		return false, fmt.Errorf("schedule %s: %w", entry.ExternalID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Cancel flips a SCHEDULED entry to CANCELLED.
func (s *PGStore) Cancel(ctx context.Context, externalID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE timer_entries
		SET state = 'CANCELLED'
		WHERE external_id = $1 AND state = 'SCHEDULED'
	`, externalID)
	if err != nil {
		return false, fmt.Errorf("cancel %s: %w", externalID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimDue marks up to limit due entries FIRED and returns them.
//
// FOR UPDATE SKIP LOCKED lets multiple dispatchers run against the same
// table without double-claiming: a row claimed by one transaction is
// invisible to the others.
func (s *PGStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.TimerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE timer_entries
		SET state = 'FIRED', fired_at = $1
		WHERE id IN (
			SELECT id FROM timer_entries
			WHERE state = 'SCHEDULED' AND fire_at <= $1
			ORDER BY fire_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, external_id, kind, payload, fire_at, state, created_at, fired_at
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due: %w", err)
	}
	defer rows.Close()

	var entries []model.TimerEntry
	for rows.Next() {
		var e model.TimerEntry
		if err := rows.Scan(
			&e.ID, &e.ExternalID, &e.Kind, &e.Payload,
			&e.FireAt, &e.State, &e.CreatedAt, &e.FiredAt,
		); err != nil {
			return nil, fmt.Errorf("scan timer entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountDue returns the number of due SCHEDULED entries.
func (s *PGStore) CountDue(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)::int FROM timer_entries
		WHERE state = 'SCHEDULED' AND fire_at <= $1
	`, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count due: %w", err)
	}
	return n, nil
}

// Requeue re-arms a FIRED entry for immediate delivery.
func (s *PGStore) Requeue(ctx context.Context, externalID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE timer_entries
		SET state = 'SCHEDULED', fired_at = NULL, fire_at = now()
		WHERE external_id = $1 AND state = 'FIRED'
	`, externalID)
	if err != nil {
		return false, fmt.Errorf("requeue %s: %w", externalID, err)
	}
	return tag.RowsAffected() > 0, nil
}
