package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/okello/airlift/internal/model"
)

const bidColumns = `id, job_id, operator_id, amount, notes, status, submitted_at, offered_at, responded_at`

func scanBid(row rowScanner) (*model.Bid, error) {
	b := &model.Bid{}
	err := row.Scan(
		&b.ID, &b.JobID, &b.OperatorID, &b.Amount, &b.Notes,
		&b.Status, &b.SubmittedAt, &b.OfferedAt, &b.RespondedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetBid fetches a bid by id.
func (r *Repository) GetBid(ctx context.Context, id string) (*model.Bid, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id)
	b, err := scanBid(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bid %s: %w", id, err)
	}
	return b, nil
}

// UpsertBid inserts the operator's bid, or restates the amount and notes of
// their existing pending bid. The bidding-window guard runs under the job row
// lock so a bid cannot slip in alongside a concurrent close. Returns the
// stored bid and whether this was a fresh placement.
//
// A restated bid keeps its original submitted_at, so amending an amount does
// not improve the operator's position in the tie-break ordering. A DECLINED
// or LOST bid left over from a round that was later reopened is revived as a
// fresh placement with a new submitted_at.
func (r *Repository) UpsertBid(ctx context.Context, jobID, operatorID string, amount decimal.Decimal, notes *string, now time.Time) (*model.Bid, bool, error) {
	var (
		stored  *model.Bid
		created bool
	)

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var (
			status   model.JobStatus
			closesAt time.Time
		)
		err := tx.QueryRow(ctx, `
			SELECT status, bidding_closes_at FROM jobs WHERE id = $1 FOR UPDATE
		`, jobID).Scan(&status, &closesAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock job %s: %w", jobID, err)
		}
		if status != model.JobOpenForBidding || !now.Before(closesAt) {
			return ErrJobClosed
		}

		existing := &model.Bid{}
		err = tx.QueryRow(ctx, `
			SELECT `+bidColumns+`
			FROM bids
			WHERE job_id = $1 AND operator_id = $2 AND status <> 'WITHDRAWN'
			FOR UPDATE
		`, jobID, operatorID).Scan(
			&existing.ID, &existing.JobID, &existing.OperatorID, &existing.Amount,
			&existing.Notes, &existing.Status, &existing.SubmittedAt,
			&existing.OfferedAt, &existing.RespondedAt,
		)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			b := &model.Bid{
				ID:          uuid.NewString(),
				JobID:       jobID,
				OperatorID:  operatorID,
				Amount:      amount,
				Notes:       notes,
				Status:      model.BidPending,
				SubmittedAt: now,
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO bids (id, job_id, operator_id, amount, notes, status, submitted_at)
				VALUES ($1, $2, $3, $4, $5, 'PENDING', $6)
			`, b.ID, b.JobID, b.OperatorID, b.Amount, b.Notes, b.SubmittedAt)
			if err != nil {
				return fmt.Errorf("insert bid: %w", err)
			}
			stored, created = b, true
			return nil
		case err != nil:
			return fmt.Errorf("load existing bid: %w", err)
		}

		switch existing.Status {
		case model.BidPending:
			_, err = tx.Exec(ctx, `
				UPDATE bids SET amount = $2, notes = $3 WHERE id = $1
			`, existing.ID, amount, notes)
			if err != nil {
				return fmt.Errorf("restate bid %s: %w", existing.ID, err)
			}
			existing.Amount = amount
			existing.Notes = notes
			stored = existing
			return nil

		case model.BidDeclined, model.BidLost:
			_, err = tx.Exec(ctx, `
				UPDATE bids
				SET amount = $2, notes = $3, status = 'PENDING',
				    submitted_at = $4, offered_at = NULL, responded_at = NULL
				WHERE id = $1
			`, existing.ID, amount, notes, now)
			if err != nil {
				return fmt.Errorf("revive bid %s: %w", existing.ID, err)
			}
			existing.Amount = amount
			existing.Notes = notes
			existing.Status = model.BidPending
			existing.SubmittedAt = now
			existing.OfferedAt = nil
			existing.RespondedAt = nil
			stored, created = existing, true
			return nil

		default:
			// OFFERED and WON cannot coexist with OPEN_FOR_BIDDING; guard
			// anyway in case of direct database edits.
			return ErrBidNotPending
		}
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// WithdrawBid retires the operator's pending bid. Only PENDING bids on jobs
// still OPEN_FOR_BIDDING can be withdrawn; an offered bid must be declined
// through the offer endpoints instead.
//
// Lock order matches UpsertBid (job row first, then bid row) so the two
// cannot deadlock each other.
func (r *Repository) WithdrawBid(ctx context.Context, bidID, operatorID string, now time.Time) error {
	// Read outside any lock to learn the job id, then take locks in order.
	unlocked, err := r.GetBid(ctx, bidID)
	if err != nil {
		return err
	}
	if unlocked.OperatorID != operatorID {
		return ErrNotBidOwner
	}

	return r.withTx(ctx, func(tx pgx.Tx) error {
		var status model.JobStatus
		err := tx.QueryRow(ctx, `
			SELECT status FROM jobs WHERE id = $1 FOR UPDATE
		`, unlocked.JobID).Scan(&status)
		if err != nil {
			return fmt.Errorf("lock job %s: %w", unlocked.JobID, err)
		}
		if status != model.JobOpenForBidding {
			return ErrJobClosed
		}

		tag, err := tx.Exec(ctx, `
			UPDATE bids SET status = 'WITHDRAWN', responded_at = $2
			WHERE id = $1 AND status = 'PENDING'
		`, bidID, now)
		if err != nil {
			return fmt.Errorf("withdraw bid %s: %w", bidID, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrBidNotPending
		}
		return nil
	})
}

// ─── Listings ───────────────────────────────────────────────

// OfferRow is a live offer joined with its job and booking context.
type OfferRow struct {
	Bid                model.Bid
	JobID              string
	BookingID          string
	AcceptanceClosesAt time.Time
	PickupAddress      string
	DropoffAddress     string
	PickupDatetime     time.Time
	VehicleType        string
}

// ListOffersByOperator returns the operator's currently offered bids with
// enough booking context to act on them.
func (r *Repository) ListOffersByOperator(ctx context.Context, operatorID string) ([]OfferRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT b.id, b.job_id, b.operator_id, b.amount, b.notes, b.status,
		       b.submitted_at, b.offered_at, b.responded_at,
		       j.id, j.booking_id, j.acceptance_closes_at,
		       bk.pickup_address, bk.dropoff_address, bk.pickup_datetime, bk.vehicle_type
		FROM bids b
		JOIN jobs j ON j.id = b.job_id AND j.current_offered_bid_id = b.id
		JOIN bookings bk ON bk.id = j.booking_id
		WHERE b.operator_id = $1 AND b.status = 'OFFERED' AND j.status = 'PENDING_ACCEPTANCE'
		ORDER BY j.acceptance_closes_at ASC
	`, operatorID)
	if err != nil {
		return nil, fmt.Errorf("list offers for operator %s: %w", operatorID, err)
	}
	defer rows.Close()

	var out []OfferRow
	for rows.Next() {
		var o OfferRow
		err := rows.Scan(
			&o.Bid.ID, &o.Bid.JobID, &o.Bid.OperatorID, &o.Bid.Amount, &o.Bid.Notes,
			&o.Bid.Status, &o.Bid.SubmittedAt, &o.Bid.OfferedAt, &o.Bid.RespondedAt,
			&o.JobID, &o.BookingID, &o.AcceptanceClosesAt,
			&o.PickupAddress, &o.DropoffAddress, &o.PickupDatetime, &o.VehicleType,
		)
		if err != nil {
			return nil, fmt.Errorf("scan offer row: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListBidsByOperator returns the operator's bids, newest first.
func (r *Repository) ListBidsByOperator(ctx context.Context, operatorID string, limit int) ([]model.Bid, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+bidColumns+` FROM bids
		WHERE operator_id = $1
		ORDER BY submitted_at DESC
		LIMIT $2
	`, operatorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list bids for operator %s: %w", operatorID, err)
	}
	defer rows.Close()
	return collectBids(rows)
}

// ListBidsForJob returns every bid on a job in tie-break order.
func (r *Repository) ListBidsForJob(ctx context.Context, jobID string) ([]model.Bid, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bidColumns+` FROM bids
		WHERE job_id = $1
		ORDER BY amount ASC, submitted_at ASC, id ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list bids for job %s: %w", jobID, err)
	}
	defer rows.Close()
	return collectBids(rows)
}

func collectBids(rows pgx.Rows) ([]model.Bid, error) {
	var out []model.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}
