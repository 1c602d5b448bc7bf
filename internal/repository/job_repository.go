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

const jobColumns = `
	id, booking_id, status,
	bidding_opens_at, bidding_closes_at, bidding_duration_hours,
	assigned_operator_id, winning_bid_id, platform_margin,
	current_offered_bid_id, acceptance_opens_at, acceptance_closes_at,
	acceptance_attempt_count, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	j := &model.Job{}
	var margin decimal.NullDecimal
	err := row.Scan(
		&j.ID, &j.BookingID, &j.Status,
		&j.BiddingOpensAt, &j.BiddingClosesAt, &j.BiddingDurationHrs,
		&j.AssignedOperatorID, &j.WinningBidID, &margin,
		&j.CurrentOfferedBidID, &j.AcceptanceOpensAt, &j.AcceptanceClosesAt,
		&j.AcceptanceAttempts, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if margin.Valid {
		j.PlatformMargin = &margin.Decimal
	}
	return j, nil
}

// ─── Reads ──────────────────────────────────────────────────

// GetJob fetches a job by id.
func (r *Repository) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// GetJobByBookingID fetches the job auctioning a booking.
func (r *Repository) GetJobByBookingID(ctx context.Context, bookingID string) (*model.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+jobColumns+` FROM jobs WHERE booking_id = $1`, bookingID)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job for booking %s: %w", bookingID, err)
	}
	return j, nil
}

// GetBooking fetches the engine's copy of a booking.
func (r *Repository) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	b := &model.Booking{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, customer_id, customer_price, pickup_address, pickup_postcode,
		       dropoff_address, vehicle_type, pickup_datetime, journey_type,
		       booking_group_id, assigned
		FROM bookings WHERE id = $1
	`, id).Scan(
		&b.ID, &b.CustomerID, &b.CustomerPrice, &b.PickupAddress, &b.PickupPostcode,
		&b.DropoffAddress, &b.VehicleType, &b.PickupDatetime, &b.JourneyType,
		&b.BookingGroupID, &b.Assigned,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	return b, nil
}

// ─── Create ─────────────────────────────────────────────────

// CreateJob stores the booking snapshot and inserts the job row in one
// transaction. A duplicate booking-paid delivery hits the ON CONFLICT guard
// on jobs.booking_id and reports created=false with no other effect.
func (r *Repository) CreateJob(ctx context.Context, booking *model.Booking, job *model.Job) (bool, error) {
	created := false
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO bookings (
				id, customer_id, customer_price, pickup_address, pickup_postcode,
				dropoff_address, vehicle_type, pickup_datetime, journey_type,
				booking_group_id, assigned
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false)
			ON CONFLICT (id) DO NOTHING
		`, booking.ID, booking.CustomerID, booking.CustomerPrice,
			booking.PickupAddress, booking.PickupPostcode, booking.DropoffAddress,
			booking.VehicleType, booking.PickupDatetime, booking.JourneyType,
			booking.BookingGroupID)
		if err != nil {
			return fmt.Errorf("insert booking %s: %w", booking.ID, err)
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO jobs (
				id, booking_id, status,
				bidding_opens_at, bidding_closes_at, bidding_duration_hours,
				acceptance_attempt_count
			) VALUES ($1, $2, $3, $4, $5, $6, 0)
			ON CONFLICT (booking_id) DO NOTHING
		`, job.ID, job.BookingID, model.JobOpenForBidding,
			job.BiddingOpensAt, job.BiddingClosesAt, job.BiddingDurationHrs)
		if err != nil {
			return fmt.Errorf("insert job for booking %s: %w", job.BookingID, err)
		}
		created = tag.RowsAffected() > 0
		return nil
	})
	return created, err
}

// ─── Close bidding ──────────────────────────────────────────

// CloseBidding ends the bidding window. If pending bids exist, the lowest
// (amount ASC, submitted_at ASC, id ASC) becomes the current offer;
// otherwise the job lands in NO_BIDS_RECEIVED. A job no longer
// OPEN_FOR_BIDDING yields CloseNoop.
//
// The attempt count continues from the job's current value, so a close after
// a reopen never rewinds it. Returns the new attempt alongside the offered
// bid.
func (r *Repository) CloseBidding(ctx context.Context, jobID string, now time.Time, acceptanceWindow time.Duration) (CloseOutcome, *model.Bid, int, error) {
	outcome := CloseNoop
	var offered *model.Bid
	attempt := 0

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var (
			status   model.JobStatus
			attempts int
		)
		err := tx.QueryRow(ctx, `
			SELECT status, acceptance_attempt_count FROM jobs WHERE id = $1 FOR UPDATE
		`, jobID).Scan(&status, &attempts)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock job %s: %w", jobID, err)
		}
		if status != model.JobOpenForBidding {
			return nil // already processed
		}

		next, err := lowestPendingBid(ctx, tx, jobID)
		if err != nil {
			return err
		}

		if next == nil {
			_, err = tx.Exec(ctx, `
				UPDATE jobs SET status = $2, updated_at = $3
				WHERE id = $1
			`, jobID, model.JobNoBidsReceived, now)
			if err != nil {
				return fmt.Errorf("close job %s without bids: %w", jobID, err)
			}
			outcome = ClosedNoBids
			return nil
		}

		attempt = attempts + 1
		if err := extendOffer(ctx, tx, jobID, next, now, acceptanceWindow, attempt); err != nil {
			return err
		}
		next.Status = model.BidOffered
		next.OfferedAt = &now
		outcome = ClosedOffered
		offered = next
		return nil
	})
	if err != nil {
		return CloseNoop, nil, 0, err
	}
	return outcome, offered, attempt, nil
}

// lowestPendingBid returns the best pending bid under the deterministic
// ordering, locked for the rest of the transaction, or nil if none exist.
func lowestPendingBid(ctx context.Context, tx pgx.Tx, jobID string) (*model.Bid, error) {
	b := &model.Bid{}
	err := tx.QueryRow(ctx, `
		SELECT id, job_id, operator_id, amount, notes, status, submitted_at, offered_at, responded_at
		FROM bids
		WHERE job_id = $1 AND status = 'PENDING'
		ORDER BY amount ASC, submitted_at ASC, id ASC
		LIMIT 1
		FOR UPDATE
	`, jobID).Scan(
		&b.ID, &b.JobID, &b.OperatorID, &b.Amount, &b.Notes,
		&b.Status, &b.SubmittedAt, &b.OfferedAt, &b.RespondedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select lowest pending bid for job %s: %w", jobID, err)
	}
	return b, nil
}

// extendOffer marks the bid OFFERED and stamps the job's acceptance window.
func extendOffer(ctx context.Context, tx pgx.Tx, jobID string, bid *model.Bid, now time.Time, window time.Duration, attempt int) error {
	_, err := tx.Exec(ctx, `
		UPDATE bids SET status = 'OFFERED', offered_at = $2 WHERE id = $1
	`, bid.ID, now)
	if err != nil {
		return fmt.Errorf("offer bid %s: %w", bid.ID, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs
		SET status = $2,
		    current_offered_bid_id = $3,
		    acceptance_opens_at = $4,
		    acceptance_closes_at = $5,
		    acceptance_attempt_count = $6,
		    updated_at = $4
		WHERE id = $1
	`, jobID, model.JobPendingAcceptance, bid.ID, now, now.Add(window), attempt)
	if err != nil {
		return fmt.Errorf("stamp offer on job %s: %w", jobID, err)
	}
	return nil
}

// ─── Cascade advance ────────────────────────────────────────

// AdvanceCascade resolves the current offer as declined (explicitly by the
// operator, or implicitly on timeout) and moves the offer to the next ranked
// pending bid, or exhausts the cascade.
//
// Guards, all inside the transaction: the job is PENDING_ACCEPTANCE, the
// current offer is expectBidID, and the deadline sits on the required side
// of now. operatorID non-empty additionally requires bid ownership
// (ErrNotBidOwner on mismatch). Any state-guard failure yields CascadeNoop;
// this is how a timeout racing a decline collapses to one effect.
//
// Returns the new attempt count alongside the next offered bid.
func (r *Repository) AdvanceCascade(ctx context.Context, jobID, expectBidID, operatorID string, guard DeadlineGuard, now time.Time, acceptanceWindow time.Duration) (CascadeOutcome, *model.Bid, int, error) {
	outcome := CascadeNoop
	var next *model.Bid
	attempt := 0

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var (
			status    model.JobStatus
			currentID *string
			closesAt  *time.Time
			attempts  int
		)
		err := tx.QueryRow(ctx, `
			SELECT status, current_offered_bid_id, acceptance_closes_at, acceptance_attempt_count
			FROM jobs WHERE id = $1 FOR UPDATE
		`, jobID).Scan(&status, &currentID, &closesAt, &attempts)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock job %s: %w", jobID, err)
		}

		if status != model.JobPendingAcceptance || currentID == nil || *currentID != expectBidID || closesAt == nil {
			return nil // offer already resolved
		}
		switch guard {
		case BeforeDeadline:
			if now.After(*closesAt) {
				return nil // too late to decline; the timeout owns it now
			}
		case AfterDeadline:
			if now.Before(*closesAt) {
				return nil // premature firing
			}
		}

		if operatorID != "" {
			var owner string
			if err := tx.QueryRow(ctx, `SELECT operator_id FROM bids WHERE id = $1`, expectBidID).Scan(&owner); err != nil {
				return fmt.Errorf("load bid %s: %w", expectBidID, err)
			}
			if owner != operatorID {
				return ErrNotBidOwner
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE bids SET status = 'DECLINED', responded_at = $2
			WHERE id = $1 AND status = 'OFFERED'
		`, expectBidID, now)
		if err != nil {
			return fmt.Errorf("decline bid %s: %w", expectBidID, err)
		}

		nb, err := lowestPendingBid(ctx, tx, jobID)
		if err != nil {
			return err
		}

		if nb == nil {
			_, err = tx.Exec(ctx, `
				UPDATE jobs
				SET status = $2,
				    current_offered_bid_id = NULL,
				    acceptance_opens_at = NULL,
				    acceptance_closes_at = NULL,
				    updated_at = $3
				WHERE id = $1
			`, jobID, model.JobNoBidsReceived, now)
			if err != nil {
				return fmt.Errorf("exhaust cascade on job %s: %w", jobID, err)
			}
			outcome = CascadeExhausted
			return nil
		}

		attempt = attempts + 1
		if err := extendOffer(ctx, tx, jobID, nb, now, acceptanceWindow, attempt); err != nil {
			return err
		}
		nb.Status = model.BidOffered
		nb.OfferedAt = &now
		outcome = CascadeOffered
		next = nb
		return nil
	})
	if err != nil {
		return CascadeNoop, nil, 0, err
	}
	return outcome, next, attempt, nil
}

// ─── Accept ─────────────────────────────────────────────────

// AcceptOffer commits the assignment to the currently offered bid.
//
// Guards: PENDING_ACCEPTANCE, current offer is bidID, caller owns the bid,
// and now is on or before the acceptance deadline (inclusive). State-guard
// failure returns ok=false; an ownership mismatch returns ErrNotBidOwner.
func (r *Repository) AcceptOffer(ctx context.Context, jobID, bidID, operatorID string, now time.Time) (*AssignResult, bool, error) {
	var result *AssignResult

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var (
			status    model.JobStatus
			currentID *string
			closesAt  *time.Time
			bookingID string
		)
		err := tx.QueryRow(ctx, `
			SELECT status, current_offered_bid_id, acceptance_closes_at, booking_id
			FROM jobs WHERE id = $1 FOR UPDATE
		`, jobID).Scan(&status, &currentID, &closesAt, &bookingID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock job %s: %w", jobID, err)
		}

		if status != model.JobPendingAcceptance || currentID == nil || *currentID != bidID || closesAt == nil {
			return nil
		}
		if now.After(*closesAt) {
			return nil // the deadline is hard; the timeout path owns this now
		}

		bid := model.Bid{}
		err = tx.QueryRow(ctx, `
			SELECT id, job_id, operator_id, amount, notes, status, submitted_at, offered_at, responded_at
			FROM bids WHERE id = $1 FOR UPDATE
		`, bidID).Scan(
			&bid.ID, &bid.JobID, &bid.OperatorID, &bid.Amount, &bid.Notes,
			&bid.Status, &bid.SubmittedAt, &bid.OfferedAt, &bid.RespondedAt,
		)
		if err != nil {
			return fmt.Errorf("load bid %s: %w", bidID, err)
		}
		if bid.OperatorID != operatorID {
			return ErrNotBidOwner
		}

		var price decimal.Decimal
		if err := tx.QueryRow(ctx, `SELECT customer_price FROM bookings WHERE id = $1`, bookingID).Scan(&price); err != nil {
			return fmt.Errorf("load booking %s: %w", bookingID, err)
		}
		margin := price.Sub(bid.Amount)

		return commitAssignment(ctx, tx, jobID, bookingID, &bid, margin, now, &result)
	})
	if err != nil {
		return nil, false, err
	}
	return result, result != nil, nil
}

// commitAssignment performs the shared tail of accept and manual assign:
// winner WON, everyone else LOST, job ASSIGNED, booking flagged.
func commitAssignment(ctx context.Context, tx pgx.Tx, jobID, bookingID string, winner *model.Bid, margin decimal.Decimal, now time.Time, out **AssignResult) error {
	_, err := tx.Exec(ctx, `
		UPDATE bids SET status = 'WON', responded_at = $2 WHERE id = $1
	`, winner.ID, now)
	if err != nil {
		return fmt.Errorf("mark bid %s won: %w", winner.ID, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE bids SET status = 'LOST'
		WHERE job_id = $1 AND id <> $2 AND status IN ('PENDING', 'OFFERED')
	`, jobID, winner.ID)
	if err != nil {
		return fmt.Errorf("mark losing bids on job %s: %w", jobID, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs
		SET status = $2,
		    assigned_operator_id = $3,
		    winning_bid_id = $4,
		    platform_margin = $5,
		    current_offered_bid_id = NULL,
		    acceptance_opens_at = NULL,
		    acceptance_closes_at = NULL,
		    updated_at = $6
		WHERE id = $1
	`, jobID, model.JobAssigned, winner.OperatorID, winner.ID, margin, now)
	if err != nil {
		return fmt.Errorf("assign job %s: %w", jobID, err)
	}

	_, err = tx.Exec(ctx, `UPDATE bookings SET assigned = true WHERE id = $1`, bookingID)
	if err != nil {
		return fmt.Errorf("flag booking %s assigned: %w", bookingID, err)
	}

	job, err := scanJob(tx.QueryRow(ctx, `SELECT`+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if err != nil {
		return fmt.Errorf("reload job %s: %w", jobID, err)
	}

	won := *winner
	won.Status = model.BidWon
	won.RespondedAt = &now
	*out = &AssignResult{Job: *job, WinningBid: won, Margin: margin}
	return nil
}

// ─── Admin transitions ──────────────────────────────────────

// ManualAssign assigns the job to the chosen operator. Allowed from
// OPEN_FOR_BIDDING, PENDING_ACCEPTANCE, and NO_BIDS_RECEIVED; an escalated
// job is the usual target. The operator's live bid is reused (its amount
// overwritten with the agreed one); with no live bid a synthetic one is
// inserted so the winning path stays uniform. Returns ok=false when the job
// is already assigned, cancelled, or completed.
func (r *Repository) ManualAssign(ctx context.Context, jobID, operatorID string, amount decimal.Decimal, now time.Time) (*AssignResult, bool, error) {
	var result *AssignResult

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var (
			status    model.JobStatus
			bookingID string
		)
		err := tx.QueryRow(ctx, `
			SELECT status, booking_id FROM jobs WHERE id = $1 FOR UPDATE
		`, jobID).Scan(&status, &bookingID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock job %s: %w", jobID, err)
		}
		switch status {
		case model.JobAssigned, model.JobCancelled, model.JobCompleted:
			return nil
		}

		bid := model.Bid{}
		err = tx.QueryRow(ctx, `
			SELECT id, job_id, operator_id, amount, notes, status, submitted_at, offered_at, responded_at
			FROM bids
			WHERE job_id = $1 AND operator_id = $2 AND status <> 'WITHDRAWN'
			FOR UPDATE
		`, jobID, operatorID).Scan(
			&bid.ID, &bid.JobID, &bid.OperatorID, &bid.Amount, &bid.Notes,
			&bid.Status, &bid.SubmittedAt, &bid.OfferedAt, &bid.RespondedAt,
		)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			notes := "manual assignment"
			bid = model.Bid{
				ID:          uuid.NewString(),
				JobID:       jobID,
				OperatorID:  operatorID,
				Amount:      amount,
				Notes:       &notes,
				Status:      model.BidPending,
				SubmittedAt: now,
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO bids (id, job_id, operator_id, amount, notes, status, submitted_at)
				VALUES ($1, $2, $3, $4, $5, 'PENDING', $6)
			`, bid.ID, bid.JobID, bid.OperatorID, bid.Amount, bid.Notes, bid.SubmittedAt)
			if err != nil {
				return fmt.Errorf("insert synthetic bid: %w", err)
			}
		case err != nil:
			return fmt.Errorf("load operator bid: %w", err)
		default:
			bid.Amount = amount
			_, err = tx.Exec(ctx, `UPDATE bids SET amount = $2 WHERE id = $1`, bid.ID, amount)
			if err != nil {
				return fmt.Errorf("restate bid %s amount: %w", bid.ID, err)
			}
		}

		var price decimal.Decimal
		if err := tx.QueryRow(ctx, `SELECT customer_price FROM bookings WHERE id = $1`, bookingID).Scan(&price); err != nil {
			return fmt.Errorf("load booking %s: %w", bookingID, err)
		}

		return commitAssignment(ctx, tx, jobID, bookingID, &bid, price.Sub(amount), now, &result)
	})
	if err != nil {
		return nil, false, err
	}
	return result, result != nil, nil
}

// ReopenBidding resets a NO_BIDS_RECEIVED job to a fresh bidding window.
func (r *Repository) ReopenBidding(ctx context.Context, jobID string, hours int, now time.Time) (bool, error) {
	reopened := false
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE jobs
			SET status = $2,
			    bidding_opens_at = $3,
			    bidding_closes_at = $4,
			    bidding_duration_hours = $5,
			    updated_at = $3
			WHERE id = $1 AND status = $6
		`, jobID, model.JobOpenForBidding, now, now.Add(time.Duration(hours)*time.Hour), hours, model.JobNoBidsReceived)
		if err != nil {
			return fmt.Errorf("reopen job %s: %w", jobID, err)
		}
		reopened = tag.RowsAffected() > 0
		return nil
	})
	return reopened, err
}

// CancelJob moves a non-terminal job to CANCELLED and voids its live bids.
func (r *Repository) CancelJob(ctx context.Context, jobID string, now time.Time) (bool, error) {
	cancelled := false
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE jobs
			SET status = $2,
			    current_offered_bid_id = NULL,
			    acceptance_opens_at = NULL,
			    acceptance_closes_at = NULL,
			    updated_at = $3
			WHERE id = $1 AND status IN ($4, $5)
		`, jobID, model.JobCancelled, now, model.JobOpenForBidding, model.JobPendingAcceptance)
		if err != nil {
			return fmt.Errorf("cancel job %s: %w", jobID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		cancelled = true

		_, err = tx.Exec(ctx, `
			UPDATE bids SET status = 'LOST'
			WHERE job_id = $1 AND status IN ('PENDING', 'OFFERED')
		`, jobID)
		if err != nil {
			return fmt.Errorf("void bids on job %s: %w", jobID, err)
		}
		return nil
	})
	return cancelled, err
}

// CompleteJob moves an ASSIGNED job to COMPLETED and credits the operator's
// completed-jobs counter.
func (r *Repository) CompleteJob(ctx context.Context, jobID string, now time.Time) (bool, error) {
	completed := false
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var operatorID *string
		err := tx.QueryRow(ctx, `
			UPDATE jobs
			SET status = $2, completed_at = $3, updated_at = $3
			WHERE id = $1 AND status = $4
			RETURNING assigned_operator_id
		`, jobID, model.JobCompleted, now, model.JobAssigned).Scan(&operatorID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("complete job %s: %w", jobID, err)
		}
		completed = true

		if operatorID != nil {
			_, err = tx.Exec(ctx, `
				UPDATE operators SET completed_jobs = completed_jobs + 1 WHERE id = $1
			`, *operatorID)
			if err != nil {
				return fmt.Errorf("credit operator %s: %w", *operatorID, err)
			}
		}
		return nil
	})
	return completed, err
}
