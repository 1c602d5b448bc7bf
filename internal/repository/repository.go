// Package repository provides database access for the auction engine.
//
// Every job state transition runs inside a single transaction whose guards
// repeat the expected prior state (`WHERE status = ...` plus a
// SELECT ... FOR UPDATE on the job row). A transition that finds its guard
// already violated reports a no-op instead of an error, which turns double
// timer firings and racing operator actions into silent drops.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopspring/decimal"

	"github.com/okello/airlift/internal/model"
)

// ─── Errors ─────────────────────────────────────────────────

var (
	// ErrNotFound is returned when a targeted row does not exist.
	ErrNotFound = errors.New("repository: not found")

	// ErrNotBidOwner is returned when a caller acts on a bid it does not own.
	ErrNotBidOwner = errors.New("repository: caller does not own this bid")

	// ErrJobClosed is returned when a bid operation targets a job whose
	// bidding window is no longer open.
	ErrJobClosed = errors.New("repository: job is not open for bidding")

	// ErrBidNotPending is returned when a withdrawal targets a bid that has
	// already been offered, resolved, or withdrawn.
	ErrBidNotPending = errors.New("repository: bid is not pending")

	// ErrTransient marks deadlocks and serialization failures. Callers may
	// retry with backoff.
	ErrTransient = errors.New("repository: transient database failure")
)

// classify wraps PostgreSQL deadlock/serialization failures with
// ErrTransient so the service layer can retry them.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}
	return err
}

// ─── Transition outcomes ────────────────────────────────────

// CloseOutcome is the result of a close-bidding transition.
type CloseOutcome int

const (
	// CloseNoop: the job was not OPEN_FOR_BIDDING; already processed.
	CloseNoop CloseOutcome = iota
	// ClosedNoBids: no pending bids; job moved to NO_BIDS_RECEIVED.
	ClosedNoBids
	// ClosedOffered: lowest bid selected; job moved to PENDING_ACCEPTANCE.
	ClosedOffered
)

// CascadeOutcome is the result of a decline/timeout cascade advance.
type CascadeOutcome int

const (
	// CascadeNoop: guards failed; the offer already resolved another way.
	CascadeNoop CascadeOutcome = iota
	// CascadeOffered: the next ranked bid now holds the offer.
	CascadeOffered
	// CascadeExhausted: no pending bids remain; job moved to NO_BIDS_RECEIVED.
	CascadeExhausted
)

// DeadlineGuard selects which side of the acceptance deadline a cascade
// advance requires. Operator declines must arrive on or before the deadline;
// timeouts only apply on or after it.
type DeadlineGuard int

const (
	BeforeDeadline DeadlineGuard = iota
	AfterDeadline
)

// AssignResult describes a committed assignment.
type AssignResult struct {
	Job        model.Job
	WinningBid model.Bid
	Margin     decimal.Decimal
}

// ─── Repository ─────────────────────────────────────────────

// Repository bundles all engine persistence over one pgx pool.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a repository backed by the given pool.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// withTx runs fn in a READ COMMITTED transaction; row-level FOR UPDATE locks
// inside fn provide the per-job serialization.
func (r *Repository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}
