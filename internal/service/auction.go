// Package service implements the auction engine's business operations on top
// of the guarded repository transitions. The repository decides state; this
// layer sequences transitions with timer scheduling and notification intents,
// and retries transient database failures.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/okello/airlift/internal/eligibility"
	"github.com/okello/airlift/internal/metrics"
	"github.com/okello/airlift/internal/model"
	"github.com/okello/airlift/internal/notify"
	"github.com/okello/airlift/internal/repository"
	"github.com/okello/airlift/internal/settings"
	"github.com/okello/airlift/internal/timer"
	"github.com/okello/airlift/pkg/money"
)

// ─── Errors ─────────────────────────────────────────────────

var (
	// ErrOfferNotAvailable is returned when an accept or decline targets an
	// offer that has already resolved (accepted, timed out, or cascaded on).
	ErrOfferNotAvailable = errors.New("service: no live offer for this job")

	// ErrJobNotReopenable is returned when reopen targets a job that is not
	// in NO_BIDS_RECEIVED.
	ErrJobNotReopenable = errors.New("service: job cannot be reopened")

	// ErrJobNotCancellable is returned when cancel targets a terminal job.
	ErrJobNotCancellable = errors.New("service: job is already terminal")

	// ErrJobNotAssigned is returned when complete targets a job that is not
	// ASSIGNED.
	ErrJobNotAssigned = errors.New("service: job is not assigned")
)

// ─── Collaborator interfaces ────────────────────────────────

// Store is the persistence surface the engine drives. *repository.Repository
// implements it; tests substitute an in-memory fake.
type Store interface {
	CreateJob(ctx context.Context, booking *model.Booking, job *model.Job) (bool, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
	GetJobByBookingID(ctx context.Context, bookingID string) (*model.Job, error)
	GetBooking(ctx context.Context, id string) (*model.Booking, error)

	CloseBidding(ctx context.Context, jobID string, now time.Time, acceptanceWindow time.Duration) (repository.CloseOutcome, *model.Bid, int, error)
	AdvanceCascade(ctx context.Context, jobID, expectBidID, operatorID string, guard repository.DeadlineGuard, now time.Time, acceptanceWindow time.Duration) (repository.CascadeOutcome, *model.Bid, int, error)
	AcceptOffer(ctx context.Context, jobID, bidID, operatorID string, now time.Time) (*repository.AssignResult, bool, error)

	ManualAssign(ctx context.Context, jobID, operatorID string, amount decimal.Decimal, now time.Time) (*repository.AssignResult, bool, error)
	ReopenBidding(ctx context.Context, jobID string, hours int, now time.Time) (bool, error)
	CancelJob(ctx context.Context, jobID string, now time.Time) (bool, error)
	CompleteJob(ctx context.Context, jobID string, now time.Time) (bool, error)

	UpsertBid(ctx context.Context, jobID, operatorID string, amount decimal.Decimal, notes *string, now time.Time) (*model.Bid, bool, error)
	WithdrawBid(ctx context.Context, bidID, operatorID string, now time.Time) error
	GetBid(ctx context.Context, id string) (*model.Bid, error)
	ListOffersByOperator(ctx context.Context, operatorID string) ([]repository.OfferRow, error)
	ListBidsByOperator(ctx context.Context, operatorID string, limit int) ([]model.Bid, error)
	ListBidsForJob(ctx context.Context, jobID string) ([]model.Bid, error)
}

// Scheduler is the timer surface the engine schedules against.
// *timer.Service implements it.
type Scheduler interface {
	Schedule(ctx context.Context, externalID string, kind model.TimerKind, payload []byte, fireAt time.Time) error
	Cancel(ctx context.Context, externalID string) error
}

// Notifier accepts fire-and-forget notification intents. *notify.Sink
// implements it.
type Notifier interface {
	Publish(intent notify.Intent)
}

// ─── Service ────────────────────────────────────────────────

// Config holds the engine's retry tuning.
type Config struct {
	TxMaxRetries   int
	TxRetryBackoff time.Duration
}

// AuctionService runs the job lifecycle: open, close, cascade, assign.
type AuctionService struct {
	store     Store
	scheduler Scheduler
	notifier  Notifier
	filter    *eligibility.Filter
	settings  *settings.Provider
	cfg       Config

	// now is swappable for tests.
	now func() time.Time
}

// New creates the auction service.
func New(store Store, scheduler Scheduler, notifier Notifier, filter *eligibility.Filter, s *settings.Provider, cfg Config) *AuctionService {
	if cfg.TxMaxRetries <= 0 {
		cfg.TxMaxRetries = 3
	}
	if cfg.TxRetryBackoff <= 0 {
		cfg.TxRetryBackoff = 25 * time.Millisecond
	}
	return &AuctionService{
		store:     store,
		scheduler: scheduler,
		notifier:  notifier,
		filter:    filter,
		settings:  s,
		cfg:       cfg,
		now:       time.Now,
	}
}

// withRetry retries fn on transient database failures with jittered backoff.
func (s *AuctionService) withRetry(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, repository.ErrTransient) || attempt >= s.cfg.TxMaxRetries {
			return err
		}
		metrics.TxRetries.Inc()
		sleep := s.cfg.TxRetryBackoff*time.Duration(attempt+1) +
			time.Duration(rand.Int63n(int64(s.cfg.TxRetryBackoff)))
		log.Printf("[engine] %s hit transient failure, retrying in %s: %v", op, sleep, err)
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ─── Timer payloads ─────────────────────────────────────────

type closePayload struct {
	JobID string `json:"job_id"`
}

type timeoutPayload struct {
	JobID   string `json:"job_id"`
	BidID   string `json:"bid_id"`
	Attempt int    `json:"attempt"`
}

// ─── Booking events ─────────────────────────────────────────

// HandleBookingPaid opens an auction for a freshly paid booking. Duplicate
// deliveries of the same booking id return the existing job with
// created=false and schedule nothing.
func (s *AuctionService) HandleBookingPaid(ctx context.Context, evt model.BookingPaid) (*model.Job, bool, error) {
	if err := money.Validate(evt.CustomerPrice); err != nil {
		return nil, false, err
	}

	hoursKey := settings.KeyDefaultBiddingWindowHours
	if evt.JourneyType == model.JourneyReturn {
		hoursKey = settings.KeyReturnBiddingWindowHours
	}
	hours := s.settings.Int(ctx, hoursKey)

	now := s.now()
	booking := &model.Booking{
		ID:             evt.BookingID,
		CustomerID:     evt.CustomerID,
		CustomerPrice:  evt.CustomerPrice,
		PickupAddress:  evt.PickupAddress,
		PickupPostcode: evt.PickupPostcode,
		DropoffAddress: evt.DropoffAddress,
		VehicleType:    evt.VehicleType,
		PickupDatetime: evt.PickupDatetime,
		JourneyType:    evt.JourneyType,
		BookingGroupID: evt.BookingGroupID,
	}
	job := &model.Job{
		ID:                 uuid.NewString(),
		BookingID:          evt.BookingID,
		Status:             model.JobOpenForBidding,
		BiddingOpensAt:     now,
		BiddingClosesAt:    now.Add(time.Duration(hours) * time.Hour),
		BiddingDurationHrs: hours,
	}

	var created bool
	err := s.withRetry(ctx, "create job", func() error {
		var err error
		created, err = s.store.CreateJob(ctx, booking, job)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if !created {
		existing, err := s.store.GetJobByBookingID(ctx, evt.BookingID)
		if err != nil {
			return nil, false, err
		}
		log.Printf("[engine] booking %s already has job %s — duplicate event ignored", evt.BookingID, existing.ID)
		return existing, false, nil
	}

	metrics.JobsCreated.Inc()
	log.Printf("[engine] job %s opened for booking %s (%s, closes %s)",
		job.ID, evt.BookingID, evt.JourneyType, job.BiddingClosesAt.Format(time.RFC3339))

	payload, _ := json.Marshal(closePayload{JobID: job.ID})
	if err := s.scheduler.Schedule(ctx, timer.CloseBiddingID(job.ID), model.TimerCloseBidding, payload, job.BiddingClosesAt); err != nil {
		// The job exists; a lost timer is recoverable via admin close.
		log.Printf("[engine] WARNING: schedule close for job %s failed: %v", job.ID, err)
	}

	s.broadcast(ctx, job, booking)
	return job, true, nil
}

// broadcast fans the new job out to eligible operators.
func (s *AuctionService) broadcast(ctx context.Context, job *model.Job, booking *model.Booking) {
	ids, err := s.filter.EligibleOperators(ctx, booking)
	if err != nil {
		log.Printf("[engine] WARNING: eligibility for job %s failed: %v — broadcast skipped", job.ID, err)
		return
	}
	if len(ids) == 0 {
		log.Printf("[engine] job %s has no eligible operators — nothing to broadcast", job.ID)
		return
	}

	maxPct := s.settings.Percent(ctx, settings.KeyMaxBidPercent)
	s.notifier.Publish(notify.Intent{
		Kind: notify.KindBroadcastNewJob,
		Broadcast: &notify.BroadcastNewJob{
			JobID:          job.ID,
			Pickup:         notify.Stop{Address: booking.PickupAddress, Postcode: booking.PickupPostcode},
			Dropoff:        notify.Stop{Address: booking.DropoffAddress},
			PickupDatetime: booking.PickupDatetime,
			VehicleType:    booking.VehicleType,
			MaxBidAmount:   money.PercentOf(booking.CustomerPrice, maxPct),
			OperatorIDs:    ids,
		},
	})
	log.Printf("[engine] job %s broadcast to %d operators", job.ID, len(ids))
}

// HandleBookingCancelled cancels the auction for a refunded booking. Unknown
// bookings and already-terminal jobs are no-ops.
func (s *AuctionService) HandleBookingCancelled(ctx context.Context, evt model.BookingCancelled) error {
	job, err := s.store.GetJobByBookingID(ctx, evt.BookingID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Printf("[engine] cancel event for unknown booking %s — ignored", evt.BookingID)
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.cancelJob(ctx, job); errors.Is(err, ErrJobNotCancellable) {
		log.Printf("[engine] booking %s cancelled but job %s is already %s — ignored", evt.BookingID, job.ID, job.Status)
		return nil
	} else if err != nil {
		return err
	}
	log.Printf("[engine] job %s cancelled (booking %s: %s)", job.ID, evt.BookingID, evt.Reason)
	return nil
}

// ─── Close bidding ──────────────────────────────────────────

// CloseBidding ends the bidding window: offer the lowest bid or escalate.
// Safe to call repeatedly; a job past OPEN_FOR_BIDDING is a no-op.
func (s *AuctionService) CloseBidding(ctx context.Context, jobID string) (repository.CloseOutcome, error) {
	window := s.acceptanceWindow(ctx)
	now := s.now()

	var (
		outcome repository.CloseOutcome
		offered *model.Bid
		attempt int
	)
	err := s.withRetry(ctx, "close bidding", func() error {
		var err error
		outcome, offered, attempt, err = s.store.CloseBidding(ctx, jobID, now, window)
		return err
	})
	if err != nil {
		return repository.CloseNoop, err
	}

	switch outcome {
	case repository.CloseNoop:
		log.Printf("[engine] close for job %s was a no-op", jobID)

	case repository.ClosedNoBids:
		log.Printf("[engine] job %s closed with no bids — escalating", jobID)
		s.escalate(ctx, jobID, notify.ReasonNoBidsReceived)

	case repository.ClosedOffered:
		log.Printf("[engine] job %s closed — offering bid %s (%s) to operator %s (attempt %d)",
			jobID, offered.ID, money.Format(offered.Amount), offered.OperatorID, attempt)
		s.afterOffer(ctx, jobID, offered, attempt, now.Add(window))
	}
	return outcome, nil
}

// afterOffer schedules the acceptance timeout and notifies the offered
// operator. Runs after close and after every cascade advance.
func (s *AuctionService) afterOffer(ctx context.Context, jobID string, bid *model.Bid, attempt int, deadline time.Time) {
	metrics.OffersExtended.Inc()

	payload, _ := json.Marshal(timeoutPayload{JobID: jobID, BidID: bid.ID, Attempt: attempt})
	if err := s.scheduler.Schedule(ctx, timer.AcceptanceTimeoutID(jobID, attempt), model.TimerAcceptanceTimeout, payload, deadline); err != nil {
		log.Printf("[engine] WARNING: schedule acceptance timeout for job %s attempt %d failed: %v", jobID, attempt, err)
	}

	booking, err := s.bookingForJob(ctx, jobID)
	if err != nil {
		log.Printf("[engine] WARNING: load booking for job %s failed: %v — offer notification skipped", jobID, err)
		return
	}
	s.notifier.Publish(notify.Intent{
		Kind: notify.KindJobOffer,
		Offer: &notify.JobOffer{
			OperatorID:         bid.OperatorID,
			JobID:              jobID,
			BookingReference:   booking.ID,
			BidAmount:          bid.Amount,
			AcceptanceDeadline: deadline,
			Pickup:             notify.Stop{Address: booking.PickupAddress, Postcode: booking.PickupPostcode},
			Dropoff:            notify.Stop{Address: booking.DropoffAddress},
			PickupDatetime:     booking.PickupDatetime,
		},
	})
}

func (s *AuctionService) escalate(ctx context.Context, jobID, reason string) {
	metrics.Escalations.WithLabelValues(reason).Inc()

	ref := jobID
	if booking, err := s.bookingForJob(ctx, jobID); err == nil {
		ref = booking.ID
	}
	s.notifier.Publish(notify.Intent{
		Kind:       notify.KindEscalationToAdmin,
		Escalation: &notify.EscalationToAdmin{JobID: jobID, BookingReference: ref, Reason: reason},
	})
}

func (s *AuctionService) bookingForJob(ctx context.Context, jobID string) (*model.Booking, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.store.GetBooking(ctx, job.BookingID)
}

func (s *AuctionService) acceptanceWindow(ctx context.Context) time.Duration {
	return time.Duration(s.settings.Int(ctx, settings.KeyAcceptanceWindowMinutes)) * time.Minute
}

// ─── Timer handlers ─────────────────────────────────────────

// HandleCloseBiddingTimer is the CLOSE_BIDDING timer handler.
func (s *AuctionService) HandleCloseBiddingTimer(ctx context.Context, entry model.TimerEntry) error {
	var p closePayload
	if err := json.Unmarshal(entry.Payload, &p); err != nil || p.JobID == "" {
		return fmt.Errorf("close timer %s: bad payload %q", entry.ExternalID, entry.Payload)
	}
	_, err := s.CloseBidding(ctx, p.JobID)
	return err
}

// HandleAcceptanceTimeout is the ACCEPTANCE_TIMEOUT timer handler. It treats
// an expired offer as an implicit decline and cascades to the next bidder.
// The repository guards make a firing that lost the race to an accept or an
// explicit decline a silent no-op.
func (s *AuctionService) HandleAcceptanceTimeout(ctx context.Context, entry model.TimerEntry) error {
	var p timeoutPayload
	if err := json.Unmarshal(entry.Payload, &p); err != nil || p.JobID == "" || p.BidID == "" {
		return fmt.Errorf("timeout timer %s: bad payload %q", entry.ExternalID, entry.Payload)
	}

	outcome, err := s.advance(ctx, p.JobID, p.BidID, "", repository.AfterDeadline)
	if err != nil {
		return err
	}
	if outcome == repository.CascadeNoop {
		log.Printf("[engine] acceptance timeout for job %s attempt %d was a no-op", p.JobID, p.Attempt)
	}
	return nil
}

// advance runs one cascade step and its follow-up effects.
func (s *AuctionService) advance(ctx context.Context, jobID, expectBidID, operatorID string, guard repository.DeadlineGuard) (repository.CascadeOutcome, error) {
	window := s.acceptanceWindow(ctx)
	now := s.now()

	var (
		outcome repository.CascadeOutcome
		next    *model.Bid
		attempt int
	)
	err := s.withRetry(ctx, "advance cascade", func() error {
		var err error
		outcome, next, attempt, err = s.store.AdvanceCascade(ctx, jobID, expectBidID, operatorID, guard, now, window)
		return err
	})
	if err != nil {
		return repository.CascadeNoop, err
	}

	switch outcome {
	case repository.CascadeOffered:
		log.Printf("[engine] job %s cascaded to bid %s (%s, attempt %d)",
			jobID, next.ID, money.Format(next.Amount), attempt)
		s.afterOffer(ctx, jobID, next, attempt, now.Add(window))

	case repository.CascadeExhausted:
		log.Printf("[engine] job %s exhausted its cascade — escalating", jobID)
		s.escalate(ctx, jobID, notify.ReasonAllOperatorsRejected)
	}
	return outcome, nil
}

// ─── Operator offer actions ─────────────────────────────────

// AcceptOffer assigns the job to the operator currently holding its offer.
// jobOrRef may be the job id or the booking reference.
func (s *AuctionService) AcceptOffer(ctx context.Context, operatorID, jobOrRef string) (*repository.AssignResult, error) {
	job, err := s.ResolveJob(ctx, jobOrRef)
	if err != nil {
		return nil, err
	}
	if job.CurrentOfferedBidID == nil {
		return nil, ErrOfferNotAvailable
	}
	bidID := *job.CurrentOfferedBidID

	// Holding the offer means owning the offered bid. An operator whose
	// offer already cascaded away sees "not available", not "forbidden".
	offered, err := s.store.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if offered.OperatorID != operatorID {
		return nil, ErrOfferNotAvailable
	}

	now := s.now()
	var (
		result *repository.AssignResult
		ok     bool
	)
	err = s.withRetry(ctx, "accept offer", func() error {
		var err error
		result, ok, err = s.store.AcceptOffer(ctx, job.ID, bidID, operatorID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOfferNotAvailable
	}

	// The pending timeout for this attempt can no longer apply; drop it.
	if err := s.scheduler.Cancel(ctx, timer.AcceptanceTimeoutID(job.ID, result.Job.AcceptanceAttempts)); err != nil {
		log.Printf("[engine] WARNING: cancel timeout for job %s failed: %v", job.ID, err)
	}

	metrics.JobsAssigned.WithLabelValues("accept").Inc()
	log.Printf("[engine] job %s assigned to operator %s at %s (margin %s)",
		job.ID, operatorID, money.Format(result.WinningBid.Amount), money.Format(result.Margin))

	s.notifyWon(ctx, result)
	return result, nil
}

// DeclineOffer declines the operator's live offer and cascades onward.
func (s *AuctionService) DeclineOffer(ctx context.Context, operatorID, jobOrRef string) error {
	job, err := s.ResolveJob(ctx, jobOrRef)
	if err != nil {
		return err
	}
	if job.CurrentOfferedBidID == nil {
		return ErrOfferNotAvailable
	}
	offered, err := s.store.GetBid(ctx, *job.CurrentOfferedBidID)
	if err != nil {
		return err
	}
	if offered.OperatorID != operatorID {
		return ErrOfferNotAvailable
	}

	outcome, err := s.advance(ctx, job.ID, *job.CurrentOfferedBidID, operatorID, repository.BeforeDeadline)
	if err != nil {
		return err
	}
	if outcome == repository.CascadeNoop {
		return ErrOfferNotAvailable
	}

	// Attempt numbers only move forward, so the declined attempt's timer is
	// the one stamped on the job before the advance.
	if err := s.scheduler.Cancel(ctx, timer.AcceptanceTimeoutID(job.ID, job.AcceptanceAttempts)); err != nil {
		log.Printf("[engine] WARNING: cancel timeout for job %s failed: %v", job.ID, err)
	}
	return nil
}

func (s *AuctionService) notifyWon(ctx context.Context, result *repository.AssignResult) {
	booking, err := s.store.GetBooking(ctx, result.Job.BookingID)
	if err != nil {
		log.Printf("[engine] WARNING: load booking %s failed: %v — win notification skipped", result.Job.BookingID, err)
		return
	}
	s.notifier.Publish(notify.Intent{
		Kind: notify.KindBidWon,
		BidWon: &notify.BidWon{
			OperatorID:       result.WinningBid.OperatorID,
			JobID:            result.Job.ID,
			BookingReference: booking.ID,
			BidAmount:        result.WinningBid.Amount,
			PickupDatetime:   booking.PickupDatetime,
		},
	})
}

// ResolveJob looks a job up by id, falling back to the booking reference.
func (s *AuctionService) ResolveJob(ctx context.Context, jobOrRef string) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, jobOrRef)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	return s.store.GetJobByBookingID(ctx, jobOrRef)
}

// ─── Admin operations ───────────────────────────────────────

// AdminCloseBidding force-closes the bidding window ahead of schedule.
func (s *AuctionService) AdminCloseBidding(ctx context.Context, jobID string) (repository.CloseOutcome, error) {
	if err := s.scheduler.Cancel(ctx, timer.CloseBiddingID(jobID)); err != nil {
		log.Printf("[engine] WARNING: cancel close timer for job %s failed: %v", jobID, err)
	}
	return s.CloseBidding(ctx, jobID)
}

// ManualAssign hands the job to a chosen operator at an agreed amount,
// overriding the cascade. Works from any state except ASSIGNED, CANCELLED,
// and COMPLETED; an escalated job is the usual target. The amount may not
// exceed the customer price, so the margin stays non-negative.
func (s *AuctionService) ManualAssign(ctx context.Context, jobID, operatorID string, amount decimal.Decimal) (*repository.AssignResult, error) {
	if err := money.Validate(amount); err != nil {
		return nil, err
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	booking, err := s.store.GetBooking(ctx, job.BookingID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(booking.CustomerPrice) {
		return nil, ErrBidExceedsCustomerPrice
	}

	now := s.now()
	var (
		result *repository.AssignResult
		ok     bool
	)
	err = s.withRetry(ctx, "manual assign", func() error {
		var err error
		result, ok, err = s.store.ManualAssign(ctx, jobID, operatorID, amount, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobNotCancellable
	}

	s.dropTimers(ctx, job)
	metrics.JobsAssigned.WithLabelValues("manual").Inc()
	log.Printf("[engine] job %s manually assigned to operator %s at %s", jobID, operatorID, money.Format(amount))

	s.notifyWon(ctx, result)
	return result, nil
}

// ReopenBidding restarts the auction for an escalated job and re-broadcasts
// it. hours <= 0 uses the configured default window.
func (s *AuctionService) ReopenBidding(ctx context.Context, jobID string, hours int) (*model.Job, error) {
	if hours <= 0 {
		hours = s.settings.Int(ctx, settings.KeyDefaultBiddingWindowHours)
	}

	now := s.now()
	var reopened bool
	err := s.withRetry(ctx, "reopen bidding", func() error {
		var err error
		reopened, err = s.store.ReopenBidding(ctx, jobID, hours, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !reopened {
		return nil, ErrJobNotReopenable
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	log.Printf("[engine] job %s reopened for bidding until %s", jobID, job.BiddingClosesAt.Format(time.RFC3339))

	// The previous close entry fired already; Schedule re-arms it.
	payload, _ := json.Marshal(closePayload{JobID: jobID})
	if err := s.scheduler.Schedule(ctx, timer.CloseBiddingID(jobID), model.TimerCloseBidding, payload, job.BiddingClosesAt); err != nil {
		log.Printf("[engine] WARNING: reschedule close for job %s failed: %v", jobID, err)
	}

	if booking, err := s.store.GetBooking(ctx, job.BookingID); err == nil {
		s.broadcast(ctx, job, booking)
	}
	return job, nil
}

// CancelJob cancels an auction by job id (admin path).
func (s *AuctionService) CancelJob(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return s.cancelJob(ctx, job)
}

func (s *AuctionService) cancelJob(ctx context.Context, job *model.Job) error {
	now := s.now()
	var cancelled bool
	err := s.withRetry(ctx, "cancel job", func() error {
		var err error
		cancelled, err = s.store.CancelJob(ctx, job.ID, now)
		return err
	})
	if err != nil {
		return err
	}
	if !cancelled {
		return ErrJobNotCancellable
	}
	s.dropTimers(ctx, job)
	return nil
}

// CompleteJob marks an assigned job done and credits the operator.
func (s *AuctionService) CompleteJob(ctx context.Context, jobID string) error {
	now := s.now()
	var completed bool
	err := s.withRetry(ctx, "complete job", func() error {
		var err error
		completed, err = s.store.CompleteJob(ctx, jobID, now)
		return err
	})
	if err != nil {
		return err
	}
	if !completed {
		return ErrJobNotAssigned
	}
	log.Printf("[engine] job %s completed", jobID)
	return nil
}

// dropTimers cancels the job's live timer entries. Cancelling entries that
// already fired is harmless.
func (s *AuctionService) dropTimers(ctx context.Context, job *model.Job) {
	if err := s.scheduler.Cancel(ctx, timer.CloseBiddingID(job.ID)); err != nil {
		log.Printf("[engine] WARNING: cancel close timer for job %s failed: %v", job.ID, err)
	}
	if job.AcceptanceAttempts > 0 {
		if err := s.scheduler.Cancel(ctx, timer.AcceptanceTimeoutID(job.ID, job.AcceptanceAttempts)); err != nil {
			log.Printf("[engine] WARNING: cancel timeout for job %s failed: %v", job.ID, err)
		}
	}
}

// JobDetail is the admin view of a job with its booking and bids.
type JobDetail struct {
	Job     model.Job     `json:"job"`
	Booking model.Booking `json:"booking"`
	Bids    []model.Bid   `json:"bids"`
}

// GetJobDetail assembles the admin inspection view.
func (s *AuctionService) GetJobDetail(ctx context.Context, jobOrRef string) (*JobDetail, error) {
	job, err := s.ResolveJob(ctx, jobOrRef)
	if err != nil {
		return nil, err
	}
	booking, err := s.store.GetBooking(ctx, job.BookingID)
	if err != nil {
		return nil, err
	}
	bids, err := s.store.ListBidsForJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	return &JobDetail{Job: *job, Booking: *booking, Bids: bids}, nil
}
