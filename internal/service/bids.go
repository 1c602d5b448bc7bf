package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/okello/airlift/internal/metrics"
	"github.com/okello/airlift/internal/model"
	"github.com/okello/airlift/internal/settings"
	"github.com/okello/airlift/pkg/money"
)

var (
	// ErrBidBelowMinimum is returned when a bid undercuts the configured
	// floor (MIN_BID_PERCENT of the customer price).
	ErrBidBelowMinimum = errors.New("service: bid is below the minimum amount")

	// ErrBidExceedsCustomerPrice is returned when a bid exceeds the customer
	// price. Such a bid would assign the job at a loss.
	ErrBidExceedsCustomerPrice = errors.New("service: bid exceeds the customer price")
)

// PlaceBid places or restates the operator's sealed bid on a job.
//
// Eligibility (approval, vehicle type, documents) and the amount bounds are
// checked at placement time against the live settings. Bounds are not
// re-validated if the floor moves later; a bid legal when placed stays legal.
func (s *AuctionService) PlaceBid(ctx context.Context, operatorID, jobOrRef string, amount decimal.Decimal, notes *string) (*model.Bid, error) {
	if err := money.Validate(amount); err != nil {
		return nil, err
	}

	job, err := s.ResolveJob(ctx, jobOrRef)
	if err != nil {
		return nil, err
	}
	booking, err := s.store.GetBooking(ctx, job.BookingID)
	if err != nil {
		return nil, err
	}

	if err := s.filter.CheckBidder(ctx, operatorID, booking); err != nil {
		return nil, err
	}

	minPct := s.settings.Percent(ctx, settings.KeyMinBidPercent)
	floor := money.PercentOf(booking.CustomerPrice, minPct)
	if amount.LessThan(floor) {
		return nil, ErrBidBelowMinimum
	}
	if amount.GreaterThan(booking.CustomerPrice) {
		return nil, ErrBidExceedsCustomerPrice
	}

	now := s.now()
	var (
		bid     *model.Bid
		created bool
	)
	err = s.withRetry(ctx, "place bid", func() error {
		var err error
		bid, created, err = s.store.UpsertBid(ctx, job.ID, operatorID, amount, notes, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	action := "updated"
	if created {
		action = "placed"
	}
	metrics.BidsPlaced.WithLabelValues(action).Inc()
	log.Printf("[engine] operator %s %s bid %s on job %s", operatorID, action, money.Format(amount), job.ID)
	return bid, nil
}

// WithdrawBid retires the operator's pending bid while bidding is still open.
func (s *AuctionService) WithdrawBid(ctx context.Context, operatorID, bidID string) error {
	now := s.now()
	err := s.withRetry(ctx, "withdraw bid", func() error {
		return s.store.WithdrawBid(ctx, bidID, operatorID, now)
	})
	if err != nil {
		return err
	}
	metrics.BidsPlaced.WithLabelValues("withdrawn").Inc()
	log.Printf("[engine] operator %s withdrew bid %s", operatorID, bidID)
	return nil
}

// Offer is an operator-facing view of a live offer.
type Offer struct {
	JobID              string          `json:"job_id"`
	BookingReference   string          `json:"booking_reference"`
	BidID              string          `json:"bid_id"`
	BidAmount          decimal.Decimal `json:"bid_amount"`
	AcceptanceDeadline time.Time       `json:"acceptance_deadline"`
	PickupAddress      string          `json:"pickup_address"`
	DropoffAddress     string          `json:"dropoff_address"`
	PickupDatetime     time.Time       `json:"pickup_datetime"`
	VehicleType        string          `json:"vehicle_type"`
}

// ListMyOffers returns the operator's live offers, soonest deadline first.
func (s *AuctionService) ListMyOffers(ctx context.Context, operatorID string) ([]Offer, error) {
	rows, err := s.store.ListOffersByOperator(ctx, operatorID)
	if err != nil {
		return nil, err
	}
	out := make([]Offer, 0, len(rows))
	for _, r := range rows {
		out = append(out, Offer{
			JobID:              r.JobID,
			BookingReference:   r.BookingID,
			BidID:              r.Bid.ID,
			BidAmount:          r.Bid.Amount,
			AcceptanceDeadline: r.AcceptanceClosesAt,
			PickupAddress:      r.PickupAddress,
			DropoffAddress:     r.DropoffAddress,
			PickupDatetime:     r.PickupDatetime,
			VehicleType:        r.VehicleType,
		})
	}
	return out, nil
}

// ListMyBids returns the operator's bid history, newest first.
func (s *AuctionService) ListMyBids(ctx context.Context, operatorID string, limit int) ([]model.Bid, error) {
	return s.store.ListBidsByOperator(ctx, operatorID, limit)
}
