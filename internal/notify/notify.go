// Package notify accepts typed notification intents from the auction engine
// and hands them off asynchronously. Delivery (email/SMS templating, retries)
// belongs to the external notifier; the engine only guarantees that state
// transitions never block or roll back on notification trouble.
package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/okello/airlift/internal/metrics"
)

// ─── Intents ────────────────────────────────────────────────

// Kind names a notification intent type.
type Kind string

const (
	KindBroadcastNewJob     Kind = "BROADCAST_NEW_JOB"
	KindJobOffer            Kind = "JOB_OFFER"
	KindBidWon              Kind = "BID_WON"
	KindEscalationToAdmin   Kind = "JOB_ESCALATION_TO_ADMIN"
)

// Escalation reasons.
const (
	ReasonNoBidsReceived       = "NO_BIDS_RECEIVED"
	ReasonAllOperatorsRejected = "ALL_OPERATORS_REJECTED"
)

// Stop is a pickup or dropoff point in an intent payload.
type Stop struct {
	Address  string  `json:"address"`
	Postcode *string `json:"postcode,omitempty"`
}

// Intent is one typed notification request. Exactly one payload field is set,
// matching Kind.
type Intent struct {
	Kind       Kind                 `json:"kind"`
	EmittedAt  time.Time            `json:"emitted_at"`
	Broadcast  *BroadcastNewJob     `json:"broadcast,omitempty"`
	Offer      *JobOffer            `json:"offer,omitempty"`
	BidWon     *BidWon              `json:"bid_won,omitempty"`
	Escalation *EscalationToAdmin   `json:"escalation,omitempty"`
}

// BroadcastNewJob fans a new job out to every eligible operator.
type BroadcastNewJob struct {
	JobID          string          `json:"job_id"`
	Pickup         Stop            `json:"pickup"`
	Dropoff        Stop            `json:"dropoff"`
	PickupDatetime time.Time       `json:"pickup_datetime"`
	VehicleType    string          `json:"vehicle_type"`
	MaxBidAmount   decimal.Decimal `json:"max_bid_amount"` // advisory ceiling
	OperatorIDs    []string        `json:"operator_ids"`
}

// JobOffer tells the currently ranked bidder they hold the offer.
type JobOffer struct {
	OperatorID         string          `json:"operator_id"`
	JobID              string          `json:"job_id"`
	BookingReference   string          `json:"booking_reference"`
	BidAmount          decimal.Decimal `json:"bid_amount"`
	AcceptanceDeadline time.Time       `json:"acceptance_deadline"`
	Pickup             Stop            `json:"pickup"`
	Dropoff            Stop            `json:"dropoff"`
	PickupDatetime     time.Time       `json:"pickup_datetime"`
}

// BidWon confirms the assignment to the winning operator.
type BidWon struct {
	OperatorID       string          `json:"operator_id"`
	JobID            string          `json:"job_id"`
	BookingReference string          `json:"booking_reference"`
	BidAmount        decimal.Decimal `json:"bid_amount"`
	PickupDatetime   time.Time       `json:"pickup_datetime"`
}

// EscalationToAdmin flags a job that needs manual handling.
type EscalationToAdmin struct {
	JobID            string `json:"job_id"`
	BookingReference string `json:"booking_reference"`
	Reason           string `json:"reason"`
}

// ─── Sink ───────────────────────────────────────────────────

// Deliverer pushes an encoded intent towards the external notifier.
type Deliverer interface {
	Deliver(ctx context.Context, intent Intent) error
}

// Sink buffers intents on a channel and delivers them from a worker
// goroutine. Publish never blocks and never returns an error: a full buffer
// or a failing deliverer costs a notification, not a state transition.
type Sink struct {
	deliverer Deliverer
	queue     chan Intent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSink creates a sink with the given buffer size.
func NewSink(deliverer Deliverer, queueSize int) *Sink {
	if queueSize <= 0 {
		queueSize = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sink{
		deliverer: deliverer,
		queue:     make(chan Intent, queueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the delivery worker.
func (s *Sink) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("[notify] delivery worker started (buffer=%d)", cap(s.queue))
}

// Stop drains nothing: pending intents in the buffer are dropped, consistent
// with the best-effort contract.
func (s *Sink) Stop() {
	s.cancel()
	s.wg.Wait()
	log.Printf("[notify] delivery worker stopped")
}

// Publish enqueues an intent for async delivery.
func (s *Sink) Publish(intent Intent) {
	if intent.EmittedAt.IsZero() {
		intent.EmittedAt = time.Now()
	}

	select {
	case s.queue <- intent:
		metrics.NotifyQueueDepth.Set(float64(len(s.queue)))
	default:
		log.Printf("[notify] WARNING: queue full — dropped %s intent", intent.Kind)
		metrics.NotifyDropped.Inc()
	}
}

// Depth returns the current buffer depth (for the debug endpoint).
func (s *Sink) Depth() int {
	return len(s.queue)
}

func (s *Sink) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case intent := <-s.queue:
			metrics.NotifyQueueDepth.Set(float64(len(s.queue)))

			deliverCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
			err := s.deliverer.Deliver(deliverCtx, intent)
			cancel()

			if err != nil {
				log.Printf("[notify] deliver %s failed: %v — dropped", intent.Kind, err)
				metrics.NotifyDropped.Inc()
			}
		}
	}
}
