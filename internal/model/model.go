// Package model contains domain models for the transfer auction engine.
// These structs map to the PostgreSQL schema defined in migrations/001_create_schema.up.sql.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─── Enums ──────────────────────────────────────────────────

// JobStatus is the lifecycle state of an auction job.
type JobStatus string

const (
	JobOpenForBidding    JobStatus = "OPEN_FOR_BIDDING"
	JobPendingAcceptance JobStatus = "PENDING_ACCEPTANCE"
	JobAssigned          JobStatus = "ASSIGNED"
	JobNoBidsReceived    JobStatus = "NO_BIDS_RECEIVED"
	JobCancelled         JobStatus = "CANCELLED"
	JobCompleted         JobStatus = "COMPLETED"
)

// Terminal reports whether no further automatic transitions apply.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobAssigned, JobNoBidsReceived, JobCancelled, JobCompleted:
		return true
	}
	return false
}

// BidStatus is the lifecycle state of an operator bid.
type BidStatus string

const (
	BidPending   BidStatus = "PENDING"
	BidOffered   BidStatus = "OFFERED"
	BidWon       BidStatus = "WON"
	BidLost      BidStatus = "LOST"
	BidDeclined  BidStatus = "DECLINED"
	BidWithdrawn BidStatus = "WITHDRAWN"
)

// JourneyType distinguishes one-way bookings from the legs of a return trip.
// Return legs get a much shorter bidding window.
type JourneyType string

const (
	JourneyOneWay   JourneyType = "ONE_WAY"
	JourneyOutbound JourneyType = "OUTBOUND"
	JourneyReturn   JourneyType = "RETURN"
)

type ApprovalStatus string

const (
	OperatorApproved  ApprovalStatus = "APPROVED"
	OperatorPending   ApprovalStatus = "PENDING"
	OperatorSuspended ApprovalStatus = "SUSPENDED"
)

// DocumentType names the compliance documents operators must keep current.
type DocumentType string

const (
	DocOperatingLicense DocumentType = "OPERATING_LICENSE"
	DocInsurance        DocumentType = "INSURANCE"
)

// TimerKind identifies the logical event a timer entry fires.
type TimerKind string

const (
	TimerCloseBidding      TimerKind = "CLOSE_BIDDING"
	TimerAcceptanceTimeout TimerKind = "ACCEPTANCE_TIMEOUT"
)

type TimerState string

const (
	TimerScheduled TimerState = "SCHEDULED"
	TimerFired     TimerState = "FIRED"
	TimerCancelled TimerState = "CANCELLED"
)

// ─── Domain Models ──────────────────────────────────────────

// Booking is the paid customer booking a job auctions off. It is owned by the
// booking subsystem; the engine only reads it and flips its assigned flag.
type Booking struct {
	ID             string          `json:"id"`
	CustomerID     string          `json:"customer_id"`
	CustomerPrice  decimal.Decimal `json:"customer_price"`
	PickupAddress  string          `json:"pickup_address"`
	PickupPostcode *string         `json:"pickup_postcode,omitempty"`
	DropoffAddress string          `json:"dropoff_address"`
	VehicleType    string          `json:"vehicle_type"`
	PickupDatetime time.Time       `json:"pickup_datetime"`
	JourneyType    JourneyType     `json:"journey_type"`
	BookingGroupID *string         `json:"booking_group_id,omitempty"`
	Assigned       bool            `json:"assigned"`
}

// Job maps to the `jobs` table. One per booking, never deleted.
type Job struct {
	ID                  string           `json:"id"`
	BookingID           string           `json:"booking_id"`
	Status              JobStatus        `json:"status"`
	BiddingOpensAt      time.Time        `json:"bidding_opens_at"`
	BiddingClosesAt     time.Time        `json:"bidding_closes_at"`
	BiddingDurationHrs  int              `json:"bidding_duration_hours"`
	AssignedOperatorID  *string          `json:"assigned_operator_id,omitempty"`
	WinningBidID        *string          `json:"winning_bid_id,omitempty"`
	PlatformMargin      *decimal.Decimal `json:"platform_margin,omitempty"`
	CurrentOfferedBidID *string          `json:"current_offered_bid_id,omitempty"`
	AcceptanceOpensAt   *time.Time       `json:"acceptance_opens_at,omitempty"`
	AcceptanceClosesAt  *time.Time       `json:"acceptance_closes_at,omitempty"`
	AcceptanceAttempts  int              `json:"acceptance_attempt_count"`
	CompletedAt         *time.Time       `json:"completed_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// Bid maps to the `bids` table. At most one non-withdrawn bid per
// (job_id, operator_id), enforced by a partial unique index.
type Bid struct {
	ID          string          `json:"id"`
	JobID       string          `json:"job_id"`
	OperatorID  string          `json:"operator_id"`
	Amount      decimal.Decimal `json:"amount"`
	Notes       *string         `json:"notes,omitempty"`
	Status      BidStatus       `json:"status"`
	SubmittedAt time.Time       `json:"submitted_at"`
	OfferedAt   *time.Time      `json:"offered_at,omitempty"`
	RespondedAt *time.Time      `json:"responded_at,omitempty"`
}

// OperatorDocument is one compliance document with optional expiry.
type OperatorDocument struct {
	Type      DocumentType `json:"type"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
}

// Operator is owned by the onboarding subsystem; the engine reads it for
// eligibility checks and increments its completed-jobs counter.
type Operator struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Approval      ApprovalStatus     `json:"approval_status"`
	ServiceAreas  []string           `json:"service_areas"` // postcode prefixes
	VehicleTypes  []string           `json:"vehicle_types"`
	Documents     []OperatorDocument `json:"documents"`
	CompletedJobs int                `json:"completed_jobs"`
}

// HasCurrentDocument reports whether the operator holds a document of the
// given type that has not expired as of now.
func (o *Operator) HasCurrentDocument(t DocumentType, now time.Time) bool {
	for _, d := range o.Documents {
		if d.Type != t {
			continue
		}
		if d.ExpiresAt == nil || d.ExpiresAt.After(now) {
			return true
		}
	}
	return false
}

// HasVehicleType reports whether the operator declared the given vehicle type.
func (o *Operator) HasVehicleType(vt string) bool {
	for _, v := range o.VehicleTypes {
		if v == vt {
			return true
		}
	}
	return false
}

// TimerEntry maps to the `timer_entries` table owned by the timer service.
type TimerEntry struct {
	ID         string     `json:"id"`
	ExternalID string     `json:"external_id"`
	Kind       TimerKind  `json:"kind"`
	Payload    []byte     `json:"payload,omitempty"`
	FireAt     time.Time  `json:"fire_at"`
	State      TimerState `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	FiredAt    *time.Time `json:"fired_at,omitempty"`
}

// ─── Event DTOs ─────────────────────────────────────────────

// BookingPaid is the inbound payment event that opens an auction.
// Idempotent on BookingID.
type BookingPaid struct {
	BookingID      string          `json:"booking_id"`
	CustomerID     string          `json:"customer_id"`
	CustomerPrice  decimal.Decimal `json:"customer_price"`
	PickupAddress  string          `json:"pickup_address"`
	PickupPostcode *string         `json:"pickup_postcode,omitempty"`
	DropoffAddress string          `json:"dropoff_address"`
	VehicleType    string          `json:"vehicle_type"`
	PickupDatetime time.Time       `json:"pickup_datetime"`
	JourneyType    JourneyType     `json:"journey_type"`
	BookingGroupID *string         `json:"booking_group_id,omitempty"`
}

// BookingCancelled is the inbound refund/cancel event.
type BookingCancelled struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
}
