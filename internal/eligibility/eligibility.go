// Package eligibility decides which operators may receive a job broadcast
// and which may bid on it.
//
// All rules must hold: APPROVED status, declared vehicle type, current
// OPERATING_LICENSE and INSURANCE documents, and (when enabled) a service
// area matching the pickup postcode district. Approval, vehicle, and document
// rules are re-checked at bid time because an operator can lose eligibility
// after the broadcast.
package eligibility

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/okello/airlift/internal/metrics"
	"github.com/okello/airlift/internal/model"
	"github.com/okello/airlift/internal/settings"
)

// ─── Errors ─────────────────────────────────────────────────

var (
	ErrOperatorNotFound          = errors.New("operator not found")
	ErrOperatorNotApproved       = errors.New("operator is not approved")
	ErrDocumentsMissingOrExpired = errors.New("operator documents are missing or expired")
	ErrVehicleTypeUnsupported    = errors.New("operator does not support the required vehicle type")
)

// ─── Filter ─────────────────────────────────────────────────

// OperatorSource provides operator reads for eligibility decisions.
type OperatorSource interface {
	GetOperator(ctx context.Context, id string) (*model.Operator, error)
	// ListApprovedByVehicleType returns APPROVED operators declaring the
	// vehicle type, ordered by id for a deterministic broadcast set.
	ListApprovedByVehicleType(ctx context.Context, vehicleType string) ([]model.Operator, error)
}

// Filter evaluates operator eligibility for a booking.
type Filter struct {
	ops      OperatorSource
	settings *settings.Provider
}

// New creates an eligibility filter.
func New(ops OperatorSource, s *settings.Provider) *Filter {
	return &Filter{ops: ops, settings: s}
}

// EligibleOperators returns the ordered, deduplicated set of operator ids
// eligible to receive the broadcast for the given booking.
//
// When postcode filtering is enabled and the booking has no pickup postcode,
// the broadcast is suppressed: an empty set is returned and an operational
// warning is emitted.
func (f *Filter) EligibleOperators(ctx context.Context, booking *model.Booking) ([]string, error) {
	filterPostcodes := f.settings.Bool(ctx, settings.KeyEnablePostcodeFiltering)

	if filterPostcodes && postcodeMissing(booking.PickupPostcode) {
		log.Printf("[eligibility] WARNING: booking %s has no pickup postcode with filtering enabled — broadcast suppressed", booking.ID)
		metrics.BroadcastsSuppressed.Inc()
		return nil, nil
	}

	operators, err := f.ops.ListApprovedByVehicleType(ctx, booking.VehicleType)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	seen := make(map[string]struct{}, len(operators))
	var eligible []string

	for i := range operators {
		op := &operators[i]
		if _, dup := seen[op.ID]; dup {
			continue
		}
		if checkOperator(op, booking.VehicleType, now) != nil {
			continue
		}
		if filterPostcodes && !servesDistrict(op.ServiceAreas, *booking.PickupPostcode) {
			continue
		}
		seen[op.ID] = struct{}{}
		eligible = append(eligible, op.ID)
	}

	return eligible, nil
}

// CheckBidder re-runs the approval, vehicle, and document rules for a single
// operator at bid-submission time. The postcode rule is broadcast-only and is
// deliberately not re-checked here.
func (f *Filter) CheckBidder(ctx context.Context, operatorID string, booking *model.Booking) error {
	op, err := f.ops.GetOperator(ctx, operatorID)
	if err != nil {
		return err
	}
	if op == nil {
		return ErrOperatorNotFound
	}
	return checkOperator(op, booking.VehicleType, time.Now())
}

// checkOperator applies rules 1–3: approval, vehicle type, document currency.
func checkOperator(op *model.Operator, vehicleType string, now time.Time) error {
	if op.Approval != model.OperatorApproved {
		return ErrOperatorNotApproved
	}
	if !op.HasVehicleType(vehicleType) {
		return ErrVehicleTypeUnsupported
	}
	if !op.HasCurrentDocument(model.DocOperatingLicense, now) ||
		!op.HasCurrentDocument(model.DocInsurance, now) {
		return ErrDocumentsMissingOrExpired
	}
	return nil
}

// ─── Postcode matching ──────────────────────────────────────

// District returns the comparison key for a postcode: its first three
// characters, upper-cased and stripped of surrounding whitespace.
func District(postcode string) string {
	pc := strings.ToUpper(strings.TrimSpace(postcode))
	if len(pc) < 3 {
		return pc
	}
	return pc[:3]
}

// servesDistrict reports whether any service area shares the pickup
// postcode's district.
func servesDistrict(serviceAreas []string, pickupPostcode string) bool {
	want := District(pickupPostcode)
	if want == "" {
		return false
	}
	for _, area := range serviceAreas {
		if District(area) == want {
			return true
		}
	}
	return false
}

func postcodeMissing(pc *string) bool {
	return pc == nil || strings.TrimSpace(*pc) == ""
}
