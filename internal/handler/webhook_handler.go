package handler

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/okello/airlift/internal/model"
	"github.com/okello/airlift/internal/service"
	"github.com/okello/airlift/pkg/money"
)

// WebhookHandler receives the booking subsystem's lifecycle events.
type WebhookHandler struct {
	svc      *service.AuctionService
	validate *validator.Validate
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(svc *service.AuctionService) *WebhookHandler {
	return &WebhookHandler{svc: svc, validate: validator.New()}
}

type bookingPaidRequest struct {
	BookingID      string    `json:"booking_id" validate:"required"`
	CustomerID     string    `json:"customer_id" validate:"required"`
	CustomerPrice  string    `json:"customer_price" validate:"required"`
	PickupAddress  string    `json:"pickup_address" validate:"required"`
	PickupPostcode *string   `json:"pickup_postcode"`
	DropoffAddress string    `json:"dropoff_address" validate:"required"`
	VehicleType    string    `json:"vehicle_type" validate:"required"`
	PickupDatetime time.Time `json:"pickup_datetime" validate:"required"`
	JourneyType    string    `json:"journey_type" validate:"required,oneof=ONE_WAY OUTBOUND RETURN"`
	BookingGroupID *string   `json:"booking_group_id"`
}

// BookingPaid handles POST /api/v1/events/booking-paid
//
// Opens an auction job for the paid booking. Redelivery of the same booking
// id is answered 200 with the existing job.
//
// Response codes:
//
//	201  — Job created and broadcast
//	200  — Duplicate event; existing job returned
//	400  — Malformed or incomplete payload
func (h *WebhookHandler) BookingPaid(w http.ResponseWriter, r *http.Request) {
	var req bookingPaidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "bad_payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "bad_payload", err.Error())
		return
	}
	price, err := money.Parse(req.CustomerPrice)
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "bad_amount", err.Error())
		return
	}

	job, created, err := h.svc.HandleBookingPaid(r.Context(), model.BookingPaid{
		BookingID:      req.BookingID,
		CustomerID:     req.CustomerID,
		CustomerPrice:  price,
		PickupAddress:  req.PickupAddress,
		PickupPostcode: req.PickupPostcode,
		DropoffAddress: req.DropoffAddress,
		VehicleType:    req.VehicleType,
		PickupDatetime: req.PickupDatetime,
		JourneyType:    model.JourneyType(req.JourneyType),
		BookingGroupID: req.BookingGroupID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, job)
}

type bookingCancelledRequest struct {
	BookingID string `json:"booking_id" validate:"required"`
	Reason    string `json:"reason"`
}

// BookingCancelled handles POST /api/v1/events/booking-cancelled
//
// Cancels the auction for a refunded booking. Unknown bookings and jobs that
// already reached a terminal state are acknowledged without effect.
func (h *WebhookHandler) BookingCancelled(w http.ResponseWriter, r *http.Request) {
	var req bookingCancelledRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "bad_payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "bad_payload", err.Error())
		return
	}

	if err := h.svc.HandleBookingCancelled(r.Context(), model.BookingCancelled{
		BookingID: req.BookingID,
		Reason:    req.Reason,
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}
