// Package handler exposes the auction engine over HTTP: booking webhooks,
// operator bidding, and the admin override surface.
package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/okello/airlift/internal/eligibility"
	"github.com/okello/airlift/internal/repository"
	"github.com/okello/airlift/internal/service"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[handler] failed to encode response: %v", err)
	}
}

func writeErrorMsg(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// writeError maps domain errors onto the HTTP taxonomy.
//
// Response codes:
//
//	403  — eligibility failures, acting on someone else's bid
//	404  — unknown job, booking, bid, or operator
//	409  — state conflicts (window closed, offer gone, wrong status)
//	422  — bid amount outside the configured bounds
//	503  — transient database failure after retries; safe to retry
//	500  — anything unexpected
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeErrorMsg(w, http.StatusNotFound, "not_found", "The requested resource does not exist.")
	case errors.Is(err, eligibility.ErrOperatorNotFound):
		writeErrorMsg(w, http.StatusNotFound, "operator_not_found", "Unknown operator.")

	case errors.Is(err, eligibility.ErrOperatorNotApproved):
		writeErrorMsg(w, http.StatusForbidden, "operator_not_approved", "Your account is not approved for bidding.")
	case errors.Is(err, eligibility.ErrDocumentsMissingOrExpired):
		writeErrorMsg(w, http.StatusForbidden, "documents_missing_or_expired", "A current operating license and insurance document are required to bid.")
	case errors.Is(err, eligibility.ErrVehicleTypeUnsupported):
		writeErrorMsg(w, http.StatusForbidden, "vehicle_type_unsupported", "Your fleet does not cover this job's vehicle type.")
	case errors.Is(err, repository.ErrNotBidOwner):
		writeErrorMsg(w, http.StatusForbidden, "not_bid_owner", "This bid belongs to another operator.")

	case errors.Is(err, repository.ErrJobClosed):
		writeErrorMsg(w, http.StatusConflict, "bidding_closed", "The bidding window for this job is not open.")
	case errors.Is(err, repository.ErrBidNotPending):
		writeErrorMsg(w, http.StatusConflict, "bid_not_pending", "This bid has already been offered, resolved, or withdrawn.")
	case errors.Is(err, service.ErrOfferNotAvailable):
		writeErrorMsg(w, http.StatusConflict, "offer_not_available", "There is no live offer for you on this job.")
	case errors.Is(err, service.ErrJobNotReopenable):
		writeErrorMsg(w, http.StatusConflict, "not_reopenable", "Only jobs with no bids received can be reopened.")
	case errors.Is(err, service.ErrJobNotCancellable):
		writeErrorMsg(w, http.StatusConflict, "job_terminal", "This job is already in a terminal state.")
	case errors.Is(err, service.ErrJobNotAssigned):
		writeErrorMsg(w, http.StatusConflict, "not_assigned", "Only assigned jobs can be completed.")

	case errors.Is(err, service.ErrBidBelowMinimum):
		writeErrorMsg(w, http.StatusUnprocessableEntity, "bid_below_minimum", "The bid is below the minimum allowed amount for this job.")
	case errors.Is(err, service.ErrBidExceedsCustomerPrice):
		writeErrorMsg(w, http.StatusUnprocessableEntity, "bid_exceeds_price", "The bid exceeds the customer price for this job.")

	case errors.Is(err, repository.ErrTransient):
		writeErrorMsg(w, http.StatusServiceUnavailable, "temporarily_unavailable", "The system is briefly contended. Please retry.")

	default:
		log.Printf("[handler] unexpected error: %v", err)
		writeErrorMsg(w, http.StatusInternalServerError, "internal_error", "Something went wrong.")
	}
}

// decodeJSON decodes a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
