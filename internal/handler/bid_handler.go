package handler

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/okello/airlift/internal/middleware"
	"github.com/okello/airlift/internal/service"
	"github.com/okello/airlift/pkg/money"
)

// BidHandler handles the operator-facing bidding and offer endpoints. The
// operator identity comes from middleware.OperatorAuth.
type BidHandler struct {
	svc      *service.AuctionService
	validate *validator.Validate
}

// NewBidHandler creates a bid handler.
func NewBidHandler(svc *service.AuctionService) *BidHandler {
	return &BidHandler{svc: svc, validate: validator.New()}
}

type placeBidRequest struct {
	JobID  string  `json:"job_id" validate:"required"`
	Amount string  `json:"amount" validate:"required"`
	Notes  *string `json:"notes" validate:"omitempty,max=500"`
}

// PlaceBid handles POST /api/v1/operators/me/bids
//
// Places a sealed bid, or restates the amount of the caller's existing
// pending bid on the same job. job_id also accepts the booking reference.
//
// Response codes:
//
//	201  — Bid stored
//	400  — Malformed payload or amount
//	403  — Caller fails an eligibility rule
//	404  — Unknown job
//	409  — Bidding window closed
//	422  — Amount outside the allowed bounds
func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req placeBidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "bad_payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "bad_payload", err.Error())
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "bad_amount", err.Error())
		return
	}

	bid, err := h.svc.PlaceBid(r.Context(), middleware.OperatorID(r.Context()), req.JobID, amount, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

// WithdrawBid handles DELETE /api/v1/operators/me/bids/{bid_id}
func (h *BidHandler) WithdrawBid(w http.ResponseWriter, r *http.Request) {
	bidID := mux.Vars(r)["bid_id"]
	if err := h.svc.WithdrawBid(r.Context(), middleware.OperatorID(r.Context()), bidID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

// ListOffers handles GET /api/v1/operators/me/offers
func (h *BidHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.svc.ListMyOffers(r.Context(), middleware.OperatorID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": offers})
}

// ListBids handles GET /api/v1/operators/me/bids?limit=N
func (h *BidHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	bids, err := h.svc.ListMyBids(r.Context(), middleware.OperatorID(r.Context()), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bids": bids})
}

// AcceptOffer handles POST /api/v1/operators/me/offers/{job_or_ref}/accept
//
// Accepting is allowed up to and including the acceptance deadline. An offer
// that already timed out, cascaded on, or was accepted answers 409.
func (h *BidHandler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	jobOrRef := mux.Vars(r)["job_or_ref"]
	result, err := h.svc.AcceptOffer(r.Context(), middleware.OperatorID(r.Context()), jobOrRef)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DeclineOffer handles POST /api/v1/operators/me/offers/{job_or_ref}/decline
func (h *BidHandler) DeclineOffer(w http.ResponseWriter, r *http.Request) {
	jobOrRef := mux.Vars(r)["job_or_ref"]
	if err := h.svc.DeclineOffer(r.Context(), middleware.OperatorID(r.Context()), jobOrRef); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "declined"})
}
