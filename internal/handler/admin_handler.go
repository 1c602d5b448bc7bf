package handler

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/okello/airlift/internal/repository"
	"github.com/okello/airlift/internal/service"
	"github.com/okello/airlift/internal/settings"
	"github.com/okello/airlift/pkg/money"
)

// AdminHandler exposes the manual override surface for escalated jobs and
// the hot-read engine settings. Routes are gated by middleware.AdminAuth.
type AdminHandler struct {
	svc      *service.AuctionService
	settings *settings.Provider
	validate *validator.Validate
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(svc *service.AuctionService, s *settings.Provider) *AdminHandler {
	return &AdminHandler{svc: svc, settings: s, validate: validator.New()}
}

// GetJob handles GET /api/v1/admin/jobs/{id}
//
// Returns the job with its booking snapshot and full bid list in tie-break
// order. {id} also accepts the booking reference.
func (h *AdminHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetJobDetail(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// CloseBidding handles POST /api/v1/admin/jobs/{id}/close
//
// Force-closes the bidding window ahead of schedule. Closing a job that is
// no longer open is a safe no-op.
func (h *AdminHandler) CloseBidding(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.svc.AdminCloseBidding(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	status := map[repository.CloseOutcome]string{
		repository.CloseNoop:     "already_closed",
		repository.ClosedNoBids:  "closed_no_bids",
		repository.ClosedOffered: "closed_offer_extended",
	}[outcome]
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

type manualAssignRequest struct {
	OperatorID string `json:"operator_id" validate:"required"`
	Amount     string `json:"amount" validate:"required"`
}

// ManualAssign handles POST /api/v1/admin/jobs/{id}/assign
//
// Assigns the job directly to an operator at an agreed amount, bypassing the
// cascade. Works from any non-terminal state.
func (h *AdminHandler) ManualAssign(w http.ResponseWriter, r *http.Request) {
	var req manualAssignRequest
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

	result, err := h.svc.ManualAssign(r.Context(), mux.Vars(r)["id"], req.OperatorID, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type reopenRequest struct {
	Hours int `json:"hours" validate:"omitempty,min=1,max=168"`
}

// ReopenBidding handles POST /api/v1/admin/jobs/{id}/reopen
//
// Restarts the auction for a job that received no bids. An omitted or zero
// hours field uses the configured default bidding window.
func (h *AdminHandler) ReopenBidding(w http.ResponseWriter, r *http.Request) {
	var req reopenRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeErrorMsg(w, http.StatusBadRequest, "bad_payload", err.Error())
			return
		}
		if err := h.validate.Struct(req); err != nil {
			writeErrorMsg(w, http.StatusBadRequest, "bad_payload", err.Error())
			return
		}
	}

	job, err := h.svc.ReopenBidding(r.Context(), mux.Vars(r)["id"], req.Hours)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob handles POST /api/v1/admin/jobs/{id}/cancel
func (h *AdminHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelJob(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// CompleteJob handles POST /api/v1/admin/jobs/{id}/complete
func (h *AdminHandler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CompleteJob(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

type updateSettingRequest struct {
	Value string `json:"value" validate:"required"`
}

// UpdateSetting handles PUT /api/v1/admin/settings/{key}
//
// Writes a hot-read engine setting. The change reaches every node within the
// settings cache TTL.
func (h *AdminHandler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	var req updateSettingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "bad_payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "bad_payload", err.Error())
		return
	}

	key := mux.Vars(r)["key"]
	if err := h.settings.Update(r.Context(), key, req.Value); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "bad_setting", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}
