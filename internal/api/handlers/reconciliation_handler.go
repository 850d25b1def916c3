package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"arbitrage-core/internal/reconciliation"
	"arbitrage-core/internal/repository"
)

// ReconciliationHandler exposes the operator-facing reconciliation surface.
//
// Endpoints:
// - POST /api/v1/reconciliation/run
// - POST /api/v1/reconciliation/{id}/resolve
// - GET  /api/v1/reconciliation/status
type ReconciliationHandler struct {
	engine        *reconciliation.Engine
	discrepancies *repository.DiscrepancyRepository
}

// NewReconciliationHandler wires a ReconciliationHandler.
func NewReconciliationHandler(engine *reconciliation.Engine, discrepancies *repository.DiscrepancyRepository) *ReconciliationHandler {
	return &ReconciliationHandler{engine: engine, discrepancies: discrepancies}
}

// Run handles POST /api/v1/reconciliation/run.
func (h *ReconciliationHandler) Run(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.Run(r.Context(), time.Now())
	if err != nil {
		if err == reconciliation.ErrDebounced {
			writeError(w, http.StatusTooManyRequests, "reconciliation already ran within the debounce window")
			return
		}
		writeError(w, http.StatusInternalServerError, "reconciliation run failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ResolveRequest is the body of POST /reconciliation/{id}/resolve.
type ResolveRequest struct {
	Action    string `json:"action"`
	Rationale string `json:"rationale"`
}

// Resolve handles POST /api/v1/reconciliation/{id}/resolve.
func (h *ReconciliationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	positionID := mux.Vars(r)["id"]

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	position, err := h.engine.ResolveDiscrepancy(r.Context(), positionID, reconciliation.ResolutionAction(req.Action), req.Rationale, time.Now())
	if err != nil {
		writeExecutionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

// Status handles GET /api/v1/reconciliation/status.
func (h *ReconciliationHandler) Status(w http.ResponseWriter, r *http.Request) {
	open, err := h.discrepancies.ListOpen(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load open discrepancies")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"discrepancies": open})
}
