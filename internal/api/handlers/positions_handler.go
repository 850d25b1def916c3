package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"arbitrage-core/internal/domain"
	"arbitrage-core/internal/execution"
	"arbitrage-core/internal/repository"
)

// PositionsHandler exposes the operator-invoked single-leg resolution
// surface: retrying the missing leg, or closing the filled leg out.
//
// Endpoints:
// - POST /api/v1/positions/{id}/retry-leg
// - POST /api/v1/positions/{id}/close-leg
type PositionsHandler struct {
	resolution *execution.Resolution
	positions  *repository.PositionRepository
	pairs      *repository.PairRepository
	takerFee   decimal.Decimal
}

// NewPositionsHandler wires a PositionsHandler.
func NewPositionsHandler(resolution *execution.Resolution, positions *repository.PositionRepository, pairs *repository.PairRepository, takerFee decimal.Decimal) *PositionsHandler {
	return &PositionsHandler{resolution: resolution, positions: positions, pairs: pairs, takerFee: takerFee}
}

// RetryLegRequest is the body of POST /positions/{id}/retry-leg.
type RetryLegRequest struct {
	Price string `json:"price"`
}

// CloseLegRequest is the body of POST /positions/{id}/close-leg.
type CloseLegRequest struct {
	Rationale string `json:"rationale,omitempty"`
}

func (h *PositionsHandler) venuesFor(ctx context.Context, pairID int) (primary, secondary domain.Venue, err error) {
	pair, err := h.pairs.GetPair(ctx, pairID)
	if err != nil {
		return "", "", err
	}
	primary = pair.PrimaryLeg
	secondary = domain.VenueB
	if primary == domain.VenueB {
		secondary = domain.VenueA
	}
	return primary, secondary, nil
}

// RetryLeg handles POST /api/v1/positions/{id}/retry-leg.
func (h *PositionsHandler) RetryLeg(w http.ResponseWriter, r *http.Request) {
	positionID := mux.Vars(r)["id"]

	var req RetryLegRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "price must be a decimal string")
		return
	}

	position, err := h.positions.GetPosition(r.Context(), positionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	primary, secondary, err := h.venuesFor(r.Context(), position.PairID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not resolve pair venues")
		return
	}

	result, scenarios, err := h.resolution.RetryLeg(r.Context(), positionID, price, primary, secondary)
	if err != nil {
		writeExecutionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"order":     result,
		"scenarios": scenarios,
	})
}

// CloseLeg handles POST /api/v1/positions/{id}/close-leg.
func (h *PositionsHandler) CloseLeg(w http.ResponseWriter, r *http.Request) {
	positionID := mux.Vars(r)["id"]

	var req CloseLegRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	position, err := h.positions.GetPosition(r.Context(), positionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	primary, secondary, err := h.venuesFor(r.Context(), position.PairID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not resolve pair venues")
		return
	}

	result, err := h.resolution.CloseLeg(r.Context(), positionID, req.Rationale, primary, secondary, h.takerFee)
	if err != nil {
		writeExecutionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"order": result})
}

func writeExecutionError(w http.ResponseWriter, err error) {
	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) {
		status := http.StatusBadGateway
		switch {
		case execErr.Code == domain.CodeInvalidPositionState:
			status = http.StatusConflict
		case execErr.Code == domain.CodeCloseFailed && execErr.Severity == domain.SeverityWarning:
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, ErrorResponse{Error: execErr.Message, Code: execErr.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "unexpected error", Code: "4000"})
}
