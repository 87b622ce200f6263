package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xtrntr/brokerage/internal/db"
	"github.com/xtrntr/brokerage/internal/engine"
	"github.com/xtrntr/brokerage/internal/metrics"
)

type errorDetail struct {
	Message   string `json:"message"`
	Available string `json:"available,omitempty"`
	Required  string `json:"required,omitempty"`
}

type errorBody struct {
	Status string        `json:"status"`
	Code   string        `json:"code"`
	Errors []errorDetail `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"status": "success",
		"data":   data,
	})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{
		Status: "error",
		Code:   code,
		Errors: []errorDetail{{Message: message}},
	})
}

// writeEngineError maps the engine's typed failures onto HTTP responses.
// Business rejections carry the available/required figures so the caller
// can adjust and resubmit; a missing wallet is an internal invariant
// violation, not user input.
func writeEngineError(w http.ResponseWriter, err error) {
	var funds *engine.InsufficientFundsError
	var assets *engine.InsufficientAssetsError
	var symbol *engine.SymbolNotFoundError
	var exec *engine.ExecutionError
	var inconsistent *engine.InconsistentPositionError

	switch {
	case errors.Is(err, engine.ErrInvalidAmount):
		metrics.OrderRejections.WithLabelValues("invalid_amount").Inc()
		writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())

	case errors.Is(err, engine.ErrInvalidSide):
		metrics.OrderRejections.WithLabelValues("invalid_side").Inc()
		writeError(w, http.StatusBadRequest, "INVALID_SIDE", err.Error())

	case errors.As(err, &symbol):
		metrics.OrderRejections.WithLabelValues("symbol_not_found").Inc()
		writeError(w, http.StatusBadRequest, "SYMBOL_NOT_FOUND", err.Error())

	case errors.As(err, &funds):
		metrics.OrderRejections.WithLabelValues("insufficient_funds").Inc()
		writeJSON(w, http.StatusBadRequest, errorBody{
			Status: "error",
			Code:   "INSUFFICIENT_FUNDS",
			Errors: []errorDetail{{
				Message:   err.Error(),
				Available: funds.Available.String(),
				Required:  funds.Required.String(),
			}},
		})

	case errors.As(err, &assets):
		metrics.OrderRejections.WithLabelValues("insufficient_assets").Inc()
		writeJSON(w, http.StatusBadRequest, errorBody{
			Status: "error",
			Code:   "INSUFFICIENT_ASSETS",
			Errors: []errorDetail{{
				Message:   err.Error(),
				Available: assets.Available.String(),
				Required:  assets.Required.String(),
			}},
		})

	case errors.Is(err, db.ErrWalletNotFound):
		metrics.OrderRejections.WithLabelValues("wallet_not_found").Inc()
		writeError(w, http.StatusInternalServerError, "WALLET_NOT_FOUND", "wallet not found")

	case errors.As(err, &inconsistent):
		writeError(w, http.StatusInternalServerError, "INCONSISTENT_POSITION", err.Error())

	case errors.As(err, &exec):
		metrics.OrderRejections.WithLabelValues("execution_error").Inc()
		writeError(w, http.StatusServiceUnavailable, "ORDER_EXECUTION_ERROR",
			"transaction failed, no changes were applied; safe to retry")

	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}
