package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/safar/go-shop-api/internal/database"
	"github.com/safar/go-shop-api/internal/payment"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError maps the error taxonomy onto HTTP statuses: validation
// and signature failures are 4xx, not-found is 404, business errors carry
// their operator context in the message, everything else is a 500.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case database.IsNotFound(err):
		respondError(w, http.StatusNotFound, err.Error())
	case database.IsValidation(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, payment.ErrInvalidSignature):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, database.ErrInsufficientStock),
		errors.Is(err, database.ErrRefundNotAllowed),
		errors.Is(err, database.ErrDuplicateSettlement):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
