package utils

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/riteshkumar/facepay-ledger/internal/models"
)

// MaxBodyBytes caps request bodies. Face images arrive base64 encoded.
const MaxBodyBytes = 8 << 20

// DecodeJSON reads the request body into dst. On failure it writes the 400
// response itself and reports false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return false
	}
	return true
}

// WriteJSON writes data with the given status. Responses carry balances and
// tokens, so nothing may be cached.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("failed to encode response",
			"status", status,
			"type", fmt.Sprintf("%T", data),
			"error", err.Error(),
		)
	}
}

// WriteError writes an ErrorResponse. An empty errorMsg falls back to the
// status text.
func WriteError(w http.ResponseWriter, status int, errorMsg, details string) {
	if errorMsg == "" {
		errorMsg = http.StatusText(status)
	}
	WriteJSON(w, status, models.ErrorResponse{
		Error:   errorMsg,
		Message: details,
	})
}
