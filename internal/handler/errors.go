package handler

import (
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/riteshkumar/facepay-ledger/internal/errors"
	u "github.com/riteshkumar/facepay-ledger/internal/utils"
)

// writeServiceError maps service errors onto HTTP statuses. Exhausted
// attempts are checked first because they wrap the cause of the last failure.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error, action string) {
	switch {
	case stderrors.Is(err, errors.ErrAttemptsExhausted):
		u.WriteError(w, http.StatusForbidden, "too many failed attempts", err.Error())
	case stderrors.Is(err, errors.ErrInvalidCredentials), stderrors.Is(err, errors.ErrUnauthorized):
		u.WriteError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case stderrors.Is(err, errors.ErrForbidden):
		u.WriteError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.IsInsufficientBalance(err):
		u.WriteError(w, http.StatusBadRequest, "insufficient balance", "source account does not have enough funds for txn")
	case errors.IsValidationError(err):
		u.WriteError(w, http.StatusBadRequest, "validation error", err.Error())
	case errors.IsNotFound(err):
		u.WriteError(w, http.StatusNotFound, "not found", err.Error())
	case errors.IsAlreadyExists(err):
		u.WriteError(w, http.StatusConflict, "already exists", err.Error())
	case errors.IsStateError(err):
		u.WriteError(w, http.StatusConflict, "invalid session state", err.Error())
	case errors.IsAuthorizationError(err):
		u.WriteError(w, http.StatusForbidden, "authorization failed", err.Error())
	default:
		logger.Error("internal server error during "+action, "error", err.Error())
		u.WriteError(w, http.StatusInternalServerError, "internal server error", "")
	}
}
