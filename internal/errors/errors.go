package errors

import (
	"errors"
	"fmt"
)

// Domain error type for the facepay ledger application
var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountAlreadyExists = errors.New("account already exists")
	ErrInsufficentBalance   = errors.New("insufficient balance")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidAccountID     = errors.New("invalid account number")
	ErrSameAccount          = errors.New("source and destination accounts cannot be the same")
	ErrNegativeBalance      = errors.New("balance cannot be negative")
	ErrInvalidCredentials   = errors.New("invalid phone or PIN")
	ErrUnauthorized         = errors.New("invalid or expired token")
	ErrForbidden            = errors.New("operation not permitted for this account")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrBlockConflict        = errors.New("block index already sealed")
	ErrDuplicateTransaction = errors.New("transaction id already recorded")
)

// FacePay errors
var (
	ErrSessionNotFound      = errors.New("facepay session not found")
	ErrSessionExpired       = errors.New("facepay session expired")
	ErrInvalidState         = errors.New("operation not allowed in current session state")
	ErrCustomerNotFound     = errors.New("customer not found")
	ErrFacePayNotRegistered = errors.New("facepay not registered for this account")
	ErrRegistrationInactive = errors.New("facepay registration is inactive")
	ErrPINMismatch          = errors.New("invalid facepay PIN")
	ErrFaceMismatch         = errors.New("face did not match registered face")
	ErrLimitExceeded        = errors.New("amount exceeds facepay limit")
	ErrAttemptsExhausted    = errors.New("too many failed attempts")
)

// Biometric errors
var (
	ErrNoFaceDetected        = errors.New("no face detected in sample")
	ErrMultipleFacesDetected = errors.New("multiple faces detected in sample")
	ErrEmbeddingMismatch     = errors.New("embedding dimensions do not match")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

type TransactionError struct {
	Operation string
	Cause     error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction error during '%s': %v", e.Operation, e.Cause)
}

func (e *TransactionError) Unwrap() error {
	return e.Cause
}

func NewTransactionError(operation string, cause error) error {
	return &TransactionError{
		Operation: operation,
		Cause:     cause,
	}
}

// IntegrityError describes a ledger block that failed re-verification.
type IntegrityError struct {
	BlockIndex int64
	Check      string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ledger integrity violation at block %d: %s mismatch", e.BlockIndex, e.Check)
}

func NewIntegrityError(index int64, check string) error {
	return &IntegrityError{
		BlockIndex: index,
		Check:      check,
	}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrFacePayNotRegistered)
}

func IsInsufficientBalance(err error) bool {
	return errors.Is(err, ErrInsufficentBalance)
}

func IsValidationError(err error) bool {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return true
	}
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrSameAccount) ||
		errors.Is(err, ErrInvalidAccountID) ||
		errors.Is(err, ErrNegativeBalance) ||
		errors.Is(err, ErrNoFaceDetected) ||
		errors.Is(err, ErrMultipleFacesDetected)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAccountAlreadyExists) ||
		errors.Is(err, ErrDuplicateTransaction)
}

// IsStateError reports whether err was caused by the session lifecycle
// rather than by the caller's input.
func IsStateError(err error) bool {
	return errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrAttemptsExhausted)
}

func IsAuthorizationError(err error) bool {
	return errors.Is(err, ErrPINMismatch) ||
		errors.Is(err, ErrFaceMismatch) ||
		errors.Is(err, ErrLimitExceeded) ||
		errors.Is(err, ErrRegistrationInactive)
}

func IsIntegrityError(err error) bool {
	var integrityErr *IntegrityError
	return errors.As(err, &integrityErr)
}
