package auth

import (
	stderrors "errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/riteshkumar/facepay-ledger/internal/errors"
)

const (
	minPINLength = 4
	maxPINLength = 6
)

// ValidatePIN checks that pin is 4 to 6 digits.
func ValidatePIN(field, pin string) error {
	if len(pin) < minPINLength || len(pin) > maxPINLength {
		return errors.NewValidationError(field, fmt.Sprintf("must be %d to %d digits", minPINLength, maxPINLength))
	}
	for _, r := range pin {
		if !unicode.IsDigit(r) {
			return errors.NewValidationError(field, "must contain only digits")
		}
	}
	return nil
}

func HashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash pin: %w", err)
	}
	return string(hash), nil
}

// CheckPIN reports whether pin matches hash. A malformed hash is an error;
// a wrong PIN is not.
func CheckPIN(hash, pin string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin))
	switch {
	case err == nil:
		return true, nil
	case stderrors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("failed to compare pin: %w", err)
	}
}
