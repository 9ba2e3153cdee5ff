package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/riteshkumar/facepay-ledger/internal/utils"
)

// TokenValidator defines the interface for validating bearer tokens
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

type contextKeyAccountNumber struct{}

// GetAccountNumber retrieves the authenticated account number from the context
func GetAccountNumber(ctx context.Context) string {
	number, ok := ctx.Value(contextKeyAccountNumber{}).(string)
	if !ok {
		return ""
	}
	return number
}

// WithAccountNumber returns a context carrying an authenticated account.
func WithAccountNumber(ctx context.Context, accountNumber string) context.Context {
	return context.WithValue(ctx, contextKeyAccountNumber{}, accountNumber)
}

func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(r.Context(), "unauthorized access - missing token",
					"path", r.URL.Path,
				)
				utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(r.Context(), "unauthorized access - invalid token",
					"path", r.URL.Path,
					"error", err.Error(),
				)
				utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccountNumber(r.Context(), claims.AccountNumber)))
		})
	}
}
