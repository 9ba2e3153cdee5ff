package auth

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/riteshkumar/facepay-ledger/internal/errors"
)

// Claims represents the JWT claims for account access tokens
type Claims struct {
	AccountNumber string `json:"account_number"`
	jwt.RegisteredClaims
}

// TokenService handles JWT creation and validation
type TokenService struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
}

func NewTokenService(signingKey, issuer string, ttl time.Duration) *TokenService {
	return &TokenService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		ttl:        ttl,
		now:        time.Now,
	}
}

func (s *TokenService) GenerateToken(accountNumber string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		AccountNumber: accountNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountNumber,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token has expired", errors.ErrUnauthorized)
		}
		return nil, errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.AccountNumber == "" {
		return nil, errors.ErrUnauthorized
	}
	return claims, nil
}
