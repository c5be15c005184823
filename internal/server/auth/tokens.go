package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/authron/internal/models"
)

const tokenIssuer = "authron"

// Claims are the JWT claims of an access token. The token only points at a
// server-side session (sid); the session row is the source of truth.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and parses HS256 access tokens.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer creates a TokenIssuer. The secret must not be empty.
func NewTokenIssuer(secret []byte) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret cannot be empty")
	}
	return &TokenIssuer{secret: append([]byte{}, secret...)}, nil
}

// Issue создает подписанный токен для сессии
func (ti *TokenIssuer) Issue(session *models.Session) (string, error) {
	claims := Claims{
		SessionID: session.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.AccountID,
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			NotBefore: jwt.NewNumericDate(session.IssuedAt),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Parse проверяет подпись и срок действия токена на момент now.
// Returns ErrExpired for an expired token and ErrUnauthorized for anything else.
func (ti *TokenIssuer) Parse(tokenString string, now time.Time) (*Claims, error) {
	claims, err := ti.parse(tokenString,
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return claims, nil
}

// ParseIgnoringExpiry проверяет только подпись. Used by logout, which must
// still find the session behind an expired token.
func (ti *TokenIssuer) ParseIgnoringExpiry(tokenString string) (*Claims, error) {
	claims, err := ti.parse(tokenString, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return claims, nil
}

func (ti *TokenIssuer) parse(tokenString string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
	)

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return ti.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.SessionID == "" || claims.Subject == "" {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}
