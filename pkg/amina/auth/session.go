package auth

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// SessionClaims represents the signed session payload used by the
// dashboard. The signature is verified before any claim is trusted.
type SessionClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// getSessionSecret returns the session signing secret from environment or
// a default for development
func getSessionSecret() []byte {
	secret := os.Getenv("SESSION_SECRET")
	if secret == "" {
		// Default for development only - should be set in production
		secret = "amina-dev-secret-change-in-production"
	}
	return []byte(secret)
}

// getSessionDuration returns the session validity duration
func getSessionDuration() time.Duration {
	// Default to 7 days
	return 7 * 24 * time.Hour
}

// GenerateSessionToken creates a new signed session token for a user
func GenerateSessionToken(userID string) (string, error) {
	claims := &SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(getSessionDuration())),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "amina-api",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(getSessionSecret())
}

// ValidateSessionToken validates a session token and returns the claims.
// Expiry is enforced separately from signature validity so callers can
// distinguish the two failure modes.
func ValidateSessionToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return getSessionSecret(), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
