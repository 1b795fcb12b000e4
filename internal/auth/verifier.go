// Package auth verifies client tokens presented over the socket.
package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/fleetpulse/fleetpulse/internal/domain"
)

// Verifier checks a token's signature and expiry and extracts the user id.
// Every failure mode (bad signature, expired, malformed, missing subject)
// collapses to a single *domain.AuthenticationError.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for HS256 tokens signed with secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify validates tokenString and returns the subject user id.
func (v *Verifier) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, &domain.AuthenticationError{Reason: "unexpected signing method"}
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", &domain.AuthenticationError{Reason: "invalid token", Cause: err}
	}
	if !token.Valid {
		return "", &domain.AuthenticationError{Reason: "invalid token"}
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", &domain.AuthenticationError{Reason: "token has no user id", Cause: err}
	}
	return subject, nil
}
