// Package opauth mints and verifies the operator bearer tokens that guard
// control actions in internal/gateway (today: the per-intersection debug
// toggle). It is intentionally narrow: there is no user database, password
// hashing, or API-key store here, because an operator identity in this
// system is just "whoever holds a token signed by the same secret the
// gateway validates against" — issuance is a standalone CLI concern, not a
// login flow.
package opauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid operator token")
)

// Claims identifies the operator a token was issued to. The field name and
// shape must match internal/gateway's own operatorClaims so tokens minted
// here validate there.
type Claims struct {
	OperatorID string `json:"operator_id"`
	jwt.RegisteredClaims
}

// IssueToken signs a bearer token for operatorID, valid for ttl, using
// secret as the HMAC key. The same secret must be passed as
// gateway.Config.JWTSecret for the token to validate.
func IssueToken(secret, operatorID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("opauth: secret must not be empty")
	}
	if operatorID == "" {
		return "", errors.New("opauth: operator id must not be empty")
	}
	now := time.Now()
	claims := &Claims{
		OperatorID: operatorID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// VerifyToken parses and validates a token minted by IssueToken, returning
// the operator identity it carries. Used by tooling that wants to inspect a
// token before handing it to an operator, not by the gateway itself (which
// validates inline against gin's request context).
func VerifyToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
