package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

// Ensure Adapter implements TokenVerifier
var _ driven.TokenVerifier = (*Adapter)(nil)

// Adapter signs and verifies operator tokens with HS256
type Adapter struct {
	secret []byte
}

// NewAdapter creates a new auth adapter with the given shared secret
func NewAdapter(secret string) *Adapter {
	return &Adapter{secret: []byte(secret)}
}

// GenerateToken creates a signed JWT from operator claims
func (a *Adapter) GenerateToken(claims *domain.OperatorClaims) (string, error) {
	rc := jwt.RegisteredClaims{
		Subject:   claims.Subject,
		IssuedAt:  jwt.NewNumericDate(time.Unix(claims.IssuedAt, 0)),
		ExpiresAt: jwt.NewNumericDate(time.Unix(claims.ExpiresAt, 0)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, rc)
	return token.SignedString(a.secret)
}

// ParseToken validates a JWT and extracts operator claims
func (a *Adapter) ParseToken(tokenString string) (*domain.OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrUnauthorized
	}

	out := &domain.OperatorClaims{Subject: claims.Subject}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Unix()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return out, nil
}
