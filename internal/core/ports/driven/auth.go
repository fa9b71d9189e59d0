package driven

import "github.com/custodia-labs/docpipe/internal/core/domain"

// TokenVerifier validates operator tokens presented on mutating API routes.
type TokenVerifier interface {
	// GenerateToken signs claims (used by the CLI to mint operator tokens).
	GenerateToken(claims *domain.OperatorClaims) (string, error)

	// ParseToken validates a token and extracts its claims.
	ParseToken(token string) (*domain.OperatorClaims, error)
}
