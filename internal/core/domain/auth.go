package domain

// OperatorClaims is the verified payload of an operator token.
type OperatorClaims struct {
	Subject   string `json:"sub"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}
