package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Currency is the caller's display currency preference; quotes are resolved
// in it when the request does not name one.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Currency  string    `json:"currency,omitempty"`
	TokenType TokenType `json:"token_type"`
}
