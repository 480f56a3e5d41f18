package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const TokenTypeAccess TokenType = "access"

// Claims are the only supported JWT claims shape for this service.
// Multi-tenant invariant: TenantUUID must be present on every token.
// UserUUID is empty for service tokens, which may not use /users/me routes.
type Claims struct {
	jwt.RegisteredClaims

	TenantUUID string    `json:"tenant_uuid"`
	UserUUID   string    `json:"user_uuid,omitempty"`
	Role       string    `json:"role"`
	TokenType  TokenType `json:"token_type"`
}
