package models

import "github.com/golang-jwt/jwt/v5"

// TokenClaims is the payload of an access token issued by the platform's
// auth service. The gateway trusts these fields without a user lookup.
type TokenClaims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	jwt.RegisteredClaims
}

// Identity returns the caller identity carried by the token.
func (c *TokenClaims) Identity() Identity {
	return Identity{UserID: c.UserID, DisplayName: c.DisplayName, Role: c.Role}
}
