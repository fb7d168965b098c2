// Package services holds the business logic between the gateway and the
// stores.
//
// Services never see http.Request or websocket connections. They take domain
// values, talk to repositories through interfaces and publish events through
// ws.EventPublisher.
package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/akinalp/agroconsult/models"
	"github.com/akinalp/agroconsult/pkg"
)

const tokenIssuer = "agroconsult"

// AuthService is the Authentication Provider. Access tokens are minted by
// the platform's auth service with the shared secret; this side only
// verifies them. IssueAccessToken exists for tooling and tests.
type AuthService interface {
	ValidateAccessToken(tokenString string) (*models.TokenClaims, error)
	IssueAccessToken(identity models.Identity) (string, error)
}

type authService struct {
	jwtSecret []byte
	accessExp time.Duration
}

func NewAuthService(jwtSecret string, accessExpMinutes int) AuthService {
	return &authService{
		jwtSecret: []byte(jwtSecret),
		accessExp: time.Duration(accessExpMinutes) * time.Minute,
	}
}

// ValidateAccessToken verifies signature and expiry and requires a user id
// and a known role.
func (s *authService) ValidateAccessToken(tokenString string) (*models.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.TokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: invalid token", pkg.ErrUnauthorized)
	}

	claims, ok := token.Claims.(*models.TokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", pkg.ErrUnauthorized)
	}
	if claims.UserID == "" || !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: token lacks user id or role", pkg.ErrUnauthorized)
	}

	return claims, nil
}

func (s *authService) IssueAccessToken(identity models.Identity) (string, error) {
	now := time.Now()
	claims := &models.TokenClaims{
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		Role:        identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessExp)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}
