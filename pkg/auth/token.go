package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/storefrontlabs/billing-sync/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// Scopes carried by service tokens. Ops covers lifecycle and read endpoints;
// Admin additionally unlocks queue administration.
const (
	ScopeOps   = "ops"
	ScopeAdmin = "admin"
)

// ServiceTokenClaims is the typed JWT the ops API accepts. Callers are other
// storefront services, not end users.
type ServiceTokenClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token satisfies the required scope. Admin
// implies ops.
func (c *ServiceTokenClaims) HasScope(required string) bool {
	if c == nil {
		return false
	}
	if c.Scope == ScopeAdmin {
		return true
	}
	return c.Scope == required
}

// MintServiceToken issues a signed JWT for the caller identified by subject.
func MintServiceToken(cfg config.JWTConfig, now time.Time, subject, scope string) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	if cfg.Issuer == "" {
		return "", fmt.Errorf("jwt issuer is required")
	}
	if cfg.ExpirationMinutes <= 0 {
		return "", fmt.Errorf("jwt expiration minutes must be positive")
	}
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("token subject is required")
	}
	if scope != ScopeOps && scope != ScopeAdmin {
		return "", fmt.Errorf("invalid token scope %q", scope)
	}

	claims := ServiceTokenClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseServiceToken validates the JWT string and returns typed claims.
func ParseServiceToken(cfg config.JWTConfig, tokenString string) (*ServiceTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	claims := &ServiceTokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
