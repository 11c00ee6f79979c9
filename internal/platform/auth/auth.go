// Package auth issues and validates the JWTs used by the clinic API and
// exposes the request principal to handlers and services.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles known to the system. Superadmin bypasses ownership checks.
const (
	RoleSuperadmin = "superadmin"
	RoleDoctor     = "doctor"
	RolePatient    = "patient"
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleSuperadmin, RoleDoctor, RolePatient:
		return true
	}
	return false
}

// Principal identifies the authenticated caller for authorization decisions.
type Principal struct {
	UserID uuid.UUID
	Role   string
}

// IsSuperadmin reports whether the principal holds the superadmin role.
func (p Principal) IsSuperadmin() bool {
	return p.Role == RoleSuperadmin
}

type contextKey string

const (
	userIDKey contextKey = "user_id"
	roleKey   contextKey = "user_role"
)

// WithPrincipal returns a context carrying the principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, userIDKey, p.UserID)
	return context.WithValue(ctx, roleKey, p.Role)
}

// PrincipalFromContext extracts the authenticated principal from ctx.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	uid, ok := ctx.Value(userIDKey).(uuid.UUID)
	if !ok {
		return Principal{}, false
	}
	role, ok := ctx.Value(roleKey).(string)
	if !ok {
		return Principal{}, false
	}
	return Principal{UserID: uid, Role: role}, true
}

// UserIDFromContext returns just the caller's user ID.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	uid, ok := ctx.Value(userIDKey).(uuid.UUID)
	return uid, ok
}

// RoleFromContext returns just the caller's role.
func RoleFromContext(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(roleKey).(string)
	return role, ok
}

// Claims is the JWT payload issued at login.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

// TokenIssuer signs and verifies HS256 tokens.
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
}

func NewTokenIssuer(secret string, expiry time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), expiry: expiry}
}

// Issue creates a signed token for the given user.
func (i *TokenIssuer) Issue(userID uuid.UUID, role, name string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.expiry)),
		},
		Role: role,
		Name: name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (i *TokenIssuer) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
