// Package auth authenticates bearer tokens and answers the privilege checks the API needs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/unclebandit/campaign-mailer/internal/config"
	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
)

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Caller is the authenticated principal of a request.
type Caller struct {
	Subject string
	Role    Role
}

// IsAdmin reports read access to campaigns and logs.
func (c *Caller) IsAdmin() bool {
	return c != nil && (c.Role == RoleAdmin || c.Role == RoleSuperAdmin)
}

// IsPrivileged reports whether the caller may create, send, delete or clear.
func (c *Caller) IsPrivileged() bool {
	return c != nil && c.Role == RoleSuperAdmin
}

type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	return &Authenticator{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer}
}

// Issue signs a token for subject with the given role.
func (a *Authenticator) Issue(subject string, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse verifies token and returns its caller. Any failure wraps ErrUnauthorized.
func (a *Authenticator) Parse(token string) (*Caller, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", appErrors.ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: invalid token", appErrors.ErrUnauthorized)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: invalid token", appErrors.ErrUnauthorized)
	}
	return &Caller{Subject: claims.Subject, Role: claims.Role}, nil
}

type ctxKey struct{}

func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// CallerFrom returns the caller stored by the Authenticate middleware, or nil.
func CallerFrom(ctx context.Context) *Caller {
	c, _ := ctx.Value(ctxKey{}).(*Caller)
	return c
}

// Subject is the caller's subject, or "" when unauthenticated.
func Subject(ctx context.Context) string {
	if c := CallerFrom(ctx); c != nil {
		return c.Subject
	}
	return ""
}
