// Package session supplies the workspace controller with the active
// principal and remembers the last context each principal used.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/workspace/internal/logging"
)

// ErrExpired is returned for a bearer token past its expiry.
var ErrExpired = errors.New("session token has expired")

// Claims holds the bearer token claims the client reads.
type Claims struct {
	Username          string `json:"username"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	jwt.RegisteredClaims
}

// Identity is the principal behind a bearer token.
type Identity struct {
	Principal string
	Subject   string
	Issuer    string
	ExpiresAt time.Time
}

func (c *Claims) identity() (*Identity, error) {
	id := &Identity{Subject: c.Subject, Issuer: c.Issuer}
	for _, name := range []string{c.Username, c.PreferredUsername, c.Email, c.Subject} {
		if name != "" {
			id.Principal = name
			break
		}
	}
	if id.Principal == "" {
		return nil, errors.New("token names no principal")
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id, nil
}

// ParseToken reads the principal from a backend-issued JWT. The signature is
// not checked here; the backend verifies every request.
func ParseToken(token string, now time.Time) (*Identity, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	id, err := claims.identity()
	if err != nil {
		return nil, err
	}
	if !id.ExpiresAt.IsZero() && !now.Before(id.ExpiresAt) {
		return nil, ErrExpired
	}
	return id, nil
}

// OIDCVerifier verifies ID tokens issued by an external provider.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the provider at issuerURL.
// Returns nil if issuerURL is empty (OIDC disabled).
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	if issuerURL == "" {
		return nil, nil
	}
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider init: %w", err)
	}
	logging.Info("OIDC provider initialized",
		zap.String("issuer", issuerURL),
		zap.String("client_id", clientID))
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// Verify checks an ID token and returns its principal.
func (v *OIDCVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		if errors.As(err, new(*oidc.TokenExpiredError)) {
			return nil, ErrExpired
		}
		return nil, err
	}
	claims := &Claims{}
	if err := idToken.Claims(claims); err != nil {
		return nil, fmt.Errorf("parse oidc claims: %w", err)
	}
	id, err := claims.identity()
	if err != nil {
		return nil, err
	}
	id.Issuer = idToken.Issuer
	id.ExpiresAt = idToken.Expiry
	return id, nil
}
