package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCClaims are the JWT claims extracted from an identity provider token.
// The preferred_username claim must match a local user account.
type OIDCClaims struct {
	Subject  string `json:"sub"`
	Email    string `json:"email"`
	Username string `json:"preferred_username"`
}

// OIDCAuthenticator validates OIDC JWTs and maps them to local users.
type OIDCAuthenticator struct {
	Verifier *oidc.IDTokenVerifier
	Users    *Storage
}

// NewOIDCAuthenticator creates an authenticator by performing OIDC discovery
// against the issuer URL. This makes a network call to fetch the provider's
// public keys.
func NewOIDCAuthenticator(ctx context.Context, issuerURL, clientID string, users *Storage) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering OIDC provider %s: %w", issuerURL, err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})

	return &OIDCAuthenticator{Verifier: verifier, Users: users}, nil
}

// Authenticate validates a bearer token and resolves it to a local identity.
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, bearerToken string) (*Identity, error) {
	token := strings.TrimSpace(bearerToken)
	if token == "" {
		return nil, fmt.Errorf("empty bearer token")
	}

	idToken, err := a.Verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	var claims OIDCClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extracting claims: %w", err)
	}

	username := claims.Username
	if username == "" {
		username = claims.Email
	}
	if username == "" {
		return nil, fmt.Errorf("token missing preferred_username and email claims")
	}

	u, err := a.Users.ByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("no local user for OIDC subject %s: %w", claims.Subject, err)
	}
	return u.Identity(MethodOIDC)
}
