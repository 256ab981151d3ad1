package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Middleware returns an HTTP middleware that authenticates the caller and
// stores the resulting Identity in the request context.
//
// Authentication precedence:
//  1. Authorization: Bearer <jwt>  →  session JWT, then OIDC when configured
//  2. X-Auth-Token / ?token=       →  persistent token lookup
//  3. Authorization: Basic         →  username + password
//  4. Dev-mode fallback            →  local admin identity (no real auth)
//
// If none succeed, the request is rejected with 401.
func Middleware(sessions *SessionManager, users *Storage, oidcAuth *OIDCAuthenticator, devMode bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var identity *Identity

			// 1. Try a bearer token: session JWT first, OIDC second.
			if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") || strings.HasPrefix(authHeader, "bearer ") {
				raw := strings.TrimSpace(authHeader[len("Bearer "):])

				if claims, err := sessions.ValidateToken(raw); err == nil {
					identity = claims.Identity()
					logger.Debug("authenticated via session", "user", identity.Username)
				} else if oidcAuth != nil {
					oidcIdent, oidcErr := oidcAuth.Authenticate(r.Context(), raw)
					if oidcErr != nil {
						logger.Warn("bearer authentication failed", "session_error", err, "oidc_error", oidcErr)
						respondUnauthorized(w, "Invalid token")
						return
					}
					identity = oidcIdent
					logger.Debug("authenticated via OIDC", "user", identity.Username)
				} else {
					logger.Warn("session authentication failed", "error", err)
					respondUnauthorized(w, "Invalid token")
					return
				}
			}

			// 2. Try a persistent token from header or query string.
			if identity == nil {
				token := r.Header.Get("X-Auth-Token")
				if token == "" {
					token = r.URL.Query().Get("token")
				}
				if token != "" {
					u, err := users.ByToken(r.Context(), token)
					if err != nil {
						logger.Warn("token authentication failed", "error", err)
						respondUnauthorized(w, "Invalid token")
						return
					}
					identity, err = u.Identity(MethodToken)
					if err != nil {
						logger.Warn("token authentication rejected", "user", u.Username, "error", err)
						respondUnauthorized(w, "Invalid token")
						return
					}
					logger.Debug("authenticated via token", "user", identity.Username)
				}
			}

			// 3. Try HTTP basic credentials.
			if identity == nil {
				if username, password, ok := r.BasicAuth(); ok {
					u, err := users.CheckPassword(r.Context(), username, password)
					if err != nil {
						logger.Warn("basic authentication failed", "user", username, "error", err)
						respondUnauthorized(w, "Invalid credentials provided")
						return
					}
					identity, err = u.Identity(MethodBasic)
					if err != nil {
						logger.Warn("basic authentication rejected", "user", username, "error", err)
						respondUnauthorized(w, "Invalid credentials provided")
						return
					}
					logger.Debug("authenticated via basic auth", "user", identity.Username)
				}
			}

			// 4. Dev-mode fallback (no real authentication).
			if identity == nil && devMode {
				identity = &Identity{
					UserID:   1,
					Username: "admin",
					Role:     RoleAdmin,
					Method:   MethodDev,
				}
				logger.Debug("dev-mode authentication")
			}

			if identity == nil {
				respondUnauthorized(w, "Not authorized")
				return
			}

			ctx := NewContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Identity builds a caller identity from validated session claims.
func (c *SessionClaims) Identity() *Identity {
	role := c.Role
	if role != RoleAdmin {
		role = RoleUser
	}
	return &Identity{
		UserID:   c.UserID,
		Username: c.Subject,
		Role:     role,
		FixPrice: c.FixPrice,
		Method:   MethodSession,
	}
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": "NotAuthorized",
		"data":  message,
	})
}
