package auth

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// LoginHandler exchanges username + password for a session JWT.
type LoginHandler struct {
	users    *Storage
	sessions *SessionManager
	limiter  *RateLimiter
	logger   *slog.Logger
}

// NewLoginHandler creates a LoginHandler. limiter may be nil to disable
// per-IP throttling.
func NewLoginHandler(users *Storage, sessions *SessionManager, limiter *RateLimiter, logger *slog.Logger) *LoginHandler {
	return &LoginHandler{users: users, sessions: sessions, limiter: limiter, logger: logger}
}

// Routes returns the /auth router.
func (h *LoginHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.handleLogin)
	return r
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
}

func (h *LoginHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)

	if h.limiter != nil {
		res, err := h.limiter.Check(r.Context(), ip)
		if err != nil {
			h.logger.Warn("checking login rate limit", "error", err)
		} else if !res.Allowed {
			respondLoginError(w, http.StatusTooManyRequests, "TooManyLoginAttempts",
				"too many login attempts, retry after "+res.RetryAt.Format(time.RFC3339))
			return
		}
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondLoginError(w, http.StatusBadRequest, "ValidationError", "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		respondLoginError(w, http.StatusBadRequest, "ValidationError", "username and password are required")
		return
	}

	u, err := h.users.CheckPassword(r.Context(), req.Username, req.Password)
	if err != nil {
		if h.limiter != nil {
			if rlErr := h.limiter.Record(r.Context(), ip); rlErr != nil {
				h.logger.Warn("recording failed login", "error", rlErr)
			}
		}
		respondUnauthorized(w, "Invalid credentials provided")
		return
	}

	id, err := u.Identity(MethodSession)
	if err != nil {
		respondUnauthorized(w, "Invalid credentials provided")
		return
	}

	token, expiry, err := h.sessions.IssueToken(SessionClaims{
		Subject:  id.Username,
		UserID:   id.UserID,
		Role:     id.Role,
		FixPrice: id.FixPrice,
		Method:   MethodSession,
	})
	if err != nil {
		h.logger.Error("issuing session token", "error", err, "user", id.Username)
		respondLoginError(w, http.StatusInternalServerError, "InternalError",
			"Internal error, please contact administrator")
		return
	}

	if h.limiter != nil {
		if err := h.limiter.Reset(r.Context(), ip); err != nil {
			h.logger.Warn("resetting login rate limit", "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(loginResponse{
		Token:     token,
		ExpiresAt: expiry,
		Username:  id.Username,
		Role:      id.Role,
	}); err != nil {
		h.logger.Error("encoding login response", "error", err)
	}
}

func respondLoginError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": kind,
		"data":  message,
	})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
