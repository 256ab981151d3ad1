package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/wisbric/kuberdock/internal/apierror"
	"github.com/wisbric/kuberdock/internal/auth"
)

// ErrorNotifier surfaces unhandled errors to administrators out of band
// (SSE common channel, Slack webhook). Implemented by notify.Publisher.
type ErrorNotifier interface {
	AdminError(ctx context.Context, message string)
}

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// errorEnvelopeV1 is the legacy error envelope: the message travels in "data".
type errorEnvelopeV1 struct {
	Error string `json:"error"`
	Data  string `json:"data"`
}

// errorEnvelopeV2 carries the message in "message" plus optional details.
type errorEnvelopeV2 struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// RespondError writes a JSON error response in the envelope of the caller's
// API version (v1 puts the message in "data", v2 in "message").
func RespondError(w http.ResponseWriter, r *http.Request, status int, errKind, message string) {
	respondErrorDetails(w, r, status, errKind, message, nil)
}

func respondErrorDetails(w http.ResponseWriter, r *http.Request, status int, errKind, message string, details map[string]any) {
	if APIVersionFromContext(r.Context()) == APIVersionV1 {
		Respond(w, status, errorEnvelopeV1{Error: errKind, Data: message})
		return
	}
	Respond(w, status, errorEnvelopeV2{Error: errKind, Message: message, Details: details})
}

// RespondAPIError maps a service error onto the wire. Typed errors surface
// verbatim with their status; anything else is logged and replaced by a
// generic 500 unless the caller is an admin, who sees the original detail.
func RespondAPIError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if apiErr := apierror.From(err); apiErr != nil {
		respondErrorDetails(w, r, apiErr.Status(), string(apiErr.Kind), apiErr.Message, apiErr.Details)
		return
	}

	logger.Error("unhandled API error",
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", RequestIDFromContext(r.Context()),
	)
	if n := errorNotifierFromContext(r.Context()); n != nil {
		n.AdminError(r.Context(), fmt.Sprintf("%s %s failed: %v (request %s)",
			r.Method, r.URL.Path, err, RequestIDFromContext(r.Context())))
	}

	message := "Internal error, please contact administrator"
	if id := auth.FromContext(r.Context()); id != nil && id.IsAdmin() {
		message = err.Error()
	}
	RespondError(w, r, http.StatusInternalServerError, string(apierror.KindInternal), message)
}
