package yamlapi

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/kuberdock/internal/apierror"
	"github.com/wisbric/kuberdock/internal/audit"
	"github.com/wisbric/kuberdock/internal/auth"
	"github.com/wisbric/kuberdock/internal/httpserver"
	"github.com/wisbric/kuberdock/pkg/pod"
)

// maxDocumentSize caps the YAML body.
const maxDocumentSize = 1 << 20

// Handler exposes POST /yamlapi.
type Handler struct {
	pods   *pod.Service
	audit  *audit.Writer
	logger *slog.Logger
}

// NewHandler creates a yamlapi Handler.
func NewHandler(pods *pod.Service, auditWriter *audit.Writer, logger *slog.Logger) *Handler {
	return &Handler{pods: pods, audit: auditWriter, logger: logger}
}

// Routes returns the /yamlapi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	return r
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentSize))
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger,
			apierror.Validation("reading request body: %v", err))
		return
	}

	doc, err := Parse(raw)
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	spec, err := Convert(doc)
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}

	id := auth.FromContext(r.Context())
	p, err := h.pods.Create(r.Context(), id, id.UserID, spec)
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}

	h.audit.Record(r, "yamlapi.create", p.ID.String(), map[string]any{"name": p.Name})
	httpserver.Respond(w, http.StatusCreated, p)
}
