package billing

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/kuberdock/internal/auth"
	"github.com/wisbric/kuberdock/internal/httpserver"
)

// Handler exposes the read-only pricing catalog.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a billing Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes returns the /pricing router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/kubes", h.handleListKubes)
	r.Get("/packages", h.handleListPackages)
	return r
}

func (h *Handler) handleListKubes(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	items, err := h.service.ListKubes(r.Context(), id.IsAdmin())
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, items)
}

func (h *Handler) handleListPackages(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListPackages(r.Context())
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, items)
}
