package ports

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/kuberdock/internal/apierror"
	"github.com/wisbric/kuberdock/internal/audit"
	"github.com/wisbric/kuberdock/internal/auth"
	"github.com/wisbric/kuberdock/internal/httpserver"
)

// Handler exposes the admin port-list APIs.
type Handler struct {
	service *Service
	audit   *audit.Writer
	logger  *slog.Logger
}

// NewHandler creates a ports Handler.
func NewHandler(service *Service, auditWriter *audit.Writer, logger *slog.Logger) *Handler {
	return &Handler{service: service, audit: auditWriter, logger: logger}
}

// AllowedRoutes returns the /allowed-ports router. Admin-only.
func (h *Handler) AllowedRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireAdmin)
	r.Get("/", h.handleListAllowed)
	r.Post("/", h.handleAddAllowed)
	r.Delete("/{port}/{protocol}", h.handleRemoveAllowed)
	return r
}

// RestrictedRoutes returns the /restricted-ports router. Admin-only.
func (h *Handler) RestrictedRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireAdmin)
	r.Get("/", h.handleListRestricted)
	r.Post("/", h.handleAddRestricted)
	r.Delete("/{port}/{protocol}", h.handleRemoveRestricted)
	return r
}

type portRequest struct {
	Port     int    `json:"port" validate:"required"`
	Protocol string `json:"protocol"`
}

func pathPair(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (int, string, bool) {
	port, err := strconv.Atoi(chi.URLParam(r, "port"))
	if err != nil {
		httpserver.RespondAPIError(w, r, logger,
			apierror.Validation("invalid port %q", chi.URLParam(r, "port")))
		return 0, "", false
	}
	return port, chi.URLParam(r, "protocol"), true
}

func (h *Handler) handleListAllowed(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListAllowed(r.Context())
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, items)
}

func (h *Handler) handleAddAllowed(w http.ResponseWriter, r *http.Request) {
	var req portRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	item, err := h.service.AddAllowed(r.Context(), req.Port, req.Protocol)
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	h.audit.Record(r, "ports.allow", item.Protocol+"/"+strconv.Itoa(item.Port), nil)
	httpserver.Respond(w, http.StatusCreated, item)
}

func (h *Handler) handleRemoveAllowed(w http.ResponseWriter, r *http.Request) {
	port, protocol, ok := pathPair(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.RemoveAllowed(r.Context(), port, protocol); err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	h.audit.Record(r, "ports.unallow", protocol+"/"+strconv.Itoa(port), nil)
	httpserver.Respond(w, http.StatusOK, map[string]any{"status": "OK"})
}

func (h *Handler) handleListRestricted(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListRestricted(r.Context())
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, items)
}

func (h *Handler) handleAddRestricted(w http.ResponseWriter, r *http.Request) {
	var req portRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	item, err := h.service.AddRestricted(r.Context(), req.Port, req.Protocol)
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	h.audit.Record(r, "ports.restrict", item.Protocol+"/"+strconv.Itoa(item.Port), nil)
	httpserver.Respond(w, http.StatusCreated, item)
}

func (h *Handler) handleRemoveRestricted(w http.ResponseWriter, r *http.Request) {
	port, protocol, ok := pathPair(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.RemoveRestricted(r.Context(), port, protocol); err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	h.audit.Record(r, "ports.unrestrict", protocol+"/"+strconv.Itoa(port), nil)
	httpserver.Respond(w, http.StatusOK, map[string]any{"status": "OK"})
}
