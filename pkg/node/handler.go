package node

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

// Handler exposes the /nodes API.
type Handler struct {
	service *Service
	audit   *audit.Writer
	logger  *slog.Logger
}

// NewHandler creates a node Handler.
func NewHandler(service *Service, auditWriter *audit.Writer, logger *slog.Logger) *Handler {
	return &Handler{service: service, audit: auditWriter, logger: logger}
}

// Routes returns the /nodes router. Admin-only.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireAdmin)
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Patch("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
	return r
}

func nodeID(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpserver.RespondAPIError(w, r, logger, apierror.Validation("invalid node id"))
		return 0, false
	}
	return id, true
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, items)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := nodeID(w, r, h.logger)
	if !ok {
		return
	}
	n, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, n)
}

type createRequest struct {
	Hostname string `json:"hostname" validate:"required"`
	IP       string `json:"ip" validate:"required"`
	KubeType int    `json:"kube_type"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	n, err := h.service.Create(r.Context(), req.Hostname, req.IP, req.KubeType)
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	h.audit.Record(r, "node.create", n.Hostname, map[string]any{"ip": n.IP})
	httpserver.Respond(w, http.StatusCreated, n)
}

type updateRequest struct {
	IP       string `json:"ip" validate:"required"`
	KubeType int    `json:"kube_type"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := nodeID(w, r, h.logger)
	if !ok {
		return
	}
	var req updateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	n, err := h.service.Update(r.Context(), id, req.IP, req.KubeType)
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	h.audit.Record(r, "node.update", n.Hostname, map[string]any{"ip": n.IP})
	httpserver.Respond(w, http.StatusOK, n)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := nodeID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	h.audit.Record(r, "node.delete", strconv.FormatInt(id, 10), nil)
	httpserver.Respond(w, http.StatusOK, map[string]any{"status": "OK"})
}
