package pd

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

// Handler exposes the /pstorage API.
type Handler struct {
	service *Service
	audit   *audit.Writer
	logger  *slog.Logger
}

// NewHandler creates a PD Handler.
func NewHandler(service *Service, auditWriter *audit.Writer, logger *slog.Logger) *Handler {
	return &Handler{service: service, audit: auditWriter, logger: logger}
}

// Routes returns the /pstorage router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Delete("/{id}", h.handleDelete)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())

	ownerID := id.UserID
	if owner := r.URL.Query().Get("owner"); owner != "" && id.IsAdmin() {
		parsed, err := strconv.ParseInt(owner, 10, 64)
		if err != nil {
			httpserver.RespondAPIError(w, r, h.logger, apierror.Validation("invalid owner id %q", owner))
			return
		}
		ownerID = parsed
	}

	items, err := h.service.List(r.Context(), ownerID)
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, items)
}

type createRequest struct {
	Name string `json:"name" validate:"required,max=36"`
	Size int    `json:"size" validate:"required"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	id := auth.FromContext(r.Context())
	d, err := h.service.Create(r.Context(), req.Name, id.UserID, req.Size)
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}

	h.audit.Record(r, "pd.create", d.DriveName, map[string]any{"size": d.Size})
	httpserver.Respond(w, http.StatusCreated, d)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	diskID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, apierror.Validation("invalid disk id"))
		return
	}

	id := auth.FromContext(r.Context())
	d, err := h.service.Get(r.Context(), diskID, id.UserID, id.IsAdmin())
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, d)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	diskID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, apierror.Validation("invalid disk id"))
		return
	}

	id := auth.FromContext(r.Context())
	replacement, err := h.service.MarkToDelete(r.Context(), diskID, id.UserID, id.IsAdmin())
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}

	h.audit.Record(r, "pd.delete", strconv.FormatInt(diskID, 10),
		map[string]any{"replacement": replacement.DriveName})
	httpserver.Respond(w, http.StatusOK, map[string]any{"status": "OK"})
}
