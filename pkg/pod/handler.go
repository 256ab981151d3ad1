package pod

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/kuberdock/internal/apierror"
	"github.com/wisbric/kuberdock/internal/audit"
	"github.com/wisbric/kuberdock/internal/auth"
	"github.com/wisbric/kuberdock/internal/httpserver"
)

// Handler exposes the /podapi API.
type Handler struct {
	service *Service
	audit   *audit.Writer
	logger  *slog.Logger
}

// NewHandler creates a pod Handler.
func NewHandler(service *Service, auditWriter *audit.Writer, logger *slog.Logger) *Handler {
	return &Handler{service: service, audit: auditWriter, logger: logger}
}

// Routes returns the /podapi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleCommand)
	r.Patch("/{id}", h.handleCommand)
	r.Delete("/{id}", h.handleDelete)
	r.Get("/{id}/direct_access", h.handleDirectAccess)
	r.Get("/{id}/{container}/update", h.handleCheckUpdate)
	r.Post("/{id}/{container}/update", h.handleApplyUpdate)
	return r
}

// targetOwner resolves the owner query param: admins may act on any user,
// everyone else only on themselves.
func (h *Handler) targetOwner(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id := auth.FromContext(r.Context())
	ownerID := id.UserID
	if owner := r.URL.Query().Get("owner"); owner != "" {
		if !id.IsAdmin() {
			httpserver.RespondAPIError(w, r, h.logger,
				apierror.PermissionDenied("only admins may act on other users' pods"))
			return 0, false
		}
		parsed, err := strconv.ParseInt(owner, 10, 64)
		if err != nil {
			httpserver.RespondAPIError(w, r, h.logger,
				apierror.Validation("invalid owner id %q", owner))
			return 0, false
		}
		ownerID = parsed
	}
	return ownerID, true
}

func podID(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAPIError(w, r, logger, apierror.Validation("invalid pod id"))
		return uuid.UUID{}, false
	}
	return id, true
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.targetOwner(w, r)
	if !ok {
		return
	}
	items, err := h.service.List(r.Context(), ownerID)
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, items)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.targetOwner(w, r)
	if !ok {
		return
	}

	var spec Spec
	if !httpserver.DecodeAndValidate(w, r, &spec) {
		return
	}

	id := auth.FromContext(r.Context())
	p, err := h.service.Create(r.Context(), id, ownerID, spec)
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}

	h.audit.Record(r, "pod.create", p.ID.String(), map[string]any{
		"name": p.Name, "kubes": p.KubeCount(),
	})
	httpserver.Respond(w, http.StatusCreated, p)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := podID(w, r, h.logger)
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), auth.FromContext(r.Context()), id)
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, p)
}

type commandRequest struct {
	Command        string            `json:"command" validate:"required"`
	CommandOptions CommandOptions    `json:"commandOptions"`
	Containers     []ContainerResize `json:"containers,omitempty"`
}

func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := podID(w, r, h.logger)
	if !ok {
		return
	}

	var req commandRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	opts := req.CommandOptions
	if len(opts.Containers) == 0 {
		opts.Containers = req.Containers
	}

	p, err := h.service.Command(r.Context(), auth.FromContext(r.Context()), id, req.Command, opts)
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}

	h.audit.Record(r, "pod."+req.Command, id.String(), nil)
	httpserver.Respond(w, http.StatusOK, p)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := podID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), auth.FromContext(r.Context()), id); err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	h.audit.Record(r, "pod.delete", id.String(), nil)
	httpserver.Respond(w, http.StatusOK, map[string]any{"status": "OK"})
}

func (h *Handler) handleDirectAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := podID(w, r, h.logger)
	if !ok {
		return
	}
	creds, err := h.service.DirectAccess(r.Context(), auth.FromContext(r.Context()), id)
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	h.audit.Record(r, "pod.direct_access", id.String(), nil)
	httpserver.Respond(w, http.StatusOK, creds)
}

func (h *Handler) handleCheckUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := podID(w, r, h.logger)
	if !ok {
		return
	}
	available, err := h.service.CheckUpdate(r.Context(), auth.FromContext(r.Context()),
		id, chi.URLParam(r, "container"))
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"updateAvailable": available})
}

func (h *Handler) handleApplyUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := podID(w, r, h.logger)
	if !ok {
		return
	}
	p, err := h.service.ApplyUpdate(r.Context(), auth.FromContext(r.Context()),
		id, chi.URLParam(r, "container"))
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	h.audit.Record(r, "pod.update", id.String(),
		map[string]any{"container": chi.URLParam(r, "container")})
	httpserver.Respond(w, http.StatusOK, p)
}
