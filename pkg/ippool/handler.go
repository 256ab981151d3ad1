package ippool

import (
	"log/slog"
	"net/http"
	"net/netip"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/kuberdock/internal/apierror"
	"github.com/wisbric/kuberdock/internal/audit"
	"github.com/wisbric/kuberdock/internal/auth"
	"github.com/wisbric/kuberdock/internal/httpserver"
)

// Handler exposes the admin /ippool API. The pool CIDR travels as the rest
// of the path ("/ippool/192.168.1.0/24"), optionally URL-encoded.
type Handler struct {
	service *Service
	audit   *audit.Writer
	logger  *slog.Logger
}

// NewHandler creates an ippool Handler.
func NewHandler(service *Service, auditWriter *audit.Writer, logger *slog.Logger) *Handler {
	return &Handler{service: service, audit: auditWriter, logger: logger}
}

// Routes returns the /ippool router. All routes are admin-only.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireAdmin)
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/*", h.handleGet)
	r.Put("/*", h.handleUpdate)
	r.Delete("/*", h.handleDelete)
	return r
}

// network extracts the CIDR from the wildcard tail of the path.
func network(r *http.Request) string {
	raw := chi.URLParam(r, "*")
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	// ?free-only=1 returns a single free address instead of the pool list.
	if r.URL.Query().Get("free-only") != "" {
		free, err := h.service.GetFree(r.Context(), nil, nil)
		if err != nil {
			httpserver.RespondAPIError(w, r, h.logger, err)
			return
		}
		httpserver.Respond(w, http.StatusOK, free.String())
		return
	}

	items, err := h.service.List(r.Context())
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []PoolView{}
	}
	httpserver.Respond(w, http.StatusOK, items)
}

type createPoolRequest struct {
	Network   string  `json:"network" validate:"required"`
	Node      *string `json:"node,omitempty"`
	Autoblock string  `json:"autoblock,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	view, err := h.service.Create(r.Context(), req.Network, req.Node, req.Autoblock)
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}

	h.audit.Record(r, "ippool.create", view.Network, map[string]any{"autoblock": req.Autoblock})
	httpserver.Respond(w, http.StatusCreated, view)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Get(r.Context(), network(r))
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, view)
}

type updatePoolRequest struct {
	Block   string `json:"block_ip,omitempty"`
	Unblock string `json:"unblock_ip,omitempty"`
	Unbind  string `json:"unbind_ip,omitempty"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updatePoolRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	apply := func(raw string, op func(netip.Addr) error) bool {
		if raw == "" {
			return true
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			httpserver.RespondAPIError(w, r, h.logger,
				apierror.Validation("invalid IP %q", raw))
			return false
		}
		if err := op(addr); err != nil {
			httpserver.RespondAPIError(w, r, h.logger, err)
			return false
		}
		return true
	}

	ctx := r.Context()
	if !apply(req.Block, func(a netip.Addr) error { return h.service.Block(ctx, a) }) {
		return
	}
	if !apply(req.Unblock, func(a netip.Addr) error { return h.service.Unblock(ctx, a) }) {
		return
	}
	if !apply(req.Unbind, func(a netip.Addr) error { return h.service.Unbind(ctx, a) }) {
		return
	}

	view, err := h.service.Get(ctx, network(r))
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, view)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	net := network(r)
	if err := h.service.Delete(r.Context(), net); err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	h.audit.Record(r, "ippool.delete", net, nil)
	httpserver.Respond(w, http.StatusOK, map[string]any{"status": "OK"})
}
