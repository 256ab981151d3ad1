package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/kuberdock/internal/apierror"
	"github.com/wisbric/kuberdock/internal/auth"
	"github.com/wisbric/kuberdock/internal/db"
	"github.com/wisbric/kuberdock/internal/httpserver"
)

// Record is one stored activity row.
type Record struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Username  string          `json:"username"`
	Action    string          `json:"action"`
	Resource  string          `json:"resource"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	RemoteIP  *netip.Addr     `json:"remote_ip,omitempty"`
	UserAgent *string         `json:"user_agent,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store reads the user_activity table.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates an audit Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const recordColumns = `id, user_id, username, action, resource, detail, remote_ip, user_agent, created_at`

// List returns activity rows newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Record, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+recordColumns+` FROM user_activity
		ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing user activity: %w", err)
	}
	defer rows.Close()

	var items []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Username, &rec.Action,
			&rec.Resource, &rec.Detail, &rec.RemoteIP, &rec.UserAgent, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning user activity row: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user activity rows: %w", err)
	}
	return items, nil
}

// Count returns the total number of activity rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.dbtx.QueryRow(ctx, `SELECT count(*) FROM user_activity`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting user activity: %w", err)
	}
	return n, nil
}

// Handler exposes the admin audit-log listing.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

// NewHandler creates an audit Handler.
func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Routes returns the /audit-log router. Admin-only.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireAdmin)
	r.Get("/", h.handleList)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, apierror.Validation("%v", err))
		return
	}

	items, err := h.store.List(r.Context(), params.PageSize, params.Offset)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	total, err := h.store.Count(r.Context())
	if err != nil {
		httpserver.RespondAPIError(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []Record{}
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(items, params, total))
}
