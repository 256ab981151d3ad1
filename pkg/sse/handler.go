package sse

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/kuberdock/internal/apierror"
	"github.com/wisbric/kuberdock/internal/auth"
	"github.com/wisbric/kuberdock/internal/httpserver"
	"github.com/wisbric/kuberdock/internal/telemetry"
)

// Handler serves GET /stream.
type Handler struct {
	broker *Broker
	logger *slog.Logger
}

// NewHandler creates an SSE Handler.
func NewHandler(broker *Broker, logger *slog.Logger) *Handler {
	return &Handler{broker: broker, logger: logger}
}

// Routes returns the /stream router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleStream)
	return r
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpserver.RespondAPIError(w, r, h.logger,
			apierror.New(apierror.KindInternal, "streaming unsupported"))
		return
	}

	id := auth.FromContext(r.Context())
	channels := Channels(id.UserID, id.IsAdmin())

	var lastID int64
	if raw := r.Header.Get("Last-Event-Id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpserver.RespondAPIError(w, r, h.logger,
				apierror.Validation("invalid Last-Event-Id %q", raw))
			return
		}
		lastID = parsed
	}

	ctx := r.Context()
	sub := h.broker.Subscribe(ctx, channels)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	telemetry.SSEClients.Inc()
	defer telemetry.SSEClients.Dec()

	// Replay after subscribing so nothing falls between the hash read and the
	// live stream. Duplicates are possible; clients dedupe on id.
	if lastID > 0 {
		for _, ch := range channels {
			missed, err := h.broker.Replay(ctx, ch, lastID)
			if err != nil {
				h.logger.Warn("replaying missed events", "channel", ch, "error", err)
				continue
			}
			for i := range missed {
				fmt.Fprint(w, missed[i].Frame())
			}
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(h.broker.Keepalive())
	defer keepalive.Stop()

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, KeepaliveFrame)
			flusher.Flush()
		case msg, open := <-msgs:
			if !open {
				return
			}
			m, err := Decode(msg.Payload)
			if err != nil {
				h.logger.Warn("dropping malformed event", "channel", msg.Channel, "error", err)
				continue
			}
			fmt.Fprint(w, m.Frame())
			flusher.Flush()
		}
	}
}
