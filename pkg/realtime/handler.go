package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cascata/gateway/internal/apperror"
	"github.com/cascata/gateway/internal/httpserver"
	"github.com/cascata/gateway/pkg/pool"
	"github.com/cascata/gateway/pkg/tenant"
)

// Handler serves the realtime SSE endpoint.
type Handler struct {
	bridge    *Bridge
	logger    *slog.Logger
	direct    pool.Endpoint
	keepAlive time.Duration
}

// NewHandler creates a realtime Handler. direct addresses the non-pooler
// Postgres endpoint the bridge dials for LISTEN.
func NewHandler(bridge *Bridge, logger *slog.Logger, direct pool.Endpoint, keepAlive time.Duration) *Handler {
	return &Handler{bridge: bridge, logger: logger, direct: direct, keepAlive: keepAlive}
}

// ServeHTTP upgrades the request to an SSE stream for the resolved tenant,
// writing a "connected" frame, then every matching event, then a ": ping"
// comment frame every keepAlive interval until the client disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	proj := tenant.FromContext(r.Context())
	if proj == nil {
		httpserver.RespondError(w, http.StatusNotFound, string(apperror.NotFound), "unknown tenant")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpserver.RespondError(w, http.StatusInternalServerError, string(apperror.Internal), "streaming not supported")
		return
	}

	// Ejected projects run their own trigger definitions; the bridge dials
	// their external URL directly. Managed tenants always get the session-mode
	// endpoint — LISTEN dies silently behind a transaction-mode pooler.
	tableFilter := r.URL.Query().Get("table")
	connURL := h.direct.URL(proj.DBName)
	if proj.IsExternal() {
		connURL = proj.Metadata.ExternalPrimaryURL
	}

	sub, err := h.bridge.Subscribe(r.Context(), proj.Slug, connURL, tableFilter)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	defer h.bridge.Unsubscribe(proj.Slug, sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"clientId\":\"%s\"}\n\n", sub.ID)
	flusher.Flush()

	h.stream(r.Context(), w, flusher, sub)
}

func (h *Handler) stream(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sub *Subscriber) {
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub.Events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
