package jobs

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cascata/gateway/internal/apperror"
	"github.com/cascata/gateway/internal/httpserver"
	"github.com/cascata/gateway/pkg/pool"
	"github.com/cascata/gateway/pkg/tenant"
)

// Handler exposes the push engine's device-registration and direct-send
// surface under "/data/{slug}/push/...". Rule-bound pushes are enqueued by
// the Notification Rule Engine rather than through this handler.
type Handler struct {
	engine *Engine
	logger *slog.Logger
	pooler pool.Endpoint
}

// NewHandler creates a push Handler.
func NewHandler(engine *Engine, logger *slog.Logger, pooler pool.Endpoint) *Handler {
	return &Handler{engine: engine, logger: logger, pooler: pooler}
}

// Routes returns the push-engine router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/devices", h.handleRegisterDevice)
	r.Get("/devices", h.handleListDevices)
	r.Delete("/devices/{id}", h.handleDeleteDevice)
	r.Post("/send", h.handleSend)
	return r
}

type registerDeviceRequest struct {
	UserID     string `json:"user_id" validate:"required"`
	Platform   string `json:"platform" validate:"required,oneof=ios android web other"`
	Token      string `json:"token" validate:"required"`
	AppVersion string `json:"app_version"`
}

func (h *Handler) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	p := pool.FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, http.StatusInternalServerError, string(apperror.Internal), "no tenant pool for this request")
		return
	}

	// A token moving to a new user evicts any prior owner, then the upsert
	// makes repeated registration of the same (user, token) pair idempotent.
	_, err := p.Exec(r.Context(), `
		DELETE FROM auth.push_devices WHERE token = $1 AND user_id <> $2`,
		req.Token, req.UserID)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, apperror.FromPgError(err))
		return
	}

	id := uuid.NewString()
	_, err = p.Exec(r.Context(), `
		INSERT INTO auth.push_devices (id, user_id, platform, token, app_version, is_active, last_active_at, created_at)
		VALUES ($1, $2, $3, $4, $5, true, now(), now())
		ON CONFLICT (user_id, token) DO UPDATE
		SET is_active = true, platform = EXCLUDED.platform,
		    app_version = EXCLUDED.app_version, last_active_at = now()`,
		id, req.UserID, req.Platform, req.Token, req.AppVersion)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, apperror.FromPgError(err))
		return
	}
	httpserver.Respond(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	p := pool.FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, http.StatusInternalServerError, string(apperror.Internal), "no tenant pool for this request")
		return
	}

	userID := r.URL.Query().Get("user_id")
	rows, err := p.Query(r.Context(), `
		SELECT id, user_id, platform, is_active FROM auth.push_devices WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, apperror.FromPgError(err))
		return
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var id, uid, platform string
		var active bool
		if err := rows.Scan(&id, &uid, &platform, &active); err != nil {
			httpserver.RespondAppError(w, h.logger, r, apperror.FromPgError(err))
			return
		}
		out = append(out, map[string]any{"id": id, "user_id": uid, "platform": platform, "is_active": active})
	}
	httpserver.Respond(w, http.StatusOK, out)
}

func (h *Handler) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	p := pool.FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, http.StatusInternalServerError, string(apperror.Internal), "no tenant pool for this request")
		return
	}

	id := chi.URLParam(r, "id")
	if err := deleteDevice(r.Context(), p, id); err != nil {
		httpserver.RespondAppError(w, h.logger, r, apperror.FromPgError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendRequest struct {
	UserID string            `json:"user_id" validate:"required"`
	Title  string            `json:"title" validate:"required"`
	Body   string            `json:"body" validate:"required"`
	Data   map[string]string `json:"data"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	if tenant.RoleFromContext(r.Context()) != tenant.RoleServiceRole {
		httpserver.RespondAppError(w, h.logger, r, apperror.New(apperror.Forbidden, "push send requires the service role"))
		return
	}

	var req sendRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	proj := tenant.FromContext(r.Context())
	if proj == nil || proj.Metadata.Push.FCMServiceAccountJSON == "" {
		httpserver.RespondError(w, http.StatusBadRequest, string(apperror.Validation), "project has no FCM service account configured")
		return
	}

	sel := pool.Select(proj, http.MethodPost, h.pooler, 0)
	payload := PushPayload{
		ProjectSlug:           proj.Slug,
		UserID:                req.UserID,
		Notification:          PushNotification{Title: req.Title, Body: req.Body, Data: req.Data},
		DBIdentifier:          sel.DBIdentifier,
		ConnectionURL:         sel.ConnectionURL,
		PoolConfig:            sel.Config,
		FCMServiceAccountJSON: json.RawMessage(proj.Metadata.Push.FCMServiceAccountJSON),
	}

	jobID, err := h.engine.EnqueuePush(r.Context(), payload)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, apperror.Wrap(apperror.Internal, "enqueuing push job", err))
		return
	}
	httpserver.Respond(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}
