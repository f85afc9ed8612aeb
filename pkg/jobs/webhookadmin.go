package jobs

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cascata/gateway/internal/apperror"
	"github.com/cascata/gateway/internal/httpserver"
	"github.com/cascata/gateway/pkg/tenant"
)

// WebhookAdminHandler exposes webhook subscription CRUD under
// "/data/{slug}/webhooks". Delivery itself runs through the queue worker;
// this surface only manages the subscriptions the Trigger dispatches from.
type WebhookAdminHandler struct {
	store  *WebhookStore
	logger *slog.Logger
}

// NewWebhookAdminHandler creates a WebhookAdminHandler.
func NewWebhookAdminHandler(store *WebhookStore, logger *slog.Logger) *WebhookAdminHandler {
	return &WebhookAdminHandler{store: store, logger: logger}
}

// Routes returns the webhook subscription router.
func (h *WebhookAdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Delete("/{id}", h.handleDelete)
	return r
}

func (h *WebhookAdminHandler) requireServiceRole(w http.ResponseWriter, r *http.Request) (*tenant.Project, bool) {
	proj := tenant.FromContext(r.Context())
	if proj == nil {
		httpserver.RespondError(w, http.StatusNotFound, string(apperror.NotFound), "unknown tenant")
		return nil, false
	}
	if tenant.RoleFromContext(r.Context()) != tenant.RoleServiceRole {
		httpserver.RespondError(w, http.StatusForbidden, string(apperror.Forbidden), "webhook management requires the service role")
		return nil, false
	}
	return proj, true
}

func (h *WebhookAdminHandler) handleList(w http.ResponseWriter, r *http.Request) {
	proj, ok := h.requireServiceRole(w, r)
	if !ok {
		return
	}

	hooks, err := h.store.List(r.Context(), proj.Slug)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, hooks)
}

type createWebhookRequest struct {
	Table       string `json:"table_name" validate:"required"`
	Event       string `json:"event" validate:"required,oneof=INSERT UPDATE DELETE ALL"`
	TargetURL   string `json:"target_url" validate:"required,url"`
	Secret      string `json:"secret" validate:"required"`
	FallbackURL string `json:"fallback_url" validate:"omitempty,url"`
	Policy      string `json:"policy" validate:"omitempty,oneof=none linear standard"`
}

func (h *WebhookAdminHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	proj, ok := h.requireServiceRole(w, r)
	if !ok {
		return
	}

	var req createWebhookRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	// Reject unroutable targets at registration time; the worker re-checks
	// at every delivery in case DNS has changed underneath us.
	if err := ValidateOutboundURL(r.Context(), req.TargetURL); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, string(apperror.Validation), "security violation: "+err.Error())
		return
	}
	if req.FallbackURL != "" {
		if err := ValidateOutboundURL(r.Context(), req.FallbackURL); err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, string(apperror.Validation), "security violation: "+err.Error())
			return
		}
	}

	hook, err := h.store.Create(r.Context(), proj.Slug, CreateWebhookInput{
		Table:       req.Table,
		Event:       req.Event,
		TargetURL:   req.TargetURL,
		Secret:      req.Secret,
		FallbackURL: req.FallbackURL,
		Policy:      Policy(req.Policy),
	})
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, hook)
}

func (h *WebhookAdminHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	proj, ok := h.requireServiceRole(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, string(apperror.Validation), "invalid webhook id")
		return
	}

	if err := h.store.Delete(r.Context(), proj.Slug, id); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
