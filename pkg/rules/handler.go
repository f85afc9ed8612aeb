package rules

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cascata/gateway/internal/apperror"
	"github.com/cascata/gateway/internal/httpserver"
	"github.com/cascata/gateway/pkg/tenant"
)

// Handler exposes CRUD over a project's notification rules under
// "/data/{slug}/push/rules". Rule-driven pushes themselves are enqueued by
// Engine from the Realtime Bridge, not through this handler.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

// NewHandler creates a rules Handler.
func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Routes returns the rules CRUD router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Patch("/{id}", h.handleSetActive)
	r.Delete("/{id}", h.handleDelete)
	return r
}

func requireServiceRole(r *http.Request) error {
	if tenant.RoleFromContext(r.Context()) != tenant.RoleServiceRole {
		return apperror.New(apperror.Forbidden, "rule management requires the service role")
	}
	return nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	proj := tenant.FromContext(r.Context())
	if proj == nil {
		httpserver.RespondError(w, http.StatusNotFound, string(apperror.NotFound), "unknown tenant")
		return
	}

	rules, err := h.store.List(r.Context(), proj.Slug)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, rules)
}

type createRuleRequest struct {
	Table           string            `json:"table_name" validate:"required"`
	Action          string            `json:"action" validate:"required,oneof=INSERT UPDATE DELETE ALL"`
	RecipientColumn string            `json:"recipient_column" validate:"required"`
	TitleTemplate   string            `json:"title_template" validate:"required"`
	BodyTemplate    string            `json:"body_template" validate:"required"`
	Conditions      []Condition       `json:"conditions"`
	DataPayload     map[string]string `json:"data_payload"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if err := requireServiceRole(r); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}

	proj := tenant.FromContext(r.Context())
	if proj == nil {
		httpserver.RespondError(w, http.StatusNotFound, string(apperror.NotFound), "unknown tenant")
		return
	}

	var req createRuleRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	rule, err := h.store.Create(r.Context(), proj.Slug, CreateInput{
		Table:           req.Table,
		Action:          Action(req.Action),
		RecipientColumn: req.RecipientColumn,
		TitleTemplate:   req.TitleTemplate,
		BodyTemplate:    req.BodyTemplate,
		Conditions:      req.Conditions,
		DataPayload:     req.DataPayload,
	})
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, rule)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) handleSetActive(w http.ResponseWriter, r *http.Request) {
	if err := requireServiceRole(r); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}

	proj := tenant.FromContext(r.Context())
	if proj == nil {
		httpserver.RespondError(w, http.StatusNotFound, string(apperror.NotFound), "unknown tenant")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, string(apperror.Validation), "invalid rule id")
		return
	}

	var req setActiveRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.store.SetActive(r.Context(), proj.Slug, id, req.Active); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := requireServiceRole(r); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}

	proj := tenant.FromContext(r.Context())
	if proj == nil {
		httpserver.RespondError(w, http.StatusNotFound, string(apperror.NotFound), "unknown tenant")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, string(apperror.Validation), "invalid rule id")
		return
	}

	if err := h.store.Delete(r.Context(), proj.Slug, id); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
