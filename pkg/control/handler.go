package control

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/cascata/gateway/internal/httpserver"
	"github.com/cascata/gateway/pkg/tenant"
)

// Handler exposes the control-plane HTTP surface.
type Handler struct {
	logger      *slog.Logger
	admin       *AdminAuth
	rateLimiter *LoginRateLimiter
	projects    *Projects
	exporter    Exporter
	shield      *tenant.PanicShield
}

// NewHandler creates a control-plane Handler.
func NewHandler(logger *slog.Logger, admin *AdminAuth, rateLimiter *LoginRateLimiter, projects *Projects, exporter Exporter, shield *tenant.PanicShield) *Handler {
	return &Handler{logger: logger, admin: admin, rateLimiter: rateLimiter, projects: projects, exporter: exporter, shield: shield}
}

// Routes returns the control-plane router, including the public login
// route and the admin-only project management routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/verify", h.handleVerify)

	r.Route("/projects", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/", h.handleListProjects)
		r.Post("/", h.handleCreateProject)
		r.Route("/{slug}", func(r chi.Router) {
			r.Get("/", h.handleGetProject)
			r.Patch("/", h.handleUpdateProject)
			r.Delete("/", h.handleDeleteProject)
			r.Post("/rotate-keys", h.handleRotateKeys)
			r.Post("/reveal-key", h.handleRevealKey)
			r.Post("/block-ip", h.handleBlockIP)
			r.Delete("/block-ip/{ip}", h.handleUnblockIP)
			r.Post("/panic", h.handlePanic)
			r.Delete("/panic", h.handleClearPanic)
			r.Get("/export", h.handleExport)
		})
		r.Post("/import/upload", h.handleImportUpload)
		r.Post("/import/confirm", h.handleImportConfirm)
	})

	return r
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	result, err := h.rateLimiter.Check(r.Context(), ip)
	if err != nil {
		h.logger.Error("admin login rate limit check failed", "error", err)
	} else if !result.Allowed {
		w.Header().Set("Retry-After", result.RetryAt.String())
		httpserver.RespondError(w, http.StatusTooManyRequests, "rate_limited", "too many login attempts")
		return
	}

	var req loginRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	token, err := h.admin.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}

	_ = h.rateLimiter.Reset(r.Context(), ip)
	httpserver.Respond(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	bearer := bearerFromHeader(r)
	if !h.admin.VerifyAdminToken(bearer) {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired admin token")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"valid": true})
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.admin.VerifyAdminToken(bearerFromHeader(r)) {
			httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerFromHeader(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.List(r.Context())
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, projects)
}

type createProjectRequest struct {
	Slug           string `json:"slug" validate:"required"`
	Name           string `json:"name" validate:"required"`
	DBName         string `json:"db_name" validate:"required"`
	CustomHostname string `json:"custom_hostname"`
}

func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	proj, err := h.projects.Create(r.Context(), CreateInput{
		Slug:           req.Slug,
		Name:           req.Name,
		DBName:         req.DBName,
		CustomHostname: req.CustomHostname,
	})
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, proj)
}

func (h *Handler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	proj, err := h.projects.Get(r.Context(), slug)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, proj)
}

func (h *Handler) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	var req struct {
		Metadata map[string]any `json:"metadata"`
	}
	if err := httpserver.Decode(r, &req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	current, err := h.projects.Get(r.Context(), slug)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}

	merged, err := mergeMetadataPatch(current.Metadata, req.Metadata)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	proj, err := h.projects.UpdateMetadata(r.Context(), slug, merged)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, proj)
}

func (h *Handler) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := h.projects.Delete(r.Context(), slug); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rotateKeysRequest struct {
	Type string `json:"type" validate:"required,oneof=anon service jwt"`
}

func (h *Handler) handleRotateKeys(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	var req rotateKeysRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	secret, err := h.projects.RotateKey(r.Context(), slug, SecretKind(req.Type))
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"type": req.Type, "key": secret})
}

type revealKeyRequest struct {
	Type               string `json:"type" validate:"required,oneof=anon service jwt"`
	AdminPasswordCheck string `json:"admin_password" validate:"required"`
}

func (h *Handler) handleRevealKey(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	var req revealKeyRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	// The admin JWT already gated this route; the password is a second
	// factor required specifically for revealing a live secret, checked
	// against the account the token was issued to.
	username, ok := h.admin.Subject(bearerFromHeader(r))
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "admin token required")
		return
	}
	adminRecord, err := h.admin.store.GetByUsername(r.Context(), username)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(adminRecord.PasswordHash), []byte(req.AdminPasswordCheck)); err != nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "admin password verification failed")
		return
	}

	secret, err := h.projects.RevealKey(r.Context(), slug, SecretKind(req.Type))
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"type": req.Type, "key": secret})
}

type blockIPRequest struct {
	IP string `json:"ip" validate:"required,ip"`
}

func (h *Handler) handleBlockIP(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	var req blockIPRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := h.projects.BlockIP(r.Context(), slug, req.IP); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnblockIP(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	ip := chi.URLParam(r, "ip")
	if err := h.projects.UnblockIP(r.Context(), slug, ip); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePanic locks a project down: until cleared, every non-admin request
// for the slug receives 503 LockedDown from the Tenant Directory.
func (h *Handler) handlePanic(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := h.shield.Set(r.Context(), slug); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"slug": slug, "panicked": true})
}

func (h *Handler) handleClearPanic(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := h.shield.Clear(r.Context(), slug); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"slug": slug, "panicked": false})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	snap, err := h.projects.Export(r.Context(), slug)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, snap)
}

func (h *Handler) handleImportUpload(w http.ResponseWriter, r *http.Request) {
	var snap ExportSnapshot
	if err := httpserver.Decode(r, &snap); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	uploadID, err := h.exporter.Put(r.Context(), snap.Slug, snap)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusAccepted, map[string]string{"upload_id": uploadID})
}

type importConfirmRequest struct {
	UploadID string `json:"upload_id" validate:"required"`
}

func (h *Handler) handleImportConfirm(w http.ResponseWriter, r *http.Request) {
	var req importConfirmRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	snap, err := h.exporter.Get(r.Context(), req.UploadID)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}

	proj, err := h.projects.Create(r.Context(), CreateInput{
		Slug:           snap.Slug,
		Name:           snap.Name,
		DBName:         snap.DBName,
		CustomHostname: snap.CustomHostname,
		Metadata:       snap.Metadata,
	})
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, proj)
}

// mergeMetadataPatch overlays a partial JSON patch onto an existing Metadata
// value, leaving every field the caller didn't mention untouched — including
// opaque extension keys Metadata doesn't recognise.
func mergeMetadataPatch(current tenant.Metadata, patch map[string]any) (tenant.Metadata, error) {
	currentJSON, err := json.Marshal(current)
	if err != nil {
		return tenant.Metadata{}, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(currentJSON, &merged); err != nil {
		return tenant.Metadata{}, err
	}

	for k, v := range patch {
		encoded, err := json.Marshal(v)
		if err != nil {
			return tenant.Metadata{}, err
		}
		merged[k] = encoded
	}

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return tenant.Metadata{}, err
	}

	var result tenant.Metadata
	if err := json.Unmarshal(mergedJSON, &result); err != nil {
		return tenant.Metadata{}, err
	}
	return result, nil
}
