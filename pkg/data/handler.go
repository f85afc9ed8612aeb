package data

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cascata/gateway/internal/apperror"
	"github.com/cascata/gateway/internal/httpserver"
	"github.com/cascata/gateway/pkg/pool"
	"github.com/cascata/gateway/pkg/query"
	"github.com/cascata/gateway/pkg/tenant"
)

// Handler exposes the Data Controller over HTTP: PostgREST-style CRUD on
// "/{table}" plus the administrative surface (schema introspection, RPC,
// raw SQL, stats, recycle bin, OpenAPI document). It is mounted downstream
// of the Request Pipeline, which has already attached the resolved Project,
// Role, and per-request pool to the request context.
type Handler struct {
	logger *slog.Logger
}

// NewHandler creates a data-plane Handler.
func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

// Routes returns the data-plane router, mounted under "/api/data/{slug}".
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/tables", h.handleListTables)
	r.Post("/tables", h.handleCreateTable)
	r.Get("/tables/{table}/columns", h.handleGetColumns)
	r.Delete("/tables/{table}", h.handleDeleteTable)

	r.Get("/functions", h.handleListFunctions)
	r.Get("/functions/{name}", h.handleGetFunctionDefinition)
	r.Get("/triggers", h.handleListTriggers)

	r.Get("/recycle-bin", h.handleListRecycleBin)
	r.Post("/recycle-bin/{table}/restore", h.handleRestoreTable)

	r.Post("/rpc/{name}", h.handleRPC)
	r.Post("/query", h.handleRawQuery)

	r.Get("/stats", h.handleStats)
	r.Get("/openapi.json", h.handleOpenAPI)

	r.Get("/{table}", h.handleSelect)
	r.Post("/{table}", h.handleInsert)
	r.Patch("/{table}", h.handleUpdate)
	r.Delete("/{table}", h.handleDelete)

	return r
}

func controllerFromRequest(r *http.Request) *Controller {
	role := tenant.RoleFromContext(r.Context())
	handle := pool.FromContext(r.Context())
	return New(handle, role)
}

func requireServiceRole(r *http.Request) error {
	if tenant.RoleFromContext(r.Context()) != tenant.RoleServiceRole {
		return apperror.New(apperror.Forbidden, "this operation requires the service role")
	}
	return nil
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	q := r.URL.Query()

	params := make(map[string][]string, len(q))
	for k, v := range q {
		params[k] = v
	}

	pagination, err := query.ParsePagination(r.Header.Get("Range"), q.Get("limit"), q.Get("offset"), r.Header.Get("Accept"), r.Header.Get("Prefer"))
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}

	opts := SelectOptions{
		Table:      table,
		Select:     q.Get("select"),
		Filters:    query.ParseFilters(params),
		Order:      query.ParseOrder(q.Get("order")),
		Pagination: pagination,
	}

	result, err := controllerFromRequest(r).Select(r.Context(), opts)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}

	if result.Total >= 0 {
		w.Header().Set("Content-Range", query.ContentRange(opts.Pagination.Offset, len(result.Rows), int(result.Total)))
	}

	if opts.Pagination.SingleObject {
		// vnd.pgrst.object+json unwraps the first row, or null when the
		// filter matched nothing.
		if len(result.Rows) == 0 {
			httpserver.Respond(w, http.StatusOK, json.RawMessage("null"))
			return
		}
		httpserver.Respond(w, http.StatusOK, result.Rows[0])
		return
	}
	httpserver.Respond(w, http.StatusOK, result.Rows)
}

func (h *Handler) handleInsert(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	q := r.URL.Query()

	rows, err := decodeRows(r)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}

	opts := query.InsertOptions{
		OnConflictColumns: q.Get("on_conflict"),
		Resolution:        resolutionFromPrefer(r.Header.Get("Prefer")),
		ReturnMinimal:     returnMinimalFromPrefer(r.Header.Get("Prefer")),
	}

	out, err := controllerFromRequest(r).Insert(r.Context(), table, rows, opts)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}

	if opts.ReturnMinimal {
		w.WriteHeader(http.StatusCreated)
		return
	}
	httpserver.Respond(w, http.StatusCreated, out)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	q := r.URL.Query()

	var patch map[string]any
	if err := decodeBody(r, &patch); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}

	params := make(map[string][]string, len(q))
	for k, v := range q {
		params[k] = v
	}
	filters := query.ParseFilters(params)
	returnMinimal := returnMinimalFromPrefer(r.Header.Get("Prefer"))

	out, err := controllerFromRequest(r).Update(r.Context(), table, patch, filters, returnMinimal)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}

	if returnMinimal {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpserver.Respond(w, http.StatusOK, out)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	q := r.URL.Query()

	params := make(map[string][]string, len(q))
	for k, v := range q {
		params[k] = v
	}
	filters := query.ParseFilters(params)
	returnMinimal := returnMinimalFromPrefer(r.Header.Get("Prefer"))

	out, err := controllerFromRequest(r).Delete(r.Context(), table, filters, returnMinimal)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}

	if returnMinimal {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpserver.Respond(w, http.StatusOK, out)
}

func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var args map[string]any
	if r.ContentLength != 0 {
		if err := decodeBody(r, &args); err != nil {
			httpserver.RespondAppError(w, h.logger, r, err)
			return
		}
	}

	out, err := controllerFromRequest(r).ExecuteRPC(r.Context(), name, args)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, out)
}

type rawQueryRequest struct {
	SQL  string `json:"sql" validate:"required"`
	Args []any  `json:"args"`
}

func (h *Handler) handleRawQuery(w http.ResponseWriter, r *http.Request) {
	if err := requireServiceRole(r); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}

	var req rawQueryRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := controllerFromRequest(r).RunRawQuery(r.Context(), req.SQL, req.Args)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"rows":        result.Rows,
		"row_count":   result.RowCount,
		"command":     result.Command,
		"duration_ms": result.DurationMs,
	})
}

func (h *Handler) handleListTables(w http.ResponseWriter, r *http.Request) {
	out, err := controllerFromRequest(r).ListTables(r.Context())
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, out)
}

func (h *Handler) handleGetColumns(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	out, err := controllerFromRequest(r).GetColumns(r.Context(), table)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, out)
}

func (h *Handler) handleListFunctions(w http.ResponseWriter, r *http.Request) {
	out, err := controllerFromRequest(r).ListFunctions(r.Context())
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, out)
}

func (h *Handler) handleGetFunctionDefinition(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	def, err := controllerFromRequest(r).GetFunctionDefinition(r.Context(), name)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"definition": def})
}

func (h *Handler) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	out, err := controllerFromRequest(r).ListTriggers(r.Context())
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, out)
}

type createTableRequest struct {
	Name    string     `json:"name" validate:"required"`
	Columns []ColumnDef `json:"columns" validate:"required"`
}

func (h *Handler) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	if err := requireServiceRole(r); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}

	var req createTableRequest
	if err := decodeBody(r, &req); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}

	if err := controllerFromRequest(r).CreateTable(r.Context(), req.Name, req.Columns); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleDeleteTable(w http.ResponseWriter, r *http.Request) {
	if err := requireServiceRole(r); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}

	table := chi.URLParam(r, "table")
	q := r.URL.Query()
	hard := q.Get("hard") == "true"
	cascade := q.Get("cascade") == "true"

	if err := controllerFromRequest(r).DeleteTable(r.Context(), table, hard, cascade, time.Now().UnixMilli()); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListRecycleBin(w http.ResponseWriter, r *http.Request) {
	if err := requireServiceRole(r); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}

	out, err := controllerFromRequest(r).ListRecycleBin(r.Context())
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, out)
}

func (h *Handler) handleRestoreTable(w http.ResponseWriter, r *http.Request) {
	if err := requireServiceRole(r); err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}

	deletedName := chi.URLParam(r, "table")
	restored, err := controllerFromRequest(r).RestoreTable(r.Context(), deletedName)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"table": restored})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := controllerFromRequest(r).GetStats(r.Context())
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, stats)
}

func (h *Handler) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	proj := tenant.FromContext(r.Context())
	isAdmin := tenant.RoleFromContext(r.Context()) == tenant.RoleServiceRole

	spec, err := controllerFromRequest(r).GetOpenAPISpec(r.Context(), proj, isAdmin)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, spec)
}

// decodeBody reads a data-plane JSON body. Unlike httpserver.Decode it
// imposes no size cap of its own — the request pipeline already wrapped the
// body in the project's dynamic limit — and maps an exceeded limit to 413.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return apperror.New(apperror.PayloadTooLarge, "request body exceeds the project's size limit")
		}
		return apperror.Wrap(apperror.Validation, "invalid JSON body", err)
	}
	return nil
}

// decodeRows accepts either a single JSON object or an array of objects, the
// same dual shape PostgREST's insert endpoint accepts.
func decodeRows(r *http.Request) ([]map[string]any, error) {
	var raw json.RawMessage
	if err := decodeBody(r, &raw); err != nil {
		return nil, err
	}

	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err == nil {
		return rows, nil
	}

	var single map[string]any
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, apperror.New(apperror.Validation, "insert body must be a JSON object or array of objects")
	}
	return []map[string]any{single}, nil
}

func resolutionFromPrefer(prefer string) string {
	switch {
	case strings.Contains(prefer, "resolution=merge-duplicates"):
		return "merge-duplicates"
	case strings.Contains(prefer, "resolution=ignore-duplicates"):
		return "ignore-duplicates"
	default:
		return ""
	}
}

func returnMinimalFromPrefer(prefer string) bool {
	return strings.Contains(prefer, "return=minimal")
}
