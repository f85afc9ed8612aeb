package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cascata/gateway/internal/apperror"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message,omitempty"`
	Code     string `json:"code,omitempty"`
	Position int    `json:"position,omitempty"`
}

// RespondError writes a JSON error response with an explicit kind string.
func RespondError(w http.ResponseWriter, status int, errKind string, message string) {
	Respond(w, status, ErrorResponse{Error: errKind, Message: message})
}

// RespondAppError writes the response for a typed *apperror.Error, mapping
// its Kind to the correct HTTP status and, for raw-SQL validation failures,
// including the database error code and position.
func RespondAppError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.Wrap(apperror.Internal, "internal error", err)
	}

	status := appErr.Kind.Status()

	// All non-2xx, non-4xx paths are logged; 4xx paths are not logged by
	// default.
	if status >= 500 {
		logger.Error("request failed",
			"route", r.URL.Path,
			"method", r.Method,
			"kind", appErr.Kind,
			"error", appErr.Unwrap(),
		)
	}

	Respond(w, status, ErrorResponse{
		Error:    string(appErr.Kind),
		Message:  appErr.Message,
		Code:     appErr.Code,
		Position: appErr.Position,
	})
}
