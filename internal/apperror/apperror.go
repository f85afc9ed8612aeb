// Package apperror defines the uniform error taxonomy described in the
// gateway's error handling design: every handler maps a failure to one of a
// fixed set of kinds, and every kind maps to exactly one HTTP status.
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind is one of the fixed error categories surfaced to API callers.
type Kind string

const (
	Unauthorized    Kind = "unauthorized"
	Forbidden       Kind = "forbidden"
	NotFound        Kind = "not_found"
	Conflict        Kind = "conflict"
	Validation      Kind = "validation"
	PayloadTooLarge Kind = "payload_too_large"
	RateLimited     Kind = "rate_limited"
	LockedDown      Kind = "locked_down"
	BadGateway      Kind = "bad_gateway"
	Internal        Kind = "internal"
)

// Status returns the HTTP status code for a Kind.
func (k Kind) Status() int {
	switch k {
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Validation:
		return http.StatusBadRequest
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case RateLimited:
		return http.StatusTooManyRequests
	case LockedDown:
		return http.StatusServiceUnavailable
	case BadGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed application error carrying a Kind, a client-facing
// message, and an optional wrapped cause (logged, never exposed verbatim).
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Code and Position are populated for raw-SQL validation errors so the
	// caller can surface {error, code, position}.
	Code     string
	Position int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error of the given kind with a client-facing message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind around a lower-level cause. The
// cause is not included in Message (it is logged, not shown to the caller).
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts an *Error from err, or reports false.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else Internal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}

// pgErrorKinds maps SQLSTATE codes to taxonomy kinds.
var pgErrorKinds = map[string]Kind{
	"23505": Conflict,   // unique_violation
	"23503": Validation, // foreign_key_violation
	"23502": Validation, // not_null_violation
	"42703": Validation, // undefined_column
	"22P02": Validation, // invalid_text_representation
	"42P01": NotFound,   // undefined_table
}

// FromPgError translates a pgx/pgconn database error into a typed Error
// using the SQLSTATE table above. Non-pg errors are wrapped Internal.
func FromPgError(err error) *Error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind, ok := pgErrorKinds[pgErr.Code]
		if !ok {
			kind = Validation
		}
		pos := 0
		if pgErr.Position != 0 {
			pos = int(pgErr.Position)
		}
		return &Error{
			Kind:     kind,
			Message:  pgErr.Message,
			Cause:    err,
			Code:     pgErr.Code,
			Position: pos,
		}
	}

	return Wrap(Internal, "database error", err)
}
