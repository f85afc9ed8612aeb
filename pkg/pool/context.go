package pool

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const (
	handleKey   contextKey = "pool_handle"
	reporterKey contextKey = "pool_error_reporter"
)

// ErrorReporter feeds a runtime pool failure back to the Registry so it can
// invalidate the tenant's entries and let the next acquire rebuild.
type ErrorReporter func(error)

// NewContext attaches the pool selected for the current request.
func NewContext(ctx context.Context, p *pgxpool.Pool) context.Context {
	return context.WithValue(ctx, handleKey, p)
}

// FromContext extracts the pool selected for the current request, or nil if
// none was attached (control-plane requests never select a tenant pool).
func FromContext(ctx context.Context) *pgxpool.Pool {
	v, _ := ctx.Value(handleKey).(*pgxpool.Pool)
	return v
}

// NewErrorReporterContext attaches the reporter wired up for the current
// request's pool selection.
func NewErrorReporterContext(ctx context.Context, report ErrorReporter) context.Context {
	return context.WithValue(ctx, reporterKey, report)
}

// ReportError forwards err to the request's ErrorReporter, if one was
// attached. Safe to call with a nil error.
func ReportError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if report, ok := ctx.Value(reporterKey).(ErrorReporter); ok {
		report(err)
	}
}
