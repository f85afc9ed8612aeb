package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/cascata/gateway/internal/telemetry"
	"github.com/cascata/gateway/pkg/jobs"
	"github.com/cascata/gateway/pkg/pool"
	"github.com/cascata/gateway/pkg/query"
	"github.com/cascata/gateway/pkg/realtime"
	"github.com/cascata/gateway/pkg/tenant"
)

// PoolConfig carries the pool-selection tunables needed to reconstruct a
// tenant's pool selector for an enqueued push job, mirroring pool.Select
// without an inbound HTTP request to resolve from.
type PoolConfig struct {
	Pooler             pool.Endpoint
	DefaultStatementMs int
}

// Engine implements realtime.Notifier: on every change event it loads the
// project's active rules for that (table, action), fetches the fresh row
// over the tenant's dedicated LISTEN connection, evaluates each rule's
// conditions, renders its templates, and enqueues a push job. It never
// sends synchronously — enqueue is the only side effect.
type Engine struct {
	store    *Store
	projects *tenant.Store
	jobs     *jobs.Engine
	poolCfg  PoolConfig
	logger   *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(store *Store, projects *tenant.Store, jobsEngine *jobs.Engine, poolCfg PoolConfig, logger *slog.Logger) *Engine {
	return &Engine{store: store, projects: projects, jobs: jobsEngine, poolCfg: poolCfg, logger: logger}
}

var _ realtime.Notifier = (*Engine)(nil)

// HandleEvent is invoked by the Realtime Bridge for every parsed NOTIFY
// payload, right after SSE fan-out.
func (e *Engine) HandleEvent(ctx context.Context, slug string, evt realtime.Event, conn *pgx.Conn) {
	matched, err := e.store.ActiveForTableAction(ctx, slug, evt.Table, evt.Action)
	if err != nil {
		e.logger.Warn("rule engine: loading rules", "slug", slug, "table", evt.Table, "error", err)
		return
	}
	if len(matched) == 0 {
		return
	}

	// DELETE carries no fresh row to fetch — the Open Question in the
	// design notes leaves this unresolved; we render against an empty row
	// rather than reusing OLD data from the notify payload, so DELETE
	// rules still fire but their templates render empty placeholders.
	row := map[string]any{}
	if evt.Action != string(ActionDelete) {
		row, err = fetchRow(ctx, conn, evt.Schema, evt.Table, evt.RecordID)
		if err != nil {
			e.logger.Warn("rule engine: fetching fresh row", "slug", slug, "table", evt.Table, "record_id", evt.RecordID, "error", err)
			return
		}
	}

	proj, err := e.projects.GetBySlug(ctx, slug)
	if err != nil {
		e.logger.Warn("rule engine: loading project", "slug", slug, "error", err)
		return
	}

	for _, rule := range matched {
		if !evaluate(rule.Conditions, row) {
			continue
		}

		userID := stringifyField(row[rule.RecipientColumn])
		if userID == "" {
			continue
		}

		if err := e.enqueue(ctx, proj, rule, row, userID); err != nil {
			e.logger.Warn("rule engine: enqueueing push job", "slug", slug, "rule_id", rule.ID, "error", err)
			continue
		}
		telemetry.RulesMatchedTotal.WithLabelValues(slug, evt.Table).Inc()
	}
}

func (e *Engine) enqueue(ctx context.Context, proj *tenant.Project, rule Rule, row map[string]any, userID string) error {
	sel := pool.Select(proj, "", e.poolCfg.Pooler, e.poolCfg.DefaultStatementMs)

	payload := jobs.PushPayload{
		ProjectSlug: proj.Slug,
		UserID:      userID,
		Notification: jobs.PushNotification{
			Title: renderTemplate(rule.TitleTemplate, row),
			Body:  renderTemplate(rule.BodyTemplate, row),
			Data:  renderDataPayload(rule.DataPayload, row),
		},
		DBIdentifier:          sel.DBIdentifier,
		ConnectionURL:         sel.ConnectionURL,
		PoolConfig:            sel.Config,
		FCMServiceAccountJSON: []byte(proj.Metadata.Push.FCMServiceAccountJSON),
	}

	_, err := e.jobs.EnqueuePush(ctx, payload)
	return err
}

// fetchRow loads the current row for table by id over the tenant's
// dedicated LISTEN connection, bypassing any pooled acquisition.
func fetchRow(ctx context.Context, conn *pgx.Conn, schema, table string, id any) (map[string]any, error) {
	sch := schema
	if sch == "" {
		sch = "public"
	}

	sql := fmt.Sprintf(
		"SELECT * FROM %s.%s WHERE id = $1",
		query.QuoteIdentifier(sch), query.QuoteIdentifier(table),
	)

	rows, err := conn.Query(ctx, sql, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	fields := rows.FieldDescriptions()
	values, err := rows.Values()
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(fields))
	for i, f := range fields {
		out[string(f.Name)] = values[i]
	}
	return out, nil
}
