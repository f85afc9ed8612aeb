package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/cascata/gateway/pkg/realtime"
)

// Trigger bridges realtime change events into the webhooks queue: for every
// parsed NOTIFY payload it loads the project's active webhooks for that
// (table, action) and enqueues one delivery job per match. Like the rule
// engine it never delivers synchronously.
type Trigger struct {
	store  *WebhookStore
	engine *Engine
	logger *slog.Logger
}

// NewTrigger creates a Trigger.
func NewTrigger(store *WebhookStore, engine *Engine, logger *slog.Logger) *Trigger {
	return &Trigger{store: store, engine: engine, logger: logger}
}

var _ realtime.Notifier = (*Trigger)(nil)

// HandleEvent is invoked by the Realtime Bridge for every parsed NOTIFY
// payload, right after SSE fan-out.
func (t *Trigger) HandleEvent(ctx context.Context, slug string, evt realtime.Event, _ *pgx.Conn) {
	matched, err := t.store.ActiveFor(ctx, slug, evt.Table, evt.Action)
	if err != nil {
		t.logger.Warn("webhook trigger: loading webhooks", "slug", slug, "table", evt.Table, "error", err)
		return
	}

	for _, hook := range matched {
		payload := WebhookPayload{
			TargetURL:   hook.TargetURL,
			Payload:     eventBody(evt),
			Secret:      hook.secret,
			EventType:   evt.Action,
			TableName:   evt.Table,
			FallbackURL: hook.FallbackURL,
		}
		if _, err := t.engine.EnqueueWebhook(ctx, payload, hook.Policy); err != nil {
			t.logger.Warn("webhook trigger: enqueueing delivery", "slug", slug, "webhook_id", hook.ID, "error", err)
		}
	}
}

// eventBody renders the change event as the canonical delivery body.
func eventBody(evt realtime.Event) json.RawMessage {
	body, err := json.Marshal(evt)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return body
}
