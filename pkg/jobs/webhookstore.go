package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cascata/gateway/internal/apperror"
	"github.com/cascata/gateway/internal/crypto"
)

// Webhook is a per-project subscription binding a (table, event) pair to an
// outbound delivery target. The signing secret is stored encrypted under the
// process-wide envelope and is never returned by the HTTP surface.
type Webhook struct {
	ID          uuid.UUID `json:"id"`
	ProjectSlug string    `json:"project_slug"`
	Table       string    `json:"table_name"`
	Event       string    `json:"event"` // INSERT, UPDATE, DELETE, or ALL
	TargetURL   string    `json:"target_url"`
	FallbackURL string    `json:"fallback_url,omitempty"`
	Policy      Policy    `json:"policy"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// secret is the decrypted signing secret, populated only for the
	// dispatch path. It is deliberately unexported.
	secret string
}

// WebhookStore is the raw-SQL accessor for the control database's webhooks
// table.
type WebhookStore struct {
	pool     *pgxpool.Pool
	envelope *crypto.Envelope
}

// NewWebhookStore creates a WebhookStore.
func NewWebhookStore(pool *pgxpool.Pool, envelope *crypto.Envelope) *WebhookStore {
	return &WebhookStore{pool: pool, envelope: envelope}
}

const webhookColumns = `
	id, project_slug, table_name, event, target_url, secret_encrypted,
	coalesce(fallback_url, ''), policy, active, created_at, updated_at`

func (s *WebhookStore) scan(row pgx.Row, decryptSecret bool) (Webhook, error) {
	var w Webhook
	var secretEnc string
	err := row.Scan(&w.ID, &w.ProjectSlug, &w.Table, &w.Event, &w.TargetURL, &secretEnc,
		&w.FallbackURL, &w.Policy, &w.Active, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return Webhook{}, err
	}
	if decryptSecret {
		if w.secret, err = s.envelope.Open(secretEnc); err != nil {
			return Webhook{}, err
		}
	}
	return w, nil
}

// ActiveFor loads every active webhook bound to slug and table that matches
// action (including the ALL wildcard), with secrets decrypted for dispatch.
func (s *WebhookStore) ActiveFor(ctx context.Context, slug, table, action string) ([]Webhook, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+webhookColumns+`
		FROM webhooks
		WHERE project_slug = $1 AND table_name = $2 AND active = true
		  AND (event = $3 OR event = 'ALL')`,
		slug, table, action)
	if err != nil {
		return nil, apperror.FromPgError(err)
	}
	defer rows.Close()

	var out []Webhook
	for rows.Next() {
		w, err := s.scan(rows, true)
		if err != nil {
			return nil, apperror.FromPgError(err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// List loads every webhook defined for slug. Secrets stay sealed.
func (s *WebhookStore) List(ctx context.Context, slug string) ([]Webhook, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+webhookColumns+`
		FROM webhooks WHERE project_slug = $1 ORDER BY created_at DESC`, slug)
	if err != nil {
		return nil, apperror.FromPgError(err)
	}
	defer rows.Close()

	var out []Webhook
	for rows.Next() {
		w, err := s.scan(rows, false)
		if err != nil {
			return nil, apperror.FromPgError(err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// CreateWebhookInput is the caller-supplied shape of a new webhook.
type CreateWebhookInput struct {
	Table       string
	Event       string
	TargetURL   string
	Secret      string
	FallbackURL string
	Policy      Policy
}

// Create inserts a new webhook for slug, active by default, sealing the
// signing secret under the process-wide envelope.
func (s *WebhookStore) Create(ctx context.Context, slug string, in CreateWebhookInput) (*Webhook, error) {
	secretEnc, err := s.envelope.Seal(in.Secret)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "sealing webhook secret", err)
	}

	policy := in.Policy
	if policy == "" {
		policy = PolicyStandard
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO webhooks
			(id, project_slug, table_name, event, target_url, secret_encrypted,
			 fallback_url, policy, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, true, now(), now())
		RETURNING `+webhookColumns,
		uuid.New(), slug, in.Table, in.Event, in.TargetURL, secretEnc, in.FallbackURL, policy)

	w, err := s.scan(row, false)
	if err != nil {
		return nil, apperror.FromPgError(err)
	}
	return &w, nil
}

// Delete removes a webhook.
func (s *WebhookStore) Delete(ctx context.Context, slug string, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1 AND project_slug = $2`, id, slug)
	if err != nil {
		return apperror.FromPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.NotFound, "webhook not found")
	}
	return nil
}
