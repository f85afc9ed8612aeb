package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cascata/gateway/internal/apperror"
)

// Store is the raw-SQL accessor for the control database's
// notification_rules table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ActiveForTableAction loads every active rule bound to slug and table that
// matches action (including rules bound to the ALL wildcard).
func (s *Store) ActiveForTableAction(ctx context.Context, slug, table, action string) ([]Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_slug, table_name, action, recipient_column, title_template,
		       body_template, conditions, data_payload, active, created_at, updated_at
		FROM notification_rules
		WHERE project_slug = $1 AND table_name = $2 AND active = true
		  AND (action = $3 OR action = 'ALL')`,
		slug, table, action)
	if err != nil {
		return nil, apperror.FromPgError(err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, apperror.FromPgError(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.FromPgError(err)
	}
	return out, nil
}

// List loads every rule defined for slug.
func (s *Store) List(ctx context.Context, slug string) ([]Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_slug, table_name, action, recipient_column, title_template,
		       body_template, conditions, data_payload, active, created_at, updated_at
		FROM notification_rules WHERE project_slug = $1 ORDER BY created_at DESC`, slug)
	if err != nil {
		return nil, apperror.FromPgError(err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, apperror.FromPgError(err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateInput is the caller-supplied shape of a new rule.
type CreateInput struct {
	Table           string
	Action          Action
	RecipientColumn string
	TitleTemplate   string
	BodyTemplate    string
	Conditions      []Condition
	DataPayload     map[string]string
}

// Create inserts a new rule for slug, active by default.
func (s *Store) Create(ctx context.Context, slug string, in CreateInput) (*Rule, error) {
	conditionsRaw, err := json.Marshal(in.Conditions)
	if err != nil {
		return nil, fmt.Errorf("encoding rule conditions: %w", err)
	}
	dataPayloadRaw, err := json.Marshal(in.DataPayload)
	if err != nil {
		return nil, fmt.Errorf("encoding rule data payload: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO notification_rules
			(id, project_slug, table_name, action, recipient_column, title_template,
			 body_template, conditions, data_payload, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, now(), now())
		RETURNING id, project_slug, table_name, action, recipient_column, title_template,
		          body_template, conditions, data_payload, active, created_at, updated_at`,
		uuid.New(), slug, in.Table, in.Action, in.RecipientColumn, in.TitleTemplate, in.BodyTemplate,
		conditionsRaw, dataPayloadRaw)

	r, err := scanRule(row)
	if err != nil {
		return nil, apperror.FromPgError(err)
	}
	return &r, nil
}

// SetActive toggles a rule's active flag.
func (s *Store) SetActive(ctx context.Context, slug string, id uuid.UUID, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notification_rules SET active = $1, updated_at = now()
		WHERE id = $2 AND project_slug = $3`, active, id, slug)
	if err != nil {
		return apperror.FromPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.NotFound, "rule not found")
	}
	return nil
}

// Delete removes a rule.
func (s *Store) Delete(ctx context.Context, slug string, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notification_rules WHERE id = $1 AND project_slug = $2`, id, slug)
	if err != nil {
		return apperror.FromPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.NotFound, "rule not found")
	}
	return nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(rows rowScanner) (Rule, error) {
	var r Rule
	var conditionsRaw, dataPayloadRaw []byte
	err := rows.Scan(&r.ID, &r.ProjectSlug, &r.Table, &r.Action, &r.RecipientColumn, &r.TitleTemplate,
		&r.BodyTemplate, &conditionsRaw, &dataPayloadRaw, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Rule{}, err
	}
	r.Conditions, err = scanConditions(conditionsRaw)
	if err != nil {
		return Rule{}, err
	}
	r.DataPayload, err = scanDataPayload(dataPayloadRaw)
	if err != nil {
		return Rule{}, err
	}
	return r, nil
}
