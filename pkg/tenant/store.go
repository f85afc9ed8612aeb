package tenant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cascata/gateway/internal/apperror"
)

// Store is the raw-SQL control-plane data-access layer for Project records.
// Hand-written row scanning, no ORM — the gateway has no generated query
// layer, so every accessor scans its own columns explicitly.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the control-plane pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const projectColumns = `
	id, slug, name, db_name, coalesce(custom_hostname, ''), status, blocklist, metadata,
	anon_key_encrypted, service_key_encrypted, jwt_secret_encrypted,
	created_at, updated_at`

func scanProjectRow(row pgx.Row) (*Project, error) {
	var p Project
	var metadataRaw []byte

	err := row.Scan(
		&p.ID, &p.Slug, &p.Name, &p.DBName, &p.CustomHostname, &p.Status, &p.Blocklist, &metadataRaw,
		&p.AnonKeyEncrypted, &p.ServiceKeyEncrypted, &p.JWTSecretEncrypted,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperror.New(apperror.NotFound, "project not found")
		}
		return nil, apperror.FromPgError(err)
	}

	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decoding project metadata: %w", err)
		}
	}

	return &p, nil
}

// GetBySlug loads a project by its URL slug.
func (s *Store) GetBySlug(ctx context.Context, slug string) (*Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE slug = $1`, slug)
	return scanProjectRow(row)
}

// GetByHostname loads a project by its custom public hostname.
func (s *Store) GetByHostname(ctx context.Context, hostname string) (*Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE custom_hostname = $1`, hostname)
	return scanProjectRow(row)
}

// GetByID loads a project by its primary key.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	return scanProjectRow(row)
}

// List returns all projects, ordered by slug.
func (s *Store) List(ctx context.Context) ([]*Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY slug`)
	if err != nil {
		return nil, apperror.FromPgError(err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		p, err := scanProjectRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateParams carries the fields required to insert a new project.
type CreateParams struct {
	Slug                string
	Name                string
	DBName              string
	CustomHostname      string
	Metadata            Metadata
	AnonKeyEncrypted    string
	ServiceKeyEncrypted string
	JWTSecretEncrypted  string
}

// Create inserts a new project and returns the stored record.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Project, error) {
	metadataRaw, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO projects (slug, name, db_name, custom_hostname, status, blocklist, metadata,
			anon_key_encrypted, service_key_encrypted, jwt_secret_encrypted)
		VALUES ($1, $2, $3, NULLIF($4, ''), 'active', '{}', $5, $6, $7, $8)
		RETURNING `+projectColumns,
		p.Slug, p.Name, p.DBName, p.CustomHostname, metadataRaw,
		p.AnonKeyEncrypted, p.ServiceKeyEncrypted, p.JWTSecretEncrypted,
	)
	return scanProjectRow(row)
}

// UpdateMetadata replaces the metadata bag for a project.
func (s *Store) UpdateMetadata(ctx context.Context, slug string, m Metadata) (*Project, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE projects SET metadata = $2, updated_at = now() WHERE slug = $1
		RETURNING `+projectColumns, slug, raw)
	return scanProjectRow(row)
}

// UpdateSecret overwrites one of the three encrypted secret columns, used by
// key rotation.
func (s *Store) UpdateSecret(ctx context.Context, slug string, column string, encrypted string) (*Project, error) {
	allowed := map[string]bool{
		"anon_key_encrypted":    true,
		"service_key_encrypted": true,
		"jwt_secret_encrypted":  true,
	}
	if !allowed[column] {
		return nil, fmt.Errorf("invalid secret column %q", column)
	}
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE projects SET %s = $2, updated_at = now() WHERE slug = $1
		RETURNING `+projectColumns, column), slug, encrypted)
	return scanProjectRow(row)
}

// AddBlockedIP appends an IP to a project's blocklist if not already present.
func (s *Store) AddBlockedIP(ctx context.Context, slug, ip string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE projects SET blocklist = array_append(blocklist, $2), updated_at = now()
		WHERE slug = $1 AND NOT ($2 = ANY(blocklist))`, slug, ip)
	if err != nil {
		return apperror.FromPgError(err)
	}
	return nil
}

// RemoveBlockedIP removes an IP from a project's blocklist.
func (s *Store) RemoveBlockedIP(ctx context.Context, slug, ip string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE projects SET blocklist = array_remove(blocklist, $2), updated_at = now()
		WHERE slug = $1`, slug, ip)
	if err != nil {
		return apperror.FromPgError(err)
	}
	return nil
}

// Delete removes a project record permanently.
func (s *Store) Delete(ctx context.Context, slug string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE slug = $1`, slug)
	if err != nil {
		return apperror.FromPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.NotFound, "project not found")
	}
	return nil
}
