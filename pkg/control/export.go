package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/cascata/gateway/internal/apperror"
	"github.com/cascata/gateway/pkg/tenant"
)

// ExportSnapshot is the serialised representation of a project record
// returned by export and accepted by import. Secrets are never included —
// a restored project is re-keyed, not re-keyed-identically (spec
// Non-goals: full backup/import packaging is out of scope; this is the
// documented external interface only).
type ExportSnapshot struct {
	Slug           string          `json:"slug"`
	Name           string          `json:"name"`
	DBName         string          `json:"db_name"`
	CustomHostname string          `json:"custom_hostname,omitempty"`
	Metadata       tenant.Metadata `json:"metadata"`
}

// Exporter stores and retrieves project snapshots. Object-storage packaging
// of exported artifacts is an external collaborator — this
// interface is the seam a real deployment would back with S3/GCS; the
// in-memory implementation below exists so the documented routes work
// standalone.
type Exporter interface {
	Put(ctx context.Context, slug string, snapshot ExportSnapshot) (uploadID string, err error)
	Get(ctx context.Context, uploadID string) (ExportSnapshot, error)
}

// InMemoryExporter is a process-local Exporter for environments without an
// object store configured.
type InMemoryExporter struct {
	mu    sync.Mutex
	seq   int
	store map[string]ExportSnapshot
}

// NewInMemoryExporter creates an InMemoryExporter.
func NewInMemoryExporter() *InMemoryExporter {
	return &InMemoryExporter{store: make(map[string]ExportSnapshot)}
}

func (e *InMemoryExporter) Put(_ context.Context, slug string, snapshot ExportSnapshot) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	id := fmt.Sprintf("upload_%s_%d", slug, e.seq)
	e.store[id] = snapshot
	return id, nil
}

func (e *InMemoryExporter) Get(_ context.Context, uploadID string) (ExportSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap, ok := e.store[uploadID]
	if !ok {
		return ExportSnapshot{}, apperror.New(apperror.NotFound, "upload not found")
	}
	return snap, nil
}

// Export builds a snapshot for a project.
func (p *Projects) Export(ctx context.Context, slug string) (ExportSnapshot, error) {
	proj, err := p.store.GetBySlug(ctx, slug)
	if err != nil {
		return ExportSnapshot{}, err
	}
	return ExportSnapshot{
		Slug:           proj.Slug,
		Name:           proj.Name,
		DBName:         proj.DBName,
		CustomHostname: proj.CustomHostname,
		Metadata:       proj.Metadata,
	}, nil
}
