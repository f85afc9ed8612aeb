package data

import (
	"context"

	"github.com/cascata/gateway/internal/apperror"
	"github.com/cascata/gateway/pkg/tenant"
)

// GetOpenAPISpec returns a minimal OpenAPI document describing the public
// tables, gated by the project's schema_exposure flag — disabled by
// default, since the spec document otherwise leaks schema to any anon
// caller. isAdmin bypasses the gate the same way it bypasses domain-locking
// in the Tenant Directory.
func (c *Controller) GetOpenAPISpec(ctx context.Context, proj *tenant.Project, isAdmin bool) (map[string]any, error) {
	if !proj.Metadata.SchemaExposure && !isAdmin {
		return nil, apperror.New(apperror.Forbidden, "schema discovery is disabled for this project")
	}

	tables, err := c.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	paths := make(map[string]any, len(tables))
	for _, t := range tables {
		name, _ := t["table_name"].(string)
		if name == "" {
			continue
		}
		paths["/"+name] = map[string]any{
			"get":    map[string]any{"summary": "List " + name},
			"post":   map[string]any{"summary": "Insert into " + name},
			"patch":  map[string]any{"summary": "Update " + name},
			"delete": map[string]any{"summary": "Delete from " + name},
		}
	}

	return map[string]any{
		"openapi": "3.0.0",
		"info": map[string]any{
			"title":   proj.Name,
			"version": "1.0.0",
		},
		"paths": paths,
	}, nil
}
