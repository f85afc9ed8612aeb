// Package tenant implements the Tenant Directory: resolving an inbound
// request to a Project record, decrypting its secrets, and enforcing
// domain-locking and the panic shield.
package tenant

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Project record.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// OriginRule is one entry of a project's allowed-origins list. A bare string
// origin in storage is normalised to {URL, RequireAuth: false}.
type OriginRule struct {
	URL         string `json:"url"`
	RequireAuth bool   `json:"require_auth,omitempty"`
}

// UnmarshalJSON accepts both storage shapes: a bare string origin or a
// {url, require_auth} record.
func (o *OriginRule) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		*o = OriginRule{URL: bare}
		return nil
	}
	type record OriginRule
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*o = OriginRule(r)
	return nil
}

// PushMetadata carries the provider credentials needed by the push worker.
type PushMetadata struct {
	FCMServiceAccountJSON string `json:"fcm_service_account_json,omitempty"`
}

// SecurityMetadata carries request-pipeline policy knobs.
type SecurityMetadata struct {
	MaxJSONSizeBytes int64 `json:"max_json_size,omitempty"`
}

// Metadata is the project's semi-structured extension bag. Recognised keys get a typed field; everything else
// round-trips through extra.
type Metadata struct {
	MaxConnections     int              `json:"max_connections,omitempty"`
	IdleTimeoutSeconds int              `json:"idle_timeout_seconds,omitempty"`
	StatementTimeoutMs int              `json:"statement_timeout_ms,omitempty"`
	ExternalPrimaryURL string           `json:"external_primary_url,omitempty"`
	ReplicaURL         string           `json:"replica_url,omitempty"`
	AllowedOrigins     []OriginRule     `json:"allowed_origins,omitempty"`
	SchemaExposure     bool             `json:"schema_exposure,omitempty"`
	Push               PushMetadata     `json:"push,omitempty"`
	Security           SecurityMetadata `json:"security,omitempty"`

	extra map[string]json.RawMessage
}

// recognisedMetadataKeys lists every JSON key with a typed field above, used
// to split the raw document into typed fields + opaque extras.
var recognisedMetadataKeys = map[string]bool{
	"max_connections":      true,
	"idle_timeout_seconds": true,
	"statement_timeout_ms": true,
	"external_primary_url": true,
	"replica_url":          true,
	"allowed_origins":      true,
	"schema_exposure":      true,
	"push":                 true,
	"security":             true,
}

// UnmarshalJSON decodes the typed fields and stashes unrecognised keys so a
// later write doesn't drop data the gateway doesn't understand. Bare-string
// allowed_origins entries are normalised by OriginRule.UnmarshalJSON.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	type typed Metadata
	var t typed
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	*m = Metadata(t)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if !recognisedMetadataKeys[k] {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		m.extra = extra
	}
	return nil
}

// MarshalJSON re-merges the opaque extras alongside the typed fields.
func (m Metadata) MarshalJSON() ([]byte, error) {
	type typed Metadata
	base, err := json.Marshal(typed(m))
	if err != nil {
		return nil, err
	}
	if len(m.extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Secrets holds the three decrypted per-project secrets. Never logged, never
// serialised as part of a Project response.
type Secrets struct {
	AnonKey    string
	ServiceKey string
	JWTSecret  string
}

// Project is the control-plane tenant record.
type Project struct {
	ID             uuid.UUID
	Slug           string
	Name           string
	DBName         string
	CustomHostname string
	Status         Status
	Blocklist      []string
	Metadata       Metadata

	AnonKeyEncrypted    string
	ServiceKeyEncrypted string
	JWTSecretEncrypted  string

	CreatedAt time.Time
	UpdatedAt time.Time

	// Secrets is populated by the Directory after decryption; absent on
	// records that haven't passed through Resolve.
	Secrets Secrets
}

// IsExternal reports whether this project's primary database lives outside
// the platform's managed infrastructure ("ejected"/BYOD).
func (p *Project) IsExternal() bool {
	return p.Metadata.ExternalPrimaryURL != ""
}

// HasReplica reports whether a read-replica connection string is configured.
func (p *Project) HasReplica() bool {
	return p.Metadata.ReplicaURL != ""
}

// IsBlocked reports whether the given client IP is on this project's blocklist.
func (p *Project) IsBlocked(ip string) bool {
	for _, b := range p.Blocklist {
		if b == ip {
			return true
		}
	}
	return false
}
