// Package rules implements the Notification Rule Engine: control-plane
// records that bind a (project, table, action) triple to a push
// notification template, triggered by realtime change events and enqueued
// onto the Job Engine's push queue. The engine never sends synchronously.
package rules

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action is the row-change action a Rule matches against, mirroring the
// trigger-level TG_OP values plus the wildcard ALL.
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionAll    Action = "ALL"
)

// Condition is one predicate evaluated against the fresh row before a rule
// fires. All of a rule's conditions must match.
type Condition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Rule is a control-plane record binding (project, table, action) to a push
// notification template.
type Rule struct {
	ID              uuid.UUID         `json:"id"`
	ProjectSlug     string            `json:"project_slug"`
	Table           string            `json:"table_name"`
	Action          Action            `json:"action"`
	RecipientColumn string            `json:"recipient_column"`
	TitleTemplate   string            `json:"title_template"`
	BodyTemplate    string            `json:"body_template"`
	Conditions      []Condition       `json:"conditions"`
	DataPayload     map[string]string `json:"data_payload,omitempty"`
	Active          bool              `json:"active"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// scanConditions and scanDataPayload round-trip the jsonb columns backing
// Conditions and DataPayload.
func scanConditions(raw []byte) ([]Condition, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var c []Condition
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return c, nil
}

func scanDataPayload(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
