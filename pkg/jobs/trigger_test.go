package jobs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascata/gateway/pkg/realtime"
)

func TestEventBodyCarriesTheChangeEventVerbatim(t *testing.T) {
	evt := realtime.Event{
		Table:     "orders",
		Schema:    "public",
		Action:    "INSERT",
		RecordID:  float64(42),
		Timestamp: "2026-08-02T10:00:00Z",
	}

	body := eventBody(evt)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "orders", decoded["table"])
	assert.Equal(t, "INSERT", decoded["action"])
	assert.Equal(t, float64(42), decoded["record_id"])
}

func TestWebhookJSONNeverExposesTheSecret(t *testing.T) {
	w := Webhook{Table: "orders", TargetURL: "https://example.com/hook", secret: "sealed"}

	out, err := json.Marshal(w)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "sealed")
}
