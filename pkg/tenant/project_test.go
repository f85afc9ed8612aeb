package tenant

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataRoundTripPreservesUnknownKeys(t *testing.T) {
	raw := []byte(`{
		"max_connections": 20,
		"schema_exposure": true,
		"allowed_origins": ["https://example.com", "https://app.example.com"],
		"future_feature": {"flag": true}
	}`)

	var m Metadata
	require.NoError(t, json.Unmarshal(raw, &m))

	assert.Equal(t, 20, m.MaxConnections)
	assert.True(t, m.SchemaExposure)
	require.Len(t, m.AllowedOrigins, 2)
	assert.Equal(t, "https://example.com", m.AllowedOrigins[0].URL)

	out, err := json.Marshal(m)
	require.NoError(t, err)

	var roundTripped map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &roundTripped))
	assert.Contains(t, roundTripped, "future_feature")
}

func TestMetadataRecordOriginsPreserveRequireAuth(t *testing.T) {
	raw := []byte(`{"allowed_origins": [{"url": "https://example.com", "require_auth": true}]}`)

	var m Metadata
	require.NoError(t, json.Unmarshal(raw, &m))

	require.Len(t, m.AllowedOrigins, 1)
	assert.True(t, m.AllowedOrigins[0].RequireAuth)
}

func TestProjectIsExternal(t *testing.T) {
	p := &Project{Metadata: Metadata{ExternalPrimaryURL: "postgres://ext/db"}}
	assert.True(t, p.IsExternal())

	p2 := &Project{}
	assert.False(t, p2.IsExternal())
}

func TestProjectIsBlocked(t *testing.T) {
	p := &Project{Blocklist: []string{"1.2.3.4", "5.6.7.8"}}
	assert.True(t, p.IsBlocked("1.2.3.4"))
	assert.False(t, p.IsBlocked("9.9.9.9"))
}
