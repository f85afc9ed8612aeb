package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cascata/gateway/pkg/tenant"
)

func TestOriginAllowed_EmptyListEchoesLoopbackOnly(t *testing.T) {
	assert.True(t, originAllowed(nil, "http://localhost:3000"))
	assert.True(t, originAllowed(nil, "http://127.0.0.1:5173"))
	assert.False(t, originAllowed(nil, "https://app.example.com"))
}

func TestOriginAllowed_ConfiguredList(t *testing.T) {
	rules := []tenant.OriginRule{{URL: "https://app.example.com"}}

	assert.True(t, originAllowed(rules, "https://app.example.com"))
	assert.False(t, originAllowed(rules, "https://evil.example.com"))
	// A configured list replaces the loopback posture entirely.
	assert.False(t, originAllowed(rules, "http://localhost:3000"))
}

func TestOriginAllowed_Wildcard(t *testing.T) {
	rules := []tenant.OriginRule{{URL: "*"}}
	assert.True(t, originAllowed(rules, "https://anywhere.example.com"))
}

func TestIsLoopbackOrigin(t *testing.T) {
	assert.True(t, isLoopbackOrigin("http://localhost:3000"))
	assert.True(t, isLoopbackOrigin("https://127.0.0.1"))
	assert.False(t, isLoopbackOrigin("https://example.com"))
	assert.False(t, isLoopbackOrigin("not a url"))
}
