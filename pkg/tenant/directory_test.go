package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsControlPath(t *testing.T) {
	assert.True(t, IsControlPath("/api/control/projects"))
	assert.True(t, IsControlPath("/control/auth/login"))
	assert.False(t, IsControlPath("/api/data/acme/customers"))
}

func TestSlugFromDataPath(t *testing.T) {
	slug, ok := slugFromDataPath("/api/data/acme/customers")
	assert.True(t, ok)
	assert.Equal(t, "acme", slug)

	slug, ok = slugFromDataPath("/api/data/acme/realtime")
	assert.True(t, ok)
	assert.Equal(t, "acme", slug)

	_, ok = slugFromDataPath("/api/data/")
	assert.False(t, ok)

	_, ok = slugFromDataPath("/api/control/projects")
	assert.False(t, ok)
}

func TestIsLoopbackOrLinkLocal(t *testing.T) {
	assert.True(t, isLoopbackOrLinkLocal("localhost"))
	assert.True(t, isLoopbackOrLinkLocal("127.0.0.1:8080"))
	assert.True(t, isLoopbackOrLinkLocal("169.254.1.1"))
	assert.False(t, isLoopbackOrLinkLocal("acme.example.com"))
}
