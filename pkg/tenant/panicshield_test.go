package tenant

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPanicShield(t *testing.T) *PanicShield {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewPanicShield(client)
}

func TestPanicShieldSetClearIsPanicked(t *testing.T) {
	shield := newTestPanicShield(t)
	ctx := context.Background()

	panicked, err := shield.IsPanicked(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, panicked)

	require.NoError(t, shield.Set(ctx, "acme"))

	panicked, err = shield.IsPanicked(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, panicked)

	// A different project is unaffected.
	panicked, err = shield.IsPanicked(ctx, "other")
	require.NoError(t, err)
	assert.False(t, panicked)

	require.NoError(t, shield.Clear(ctx, "acme"))

	panicked, err = shield.IsPanicked(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, panicked)
}
