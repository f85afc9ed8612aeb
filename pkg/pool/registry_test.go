package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

func TestKeyScheme(t *testing.T) {
	assert.Equal(t, "db1_pooled", Key("db1", Config{}))
	assert.Equal(t, "db1_direct", Key("db1", Config{UseDirect: true}))
	assert.Equal(t, "ext_db1_cG9zdGdyZX", Key("db1", Config{ConnectionString: "postgres://ext"}))
}

// TestHardCapEviction configures a hard cap of 4 active pools, acquires
// pools for 5 distinct tenants in sequence, and expects the registry to
// hold 4 entries with the first tenant's entry evicted.
func TestHardCapEviction(t *testing.T) {
	r := NewRegistry(4, time.Hour, time.Hour, testLogger())
	ctx := context.Background()

	var firstKey string
	for i := 0; i < 5; i++ {
		dbID := fmt.Sprintf("tenant%d", i)
		_, err := r.Get(ctx, dbID, "postgres://localhost:5432/"+dbID+"?sslmode=disable", Config{})
		require.NoError(t, err)
		if i == 0 {
			firstKey = Key(dbID, Config{})
		}
		time.Sleep(time.Millisecond) // ensure distinct lastAccessed ordering
	}

	assert.Equal(t, 4, r.Size())

	r.mu.RLock()
	_, stillPresent := r.entries[firstKey]
	r.mu.RUnlock()
	assert.False(t, stillPresent, "first tenant's entry should have been evicted")
}

func TestGetReturnsSameEntryOnRepeatedAcquire(t *testing.T) {
	r := NewRegistry(500, time.Hour, time.Hour, testLogger())
	ctx := context.Background()

	p1, err := r.Get(ctx, "db1", "postgres://localhost:5432/db1?sslmode=disable", Config{})
	require.NoError(t, err)
	p2, err := r.Get(ctx, "db1", "postgres://localhost:5432/db1?sslmode=disable", Config{})
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, 1, r.Size())
}

func TestInvalidateRemovesAllVariantsForIdentifier(t *testing.T) {
	r := NewRegistry(500, time.Hour, time.Hour, testLogger())
	ctx := context.Background()

	_, err := r.Get(ctx, "db1", "postgres://localhost:5432/db1?sslmode=disable", Config{})
	require.NoError(t, err)
	_, err = r.Get(ctx, "db1", "postgres://localhost:5432/db1?sslmode=disable", Config{UseDirect: true})
	require.NoError(t, err)
	_, err = r.Get(ctx, "db2", "postgres://localhost:5432/db2?sslmode=disable", Config{})
	require.NoError(t, err)

	r.Invalidate("db1")

	assert.Equal(t, 1, r.Size())
}

func TestHandleErrorInvalidatesOnConnectionFailure(t *testing.T) {
	r := NewRegistry(500, time.Hour, time.Hour, testLogger())
	ctx := context.Background()

	_, err := r.Get(ctx, "db1", "postgres://localhost:5432/db1?sslmode=disable", Config{})
	require.NoError(t, err)
	require.Equal(t, 1, r.Size())

	r.HandleError("db1", errors.New("dial tcp 10.0.0.9:5432: connection refused"))

	assert.Equal(t, 0, r.Size(), "connection-level error should invalidate the entry")
}

func TestHandleErrorIgnoresStatementLevelFailures(t *testing.T) {
	r := NewRegistry(500, time.Hour, time.Hour, testLogger())
	ctx := context.Background()

	_, err := r.Get(ctx, "db1", "postgres://localhost:5432/db1?sslmode=disable", Config{})
	require.NoError(t, err)

	// The server answered with a SQLSTATE: the connection itself is healthy.
	r.HandleError("db1", &pgconn.PgError{Code: "23505", Message: "duplicate key"})
	assert.Equal(t, 1, r.Size())

	// A caller that went away says nothing about the pool.
	r.HandleError("db1", context.Canceled)
	assert.Equal(t, 1, r.Size())

	r.HandleError("db1", nil)
	assert.Equal(t, 1, r.Size())
}

func TestReapIdleClosesStaleEntries(t *testing.T) {
	r := NewRegistry(500, time.Millisecond, time.Hour, testLogger())
	ctx := context.Background()

	_, err := r.Get(ctx, "db1", "postgres://localhost:5432/db1?sslmode=disable", Config{})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	r.reapIdle()

	assert.Equal(t, 0, r.Size())
}
