package tenant

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// PanicShield is the shared rate-limit-store-backed flag that locks a
// project down to admin-only traffic.
type PanicShield struct {
	rdb *redis.Client
}

// NewPanicShield creates a PanicShield backed by the given Redis client.
func NewPanicShield(rdb *redis.Client) *PanicShield {
	return &PanicShield{rdb: rdb}
}

func panicKey(slug string) string {
	return fmt.Sprintf("cascata:panic:%s", slug)
}

// Set locks a project down to admin-only traffic.
func (p *PanicShield) Set(ctx context.Context, slug string) error {
	return p.rdb.Set(ctx, panicKey(slug), "1", 0).Err()
}

// Clear releases a project's panic lock.
func (p *PanicShield) Clear(ctx context.Context, slug string) error {
	return p.rdb.Del(ctx, panicKey(slug)).Err()
}

// IsPanicked reports whether a project is currently locked down.
func (p *PanicShield) IsPanicked(ctx context.Context, slug string) (bool, error) {
	n, err := p.rdb.Exists(ctx, panicKey(slug)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
