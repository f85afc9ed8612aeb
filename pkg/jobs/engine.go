package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cascata/gateway/pkg/pool"
)

// Engine owns the webhooks and push queues and their worker loops.
type Engine struct {
	Webhooks *Queue
	Push     *Queue

	webhookWorker *WebhookWorker
	pushWorker    *PushWorker
}

// Config carries the tunables pulled from internal/config.
type Config struct {
	WebhookTimeout  time.Duration
	FallbackTimeout time.Duration
	PushConcurrency int
}

// NewEngine creates an Engine bound to the given Redis client, pool
// registry, and push audit recorder.
func NewEngine(rdb *redis.Client, registry *pool.Registry, audit AuditRecorder, logger *slog.Logger, cfg Config) *Engine {
	webhooks := NewQueue(rdb, "webhooks")
	push := NewQueue(rdb, "push")

	return &Engine{
		Webhooks:      webhooks,
		Push:          push,
		webhookWorker: NewWebhookWorker(webhooks, logger, cfg.WebhookTimeout, cfg.FallbackTimeout),
		pushWorker:    NewPushWorker(push, registry, audit, logger, cfg.PushConcurrency),
	}
}

// Run starts both worker loops and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	done := make(chan struct{}, 2)

	go func() {
		e.webhookWorker.Run(ctx)
		done <- struct{}{}
	}()
	go func() {
		e.pushWorker.Run(ctx)
		done <- struct{}{}
	}()

	<-done
	<-done
}

// EnqueueWebhook enqueues a webhook delivery job under the named policy.
func (e *Engine) EnqueueWebhook(ctx context.Context, payload WebhookPayload, policy Policy) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return e.Webhooks.Enqueue(ctx, encoded, policy, MaxAttempts(policy))
}

// EnqueuePush enqueues a push-delivery job. Push jobs always use the fixed
// 3-attempt exponential policy regardless of the webhooks policy table.
func (e *Engine) EnqueuePush(ctx context.Context, payload PushPayload) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return e.Push.Enqueue(ctx, encoded, PolicyStandard, PushMaxAttempts)
}
