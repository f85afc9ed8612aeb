package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cascata/gateway/internal/telemetry"
)

// Job is one unit of durable work. Payload carries the queue-specific body
// (WebhookPayload or PushPayload, JSON-encoded) and is opaque to the queue
// itself.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Policy      Policy          `json:"policy"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Queue is a single named Redis-backed durable queue: a list holds ready
// work, a sorted set holds delayed retries scored by their ready-at unix
// millisecond timestamp.
type Queue struct {
	rdb  *redis.Client
	name string
}

// NewQueue creates a Queue bound to name ("webhooks" or "push").
func NewQueue(rdb *redis.Client, name string) *Queue {
	return &Queue{rdb: rdb, name: name}
}

func (q *Queue) readyKey() string     { return fmt.Sprintf("cascata:queue:%s:ready", q.name) }
func (q *Queue) delayedKey() string   { return fmt.Sprintf("cascata:queue:%s:delayed", q.name) }
func (q *Queue) completedKey() string { return fmt.Sprintf("cascata:queue:%s:completed", q.name) }
func (q *Queue) failedKey() string    { return fmt.Sprintf("cascata:queue:%s:failed", q.name) }

// Enqueue pushes a new job onto the ready list with attempt 0.
func (q *Queue) Enqueue(ctx context.Context, payload json.RawMessage, policy Policy, maxAttempts int) (string, error) {
	job := Job{
		ID:          uuid.NewString(),
		Queue:       q.name,
		Payload:     payload,
		Policy:      policy,
		Attempt:     0,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now(),
	}
	encoded, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encoding job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.readyKey(), encoded).Err(); err != nil {
		return "", fmt.Errorf("enqueuing job: %w", err)
	}
	telemetry.JobsEnqueuedTotal.WithLabelValues(q.name).Inc()
	return job.ID, nil
}

// Dequeue blocks (up to timeout) for the next ready job, promoting any due
// delayed retries first.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}

	result, err := q.rdb.BRPop(ctx, timeout, q.readyKey()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeuing job: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("decoding job: %w", err)
	}
	return &job, nil
}

// promoteDue moves every delayed job whose ready-at has elapsed back onto
// the ready list.
func (q *Queue) promoteDue(ctx context.Context) error {
	now := float64(time.Now().UnixMilli())
	due, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return fmt.Errorf("scanning delayed jobs: %w", err)
	}
	for _, raw := range due {
		pipe := q.rdb.TxPipeline()
		pipe.LPush(ctx, q.readyKey(), raw)
		pipe.ZRem(ctx, q.delayedKey(), raw)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("promoting delayed job: %w", err)
		}
	}
	return nil
}

// Retry re-schedules job after delay by attempt+1, incrementing its attempt
// counter and placing it on the delayed sorted set.
func (q *Queue) Retry(ctx context.Context, job Job, delay time.Duration) error {
	job.Attempt++
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding retried job: %w", err)
	}
	score := float64(time.Now().Add(delay).UnixMilli())
	return q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{Score: score, Member: encoded}).Err()
}

// MarkCompleted records job outcome in the completed log, trimmed to the
// last 1000 entries and expiring after 24h.
func (q *Queue) MarkCompleted(ctx context.Context, job Job, detail string) {
	telemetry.JobsCompletedTotal.WithLabelValues(q.name, "completed").Inc()
	q.recordOutcome(ctx, q.completedKey(), job, detail, 1000, 24*time.Hour)
}

// MarkFailed records a terminal failure, trimmed to the last 5000 entries
// and expiring after 7 days.
func (q *Queue) MarkFailed(ctx context.Context, job Job, detail string) {
	telemetry.JobsCompletedTotal.WithLabelValues(q.name, "failed").Inc()
	q.recordOutcome(ctx, q.failedKey(), job, detail, 5000, 7*24*time.Hour)
}

func (q *Queue) recordOutcome(ctx context.Context, key string, job Job, detail string, retain int, ttl time.Duration) {
	record := map[string]any{
		"job_id":  job.ID,
		"attempt": job.Attempt,
		"detail":  detail,
		"at":      time.Now(),
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return
	}
	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, key, encoded)
	pipe.LTrim(ctx, key, 0, int64(retain-1))
	pipe.Expire(ctx, key, ttl)
	_, _ = pipe.Exec(ctx)
}
