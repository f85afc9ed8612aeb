package jobs

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cascata/gateway/internal/telemetry"
)

// WebhookPayload is the opaque body of a job enqueued on the webhooks
// queue. The signing secret is never logged.
type WebhookPayload struct {
	TargetURL   string          `json:"target_url"`
	Payload     json.RawMessage `json:"payload"`
	Secret      string          `json:"secret"`
	EventType   string          `json:"event_type"`
	TableName   string          `json:"table_name"`
	FallbackURL string          `json:"fallback_url,omitempty"`
}

// WebhookWorker drains the webhooks queue with concurrency 1, delivering
// each job per the SSRF-guard → sign → POST → retry → fallback algorithm.
type WebhookWorker struct {
	queue           *Queue
	logger          *slog.Logger
	httpClient      *http.Client
	timeout         time.Duration
	fallbackTimeout time.Duration
	userAgent       string

	// validateURL guards every outbound target; swapped in tests so local
	// httptest listeners aren't rejected as loopback.
	validateURL func(context.Context, string) error
}

// NewWebhookWorker creates a WebhookWorker.
func NewWebhookWorker(queue *Queue, logger *slog.Logger, timeout, fallbackTimeout time.Duration) *WebhookWorker {
	return &WebhookWorker{
		queue:           queue,
		logger:          logger,
		httpClient:      &http.Client{},
		timeout:         timeout,
		fallbackTimeout: fallbackTimeout,
		userAgent:       "Cascata-Webhook-Engine/1.0",
		validateURL:     ValidateOutboundURL,
	}
}

// Run drains the queue until ctx is cancelled. A single goroutine processes
// webhook jobs strictly in arrival order.
func (w *WebhookWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("webhook worker: dequeue failed", "error", err)
			continue
		}
		if job == nil {
			continue
		}
		w.process(ctx, *job)
	}
}

func (w *WebhookWorker) process(ctx context.Context, job Job) {
	var payload WebhookPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.logger.Error("webhook worker: decoding payload", "job_id", job.ID, "error", err)
		w.queue.MarkFailed(ctx, job, "malformed payload")
		return
	}

	status, body, err := w.deliver(ctx, payload)
	if err == nil && status >= 200 && status < 300 {
		w.queue.MarkCompleted(ctx, job, fmt.Sprintf("delivered, status %d", status))
		return
	}

	permanent := err == nil && status >= 400 && status < 500 && status != http.StatusTooManyRequests
	exhausted := job.Attempt+1 >= job.MaxAttempts

	if permanent || exhausted {
		w.finalAttempt(ctx, job, payload, status, body, err)
		return
	}

	delay := NextDelay(job.Policy, job.Attempt+1)
	if retryErr := w.queue.Retry(ctx, job, delay); retryErr != nil {
		w.logger.Error("webhook worker: scheduling retry", "job_id", job.ID, "error", retryErr)
	}
}

// deliver signs and POSTs the payload, returning the response status and
// body (best-effort) or the transport error.
func (w *WebhookWorker) deliver(ctx context.Context, payload WebhookPayload) (int, string, error) {
	if err := w.validateURL(ctx, payload.TargetURL); err != nil {
		return 0, "", fmt.Errorf("ssrf guard: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	body := []byte(payload.Payload)
	sig := sign(payload.Secret, body)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, payload.TargetURL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Cascata-Signature", sig)
	req.Header.Set("X-Cascata-Event", payload.EventType)
	req.Header.Set("X-Cascata-Table", payload.TableName)
	req.Header.Set("User-Agent", w.userAgent)

	start := time.Now()
	resp, err := w.httpClient.Do(req)
	telemetry.WebhookAttemptDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(respBody), nil
}

// sign returns the hex-encoded HMAC-SHA256 of body keyed by secret.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// finalAttempt marks the job failed and, if a validated fallback URL
// exists, best-effort delivers an alert describing the original failure.
func (w *WebhookWorker) finalAttempt(ctx context.Context, job Job, payload WebhookPayload, status int, body string, deliverErr error) {
	detail := fmt.Sprintf("status %d", status)
	if deliverErr != nil {
		detail = deliverErr.Error()
	}
	w.queue.MarkFailed(ctx, job, detail)

	if payload.FallbackURL == "" {
		return
	}
	if err := w.validateURL(ctx, payload.FallbackURL); err != nil {
		w.logger.Warn("webhook worker: fallback URL failed SSRF guard", "job_id", job.ID, "error", err)
		return
	}

	alert := map[string]any{
		"alert":            "webhook delivery failed",
		"original_target":  payload.TargetURL,
		"error":            detail,
		"response_body":    body,
		"event":            payload.EventType,
		"table":            payload.TableName,
		"original_payload": payload.Payload,
	}
	encoded, err := json.Marshal(alert)
	if err != nil {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, w.fallbackTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, payload.FallbackURL, bytes.NewReader(encoded))
	if err != nil {
		w.logger.Warn("webhook worker: building fallback request", "job_id", job.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", w.userAgent)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		telemetry.JobsCompletedTotal.WithLabelValues(w.queue.name, "fallback_failed").Inc()
		w.logger.Warn("webhook worker: fallback delivery failed", "job_id", job.ID, "error", err)
		return
	}
	defer resp.Body.Close()
	telemetry.JobsCompletedTotal.WithLabelValues(w.queue.name, "fallback_dispatched").Inc()
}
