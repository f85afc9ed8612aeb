package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cascata/gateway/pkg/pool"
)

// PushNotification is the platform-agnostic notification body; Data carries
// arbitrary string key/value pairs forwarded to the client unchanged.
type PushNotification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// PushPayload is the opaque body of a job enqueued on the push queue. The
// selector fields let the worker reconstruct the tenant's pool without a
// Tenant Directory lookup, since a background worker has no inbound request
// to resolve from.
type PushPayload struct {
	ProjectSlug           string           `json:"project_slug"`
	UserID                string           `json:"user_id"`
	Notification          PushNotification `json:"notification"`
	DBIdentifier          string           `json:"db_identifier"`
	ConnectionURL         string           `json:"connection_url"`
	PoolConfig            pool.Config      `json:"pool_config"`
	FCMServiceAccountJSON json.RawMessage  `json:"fcm_service_account_json"`
}

// device is one registered push endpoint for a tenant user.
type device struct {
	ID       string
	Platform string
	Token    string
}

// AuditRecorder persists the outcome of a push job for later inspection.
type AuditRecorder interface {
	Record(ctx context.Context, projectSlug, userID, status, detail string) error
}

// PushWorker drains the push queue with a fixed worker pool, delivering
// notifications via FCM HTTP v1 and pruning devices FCM reports as gone.
type PushWorker struct {
	queue       *Queue
	registry    *pool.Registry
	audit       AuditRecorder
	logger      *slog.Logger
	concurrency int
	httpClient  *http.Client
}

// NewPushWorker creates a PushWorker.
func NewPushWorker(queue *Queue, registry *pool.Registry, audit AuditRecorder, logger *slog.Logger, concurrency int) *PushWorker {
	return &PushWorker{
		queue:       queue,
		registry:    registry,
		audit:       audit,
		logger:      logger,
		concurrency: concurrency,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Run starts `concurrency` worker goroutines and blocks until ctx is
// cancelled.
func (w *PushWorker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
}

func (w *PushWorker) loop(ctx context.Context) {
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
			w.logger.Error("push worker: dequeue failed", "error", err)
			continue
		}
		if job == nil {
			continue
		}
		w.process(ctx, *job)
	}
}

func (w *PushWorker) process(ctx context.Context, job Job) {
	var payload PushPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.logger.Error("push worker: decoding payload", "job_id", job.ID, "error", err)
		w.queue.MarkFailed(ctx, job, "malformed payload")
		return
	}

	tenantPool, err := w.registry.Get(ctx, payload.DBIdentifier, payload.ConnectionURL, payload.PoolConfig)
	if err != nil {
		w.retryOrFail(ctx, job, payload, fmt.Sprintf("acquiring tenant pool: %v", err))
		return
	}

	devices, err := loadActiveDevices(ctx, tenantPool, payload.UserID)
	if err != nil {
		w.retryOrFail(ctx, job, payload, fmt.Sprintf("loading devices: %v", err))
		return
	}
	if len(devices) == 0 {
		w.queue.MarkCompleted(ctx, job, "no_devices")
		w.complete(ctx, payload, "completed", "no_devices")
		return
	}

	accessToken, fcmProjectID, err := exchangeFCMToken(ctx, w.httpClient, payload.FCMServiceAccountJSON)
	if err != nil {
		w.retryOrFail(ctx, job, payload, fmt.Sprintf("exchanging FCM token: %v", err))
		return
	}

	failures := 0
	for _, d := range devices {
		if err := w.sendToDevice(ctx, accessToken, fcmProjectID, d, payload.Notification); err != nil {
			if isGoneDeviceError(err) {
				if delErr := deleteDevice(ctx, tenantPool, d.ID); delErr != nil {
					w.logger.Warn("push worker: pruning stale device", "device_id", d.ID, "error", delErr)
				}
				continue
			}
			w.logger.Warn("push worker: delivery to device failed", "device_id", d.ID, "error", err)
			failures++
		}
	}

	status := "completed"
	if failures > 0 && failures < len(devices) {
		status = "partial"
	} else if failures == len(devices) {
		w.retryOrFail(ctx, job, payload, "all devices failed")
		return
	}
	detail := fmt.Sprintf("%d/%d delivered", len(devices)-failures, len(devices))
	w.queue.MarkCompleted(ctx, job, detail)
	w.complete(ctx, payload, status, detail)
}

func (w *PushWorker) complete(ctx context.Context, payload PushPayload, status, detail string) {
	if w.audit != nil {
		if err := w.audit.Record(ctx, payload.ProjectSlug, payload.UserID, status, detail); err != nil {
			w.logger.Warn("push worker: recording audit row", "error", err)
		}
	}
}

func (w *PushWorker) retryOrFail(ctx context.Context, job Job, payload PushPayload, detail string) {
	if job.Attempt+1 >= job.MaxAttempts {
		w.queue.MarkFailed(ctx, job, detail)
		w.complete(ctx, payload, "failed", detail)
		return
	}
	delay := NextDelay(PolicyStandard, job.Attempt+1)
	if err := w.queue.Retry(ctx, job, delay); err != nil {
		w.logger.Error("push worker: scheduling retry", "job_id", job.ID, "error", err)
	}
}

type fcmErrorResponse struct {
	Error struct {
		Status string `json:"status"`
	} `json:"error"`
}

func (w *PushWorker) sendToDevice(ctx context.Context, accessToken, fcmProjectID string, d device, n PushNotification) error {
	message := map[string]any{
		"token": d.Token,
		"notification": map[string]string{
			"title": n.Title,
			"body":  n.Body,
		},
		"data": n.Data,
	}
	switch d.Platform {
	case "android":
		message["android"] = map[string]any{"priority": "high"}
	case "ios":
		message["apns"] = map[string]any{"headers": map[string]string{"apns-priority": "10"}}
	}
	msg := map[string]any{"message": message}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://fcm.googleapis.com/v1/projects/%s/messages:send", fcmProjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	if resp.StatusCode == http.StatusNotFound {
		return errGoneDevice
	}

	var fe fcmErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&fe)
	if fe.Error.Status == "UNREGISTERED" || fe.Error.Status == "NOT_FOUND" {
		return errGoneDevice
	}

	return fmt.Errorf("fcm returned status %d", resp.StatusCode)
}

var errGoneDevice = fmt.Errorf("device no longer registered")

func isGoneDeviceError(err error) bool {
	return err == errGoneDevice
}

func loadActiveDevices(ctx context.Context, p *pgxpool.Pool, userID string) ([]device, error) {
	rows, err := p.Query(ctx, `
		SELECT id, platform, token FROM auth.push_devices
		WHERE user_id = $1 AND is_active = true`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []device
	for rows.Next() {
		var d device
		if err := rows.Scan(&d.ID, &d.Platform, &d.Token); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return devices, nil
}

func deleteDevice(ctx context.Context, p *pgxpool.Pool, deviceID string) error {
	_, err := p.Exec(ctx, `DELETE FROM auth.push_devices WHERE id = $1`, deviceID)
	return err
}
