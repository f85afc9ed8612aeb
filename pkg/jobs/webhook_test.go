package jobs

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign(t *testing.T) {
	body := []byte(`{"id":1}`)

	sig1 := sign("secret-a", body)
	sig2 := sign("secret-a", body)
	sig3 := sign("secret-b", body)

	assert.Equal(t, sig1, sig2, "same secret+body must produce the same signature")
	assert.NotEqual(t, sig1, sig3, "different secrets must produce different signatures")

	mac := hmac.New(sha256.New, []byte("secret-a"))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, sig1)
}

func TestWebhookWorker_Deliver_SignsAndSetsHeaders(t *testing.T) {
	var gotSig, gotEvent, gotTable, gotUA string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Cascata-Signature")
		gotEvent = r.Header.Get("X-Cascata-Event")
		gotTable = r.Header.Get("X-Cascata-Table")
		gotUA = r.Header.Get("User-Agent")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	worker := NewWebhookWorker(nil, slog.Default(), 2*time.Second, time.Second)
	worker.validateURL = func(context.Context, string) error { return nil }

	payload := WebhookPayload{
		TargetURL: srv.URL,
		Payload:   []byte(`{"id":42}`),
		Secret:    "s3cr3t",
		EventType: "INSERT",
		TableName: "orders",
	}

	status, _, err := worker.deliver(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "INSERT", gotEvent)
	assert.Equal(t, "orders", gotTable)
	assert.Contains(t, gotUA, "Cascata-Webhook-Engine")
	assert.Equal(t, `{"id":42}`, string(gotBody))

	mac := hmac.New(sha256.New, []byte("s3cr3t"))
	mac.Write([]byte(`{"id":42}`))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestWebhookWorker_Deliver_SSRFBlocked(t *testing.T) {
	worker := NewWebhookWorker(nil, slog.Default(), 2*time.Second, time.Second)

	payload := WebhookPayload{
		TargetURL: "http://10.0.0.5/hook",
		Payload:   []byte(`{}`),
		Secret:    "s",
	}

	_, _, err := worker.deliver(context.Background(), payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ssrf guard")
}

func TestValidateOutboundURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"public https", "https://example.com/hook", false},
		{"localhost literal", "http://localhost/hook", true},
		{"loopback ip", "http://127.0.0.1/hook", true},
		{"private 10/8", "http://10.0.0.5/hook", true},
		{"private 192.168", "http://192.168.1.1/hook", true},
		{"link-local", "http://169.254.1.1/hook", true},
		{"internal service name", "http://redis:6379/hook", true},
		{"internal service name db", "http://db/hook", true},
		{"loopback ipv6", "http://[::1]/hook", true},
		{"non-http scheme", "ftp://example.com/hook", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutboundURL(context.Background(), tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWebhookWorker_FinalAttemptDispatchesFallback(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest) // permanent failure, no retries
	}))
	defer target.Close()

	var fallbackBody []byte
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer fallback.Close()

	queue := NewQueue(rdb, "webhooks")
	worker := NewWebhookWorker(queue, slog.Default(), 2*time.Second, time.Second)
	worker.validateURL = func(context.Context, string) error { return nil }

	payload, err := json.Marshal(WebhookPayload{
		TargetURL:   target.URL,
		Payload:     []byte(`{"id":7}`),
		Secret:      "s",
		EventType:   "INSERT",
		TableName:   "orders",
		FallbackURL: fallback.URL,
	})
	require.NoError(t, err)

	worker.process(context.Background(), Job{
		ID:          "job-1",
		Queue:       "webhooks",
		Payload:     payload,
		Policy:      PolicyStandard,
		Attempt:     0,
		MaxAttempts: 10,
	})

	require.NotEmpty(t, fallbackBody, "fallback should receive one POST")

	var alert map[string]any
	require.NoError(t, json.Unmarshal(fallbackBody, &alert))
	assert.Contains(t, alert, "alert")
	assert.Equal(t, target.URL, alert["original_target"])
	assert.Contains(t, alert, "error")
	assert.Equal(t, "INSERT", alert["event"])
	assert.Contains(t, alert, "original_payload")
}

func TestNextDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), NextDelay(PolicyNone, 1))
	assert.Equal(t, 5*time.Second, NextDelay(PolicyLinear, 1))
	assert.Equal(t, 5*time.Second, NextDelay(PolicyLinear, 3))

	d1 := NextDelay(PolicyStandard, 1)
	d3 := NextDelay(PolicyStandard, 3)
	assert.Greater(t, d3, d1, "exponential backoff should grow with attempt number")
}

func TestMaxAttempts(t *testing.T) {
	assert.Equal(t, 1, MaxAttempts(PolicyNone))
	assert.Equal(t, 5, MaxAttempts(PolicyLinear))
	assert.Equal(t, 10, MaxAttempts(PolicyStandard))
	assert.Equal(t, 10, MaxAttempts(Policy("unknown")))
}
