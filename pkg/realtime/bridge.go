// Package realtime implements the realtime bridge: one dedicated,
// pool-bypassing LISTEN connection per tenant with at least one active
// subscriber, fanning NOTIFY payloads out to that tenant's server-sent-event
// subscribers.
//
// Each tenant's listener is a background goroutine started lazily on first
// subscribe, driven by a context that is cancelled when its last subscriber
// disappears.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cascata/gateway/internal/apperror"
	"github.com/cascata/gateway/internal/telemetry"
)

const notifyChannel = "cascata_events"

// Event is the JSON payload delivered over a NOTIFY on notifyChannel,
// emitted by the per-table row trigger the platform attaches on table
// creation, and forwarded verbatim to matching subscribers.
type Event struct {
	Table     string `json:"table"`
	Schema    string `json:"schema"`
	Action    string `json:"action"`
	RecordID  any    `json:"record_id"`
	Timestamp string `json:"timestamp"`
}

// Notifier reacts to a realtime event alongside the SSE fan-out, typically
// to evaluate notification rules and enqueue push jobs. It receives the
// tenant's dedicated LISTEN connection so it can fetch the fresh row
// without a separate pool acquisition.
type Notifier interface {
	HandleEvent(ctx context.Context, slug string, evt Event, conn *pgx.Conn)
}

// Notifiers fans a single event out to several Notifier implementations in
// order (e.g. the rule engine and the webhook trigger).
type Notifiers []Notifier

// HandleEvent implements Notifier.
func (ns Notifiers) HandleEvent(ctx context.Context, slug string, evt Event, conn *pgx.Conn) {
	for _, n := range ns {
		n.HandleEvent(ctx, slug, evt, conn)
	}
}

// Subscriber is one open SSE connection within a tenant's subscriber set.
type Subscriber struct {
	ID          string
	TableFilter string
	Events      chan []byte
}

// tenantListener holds the dedicated LISTEN connection and subscriber set
// for one tenant. It exists only while the subscriber set is non-empty.
type tenantListener struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber
	cancel      context.CancelFunc
}

// Bridge is the process-wide Realtime Bridge: a registry of per-tenant
// listeners, created lazily and torn down when their last subscriber leaves.
type Bridge struct {
	mu           sync.Mutex
	tenants      map[string]*tenantListener
	logger       *slog.Logger
	maxPerTenant int
	notifier     Notifier
}

// NewBridge creates a Bridge. maxPerTenant caps live subscribers per tenant;
// Subscribe returns apperror.RateLimited once a tenant is at capacity.
// notifier may be nil, in which case only SSE fan-out happens.
func NewBridge(logger *slog.Logger, maxPerTenant int, notifier Notifier) *Bridge {
	return &Bridge{
		tenants:      make(map[string]*tenantListener),
		logger:       logger,
		maxPerTenant: maxPerTenant,
		notifier:     notifier,
	}
}

// Subscribe registers a new SSE subscriber for slug and lazily starts the
// tenant's LISTEN connection if this is its first subscriber. connectionURL
// must address Postgres directly, bypassing any transaction-mode pooler.
func (b *Bridge) Subscribe(ctx context.Context, slug, connectionURL, tableFilter string) (*Subscriber, error) {
	b.mu.Lock()
	tl, ok := b.tenants[slug]
	if !ok {
		listenCtx, cancel := context.WithCancel(context.Background())
		tl = &tenantListener{
			subscribers: make(map[string]*Subscriber),
			cancel:      cancel,
		}
		b.tenants[slug] = tl
		go b.runListener(listenCtx, slug, connectionURL, tl)
	}
	b.mu.Unlock()

	tl.mu.Lock()
	defer tl.mu.Unlock()

	if len(tl.subscribers) >= b.maxPerTenant {
		return nil, apperror.New(apperror.RateLimited, "tenant has reached the maximum number of realtime subscribers")
	}

	sub := &Subscriber{
		ID:          uuid.NewString(),
		TableFilter: tableFilter,
		Events:      make(chan []byte, 16),
	}
	tl.subscribers[sub.ID] = sub
	telemetry.RealtimeSubscribersGauge.WithLabelValues(slug).Set(float64(len(tl.subscribers)))
	return sub, nil
}

// Unsubscribe removes a subscriber from slug's set. When the set becomes
// empty the tenant's LISTEN connection is torn down.
func (b *Bridge) Unsubscribe(slug string, subscriberID string) {
	b.mu.Lock()
	tl, ok := b.tenants[slug]
	b.mu.Unlock()
	if !ok {
		return
	}

	tl.mu.Lock()
	if sub, ok := tl.subscribers[subscriberID]; ok {
		close(sub.Events)
		delete(tl.subscribers, subscriberID)
	}
	empty := len(tl.subscribers) == 0
	telemetry.RealtimeSubscribersGauge.WithLabelValues(slug).Set(float64(len(tl.subscribers)))
	tl.mu.Unlock()

	if empty {
		b.mu.Lock()
		// Re-check under the registry lock: another Subscribe may have
		// raced in and repopulated the set between the unlock above and
		// here.
		if tl2, ok := b.tenants[slug]; ok && tl2 == tl {
			tl.mu.Lock()
			stillEmpty := len(tl.subscribers) == 0
			tl.mu.Unlock()
			if stillEmpty {
				delete(b.tenants, slug)
				tl.cancel()
			}
		}
		b.mu.Unlock()
	}
}

// SubscriberCount reports the live subscriber count for slug.
func (b *Bridge) SubscriberCount(slug string) int {
	b.mu.Lock()
	tl, ok := b.tenants[slug]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return len(tl.subscribers)
}

// runListener holds the tenant's dedicated LISTEN connection for its
// lifetime and fans every notification out to matching subscribers. It
// returns when ctx is cancelled (the tenant's last subscriber left) or the
// connection fails.
func (b *Bridge) runListener(ctx context.Context, slug, connectionURL string, tl *tenantListener) {
	connCfg, err := pgx.ParseConfig(connectionURL)
	if err != nil {
		b.logger.Error("realtime: parsing tenant listen URL", "tenant", slug, "error", err)
		b.teardown(slug, tl)
		return
	}
	// External tenants run managed databases with self-signed certificates;
	// the LISTEN session trusts them the same way the Pool Registry does.
	if connCfg.TLSConfig != nil {
		connCfg.TLSConfig.InsecureSkipVerify = true
	}

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		b.logger.Error("realtime: dialing tenant listen connection", "tenant", slug, "error", err)
		b.teardown(slug, tl)
		return
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		b.logger.Error("realtime: issuing LISTEN", "tenant", slug, "error", err)
		b.teardown(slug, tl)
		return
	}

	b.logger.Info("realtime: listening", "tenant", slug)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				b.logger.Debug("realtime: listener stopped", "tenant", slug)
				return
			}
			b.logger.Error("realtime: waiting for notification", "tenant", slug, "error", err)
			b.teardown(slug, tl)
			return
		}

		payload := []byte(notification.Payload)
		var evt Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			b.logger.Warn("realtime: malformed notify payload", "tenant", slug, "error", err)
			continue
		}

		telemetry.RealtimeEventsTotal.WithLabelValues(slug, evt.Action).Inc()
		b.fanOut(tl, evt.Table, payload)
		if b.notifier != nil {
			b.notifier.HandleEvent(ctx, slug, evt, conn)
		}
	}
}

// teardown removes the tenant's listener from the registry if it is still
// the current one, so a later Subscribe starts a fresh connection, and ends
// every attached subscriber stream — without this, subscribers of a failed
// listener would hang on keep-alive pings with no events ever arriving.
func (b *Bridge) teardown(slug string, tl *tenantListener) {
	b.mu.Lock()
	if current, ok := b.tenants[slug]; ok && current == tl {
		delete(b.tenants, slug)
	}
	b.mu.Unlock()

	tl.mu.Lock()
	for id, sub := range tl.subscribers {
		close(sub.Events)
		delete(tl.subscribers, id)
	}
	tl.mu.Unlock()
	telemetry.RealtimeSubscribersGauge.WithLabelValues(slug).Set(0)
}

// fanOut writes payload to every subscriber whose table filter is unset or
// matches table. A subscriber whose channel is full is skipped rather than
// blocking the listener — a slow consumer must not stall delivery to the
// rest of the tenant.
func (b *Bridge) fanOut(tl *tenantListener, table string, payload []byte) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	for _, sub := range tl.subscribers {
		if sub.TableFilter != "" && sub.TableFilter != table {
			continue
		}
		select {
		case sub.Events <- payload:
		default:
			b.logger.Warn("realtime: dropping event for slow subscriber", "subscriber", sub.ID)
		}
	}
}

// Shutdown cancels every tenant listener. Used on graceful process
// shutdown.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for slug, tl := range b.tenants {
		tl.cancel()
		delete(b.tenants, slug)
	}
}
