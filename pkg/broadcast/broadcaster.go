package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auditdesk/portal/pkg/logger"
	"github.com/auditdesk/portal/pkg/metrics"
)

// Handler receives events for the topic it was subscribed to.
type Handler func(ctx context.Context, ev Event) error

// Handle identifies one registration.
type Handle string

// Topic is a (user, kind) pair.
type Topic struct {
	UserID string `json:"userId"`
	Kind   Kind   `json:"kind"`
}

type listener struct {
	handle Handle
	fn     Handler
}

// userListeners holds one ordered listener list per Kind.
type userListeners struct {
	byKind [len(Kinds)][]listener
}

func (u *userListeners) empty() bool {
	for _, l := range u.byKind {
		if len(l) > 0 {
			return false
		}
	}
	return true
}

// Broadcaster is the per-user subscriber registry. It is safe for concurrent use.
type Broadcaster struct {
	mu        sync.RWMutex
	users     map[string]*userListeners
	logger    *slog.Logger
	metrics   metrics.Sink
	now       func() time.Time
	threshold int
	connCount func(userID string) int
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithMetrics(s metrics.Sink) Option {
	return func(b *Broadcaster) {
		if s != nil {
			b.metrics = s
		}
	}
}

// WithClock overrides the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) {
		if now != nil {
			b.now = now
		}
	}
}

// WithListenerThreshold sets the per-topic count Cleanup reports as abnormal.
// Default is 10.
func WithListenerThreshold(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithConnectionCounter lets Cleanup compare a topic's listeners with the
// user's live connections. More listeners than connections points at a leak.
func WithConnectionCounter(fn func(userID string) int) Option {
	return func(b *Broadcaster) { b.connCount = fn }
}

// New creates an empty Broadcaster.
func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		users:     make(map[string]*userListeners),
		logger:    slog.Default(),
		metrics:   metrics.Noop{},
		now:       time.Now,
		threshold: 10,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers fn for (userID, kind). Every registration is kept,
// so several devices of one user each get their own call.
func (b *Broadcaster) Subscribe(userID string, kind Kind, fn Handler) (Handle, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}
	if fn == nil {
		return "", ErrNilHandler
	}
	idx, ok := kind.index()
	if !ok {
		return "", ErrUnknownKind
	}

	h := Handle(uuid.NewString())

	b.mu.Lock()
	u := b.users[userID]
	if u == nil {
		u = &userListeners{}
		b.users[userID] = u
	}
	u.byKind[idx] = append(u.byKind[idx], listener{handle: h, fn: fn})
	b.mu.Unlock()

	return h, nil
}

// Unsubscribe removes the registration identified by h.
// Unknown users, kinds or handles are ignored. It reports whether anything was removed.
func (b *Broadcaster) Unsubscribe(userID string, kind Kind, h Handle) bool {
	idx, ok := kind.index()
	if !ok {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	u := b.users[userID]
	if u == nil {
		return false
	}
	list := u.byKind[idx]
	for i, l := range list {
		if l.handle != h {
			continue
		}
		// copy so in-flight snapshots keep their view
		next := make([]listener, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		u.byKind[idx] = next
		if u.empty() {
			delete(b.users, userID)
		}
		return true
	}
	return false
}

// BroadcastReadStatusChange delivers a single-notification read change.
func (b *Broadcaster) BroadcastReadStatusChange(ctx context.Context, ev ReadStatusEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}
	return b.publish(ctx, ev.UserID, Event{Kind: KindReadStatusSingle, ReadStatus: &ev})
}

// BroadcastBulkReadStatusChange delivers a mark-all-read change.
func (b *Broadcaster) BroadcastBulkReadStatusChange(ctx context.Context, ev ReadStatusEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}
	return b.publish(ctx, ev.UserID, Event{Kind: KindReadStatusAll, ReadStatus: &ev})
}

// BroadcastNewNotification announces a created notification to its recipient.
func (b *Broadcaster) BroadcastNewNotification(ctx context.Context, ev NewNotificationEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}
	return b.publish(ctx, ev.UserID, Event{Kind: KindNewNotification, Notification: &ev})
}

func (b *Broadcaster) publish(ctx context.Context, userID string, ev Event) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	idx, _ := ev.Kind.index()

	b.mu.RLock()
	var snapshot []listener
	if u := b.users[userID]; u != nil {
		snapshot = u.byKind[idx]
	}
	b.mu.RUnlock()

	// Listeners run outside the lock so they may unsubscribe themselves.
	var errs []error
	for _, l := range snapshot {
		if err := invoke(ctx, l.fn, ev); err != nil {
			b.metrics.Increment(metrics.BroadcastFailed, metrics.Tags{"kind": string(ev.Kind)})
			b.logger.LogAttrs(ctx, slog.LevelError, "broadcast listener failed",
				logger.UserID(userID),
				logger.EventKind(string(ev.Kind)),
				slog.String("handle", string(l.handle)),
				logger.Error(err),
			)
			errs = append(errs, &ListenerError{UserID: userID, Kind: ev.Kind, Handle: l.handle, Err: err})
			continue
		}
		b.metrics.Increment(metrics.BroadcastDelivered, metrics.Tags{"kind": string(ev.Kind)})
	}
	return errors.Join(errs...)
}

func invoke(ctx context.Context, fn Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn(ctx, ev)
}

// ListenerCount returns the number of registrations for one topic.
func (b *Broadcaster) ListenerCount(userID string, kind Kind) int {
	idx, ok := kind.index()
	if !ok {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if u := b.users[userID]; u != nil {
		return len(u.byKind[idx])
	}
	return 0
}

// ListenerCounts returns the registration count of every non-empty topic.
func (b *Broadcaster) ListenerCounts() map[Topic]int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	counts := make(map[Topic]int)
	for userID, u := range b.users {
		for i, l := range u.byKind {
			if len(l) > 0 {
				counts[Topic{UserID: userID, Kind: Kinds[i]}] = len(l)
			}
		}
	}
	return counts
}

// Alert describes a topic Cleanup considers abnormal.
type Alert struct {
	Topic       Topic `json:"topic"`
	Listeners   int   `json:"listeners"`
	Connections int   `json:"connections"` // -1 when no connection counter is configured
}

// Cleanup reports topics whose listener count exceeds the threshold or the
// user's live connection count. It never removes listeners; that is the
// owning connection's job on disconnect.
func (b *Broadcaster) Cleanup(ctx context.Context) []Alert {
	counts := b.ListenerCounts()

	total := 0
	perKind := make(map[Kind]int, len(Kinds))
	var alerts []Alert
	for topic, n := range counts {
		total += n
		perKind[topic.Kind] += n

		conns := -1
		if b.connCount != nil {
			conns = b.connCount(topic.UserID)
		}
		if n <= b.threshold && (conns < 0 || n <= conns) {
			continue
		}

		alerts = append(alerts, Alert{Topic: topic, Listeners: n, Connections: conns})
		b.logger.LogAttrs(ctx, slog.LevelWarn, "abnormal listener count, possible connection leak",
			logger.UserID(topic.UserID),
			logger.EventKind(string(topic.Kind)),
			slog.Int("listeners", n),
			slog.Int("connections", conns),
			slog.Int("threshold", b.threshold),
		)
	}

	for _, k := range Kinds {
		b.metrics.SetGauge(metrics.BroadcastListeners, float64(perKind[k]), metrics.Tags{"kind": string(k)})
	}
	b.logger.LogAttrs(ctx, slog.LevelDebug, "broadcaster cleanup",
		slog.Int("topics", len(counts)),
		slog.Int("listeners", total),
		slog.Int("alerts", len(alerts)),
	)
	return alerts
}
