package notification_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditdesk/portal/pkg/broadcast"
	"github.com/auditdesk/portal/pkg/logger"
	"github.com/auditdesk/portal/pkg/metrics"
	"github.com/auditdesk/portal/svc/directory"
	"github.com/auditdesk/portal/svc/notification"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc   *notification.Service
	store *notification.MemoryStore
	dir   *directory.Memory
	clock *clock
	sink  *metrics.Memory
	bc    *broadcast.Broadcaster
}

func newFixture(t *testing.T, cfg notification.Config, opts ...notification.Option) *fixture {
	t.Helper()

	dir := directory.NewMemory()
	dir.PutUser(directory.User{ID: "sender", Name: "Sam Partner", Email: "sam@example.com", Role: "partner"})
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("r%d", i)
		dir.PutUser(directory.User{ID: id, Name: "Reviewer " + id, Email: id + "@example.com", Role: "staff"})
	}
	dir.PutClient(directory.Client{ID: "c1", Name: "Acme Ltd"})
	dir.PutClient(directory.Client{ID: "c2", Name: "Globex"})
	dir.PutAudit(directory.Audit{ID: "a1", Year: 2025, ClientID: "c1", ClientName: "Acme Ltd", AssignedUserIDs: []string{"r1", "sender", "r2"}})
	dir.PutAudit(directory.Audit{ID: "a2", Year: 2025, ClientID: "c2", ClientName: "Globex", AssignedUserIDs: []string{"r3"}})

	f := &fixture{
		store: notification.NewMemoryStore(),
		dir:   dir,
		clock: &clock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)},
		sink:  metrics.NewMemory(),
	}
	f.bc = broadcast.New(broadcast.WithLogger(logger.Discard()), broadcast.WithClock(f.clock.Now))

	base := []notification.Option{
		notification.WithConfig(cfg),
		notification.WithLogger(logger.Discard()),
		notification.WithMetrics(f.sink),
		notification.WithClock(f.clock.Now),
		notification.WithPublisher(f.bc),
		notification.WithDeliverer(notification.NewBroadcastDeliverer(f.bc)),
		notification.WithCountCache(notification.NewMemoryCountCache(100, time.Minute)),
	}
	f.svc = notification.NewService(f.store, dir, append(base, opts...)...)
	return f
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	n, err := f.store.CountNotifications(context.Background(), notification.CountFilter{})
	require.NoError(t, err)
	return n
}

func TestCreateClientAssignment_Success(t *testing.T) {
	t.Parallel()

	f := newFixture(t, notification.DefaultConfig())
	ctx := context.Background()

	var got []broadcast.Event
	_, err := f.bc.Subscribe("r1", broadcast.KindNewNotification, func(_ context.Context, ev broadcast.Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)

	res := f.svc.CreateClientAssignment(ctx, "c1", "r1", "sender", "")
	require.True(t, res.Success, res.Message)
	assert.NotEmpty(t, res.NotificationID)
	assert.Equal(t, "r1", res.RecipientUserID)

	list, err := f.svc.List(ctx, "r1", notification.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	n := list[0]
	assert.Equal(t, notification.TypeClientAssignment, n.Type)
	assert.Equal(t, "c1", n.EntityID)
	assert.Equal(t, "sender", n.SenderUserID)
	assert.Equal(t, "Sam Partner assigned you to client Acme Ltd.", n.Message)
	assert.Equal(t, "http://localhost:8080/clients/c1", n.LinkURL)
	assert.False(t, n.IsRead)
	assert.Equal(t, f.clock.Now(), n.CreatedAt)

	require.Len(t, got, 1)
	require.NotNil(t, got[0].Notification)
	assert.Equal(t, res.NotificationID, got[0].Notification.NotificationID)
	assert.Equal(t, 1, got[0].Notification.UnreadCount)

	assert.Equal(t, int64(1), f.sink.Counter(metrics.NotificationsCreated, metrics.Tags{"type": "client_assignment"}))
}

func TestCreate_SelfNotification(t *testing.T) {
	t.Parallel()

	f := newFixture(t, notification.DefaultConfig())
	ctx := context.Background()

	for name, res := range map[string]notification.Result{
		"client": f.svc.CreateClientAssignment(ctx, "c1", "sender", "sender", ""),
		"audit":  f.svc.CreateAuditAssignment(ctx, "a1", "sender", "sender", notification.PriorityUrgent),
	} {
		assert.False(t, res.Success, name)
		assert.Equal(t, notification.ReasonSelfNotification, res.Reason, name)
	}
	assert.Equal(t, 0, f.count(t))

	t.Run("allowed when prevention is off", func(t *testing.T) {
		t.Parallel()
		cfg := notification.DefaultConfig()
		cfg.PreventSelfNotification = false
		f := newFixture(t, cfg)
		res := f.svc.CreateClientAssignment(context.Background(), "c1", "sender", "sender", "")
		assert.True(t, res.Success)
	})
}

func TestCreate_InvalidEntity(t *testing.T) {
	t.Parallel()

	f := newFixture(t, notification.DefaultConfig())
	ctx := context.Background()

	tests := []struct {
		name string
		res  notification.Result
	}{
		{"missing client", f.svc.CreateClientAssignment(ctx, "nope", "r1", "sender", "")},
		{"missing audit", f.svc.CreateAuditAssignment(ctx, "nope", "r1", "sender", "")},
		{"missing recipient", f.svc.CreateClientAssignment(ctx, "c1", "ghost", "sender", "")},
		{"missing sender", f.svc.CreateAuditAssignment(ctx, "a1", "r1", "ghost", "")},
	}
	for _, tt := range tests {
		assert.False(t, tt.res.Success, tt.name)
		assert.Equal(t, notification.ReasonInvalidEntity, tt.res.Reason, tt.name)
		assert.NotEmpty(t, tt.res.Message, tt.name)
	}
	assert.Equal(t, 0, f.count(t))
}

func TestCreate_Duplicate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, notification.DefaultConfig())
	ctx := context.Background()

	first := f.svc.CreateAuditAssignment(ctx, "a1", "r1", "sender", "")
	require.True(t, first.Success)

	f.clock.Advance(29 * time.Minute)
	second := f.svc.CreateAuditAssignment(ctx, "a1", "r1", "sender", "")
	assert.False(t, second.Success)
	assert.Equal(t, notification.ReasonDuplicate, second.Reason)

	other := f.svc.CreateAuditAssignment(ctx, "a2", "r1", "sender", "")
	assert.True(t, other.Success, "different entity is not a duplicate")

	f.clock.Advance(2 * time.Minute)
	third := f.svc.CreateAuditAssignment(ctx, "a1", "r1", "sender", "")
	assert.True(t, third.Success, "outside the window")

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		cfg := notification.DefaultConfig()
		cfg.DedupEnabled = false
		f := newFixture(t, cfg)
		require.True(t, f.svc.CreateAuditAssignment(context.Background(), "a1", "r1", "sender", "").Success)
		assert.True(t, f.svc.CreateAuditAssignment(context.Background(), "a1", "r1", "sender", "").Success)
	})
}

func TestCreate_RateLimit(t *testing.T) {
	t.Parallel()

	limited := func() notification.Config {
		cfg := notification.DefaultConfig()
		cfg.Limits[notification.TypeAuditAssignment] = notification.TypeLimit{
			MaxPerHour: 2, MaxPerDay: 10, PriorityExceptions: []notification.Priority{},
		}
		return cfg
	}

	t.Run("hourly ceiling in submission order", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, limited())
		ctx := context.Background()

		var results []notification.Result
		for _, r := range []string{"r1", "r2", "r3"} {
			results = append(results, f.svc.CreateAuditAssignment(ctx, "a1", r, "sender", ""))
			f.clock.Advance(10 * time.Second)
		}

		assert.True(t, results[0].Success)
		assert.True(t, results[1].Success)
		assert.False(t, results[2].Success)
		assert.Equal(t, notification.ReasonRateLimited, results[2].Reason)
		require.NotNil(t, results[2].RetryAfter)
		assert.Equal(t, f.clock.Now().Add(-10*time.Second).Add(time.Hour), *results[2].RetryAfter)
		assert.Equal(t, 2, f.count(t))
	})

	t.Run("daily ceiling", func(t *testing.T) {
		t.Parallel()
		cfg := notification.DefaultConfig()
		cfg.Limits[notification.TypeClientAssignment] = notification.TypeLimit{MaxPerHour: 1, MaxPerDay: 2}
		f := newFixture(t, cfg)
		ctx := context.Background()

		require.True(t, f.svc.CreateClientAssignment(ctx, "c1", "r1", "sender", "").Success)
		f.clock.Advance(2 * time.Hour)
		require.True(t, f.svc.CreateClientAssignment(ctx, "c1", "r2", "sender", "").Success)
		f.clock.Advance(2 * time.Hour)

		res := f.svc.CreateClientAssignment(ctx, "c1", "r3", "sender", "")
		require.Equal(t, notification.ReasonRateLimited, res.Reason)
		require.NotNil(t, res.RetryAfter)
		assert.Equal(t, f.clock.Now().Add(24*time.Hour), *res.RetryAfter)
	})

	t.Run("priority exception bypasses exceeded ceiling", func(t *testing.T) {
		t.Parallel()
		cfg := limited()
		cfg.Limits[notification.TypeAuditAssignment] = notification.TypeLimit{
			MaxPerHour: 2, MaxPerDay: 10, PriorityExceptions: []notification.Priority{notification.PriorityUrgent},
		}
		f := newFixture(t, cfg)
		ctx := context.Background()

		require.True(t, f.svc.CreateAuditAssignment(ctx, "a1", "r1", "sender", "").Success)
		require.True(t, f.svc.CreateAuditAssignment(ctx, "a1", "r2", "sender", "").Success)
		require.Equal(t, notification.ReasonRateLimited, f.svc.CreateAuditAssignment(ctx, "a1", "r3", "sender", "").Reason)

		res := f.svc.CreateAuditAssignment(ctx, "a1", "r4", "sender", notification.PriorityUrgent)
		assert.True(t, res.Success)
		res = f.svc.CreateAuditAssignment(ctx, "a1", "r5", "sender", notification.PriorityHigh)
		assert.Equal(t, notification.ReasonRateLimited, res.Reason)
	})

	t.Run("limits are per sender", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, limited())
		f.dir.PutUser(directory.User{ID: "other", Name: "Other"})
		ctx := context.Background()

		require.True(t, f.svc.CreateAuditAssignment(ctx, "a1", "r1", "sender", "").Success)
		require.True(t, f.svc.CreateAuditAssignment(ctx, "a1", "r2", "sender", "").Success)
		assert.True(t, f.svc.CreateAuditAssignment(ctx, "a1", "r3", "other", "").Success)
	})
}

func TestCreateAuditUpdate(t *testing.T) {
	t.Parallel()

	t.Run("defaults to assignees and drops sender", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, notification.DefaultConfig())

		results := f.svc.CreateAuditUpdate(context.Background(), notification.AuditUpdate{
			AuditID:       "a1",
			ChangeType:    notification.ChangeStage,
			PreviousValue: "planning",
			NewValue:      "field_work",
			SenderUserID:  "sender",
		})
		require.Len(t, results, 2)
		assert.Equal(t, "r1", results[0].RecipientUserID)
		assert.Equal(t, "r2", results[1].RecipientUserID)
		for _, r := range results {
			assert.True(t, r.Success)
		}

		list, err := f.svc.List(context.Background(), "r1", notification.ListOptions{})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, notification.TypeAuditStageUpdate, list[0].Type)
		assert.Equal(t, "Sam Partner changed the stage of the 2025 audit for Acme Ltd from Planning to Field Work.", list[0].Message)
	})

	t.Run("recipients are isolated", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, notification.DefaultConfig())
		ctx := context.Background()

		update := notification.AuditUpdate{
			AuditID:          "a1",
			ChangeType:       notification.ChangeStatus,
			PreviousValue:    "open",
			NewValue:         "on_hold",
			SenderUserID:     "sender",
			RecipientUserIDs: []string{"r1", "ghost", "sender", "r3"},
		}
		first := f.svc.CreateAuditUpdate(ctx, update)
		require.Len(t, first, 3)
		assert.True(t, first[0].Success)
		assert.Equal(t, notification.ReasonInvalidEntity, first[1].Reason)
		assert.Equal(t, "ghost", first[1].RecipientUserID)
		assert.True(t, first[2].Success)

		update.RecipientUserIDs = []string{"r1", "r2"}
		second := f.svc.CreateAuditUpdate(ctx, update)
		require.Len(t, second, 2)
		assert.Equal(t, notification.ReasonDuplicate, second[0].Reason)
		assert.True(t, second[1].Success)
	})

	t.Run("missing audit", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, notification.DefaultConfig())
		results := f.svc.CreateAuditUpdate(context.Background(), notification.AuditUpdate{
			AuditID: "nope", ChangeType: notification.ChangeStage, SenderUserID: "sender",
			RecipientUserIDs: []string{"r1", "r2"},
		})
		require.Len(t, results, 2)
		for _, r := range results {
			assert.Equal(t, notification.ReasonInvalidEntity, r.Reason)
		}
	})

	t.Run("unknown change type", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, notification.DefaultConfig())
		results := f.svc.CreateAuditUpdate(context.Background(), notification.AuditUpdate{
			AuditID: "a1", ChangeType: "budget", SenderUserID: "sender",
		})
		require.Len(t, results, 1)
		assert.Equal(t, notification.ReasonInvalidEntity, results[0].Reason)

		results = f.svc.CreateAuditUpdate(context.Background(), notification.AuditUpdate{
			AuditID: "a1", ChangeType: "budget", SenderUserID: "sender",
			RecipientUserIDs: []string{"r1", "r2"},
		})
		require.Len(t, results, 2)
		for i, id := range []string{"r1", "r2"} {
			assert.False(t, results[i].Success)
			assert.Equal(t, id, results[i].RecipientUserID)
			assert.Equal(t, notification.ReasonInvalidEntity, results[i].Reason)
		}
		assert.Equal(t, int64(3), f.sink.Counter(metrics.NotificationsRejected,
			metrics.Tags{"type": "", "reason": string(notification.ReasonInvalidEntity)}))
		assert.Zero(t, f.count(t))
	})
}

type failingStore struct {
	*notification.MemoryStore
	createErr error
}

func (s *failingStore) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	if s.createErr != nil {
		return notification.Notification{}, s.createErr
	}
	return s.MemoryStore.CreateNotification(ctx, n)
}

func TestCreate_SystemError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, notification.DefaultConfig())
	store := &failingStore{MemoryStore: notification.NewMemoryStore(), createErr: errors.New("connection refused")}
	svc := notification.NewService(store, f.dir,
		notification.WithLogger(logger.Discard()),
		notification.WithMetrics(f.sink),
	)

	res := svc.CreateClientAssignment(context.Background(), "c1", "r1", "sender", "")
	assert.False(t, res.Success)
	assert.Equal(t, notification.ReasonSystemError, res.Reason)
	assert.NotContains(t, res.Message, "connection refused")
	assert.Equal(t, int64(1), f.sink.Counter(metrics.NotificationsRejected,
		metrics.Tags{"type": "client_assignment", "reason": "system_error"}))

	// business rules still win over a broken store
	res = svc.CreateClientAssignment(context.Background(), "c1", "sender", "sender", "")
	assert.Equal(t, notification.ReasonSelfNotification, res.Reason)
}

func TestMarkRead_BroadcastsToEveryDevice(t *testing.T) {
	t.Parallel()

	cfg := notification.DefaultConfig()
	cfg.DedupEnabled = false
	f := newFixture(t, cfg)
	ctx := context.Background()

	var ids []string
	for range 5 {
		res := f.svc.CreateClientAssignment(ctx, "c1", "r1", "sender", "")
		require.True(t, res.Success)
		ids = append(ids, res.NotificationID)
	}

	var mu sync.Mutex
	devices := map[string][]broadcast.ReadStatusEvent{}
	for _, device := range []string{"laptop", "phone"} {
		_, err := f.bc.Subscribe("r1", broadcast.KindReadStatusSingle, func(_ context.Context, ev broadcast.Event) error {
			mu.Lock()
			defer mu.Unlock()
			devices[device] = append(devices[device], *ev.ReadStatus)
			return nil
		})
		require.NoError(t, err)
	}

	res, err := f.svc.MarkRead(ctx, "r1", ids[:3])
	require.NoError(t, err)
	assert.Equal(t, 3, res.UpdatedCount)
	assert.Equal(t, 2, res.UnreadCount)

	require.Len(t, devices["laptop"], 1)
	require.Len(t, devices["phone"], 1)
	assert.Equal(t, devices["laptop"][0], devices["phone"][0])
	ev := devices["laptop"][0]
	assert.Len(t, ev.NotificationIDs, 3)
	assert.Equal(t, 2, ev.UnreadCount)
	assert.True(t, ev.IsRead)
	assert.Equal(t, "r1", ev.UserID)

	// already read ids neither update nor broadcast
	res, err = f.svc.MarkRead(ctx, "r1", ids[:3])
	require.NoError(t, err)
	assert.Equal(t, 0, res.UpdatedCount)
	assert.Len(t, devices["laptop"], 1)
}

func TestMarkRead_IgnoresOtherUsersNotifications(t *testing.T) {
	t.Parallel()

	f := newFixture(t, notification.DefaultConfig())
	ctx := context.Background()

	res := f.svc.CreateClientAssignment(ctx, "c1", "r2", "sender", "")
	require.True(t, res.Success)

	out, err := f.svc.MarkRead(ctx, "r1", []string{res.NotificationID, "", res.NotificationID})
	require.NoError(t, err)
	assert.Equal(t, 0, out.UpdatedCount)

	unread, err := f.svc.UnreadCount(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	_, err = f.svc.MarkRead(ctx, "", []string{"x"})
	assert.ErrorIs(t, err, notification.ErrEmptyUserID)
}

func TestMarkAllRead(t *testing.T) {
	t.Parallel()

	f := newFixture(t, notification.DefaultConfig())
	ctx := context.Background()

	require.True(t, f.svc.CreateClientAssignment(ctx, "c1", "r1", "sender", "").Success)
	require.True(t, f.svc.CreateClientAssignment(ctx, "c2", "r1", "sender", "").Success)
	require.True(t, f.svc.CreateAuditAssignment(ctx, "a2", "r1", "sender", "").Success)

	var events []broadcast.Event
	_, err := f.bc.Subscribe("r1", broadcast.KindReadStatusAll, func(_ context.Context, ev broadcast.Event) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	res, err := f.svc.MarkAllRead(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.UpdatedCount)
	assert.Len(t, res.AffectedIDs, 3)
	assert.Equal(t, 0, res.UnreadCount)

	require.Len(t, events, 1)
	assert.Equal(t, broadcast.KindReadStatusAll, events[0].Kind)
	assert.Len(t, events[0].ReadStatus.NotificationIDs, 3)
	assert.Equal(t, int64(1), f.sink.Counter(metrics.NotificationsRead, metrics.Tags{"mode": "all"}))
}

func TestUnreadCount_UsesCache(t *testing.T) {
	t.Parallel()

	f := newFixture(t, notification.DefaultConfig())
	ctx := context.Background()

	n, err := f.svc.UnreadCount(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = f.svc.UnreadCount(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Equal(t, int64(1), f.sink.Counter(metrics.UnreadCacheMiss, nil))
	assert.Equal(t, int64(1), f.sink.Counter(metrics.UnreadCacheHit, nil))

	require.True(t, f.svc.CreateClientAssignment(ctx, "c1", "r1", "sender", "").Success)
	n, err = f.svc.UnreadCount(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "creation invalidates the cached count")

	_, err = f.svc.UnreadCount(ctx, "")
	assert.ErrorIs(t, err, notification.ErrEmptyUserID)
}

// blockingCountStore parks the first unread count for a user after it has
// been read from the store, so a write can land before the count is cached.
type blockingCountStore struct {
	*notification.MemoryStore
	userID  string
	parked  atomic.Bool
	counted chan struct{}
	release chan struct{}
}

func (s *blockingCountStore) CountNotifications(ctx context.Context, f notification.CountFilter) (int, error) {
	n, err := s.MemoryStore.CountNotifications(ctx, f)
	if f.UserID == s.userID && f.SenderUserID == "" && s.parked.CompareAndSwap(false, true) {
		close(s.counted)
		<-s.release
	}
	return n, err
}

func TestUnreadCount_ConcurrentCreateIsNotOverwritten(t *testing.T) {
	t.Parallel()

	f := newFixture(t, notification.DefaultConfig())
	store := &blockingCountStore{
		MemoryStore: f.store,
		userID:      "r1",
		counted:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	svc := notification.NewService(store, f.dir,
		notification.WithLogger(logger.Discard()),
		notification.WithClock(f.clock.Now),
		notification.WithCountCache(notification.NewMemoryCountCache(100, time.Minute)),
	)
	ctx := context.Background()

	type countResult struct {
		n   int
		err error
	}
	done := make(chan countResult, 1)
	go func() {
		n, err := svc.UnreadCount(ctx, "r1")
		done <- countResult{n, err}
	}()

	<-store.counted
	require.True(t, svc.CreateClientAssignment(ctx, "c1", "r1", "sender", "").Success)
	close(store.release)

	late := <-done
	require.NoError(t, late.err)
	assert.Equal(t, 0, late.n, "the in-flight read saw the store before the create")

	n, err := svc.UnreadCount(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the late read must not overwrite the newer count")
}

func TestDeliveryFailureDoesNotChangeResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t, notification.DefaultConfig(), notification.WithDeliverer(
		notification.DelivererFunc(func(context.Context, notification.Delivery) error {
			return errors.New("smtp down")
		}),
	))
	res := f.svc.CreateClientAssignment(context.Background(), "c1", "r1", "sender", "")
	assert.True(t, res.Success)
	assert.Equal(t, 1, f.count(t))
}
