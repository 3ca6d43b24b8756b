package connpool_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditdesk/portal/pkg/connpool"
	"github.com/auditdesk/portal/pkg/logger"
	"github.com/auditdesk/portal/pkg/metrics"
)

// callLog records transport calls across several fakes in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

type fakeTransport struct {
	log        *callLog
	mu         sync.Mutex
	pingErr    error
	pingBlock  bool
	pings      int
	reconnects int
	closeCode  int
	closeMsg   string
	closes     int
}

func (f *fakeTransport) Ping(ctx context.Context) error {
	f.mu.Lock()
	f.pings++
	block, err := f.pingBlock, f.pingErr
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeTransport) SendReconnect(context.Context) error {
	f.log.add("reconnect")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.log.add("close")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.closeCode = code
	f.closeMsg = reason
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newPool(cfg connpool.Config, opts ...connpool.Option) *connpool.Pool {
	return connpool.New(cfg, append([]connpool.Option{connpool.WithLogger(logger.Discard())}, opts...)...)
}

func TestOnAccept_Capacity(t *testing.T) {
	t.Parallel()

	const limit = 3
	sink := metrics.NewMemory()
	p := newPool(connpool.Config{MaxConnections: limit}, connpool.WithMetrics(sink))
	ctx := context.Background()

	for i := range limit {
		c, err := p.OnAccept(ctx, "10.0.0.1", &fakeTransport{})
		require.NoError(t, err, "connection %d", i)
		assert.Equal(t, connpool.StateActive, c.State)
		assert.NotEmpty(t, c.ID)
	}

	extra := &fakeTransport{}
	c, err := p.OnAccept(ctx, "10.0.0.2", extra)
	require.ErrorIs(t, err, connpool.ErrCapacity)
	assert.Equal(t, connpool.StateRejected, c.State)
	assert.Equal(t, 1, extra.closes)
	assert.Equal(t, connpool.CloseTryAgainLater, extra.closeCode)
	assert.Equal(t, "server overloaded", extra.closeMsg)

	s := p.Stats()
	assert.Equal(t, limit, s.ActiveCount)
	assert.Equal(t, int64(1), s.RejectedConnections)
	assert.Equal(t, int64(limit), s.TotalConnectionsServed)
	assert.Equal(t, limit, s.PeakConnections)
	assert.InDelta(t, 100.0, s.UtilizationPercentage, 0.001)
	assert.InDelta(t, 75.0, s.ConnectionSuccessRate, 0.001)
	assert.Equal(t, int64(1), sink.Counter(metrics.ConnectionsRejected, metrics.Tags{"reason": connpool.ReasonRejectedCapacity}))
}

func TestOnAccept_NilTransport(t *testing.T) {
	t.Parallel()

	p := newPool(connpool.DefaultConfig())
	_, err := p.OnAccept(context.Background(), "x", nil)
	assert.ErrorIs(t, err, connpool.ErrNilTransport)
}

func TestUserConnections_BindAndClose(t *testing.T) {
	t.Parallel()

	clk := newClock()
	p := newPool(connpool.DefaultConfig(), connpool.WithClock(clk.Now))
	ctx := context.Background()

	a, err := p.OnAccept(ctx, "a", &fakeTransport{})
	require.NoError(t, err)
	clk.Advance(time.Second)
	b, err := p.OnAccept(ctx, "b", &fakeTransport{})
	require.NoError(t, err)

	assert.Empty(t, p.UserConnections("u1"))

	require.NoError(t, p.BindUser(a.ID, "u1"))
	require.NoError(t, p.BindUser(b.ID, "u1"))

	conns := p.UserConnections("u1")
	require.Len(t, conns, 2)
	assert.Equal(t, a.ID, conns[0].ID)
	assert.Equal(t, b.ID, conns[1].ID)
	assert.Equal(t, 2, p.ConnectionCount("u1"))
	assert.Equal(t, 1, p.Stats().UniqueUserCount)

	_, ok := p.OnClose(a.ID)
	require.True(t, ok)

	conns = p.UserConnections("u1")
	require.Len(t, conns, 1)
	assert.Equal(t, b.ID, conns[0].ID)

	_, ok = p.OnError(b.ID, errors.New("reset by peer"))
	require.True(t, ok)
	assert.Empty(t, p.UserConnections("u1"))
	assert.Equal(t, 0, p.Stats().UniqueUserCount)
}

func TestBindUser_Errors(t *testing.T) {
	t.Parallel()

	p := newPool(connpool.DefaultConfig())
	assert.ErrorIs(t, p.BindUser("missing", "u1"), connpool.ErrUnknownConnection)

	c, err := p.OnAccept(context.Background(), "a", &fakeTransport{})
	require.NoError(t, err)
	assert.ErrorIs(t, p.BindUser(c.ID, ""), connpool.ErrEmptyUserID)

	require.NoError(t, p.BindUser(c.ID, "u1"))
	require.NoError(t, p.BindUser(c.ID, "u2"))
	assert.Equal(t, 0, p.ConnectionCount("u1"))
	assert.Equal(t, 1, p.ConnectionCount("u2"))
}

func TestOnCloseAndOnError_NotDoubleCounted(t *testing.T) {
	t.Parallel()

	p := newPool(connpool.DefaultConfig())
	c, err := p.OnAccept(context.Background(), "a", &fakeTransport{})
	require.NoError(t, err)

	_, ok := p.OnError(c.ID, errors.New("broken pipe"))
	assert.True(t, ok)
	_, ok = p.OnClose(c.ID)
	assert.False(t, ok)

	s := p.Stats()
	assert.Equal(t, 0, s.ActiveCount)
	assert.Equal(t, int64(1), s.ErrorDisconnects)
	assert.Equal(t, int64(0), s.ClosedDisconnects)
}

func TestOnMessage(t *testing.T) {
	t.Parallel()

	clk := newClock()
	p := newPool(connpool.DefaultConfig(), connpool.WithClock(clk.Now))
	c, err := p.OnAccept(context.Background(), "a", &fakeTransport{})
	require.NoError(t, err)

	clk.Advance(5 * time.Second)
	p.OnMessage(c.ID)
	p.OnMessage(c.ID)
	p.OnMessage("unknown")

	got, ok := p.Connection(c.ID)
	require.True(t, ok)
	assert.Equal(t, int64(2), got.MessageCount)
	assert.Equal(t, clk.Now(), got.LastActivity)
}

func TestStats(t *testing.T) {
	t.Parallel()

	t.Run("empty pool", func(t *testing.T) {
		t.Parallel()
		s := newPool(connpool.DefaultConfig()).Stats()
		assert.Equal(t, 0, s.ActiveCount)
		assert.Equal(t, 100.0, s.ConnectionSuccessRate)
		assert.Equal(t, 0.0, s.AverageConnectionAgeSeconds)
	})

	t.Run("health and age", func(t *testing.T) {
		t.Parallel()
		clk := newClock()
		p := newPool(connpool.Config{MaxConnections: 10, HeartbeatIntervalMS: 1000}, connpool.WithClock(clk.Now))
		ctx := context.Background()

		stale, err := p.OnAccept(ctx, "a", &fakeTransport{})
		require.NoError(t, err)
		clk.Advance(3 * time.Second)
		_, err = p.OnAccept(ctx, "b", &fakeTransport{})
		require.NoError(t, err)
		clk.Advance(time.Second)

		s := p.Stats()
		assert.Equal(t, 2, s.ActiveCount)
		assert.Equal(t, 1, s.HealthyCount)
		assert.InDelta(t, 2.5, s.AverageConnectionAgeSeconds, 0.001)
		assert.InDelta(t, 20.0, s.UtilizationPercentage, 0.001)

		p.OnMessage(stale.ID)
		assert.Equal(t, 2, p.Stats().HealthyCount)
	})
}

func TestHeartbeat(t *testing.T) {
	t.Parallel()

	clk := newClock()
	sink := metrics.NewMemory()
	p := newPool(connpool.Config{MaxConnections: 10, PongWaitMS: 20},
		connpool.WithClock(clk.Now), connpool.WithMetrics(sink))
	ctx := context.Background()

	healthy := &fakeTransport{}
	silent := &fakeTransport{pingBlock: true}
	broken := &fakeTransport{pingErr: errors.New("write: broken pipe")}

	hc, err := p.OnAccept(ctx, "a", healthy)
	require.NoError(t, err)
	sc, err := p.OnAccept(ctx, "b", silent)
	require.NoError(t, err)
	bc, err := p.OnAccept(ctx, "c", broken)
	require.NoError(t, err)
	require.NoError(t, p.BindUser(sc.ID, "u1"))

	clk.Advance(time.Minute)
	res := p.Heartbeat(ctx)

	assert.Equal(t, 3, res.Pinged)
	assert.ElementsMatch(t, []string{sc.ID, bc.ID}, res.Removed)

	got, ok := p.Connection(hc.ID)
	require.True(t, ok)
	assert.Equal(t, clk.Now(), got.LastActivity)

	assert.Equal(t, connpool.CloseInternalError, silent.closeCode)
	assert.Equal(t, connpool.CloseInternalError, broken.closeCode)
	assert.Equal(t, 0, healthy.closes)
	assert.Empty(t, p.UserConnections("u1"))

	s := p.Stats()
	assert.Equal(t, 1, s.ActiveCount)
	assert.Equal(t, int64(2), s.UnhealthyDisconnects)
	assert.Equal(t, int64(2), sink.Counter(metrics.ConnectionsUnhealthy, nil))
}

func TestShutdown(t *testing.T) {
	t.Parallel()

	p := newPool(connpool.DefaultConfig())
	ctx := context.Background()

	calls := &callLog{}
	transports := []*fakeTransport{{log: calls}, {log: calls}, {log: calls}}
	for _, tr := range transports {
		_, err := p.OnAccept(ctx, "a", tr)
		require.NoError(t, err)
	}

	require.NoError(t, p.Shutdown(ctx))
	assert.Equal(t, []string{"reconnect", "reconnect", "reconnect", "close", "close", "close"}, calls.calls,
		"every peer is told to reconnect before any socket closes")
	for _, tr := range transports {
		assert.Equal(t, 1, tr.reconnects)
		assert.Equal(t, 1, tr.closes)
		assert.Equal(t, connpool.CloseGoingAway, tr.closeCode)
		assert.Equal(t, "server restarting", tr.closeMsg)
	}
	assert.Equal(t, 0, p.ActiveCount())

	late := &fakeTransport{}
	_, err := p.OnAccept(ctx, "late", late)
	assert.ErrorIs(t, err, connpool.ErrShuttingDown)
	assert.Equal(t, 1, late.closes)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	p := newPool(connpool.Config{MaxConnections: 5, HeartbeatIntervalMS: 5, PongWaitMS: 5})
	tr := &fakeTransport{}
	_, err := p.OnAccept(context.Background(), "a", tr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	err = p.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Positive(t, tr.pings)
}

func TestConcurrentAcceptAndClose(t *testing.T) {
	t.Parallel()

	p := newPool(connpool.Config{MaxConnections: 50})
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.OnAccept(context.Background(), "x", &fakeTransport{})
			if err != nil {
				return
			}
			_ = p.BindUser(c.ID, "u1")
			p.OnMessage(c.ID)
			p.OnClose(c.ID)
		}()
	}
	wg.Wait()

	s := p.Stats()
	assert.Equal(t, 0, s.ActiveCount)
	assert.Equal(t, int64(100), s.TotalConnectionsServed+s.RejectedConnections)
	assert.LessOrEqual(t, s.PeakConnections, 50)
}
