package connpool

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/auditdesk/portal/pkg/logger"
	"github.com/auditdesk/portal/pkg/metrics"
)

// Pool is the connection registry and admission controller.
type Pool struct {
	cfg     Config
	logger  *slog.Logger
	metrics metrics.Sink
	now     func() time.Time

	mu       sync.RWMutex
	conns    map[string]*conn
	byUser   map[string]map[string]struct{}
	draining bool

	served    int64
	rejected  int64
	peak      int
	closedN   int64
	erroredN  int64
	unhealthy int64
}

// Option configures a Pool.
type Option func(*Pool)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithMetrics(s metrics.Sink) Option {
	return func(p *Pool) {
		if s != nil {
			p.metrics = s
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a pool. Zero config fields fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Pool {
	def := DefaultConfig()
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.HeartbeatIntervalMS <= 0 {
		cfg.HeartbeatIntervalMS = def.HeartbeatIntervalMS
	}
	if cfg.PongWaitMS <= 0 {
		cfg.PongWaitMS = def.PongWaitMS
	}
	if cfg.HeartbeatConcurrency <= 0 {
		cfg.HeartbeatConcurrency = def.HeartbeatConcurrency
	}

	p := &Pool{
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: metrics.Noop{},
		now:     time.Now,
		conns:   make(map[string]*conn),
		byUser:  make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logger.Component("connpool"))
	return p
}

// Config returns the effective configuration.
func (p *Pool) Config() Config { return p.cfg }

// OnAccept admits a new transport. At capacity, or while draining, the
// transport is closed and an error is returned.
func (p *Pool) OnAccept(ctx context.Context, remoteAddr string, t Transport) (Connection, error) {
	if t == nil {
		return Connection{}, ErrNilTransport
	}

	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		_ = t.Close(CloseGoingAway, ReasonRestarting)
		return Connection{State: StateRejected, RemoteAddr: remoteAddr}, ErrShuttingDown
	}
	if len(p.conns) >= p.cfg.MaxConnections {
		p.rejected++
		active := len(p.conns)
		p.mu.Unlock()

		p.metrics.Increment(metrics.ConnectionsRejected, metrics.Tags{"reason": ReasonRejectedCapacity})
		p.logger.LogAttrs(ctx, slog.LevelWarn, "connection rejected",
			logger.RemoteAddr(remoteAddr),
			logger.Reason(ReasonRejectedCapacity),
			slog.Int("active", active),
			slog.Int("max", p.cfg.MaxConnections),
		)
		if err := t.Close(CloseTryAgainLater, ReasonOverloaded); err != nil {
			p.logger.LogAttrs(ctx, slog.LevelDebug, "close rejected transport", logger.Error(err))
		}
		return Connection{State: StateRejected, RemoteAddr: remoteAddr}, ErrCapacity
	}

	now := p.now()
	c := &conn{
		Connection: Connection{
			ID:           uuid.NewString(),
			RemoteAddr:   remoteAddr,
			State:        StateActive,
			ConnectedAt:  now,
			LastActivity: now,
		},
		transport: t,
	}
	p.conns[c.ID] = c
	p.served++
	if len(p.conns) > p.peak {
		p.peak = len(p.conns)
	}
	active := len(p.conns)
	view := c.Connection
	p.mu.Unlock()

	p.metrics.SetGauge(metrics.ConnectionsActive, float64(active), nil)
	p.logger.LogAttrs(ctx, slog.LevelDebug, "connection accepted",
		logger.ConnectionID(view.ID),
		logger.RemoteAddr(remoteAddr),
		slog.Int("active", active),
	)
	return view, nil
}

// BindUser associates an authenticated user with a connection.
// Binding again to another user moves the connection.
func (p *Pool) BindUser(connID, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if c.UserID == userID {
		return nil
	}
	if c.UserID != "" {
		p.unindexLocked(c.UserID, connID)
	}
	c.UserID = userID
	set := p.byUser[userID]
	if set == nil {
		set = make(map[string]struct{})
		p.byUser[userID] = set
	}
	set[connID] = struct{}{}
	return nil
}

// OnMessage records inbound activity.
func (p *Pool) OnMessage(connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[connID]; ok {
		c.MessageCount++
		c.LastActivity = p.now()
	}
}

// OnClose removes a cleanly closed connection. Repeated calls are no-ops.
func (p *Pool) OnClose(connID string) (Connection, bool) {
	return p.remove(context.Background(), connID, causeClosed, nil)
}

// OnError removes a connection whose transport failed. It shares the
// cleanup path with OnClose, so whichever fires first wins.
func (p *Pool) OnError(connID string, err error) (Connection, bool) {
	return p.remove(context.Background(), connID, causeError, err)
}

func (p *Pool) remove(ctx context.Context, connID string, cause disconnectCause, cerr error) (Connection, bool) {
	p.mu.Lock()
	c, ok := p.conns[connID]
	if !ok {
		p.mu.Unlock()
		return Connection{}, false
	}
	delete(p.conns, connID)
	if c.UserID != "" {
		p.unindexLocked(c.UserID, connID)
	}
	switch cause {
	case causeError:
		p.erroredN++
	case causeUnhealthy:
		p.unhealthy++
	default:
		p.closedN++
	}
	c.State = StateClosed
	view := c.Connection
	active := len(p.conns)
	p.mu.Unlock()

	p.metrics.SetGauge(metrics.ConnectionsActive, float64(active), nil)
	level := slog.LevelDebug
	if cause == causeError || cause == causeUnhealthy {
		level = slog.LevelWarn
	}
	p.logger.LogAttrs(ctx, level, "connection removed",
		logger.ConnectionID(view.ID),
		logger.UserID(view.UserID),
		logger.Reason(cause.String()),
		logger.Duration(p.now().Sub(view.ConnectedAt)),
		slog.Int64("messages", view.MessageCount),
		logger.Error(cerr),
	)
	return view, true
}

func (p *Pool) unindexLocked(userID, connID string) {
	set := p.byUser[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(p.byUser, userID)
	}
}

// Connection returns the view of one connection.
func (p *Pool) Connection(connID string) (Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.conns[connID]
	if !ok {
		return Connection{}, false
	}
	return c.Connection, true
}

// UserConnections lists a user's live connections, oldest first.
func (p *Pool) UserConnections(userID string) []Connection {
	p.mu.RLock()
	out := make([]Connection, 0, len(p.byUser[userID]))
	for id := range p.byUser[userID] {
		out = append(out, p.conns[id].Connection)
	}
	p.mu.RUnlock()

	slices.SortFunc(out, func(a, b Connection) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// ConnectionCount returns how many live connections userID holds.
func (p *Pool) ConnectionCount(userID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byUser[userID])
}

// ActiveCount returns the number of live connections.
func (p *Pool) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// Stats summarizes the pool. A connection is healthy when it showed
// activity within two heartbeat intervals.
func (p *Pool) Stats() Stats {
	now := p.now()
	healthyAfter := now.Add(-2 * p.cfg.HeartbeatInterval())

	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Stats{
		ActiveCount:            len(p.conns),
		UniqueUserCount:        len(p.byUser),
		TotalConnectionsServed: p.served,
		PeakConnections:        p.peak,
		RejectedConnections:    p.rejected,
		UtilizationPercentage:  float64(len(p.conns)) / float64(p.cfg.MaxConnections) * 100,
		ConnectionSuccessRate:  successRate(p.served, p.rejected),
		ClosedDisconnects:      p.closedN,
		ErrorDisconnects:       p.erroredN,
		UnhealthyDisconnects:   p.unhealthy,
	}

	var ageSum time.Duration
	for _, c := range p.conns {
		if !c.LastActivity.Before(healthyAfter) {
			s.HealthyCount++
		}
		ageSum += now.Sub(c.ConnectedAt)
	}
	if len(p.conns) > 0 {
		s.AverageConnectionAgeSeconds = ageSum.Seconds() / float64(len(p.conns))
	}
	return s
}

// HeartbeatResult summarizes one heartbeat round.
type HeartbeatResult struct {
	Pinged  int
	Removed []string
}

// Heartbeat pings every active connection in parallel. Connections that do
// not answer within the pong wait are closed and counted as unhealthy.
func (p *Pool) Heartbeat(ctx context.Context) HeartbeatResult {
	p.mu.RLock()
	targets := make([]*conn, 0, len(p.conns))
	for _, c := range p.conns {
		if c.State == StateActive {
			targets = append(targets, c)
		}
	}
	p.mu.RUnlock()

	var (
		fmu    sync.Mutex
		failed []*conn
	)
	g := new(errgroup.Group)
	g.SetLimit(p.cfg.HeartbeatConcurrency)
	for _, c := range targets {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, p.cfg.PongWait())
			defer cancel()
			if err := c.transport.Ping(pctx); err != nil {
				fmu.Lock()
				failed = append(failed, c)
				fmu.Unlock()
				p.logger.LogAttrs(ctx, slog.LevelDebug, "ping failed",
					logger.ConnectionID(c.ID),
					logger.Error(err),
				)
				return nil
			}
			p.touch(c.ID)
			return nil
		})
	}
	_ = g.Wait()

	res := HeartbeatResult{Pinged: len(targets)}
	for _, c := range failed {
		if err := c.transport.Close(CloseInternalError, ReasonHeartbeatFail); err != nil {
			p.logger.LogAttrs(ctx, slog.LevelDebug, "close unhealthy transport",
				logger.ConnectionID(c.ID), logger.Error(err))
		}
		if _, ok := p.remove(ctx, c.ID, causeUnhealthy, nil); ok {
			p.metrics.Increment(metrics.ConnectionsUnhealthy, nil)
			res.Removed = append(res.Removed, c.ID)
		}
	}
	return res
}

func (p *Pool) touch(connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[connID]; ok {
		c.LastActivity = p.now()
	}
}

// Run drives Heartbeat every heartbeat interval until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res := p.Heartbeat(ctx)
			p.metrics.SetGauge(metrics.ConnectionsActive, float64(p.ActiveCount()), nil)
			if len(res.Removed) > 0 {
				p.logger.LogAttrs(ctx, slog.LevelInfo, "heartbeat removed unhealthy connections",
					slog.Int("pinged", res.Pinged),
					logger.Count(len(res.Removed)),
				)
			}
		}
	}
}

// Shutdown stops admitting connections, sends a reconnect notice to every
// active connection and only then closes them. The caller closes the
// listener afterwards.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.draining = true
	targets := make([]*conn, 0, len(p.conns))
	for _, c := range p.conns {
		targets = append(targets, c)
	}
	p.mu.Unlock()

	p.logger.LogAttrs(ctx, slog.LevelInfo, "draining connections", logger.Count(len(targets)))

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(p.cfg.HeartbeatConcurrency)
	for _, c := range targets {
		g.Go(func() error {
			if err := c.transport.SendReconnect(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("reconnect %s: %w", c.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, c := range targets {
		if err := c.transport.Close(CloseGoingAway, ReasonRestarting); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.ID, err))
		}
		p.remove(ctx, c.ID, causeShutdown, nil)
	}
	return errors.Join(errs...)
}
