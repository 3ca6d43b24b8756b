package realtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/auditdesk/portal/pkg/broadcast"
	"github.com/auditdesk/portal/pkg/logger"
)

// Heartbeater runs the pool's heartbeat loop until ctx is done.
type Heartbeater interface {
	Run(ctx context.Context) error
}

// Cleaner checks the broadcaster for leaked listeners.
type Cleaner interface {
	Cleanup(ctx context.Context) []broadcast.Alert
}

// Maintenance runs periodic housekeeping for the realtime layer.
type Maintenance struct {
	pool     Heartbeater
	cleaner  Cleaner
	interval time.Duration
	logger   *slog.Logger
}

func NewMaintenance(pool Heartbeater, cleaner Cleaner, interval time.Duration, log *slog.Logger) *Maintenance {
	if interval <= 0 {
		interval = DefaultConfig().CleanupInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Maintenance{
		pool:     pool,
		cleaner:  cleaner,
		interval: interval,
		logger:   log.With(logger.Component("realtime.maintenance")),
	}
}

// Run blocks until ctx is cancelled. Cancellation is not an error.
func (m *Maintenance) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.pool.Run(ctx) })
	g.Go(func() error { return m.cleanupLoop(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (m *Maintenance) cleanupLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if alerts := m.cleaner.Cleanup(ctx); len(alerts) > 0 {
				m.logger.LogAttrs(ctx, slog.LevelWarn, "listener leak suspected", logger.Count(len(alerts)))
			}
		}
	}
}
