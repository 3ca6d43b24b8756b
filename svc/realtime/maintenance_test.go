package realtime_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditdesk/portal/pkg/broadcast"
	"github.com/auditdesk/portal/pkg/logger"
	"github.com/auditdesk/portal/svc/realtime"
)

type heartbeater struct {
	started atomic.Bool
	err     error
}

func (h *heartbeater) Run(ctx context.Context) error {
	h.started.Store(true)
	if h.err != nil {
		return h.err
	}
	<-ctx.Done()
	return ctx.Err()
}

type cleaner struct{ calls atomic.Int32 }

func (c *cleaner) Cleanup(context.Context) []broadcast.Alert {
	c.calls.Add(1)
	return []broadcast.Alert{{Topic: broadcast.Topic{UserID: "u1", Kind: broadcast.KindNewNotification}, Listeners: 12}}
}

func TestMaintenance_RunsUntilCancelled(t *testing.T) {
	t.Parallel()

	hb := &heartbeater{}
	cl := &cleaner{}
	m := realtime.NewMaintenance(hb, cl, 10*time.Millisecond, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	assert.Eventually(t, func() bool { return hb.started.Load() && cl.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		require.Fail(t, "maintenance did not stop")
	}
}

func TestMaintenance_HeartbeatFailureStopsRun(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	m := realtime.NewMaintenance(&heartbeater{err: boom}, &cleaner{}, time.Hour, logger.Discard())

	err := m.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}
