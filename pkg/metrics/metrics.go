// Package metrics defines the observability sink shared by the notification
// engine, the broadcaster and the connection pool.
package metrics

import (
	"sort"
	"strings"
)

// Metric names emitted by the portal core.
const (
	NotificationsCreated  = "notifications.created"
	NotificationsRejected = "notifications.rejected"
	NotificationsRead     = "notifications.read"
	NotificationCreateDur = "notifications.create.duration"
	UnreadCacheHit        = "notifications.unread_cache.hit"
	UnreadCacheMiss       = "notifications.unread_cache.miss"
	ConnectionsActive     = "connections.active"
	ConnectionsRejected   = "connections.rejected"
	ConnectionsUnhealthy  = "connections.unhealthy"
	BroadcastListeners    = "broadcast.listeners"
	BroadcastDelivered    = "broadcast.delivered"
	BroadcastFailed       = "broadcast.failed"
)

// Tags are dimension labels attached to a metric.
type Tags map[string]string

// StopFunc finishes a timer started by Sink.StartTimer.
type StopFunc func()

// Sink receives counters, gauges and timings.
// Implementations must be safe for concurrent use.
type Sink interface {
	Increment(name string, tags Tags)
	SetGauge(name string, value float64, tags Tags)
	StartTimer(name string, tags Tags) StopFunc
}

// Noop discards everything.
type Noop struct{}

func (Noop) Increment(string, Tags)         {}
func (Noop) SetGauge(string, float64, Tags) {}
func (Noop) StartTimer(string, Tags) StopFunc {
	return func() {}
}

// key renders name{k=v,...} with tags sorted so equal tag sets collide.
func key(name string, tags Tags) string {
	if len(tags) == 0 {
		return name
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tags[k])
	}
	b.WriteByte('}')
	return b.String()
}
