// Package broadcast is the in-process, per-user event registry that fans
// notification read-state changes and new notifications out to every live
// session of a user.
//
// Each user owns a fixed-shape set of listener lists, one per Kind.
// Subscribe returns a Handle; Unsubscribe removes exactly that registration.
// Broadcasts are synchronous and reach listeners in registration order:
//
//	b := broadcast.New(broadcast.WithLogger(log))
//	h, _ := b.Subscribe("user-1", broadcast.KindReadStatusSingle, func(ctx context.Context, ev broadcast.Event) error {
//		return conn.WriteJSON(ev)
//	})
//	defer b.Unsubscribe("user-1", broadcast.KindReadStatusSingle, h)
//
// Delivery is at-most-once with no replay: a session that was not subscribed
// when an event fired never sees it and must re-read the unread count.
//
// A failing listener never prevents delivery to the listeners after it.
// Errors and recovered panics are collected and returned, joined, from the
// Broadcast call.
//
// The registry is process-local. Running several instances needs an
// external broker feeding each instance's Broadcaster.
package broadcast
