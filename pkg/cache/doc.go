// Package cache provides a generic, thread-safe LRU cache with optional
// per-entry time-to-live.
//
// The notification engine layers it in front of unread-count queries so the
// hot "how many unread" read does not hit the database on every reconnect:
//
//	c := cache.NewLRU[string, int](10_000, cache.WithTTL[string, int](time.Minute))
//	c.Put("user-1", 4)
//	n, ok := c.Get("user-1")
package cache
