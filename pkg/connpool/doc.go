// Package connpool tracks live realtime connections: admission under a
// capacity ceiling, binding connections to users, heartbeat health checks,
// statistics and graceful shutdown.
//
// The pool is transport-agnostic. A transport adapter (the WebSocket handler
// in svc/realtime) calls OnAccept when a socket opens, BindUser once the peer
// has authenticated, OnMessage for each inbound frame and OnClose or OnError
// when the socket goes away. The pool in turn drives the transport through
// the Transport interface for pings, reconnect notices and closes.
//
// Lifecycle of a connection:
//
//	Connecting -> Active -> Closed
//	Connecting -> Rejected
//
// Connecting only lasts for the duration of OnAccept, which returns the
// connection as StateActive or StateRejected.
//
// All state is owned by the Pool and guarded by its mutex.
package connpool
