// Package realtime serves the WebSocket endpoint that carries notification
// events to browser sessions.
//
// Each socket is admitted through the connection pool, which may refuse it
// with close code 1013 when the instance is full. The first frame a client
// sends must be an auth frame carrying an access token:
//
//	{"type":"auth","token":"<jwt>"}
//
// On success the connection is bound to the token's user, subscribed to the
// user's read-status and new-notification streams, and answered with a
// ready frame holding the connection id and current unread count. Events
// are pushed as {"type":"<event kind>","data":{...}}. Clients may send
// {"type":"ping"} at any time and receive {"type":"pong"}.
//
// On shutdown every session receives {"type":"reconnect"} followed by close
// code 1001. Subscriptions are removed when the socket goes away, whichever
// side closes it.
//
// Maintenance drives the pool heartbeat and the broadcaster leak check.
package realtime
