package connpool

import (
	"context"
	"time"
)

// State is the lifecycle state of a connection. Connecting is never
// stored: OnAccept decides Active or Rejected under the pool lock.
type State string

const (
	StateActive   State = "active"
	StateClosed   State = "closed"
	StateRejected State = "rejected"
)

// Close codes sent to peers. Values follow RFC 6455.
const (
	CloseGoingAway      = 1001
	CloseInternalError  = 1011
	CloseTryAgainLater  = 1013
	ReasonOverloaded    = "server overloaded"
	ReasonRestarting    = "server restarting"
	ReasonHeartbeatFail = "heartbeat timeout"
)

// Transport is the slice of a socket the pool drives.
type Transport interface {
	// Ping sends a ping and blocks until the matching pong or ctx is done.
	Ping(ctx context.Context) error
	// SendReconnect tells the peer to reconnect, typically to another instance.
	SendReconnect(ctx context.Context) error
	// Close sends a close frame with code and reason and releases the socket.
	Close(code int, reason string) error
}

// Connection is a read-only view of a tracked connection.
type Connection struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId,omitempty"`
	RemoteAddr   string    `json:"remoteAddress"`
	State        State     `json:"state"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	MessageCount int64     `json:"messageCount"`
}

type conn struct {
	Connection
	transport Transport
}

// disconnectCause classifies why a connection left the pool.
type disconnectCause int

const (
	causeClosed disconnectCause = iota
	causeError
	causeUnhealthy
	causeShutdown
)

func (c disconnectCause) String() string {
	switch c {
	case causeError:
		return "error"
	case causeUnhealthy:
		return "unhealthy"
	case causeShutdown:
		return "shutdown"
	default:
		return "closed"
	}
}
