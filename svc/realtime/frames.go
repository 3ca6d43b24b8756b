package realtime

import (
	"encoding/json"

	"github.com/auditdesk/portal/pkg/broadcast"
)

// Frame types exchanged over the socket. Event frames use the broadcast
// kind as their type.
const (
	FrameAuth      = "auth"
	FramePing      = "ping"
	FramePong      = "pong"
	FrameReady     = "ready"
	FrameReconnect = "reconnect"
	FrameError     = "error"
)

// ClientFrame is what a browser sends.
type ClientFrame struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// ServerFrame is what the server sends.
type ServerFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Ready acknowledges a successful handshake.
type Ready struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	UnreadCount  *int   `json:"unreadCount,omitempty"`
}

// ErrorPayload explains why the server is about to close the socket.
type ErrorPayload struct {
	Message string `json:"message"`
}

func eventFrame(ev broadcast.Event) ([]byte, error) {
	f := ServerFrame{Type: string(ev.Kind)}
	switch {
	case ev.ReadStatus != nil:
		f.Data = ev.ReadStatus
	case ev.Notification != nil:
		f.Data = ev.Notification
	}
	return json.Marshal(f)
}

func controlFrame(typ string, data any) []byte {
	// Only static payload types reach here, so marshalling cannot fail.
	b, _ := json.Marshal(ServerFrame{Type: typ, Data: data})
	return b
}
