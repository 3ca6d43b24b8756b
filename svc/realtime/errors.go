package realtime

import "errors"

var (
	ErrTransportClosed  = errors.New("realtime: transport closed")
	ErrSendBufferFull   = errors.New("realtime: send buffer full")
	ErrHandshake        = errors.New("realtime: first frame must be an auth frame")
	ErrUnauthorized     = errors.New("realtime: unauthorized")
	ErrNilAuthenticator = errors.New("realtime: authenticator is nil")
)
