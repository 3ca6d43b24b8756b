package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// transport adapts a gorilla connection to connpool.Transport.
//
// Data frames go through a buffered queue drained by writePump so a slow
// browser never blocks the broadcaster. Control frames use WriteControl,
// which gorilla allows concurrently with the pump.
type transport struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	send  chan []byte
	pongs chan struct{}
	done  chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newTransport(ws *websocket.Conn, writeTimeout time.Duration, buffer int) *transport {
	t := &transport{
		ws:           ws,
		writeTimeout: writeTimeout,
		send:         make(chan []byte, buffer),
		pongs:        make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	ws.SetPongHandler(func(string) error {
		t.pong()
		return nil
	})
	return t
}

func (t *transport) pong() {
	select {
	case t.pongs <- struct{}{}:
	default:
	}
}

// enqueue schedules a data frame without blocking.
func (t *transport) enqueue(frame []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	select {
	case t.send <- frame:
		return nil
	case <-t.done:
		return ErrTransportClosed
	default:
		return ErrSendBufferFull
	}
}

func (t *transport) writePump() {
	for {
		select {
		case <-t.done:
			return
		case frame := <-t.send:
			if err := t.write(frame); err != nil {
				// Unblock the reader; the handler reports the error.
				_ = t.ws.Close()
				return
			}
		}
	}
}

func (t *transport) write(frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.ws.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.ws.WriteMessage(websocket.TextMessage, frame)
}

func (t *transport) deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(t.writeTimeout)
}

func (t *transport) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Ping sends a ping control frame and waits for the pong.
func (t *transport) Ping(ctx context.Context) error {
	if t.closed() {
		return ErrTransportClosed
	}
	select {
	case <-t.pongs:
	default:
	}
	if err := t.ws.WriteControl(websocket.PingMessage, nil, t.deadline(ctx)); err != nil {
		return err
	}
	select {
	case <-t.pongs:
		return nil
	case <-t.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendReconnect writes the reconnect frame synchronously so it precedes the
// close frame on the wire.
func (t *transport) SendReconnect(ctx context.Context) error {
	if t.closed() {
		return ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.write(controlFrame(FrameReconnect, nil))
}

// Close sends a close frame and releases the socket. Only the first call
// has any effect.
func (t *transport) Close(code int, reason string) error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		msg := websocket.FormatCloseMessage(code, reason)
		werr := t.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.writeTimeout))
		if errors.Is(werr, websocket.ErrCloseSent) {
			werr = nil
		}
		err = errors.Join(werr, t.ws.Close())
	})
	return err
}
