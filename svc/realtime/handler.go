package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/auditdesk/portal/pkg/broadcast"
	"github.com/auditdesk/portal/pkg/clientip"
	"github.com/auditdesk/portal/pkg/connpool"
	"github.com/auditdesk/portal/pkg/logger"
)

// Pool is the part of connpool.Pool the handler drives.
type Pool interface {
	OnAccept(ctx context.Context, remoteAddr string, t connpool.Transport) (connpool.Connection, error)
	BindUser(connID, userID string) error
	OnMessage(connID string)
	OnClose(connID string) (connpool.Connection, bool)
	OnError(connID string, err error) (connpool.Connection, bool)
}

// Subscriber is the part of broadcast.Broadcaster the handler drives.
type Subscriber interface {
	Subscribe(userID string, kind broadcast.Kind, fn broadcast.Handler) (broadcast.Handle, error)
	Unsubscribe(userID string, kind broadcast.Kind, h broadcast.Handle) bool
}

// UnreadCounter reports a user's unread total for the ready frame.
type UnreadCounter interface {
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// Handler upgrades requests to WebSocket sessions.
type Handler struct {
	cfg      Config
	pool     Pool
	subs     Subscriber
	auth     Authenticator
	unread   UnreadCounter
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

func WithConfig(cfg Config) HandlerOption {
	return func(h *Handler) { h.cfg = cfg }
}

func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithUnreadCounter includes the unread total in the ready frame.
func WithUnreadCounter(u UnreadCounter) HandlerOption {
	return func(h *Handler) { h.unread = u }
}

// NewHandler wires a pool, a broadcaster and a token authenticator.
func NewHandler(pool Pool, subs Subscriber, auth Authenticator, opts ...HandlerOption) (*Handler, error) {
	if auth == nil {
		return nil, ErrNilAuthenticator
	}
	h := &Handler{
		cfg:    DefaultConfig(),
		pool:   pool,
		subs:   subs,
		auth:   auth,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.cfg = h.cfg.withDefaults()
	h.logger = h.logger.With(logger.Component("realtime"))
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: h.cfg.HandshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkOrigin,
	}
	return h, nil
}

// checkOrigin accepts same-origin requests, plus any origin listed in
// AllowedOrigins. "*" allows everything.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return origin == "" || sameHost(origin, r.Host)
	}
	return slices.Contains(h.cfg.AllowedOrigins, "*") || slices.Contains(h.cfg.AllowedOrigins, origin)
}

func sameHost(origin, host string) bool {
	for _, scheme := range []string{"http://", "https://"} {
		if origin == scheme+host {
			return true
		}
	}
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		h.logger.LogAttrs(r.Context(), slog.LevelDebug, "websocket upgrade failed", logger.Error(err))
		return
	}
	ws.SetReadLimit(h.cfg.ReadLimit)

	t := newTransport(ws, h.cfg.WriteTimeout, h.cfg.SendBuffer)
	ctx := context.WithoutCancel(r.Context())

	c, err := h.pool.OnAccept(ctx, clientip.FromRequest(r), t)
	if err != nil {
		// The pool has already closed the transport with the right code.
		return
	}
	ctx = logger.WithConnection(ctx, c.ID)
	go t.writePump()

	userID, err := h.handshake(ctx, ws, t, c.ID)
	if err != nil {
		h.release(ctx, c.ID, t, err)
		return
	}

	handles := h.subscribe(ctx, userID, t)
	defer h.unsubscribe(ctx, userID, handles)

	if err := t.enqueue(controlFrame(FrameReady, h.ready(ctx, c.ID, userID))); err != nil {
		h.release(ctx, c.ID, t, err)
		return
	}

	h.release(ctx, c.ID, t, h.readLoop(ctx, ws, t, c.ID))
}

func (h *Handler) handshake(ctx context.Context, ws *websocket.Conn, t *transport, connID string) (string, error) {
	if err := ws.SetReadDeadline(time.Now().Add(h.cfg.HandshakeTimeout)); err != nil {
		return "", err
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		return "", err
	}
	h.pool.OnMessage(connID)

	var f ClientFrame
	if err := json.Unmarshal(data, &f); err != nil || f.Type != FrameAuth {
		h.reject(t, ErrHandshake.Error())
		return "", ErrHandshake
	}
	userID, err := h.auth.Authenticate(ctx, f.Token)
	if err != nil || userID == "" {
		h.logger.LogAttrs(ctx, slog.LevelInfo, "websocket authentication failed", logger.Error(err))
		h.reject(t, ErrUnauthorized.Error())
		return "", errors.Join(ErrUnauthorized, err)
	}
	if err := h.pool.BindUser(connID, userID); err != nil {
		return "", err
	}
	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		return "", err
	}
	return userID, nil
}

// reject tells the client why and closes with 1008.
func (h *Handler) reject(t *transport, msg string) {
	_ = t.write(controlFrame(FrameError, ErrorPayload{Message: msg}))
	_ = t.Close(websocket.ClosePolicyViolation, msg)
}

func (h *Handler) ready(ctx context.Context, connID, userID string) Ready {
	r := Ready{ConnectionID: connID, UserID: userID}
	if h.unread == nil {
		return r
	}
	n, err := h.unread.UnreadCount(ctx, userID)
	if err != nil {
		h.logger.LogAttrs(ctx, slog.LevelWarn, "unread count for ready frame",
			logger.UserID(userID), logger.Error(err))
		return r
	}
	r.UnreadCount = &n
	return r
}

func (h *Handler) subscribe(ctx context.Context, userID string, t *transport) map[broadcast.Kind]broadcast.Handle {
	forward := func(_ context.Context, ev broadcast.Event) error {
		frame, err := eventFrame(ev)
		if err != nil {
			return err
		}
		return t.enqueue(frame)
	}

	handles := make(map[broadcast.Kind]broadcast.Handle, len(broadcast.Kinds))
	for _, kind := range broadcast.Kinds {
		hd, err := h.subs.Subscribe(userID, kind, forward)
		if err != nil {
			h.logger.LogAttrs(ctx, slog.LevelError, "subscribe",
				logger.UserID(userID), logger.EventKind(string(kind)), logger.Error(err))
			continue
		}
		handles[kind] = hd
	}
	return handles
}

func (h *Handler) unsubscribe(ctx context.Context, userID string, handles map[broadcast.Kind]broadcast.Handle) {
	for kind, hd := range handles {
		if !h.subs.Unsubscribe(userID, kind, hd) {
			h.logger.LogAttrs(ctx, slog.LevelWarn, "listener already gone",
				logger.UserID(userID), logger.EventKind(string(kind)))
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, t *transport, connID string) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		h.pool.OnMessage(connID)

		var f ClientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			h.logger.LogAttrs(ctx, slog.LevelDebug, "malformed client frame", logger.Error(err))
			continue
		}
		switch f.Type {
		case FramePing:
			if err := t.enqueue(controlFrame(FramePong, nil)); err != nil {
				return err
			}
		default:
			h.logger.LogAttrs(ctx, slog.LevelDebug, "ignored client frame", slog.String("type", f.Type))
		}
	}
}

// release removes the connection from the pool and frees the socket.
// Sockets the server closed itself, or that the peer closed normally, count
// as closed; anything else counts as an error.
func (h *Handler) release(ctx context.Context, connID string, t *transport, err error) {
	if t.closed() || err == nil || websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		h.pool.OnClose(connID)
	} else {
		h.pool.OnError(connID, err)
	}
	if cerr := t.Close(websocket.CloseNormalClosure, ""); cerr != nil {
		h.logger.LogAttrs(ctx, slog.LevelDebug, "close socket", logger.Error(cerr))
	}
}
