package portal

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/auditdesk/portal/pkg/clientip"
	"github.com/auditdesk/portal/pkg/connpool"
	"github.com/auditdesk/portal/pkg/httpserver"
	"github.com/auditdesk/portal/pkg/jwt"
	"github.com/auditdesk/portal/pkg/requestid"
	"github.com/auditdesk/portal/svc/notification"
)

// Notifications is the engine surface the API exposes.
type Notifications interface {
	CreateClientAssignment(ctx context.Context, clientID, recipientUserID, senderUserID string, priority notification.Priority) notification.Result
	CreateAuditAssignment(ctx context.Context, auditID, recipientUserID, senderUserID string, priority notification.Priority) notification.Result
	CreateAuditUpdate(ctx context.Context, u notification.AuditUpdate) []notification.Result
	UnreadCount(ctx context.Context, userID string) (int, error)
	List(ctx context.Context, userID string, opts notification.ListOptions) ([]notification.Notification, error)
	MarkRead(ctx context.Context, userID string, ids []string) (notification.ReadResult, error)
	MarkAllRead(ctx context.Context, userID string) (notification.ReadResult, error)
}

// StatsSource reports connection pool statistics.
type StatsSource interface {
	Stats() connpool.Stats
}

// Deps are the collaborators NewRouter mounts.
type Deps struct {
	Notifications Notifications
	Pool          StatsSource
	Realtime      http.Handler
	Tokens        *jwt.Service
	IPResolver    *clientip.Resolver
	HealthChecks  []httpserver.Check
	Logger        *slog.Logger
}

// NewRouter builds the chi router for the portal.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.IPResolver == nil {
		d.IPResolver = clientip.New(clientip.Config{})
	}
	a := &api{notifications: d.Notifications, pool: d.Pool, logger: d.Logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestid.Middleware)
	r.Use(d.IPResolver.Middleware)

	r.Get("/healthz", httpserver.HealthHandler(d.Logger, 2*time.Second, d.HealthChecks...))
	if d.Realtime != nil {
		r.Handle("/ws", d.Realtime)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(jwt.Middleware(d.Tokens))

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", a.list())
			r.Get("/unread-count", a.unreadCount())
			r.Post("/read", a.markRead())
			r.Post("/read-all", a.markAllRead())
		})
		r.Post("/clients/{clientID}/assignment", a.clientAssignment())
		r.Post("/audits/{auditID}/assignment", a.auditAssignment())
		r.Post("/audits/{auditID}/updates", a.auditUpdate())
		r.Get("/realtime/stats", a.stats())
	})
	return r
}
