package portal

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/auditdesk/portal/binder"
	"github.com/auditdesk/portal/handler"
	"github.com/auditdesk/portal/pkg/jwt"
	"github.com/auditdesk/portal/pkg/logger"
	"github.com/auditdesk/portal/svc/notification"
)

const maxListLimit = 200

type api struct {
	notifications Notifications
	pool          StatsSource
	logger        *slog.Logger
}

type listRequest struct {
	Limit  int  `query:"limit"`
	Offset int  `query:"offset"`
	Unread bool `query:"unread"`
}

type markReadRequest struct {
	IDs []string `json:"ids"`
}

type assignmentRequest struct {
	RecipientUserID string                `json:"recipientUserId"`
	Priority        notification.Priority `json:"priority,omitempty"`
}

type auditUpdateRequest struct {
	ChangeType       notification.ChangeType `json:"changeType"`
	PreviousValue    string                  `json:"previousValue"`
	NewValue         string                  `json:"newValue"`
	RecipientUserIDs []string                `json:"recipientUserIds,omitempty"`
	Priority         notification.Priority   `json:"priority,omitempty"`
}

type unreadCountResponse struct {
	UnreadCount int `json:"unreadCount"`
}

// apiError attaches an HTTP status to engine errors.
func apiError(err error) error {
	switch {
	case errors.Is(err, notification.ErrEmptyUserID):
		return errors.Join(handler.ErrUnauthorized, err)
	case errors.Is(err, notification.ErrNotificationNotFound):
		return errors.Join(handler.ErrNotFound, err)
	}
	return err
}

func (a *api) errorHandler() handler.ErrorHandler {
	def := handler.DefaultErrorHandler(a.logger)
	return func(ctx handler.Context, err error) { def(ctx, apiError(err)) }
}

func (a *api) fail(ctx context.Context, err error) handler.Response {
	err = apiError(err)
	var he handler.HTTPError
	if !errors.As(err, &he) {
		a.logger.LogAttrs(ctx, slog.LevelError, "request failed", logger.Error(err))
	}
	return handler.JSONError(err)
}

func (a *api) list() http.HandlerFunc {
	return handler.Wrap(func(ctx handler.Context, req listRequest) handler.Response {
		if req.Limit <= 0 || req.Limit > maxListLimit {
			req.Limit = maxListLimit
		}
		if req.Offset < 0 {
			req.Offset = 0
		}
		items, err := a.notifications.List(ctx, jwt.UserIDFromContext(ctx), notification.ListOptions{
			Limit:      req.Limit,
			Offset:     req.Offset,
			OnlyUnread: req.Unread,
		})
		if err != nil {
			return a.fail(ctx, err)
		}
		if items == nil {
			items = []notification.Notification{}
		}
		return handler.JSON(items, handler.WithMeta(map[string]int{"limit": req.Limit, "offset": req.Offset}))
	},
		handler.WithBinders[listRequest](binder.Query()),
		handler.WithErrorHandler[listRequest](a.errorHandler()),
	)
}

func (a *api) unreadCount() http.HandlerFunc {
	return handler.Wrap(func(ctx handler.Context, _ struct{}) handler.Response {
		n, err := a.notifications.UnreadCount(ctx, jwt.UserIDFromContext(ctx))
		if err != nil {
			return a.fail(ctx, err)
		}
		return handler.JSON(unreadCountResponse{UnreadCount: n})
	})
}

func (a *api) markRead() http.HandlerFunc {
	return handler.Wrap(func(ctx handler.Context, req markReadRequest) handler.Response {
		if len(req.IDs) == 0 {
			return handler.JSONError(errors.Join(handler.ErrBadRequest, errors.New("ids are required")))
		}
		res, err := a.notifications.MarkRead(ctx, jwt.UserIDFromContext(ctx), req.IDs)
		if err != nil {
			return a.fail(ctx, err)
		}
		return handler.JSON(res)
	},
		handler.WithBinders[markReadRequest](binder.JSON()),
		handler.WithErrorHandler[markReadRequest](a.errorHandler()),
	)
}

func (a *api) markAllRead() http.HandlerFunc {
	return handler.Wrap(func(ctx handler.Context, _ struct{}) handler.Response {
		res, err := a.notifications.MarkAllRead(ctx, jwt.UserIDFromContext(ctx))
		if err != nil {
			return a.fail(ctx, err)
		}
		return handler.JSON(res)
	})
}

func (a *api) clientAssignment() http.HandlerFunc {
	return handler.Wrap(func(ctx handler.Context, req assignmentRequest) handler.Response {
		res := a.notifications.CreateClientAssignment(ctx,
			chi.URLParam(ctx.Request(), "clientID"), req.RecipientUserID, jwt.UserIDFromContext(ctx), req.Priority)
		return resultResponse(res)
	},
		handler.WithBinders[assignmentRequest](binder.JSON()),
		handler.WithErrorHandler[assignmentRequest](a.errorHandler()),
	)
}

func (a *api) auditAssignment() http.HandlerFunc {
	return handler.Wrap(func(ctx handler.Context, req assignmentRequest) handler.Response {
		res := a.notifications.CreateAuditAssignment(ctx,
			chi.URLParam(ctx.Request(), "auditID"), req.RecipientUserID, jwt.UserIDFromContext(ctx), req.Priority)
		return resultResponse(res)
	},
		handler.WithBinders[assignmentRequest](binder.JSON()),
		handler.WithErrorHandler[assignmentRequest](a.errorHandler()),
	)
}

func (a *api) auditUpdate() http.HandlerFunc {
	return handler.Wrap(func(ctx handler.Context, req auditUpdateRequest) handler.Response {
		results := a.notifications.CreateAuditUpdate(ctx, notification.AuditUpdate{
			AuditID:          chi.URLParam(ctx.Request(), "auditID"),
			ChangeType:       req.ChangeType,
			PreviousValue:    req.PreviousValue,
			NewValue:         req.NewValue,
			SenderUserID:     jwt.UserIDFromContext(ctx),
			RecipientUserIDs: req.RecipientUserIDs,
			Priority:         req.Priority,
		})
		created := 0
		for _, r := range results {
			if r.Success {
				created++
			}
		}
		return handler.JSON(results, handler.WithMeta(map[string]int{"created": created, "total": len(results)}))
	},
		handler.WithBinders[auditUpdateRequest](binder.JSON()),
		handler.WithErrorHandler[auditUpdateRequest](a.errorHandler()),
	)
}

func (a *api) stats() http.HandlerFunc {
	return handler.Wrap(func(handler.Context, struct{}) handler.Response {
		return handler.JSON(a.pool.Stats())
	})
}

// resultResponse maps an engine result to a status code. The body is the
// result either way.
func resultResponse(res notification.Result) handler.Response {
	var status int
	switch {
	case res.Success:
		status = http.StatusCreated
	case res.Reason == notification.ReasonSelfNotification, res.Reason == notification.ReasonInvalidEntity:
		status = http.StatusUnprocessableEntity
	case res.Reason == notification.ReasonDuplicate:
		status = http.StatusConflict
	case res.Reason == notification.ReasonRateLimited:
		status = http.StatusTooManyRequests
	default:
		status = http.StatusInternalServerError
	}
	return retryAfter{Response: handler.JSON(res, handler.WithStatus(status)), res: res}
}

// retryAfter sets Retry-After for rate-limited results.
type retryAfter struct {
	handler.Response
	res notification.Result
}

func (r retryAfter) Render(w http.ResponseWriter, req *http.Request) error {
	if r.res.RetryAfter != nil {
		secs := int(time.Until(*r.res.RetryAfter).Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	return r.Response.Render(w, req)
}
