package notification

import (
	"context"
	"errors"
	"log/slog"

	"github.com/auditdesk/portal/pkg/broadcast"
	"github.com/auditdesk/portal/pkg/email"
	"github.com/auditdesk/portal/pkg/logger"
	"github.com/auditdesk/portal/svc/directory"
)

// Delivery is everything a channel needs to announce a stored notification.
type Delivery struct {
	Notification Notification
	Content      Content
	Recipient    *directory.User
	UnreadCount  int
}

// Deliverer pushes a stored notification through one channel.
// Delivery is best effort: errors are logged by the caller, never surfaced
// to the requester.
type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, d Delivery) error

func (f DelivererFunc) Deliver(ctx context.Context, d Delivery) error { return f(ctx, d) }

// MultiDeliverer fans a delivery out to several channels. A failing channel
// does not stop the others.
type MultiDeliverer struct {
	deliverers []Deliverer
	logger     *slog.Logger
}

// NewMultiDeliverer combines channels in order. Nil entries are skipped.
func NewMultiDeliverer(log *slog.Logger, deliverers ...Deliverer) *MultiDeliverer {
	if log == nil {
		log = slog.Default()
	}
	m := &MultiDeliverer{logger: log}
	for _, d := range deliverers {
		if d != nil {
			m.deliverers = append(m.deliverers, d)
		}
	}
	return m
}

func (m *MultiDeliverer) Deliver(ctx context.Context, d Delivery) error {
	var errs []error
	for i, dl := range m.deliverers {
		if err := dl.Deliver(ctx, d); err != nil {
			m.logger.LogAttrs(ctx, slog.LevelError, "notification channel failed",
				logger.NotificationID(d.Notification.ID),
				logger.UserID(d.Notification.RecipientUserID),
				slog.Int("deliverer_index", i),
				logger.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Publisher is the broadcaster surface the engine talks to.
type Publisher interface {
	BroadcastReadStatusChange(ctx context.Context, ev broadcast.ReadStatusEvent) error
	BroadcastBulkReadStatusChange(ctx context.Context, ev broadcast.ReadStatusEvent) error
	BroadcastNewNotification(ctx context.Context, ev broadcast.NewNotificationEvent) error
}

// BroadcastDeliverer announces new notifications to the recipient's live sessions.
type BroadcastDeliverer struct {
	pub Publisher
}

func NewBroadcastDeliverer(pub Publisher) *BroadcastDeliverer {
	return &BroadcastDeliverer{pub: pub}
}

func (b *BroadcastDeliverer) Deliver(ctx context.Context, d Delivery) error {
	n := d.Notification
	return b.pub.BroadcastNewNotification(ctx, broadcast.NewNotificationEvent{
		UserID:         n.RecipientUserID,
		NotificationID: n.ID,
		Type:           string(n.Type),
		SenderUserID:   n.SenderUserID,
		EntityID:       n.EntityID,
		Message:        n.Message,
		LinkURL:        n.LinkURL,
		CreatedAt:      n.CreatedAt,
		UnreadCount:    d.UnreadCount,
	})
}

// EmailDeliverer mirrors notifications to the recipient's mailbox.
type EmailDeliverer struct {
	sender email.Sender
}

func NewEmailDeliverer(sender email.Sender) *EmailDeliverer {
	return &EmailDeliverer{sender: sender}
}

func (e *EmailDeliverer) Deliver(ctx context.Context, d Delivery) error {
	if d.Recipient == nil || d.Recipient.Email == "" {
		return nil
	}
	body := d.Content.Text
	if d.Content.ActionURL != "" {
		body += "\n\nOpen: " + d.Content.ActionURL
	}
	return e.sender.Send(ctx, email.Message{
		To:       d.Recipient.Email,
		Subject:  d.Content.Subject,
		TextBody: body,
		Tag:      string(d.Notification.Type),
	})
}
