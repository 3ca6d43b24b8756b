package notification

import (
	"context"
	"time"
)

// Store is the persistence contract of the engine.
type Store interface {
	// CountNotifications counts rows matching every non-zero filter field.
	CountNotifications(ctx context.Context, f CountFilter) (int, error)

	// FindDuplicate returns the newest notification for (recipient, type, entity)
	// created at or after since, or nil when there is none.
	FindDuplicate(ctx context.Context, recipientUserID string, t Type, entityID string, since time.Time) (*Notification, error)

	// CreateNotification stores n as given. The caller assigns ID and CreatedAt.
	CreateNotification(ctx context.Context, n Notification) (Notification, error)

	// MarkRead flips the given unread notifications of userID to read.
	// Ids that belong to other users or are already read are ignored.
	MarkRead(ctx context.Context, userID string, ids []string) (ReadResult, error)

	// MarkAllRead flips every unread notification of userID to read.
	MarkAllRead(ctx context.Context, userID string) (ReadResult, error)

	// List returns a user's notifications, newest first.
	List(ctx context.Context, userID string, opts ListOptions) ([]Notification, error)
}

// CountFilter narrows CountNotifications. Zero values match everything.
type CountFilter struct {
	UserID       string
	SenderUserID string
	Type         Type
	IsRead       *bool
	CreatedAfter time.Time
}

// ListOptions pages through a user's notifications.
type ListOptions struct {
	Limit      int
	Offset     int
	OnlyUnread bool
}

// Unread is a convenience for CountFilter.IsRead.
func Unread() *bool {
	f := false
	return &f
}
