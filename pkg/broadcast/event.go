package broadcast

import "time"

// Kind identifies the event stream a listener subscribes to.
type Kind string

const (
	KindReadStatusSingle Kind = "read-status-single"
	KindReadStatusAll    Kind = "read-status-all"
	KindNewNotification  Kind = "new-notification"
)

// Kinds lists every supported kind in a stable order.
var Kinds = [...]Kind{KindReadStatusSingle, KindReadStatusAll, KindNewNotification}

func (k Kind) index() (int, bool) {
	for i, known := range Kinds {
		if k == known {
			return i, true
		}
	}
	return 0, false
}

// ReadStatusEvent reports a read-state change for one or more notifications.
type ReadStatusEvent struct {
	UserID          string    `json:"userId"`
	NotificationIDs []string  `json:"notificationIds"`
	IsRead          bool      `json:"isRead"`
	UnreadCount     int       `json:"unreadCount"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewNotificationEvent announces a freshly persisted notification.
type NewNotificationEvent struct {
	UserID         string    `json:"userId"`
	NotificationID string    `json:"notificationId"`
	Type           string    `json:"type"`
	SenderUserID   string    `json:"senderUserId"`
	EntityID       string    `json:"entityId,omitempty"`
	Message        string    `json:"message"`
	LinkURL        string    `json:"linkUrl,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UnreadCount    int       `json:"unreadCount"`
	Timestamp      time.Time `json:"timestamp"`
}

// Event is what listeners receive. Exactly one payload field is set, matching Kind.
type Event struct {
	Kind         Kind                  `json:"kind"`
	ReadStatus   *ReadStatusEvent      `json:"readStatus,omitempty"`
	Notification *NewNotificationEvent `json:"notification,omitempty"`
}

// UserID returns the user the event targets.
func (e Event) UserID() string {
	switch {
	case e.ReadStatus != nil:
		return e.ReadStatus.UserID
	case e.Notification != nil:
		return e.Notification.UserID
	}
	return ""
}
