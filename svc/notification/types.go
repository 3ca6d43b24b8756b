package notification

import (
	"slices"
	"time"
)

// Type is the kind of business event a notification reports.
type Type string

const (
	TypeClientAssignment  Type = "client_assignment"
	TypeAuditAssignment   Type = "audit_assignment"
	TypeAuditStageUpdate  Type = "audit_stage_update"
	TypeAuditStatusUpdate Type = "audit_status_update"
)

// Types lists every notification type.
var Types = []Type{TypeClientAssignment, TypeAuditAssignment, TypeAuditStageUpdate, TypeAuditStatusUpdate}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	return slices.Contains(Types, t)
}

// Priority is an optional caller hint. Priorities listed in a type's
// exceptions skip rate limiting.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ChangeType selects which audit field changed in CreateAuditUpdate.
type ChangeType string

const (
	ChangeStage  ChangeType = "stage"
	ChangeStatus ChangeType = "status"
)

// notificationType maps a change to the notification type it produces.
func (c ChangeType) notificationType() (Type, bool) {
	switch c {
	case ChangeStage:
		return TypeAuditStageUpdate, true
	case ChangeStatus:
		return TypeAuditStatusUpdate, true
	}
	return "", false
}

// Reason explains why a request did not produce a notification.
type Reason string

const (
	ReasonSelfNotification Reason = "self_notification"
	ReasonInvalidEntity    Reason = "invalid_entity"
	ReasonDuplicate        Reason = "duplicate"
	ReasonRateLimited      Reason = "rate_limited"
	ReasonSystemError      Reason = "system_error"
)

// Result is the outcome of one notification request.
type Result struct {
	Success         bool       `json:"success"`
	NotificationID  string     `json:"notificationId,omitempty"`
	RecipientUserID string     `json:"recipientUserId,omitempty"`
	Reason          Reason     `json:"reason,omitempty"`
	Message         string     `json:"message,omitempty"`
	RetryAfter      *time.Time `json:"retryAfter,omitempty"`
}

func success(recipientID, notificationID string) Result {
	return Result{Success: true, RecipientUserID: recipientID, NotificationID: notificationID}
}

func reject(reason Reason, msg string) *Result {
	return &Result{Reason: reason, Message: msg}
}

// Notification is one persisted fact delivered to one recipient.
type Notification struct {
	ID              string    `json:"id"`
	Type            Type      `json:"type"`
	RecipientUserID string    `json:"recipientUserId"`
	SenderUserID    string    `json:"senderUserId"`
	EntityID        string    `json:"entityId,omitempty"`
	Message         string    `json:"message"`
	LinkURL         string    `json:"linkUrl,omitempty"`
	IsRead          bool      `json:"isRead"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ReadResult reports the effect of a mark-read operation.
type ReadResult struct {
	UpdatedCount int      `json:"updatedCount"`
	AffectedIDs  []string `json:"affectedIds"`
	UnreadCount  int      `json:"unreadCount"`
}
