package notification

import (
	"fmt"
	"time"

	"github.com/auditdesk/portal/svc/directory"
)

// The functions in this file are pure: they take data the Service has
// already fetched and return a rejection, or nil to continue.

func checkSelfNotification(prevent bool, recipientID, senderID string) *Result {
	if prevent && recipientID == senderID {
		return reject(ReasonSelfNotification, "users cannot notify themselves")
	}
	return nil
}

func checkEntity[T any](kind, id string, entity *T) *Result {
	if entity == nil {
		return reject(ReasonInvalidEntity, fmt.Sprintf("%s %q does not exist", kind, id))
	}
	return nil
}

func checkUsers(recipientID string, recipient *directory.User, senderID string, sender *directory.User) *Result {
	if recipient == nil {
		return reject(ReasonInvalidEntity, fmt.Sprintf("recipient %q does not exist", recipientID))
	}
	if sender == nil {
		return reject(ReasonInvalidEntity, fmt.Sprintf("sender %q does not exist", senderID))
	}
	return nil
}

func checkDuplicate(existing *Notification, window time.Duration) *Result {
	if existing == nil {
		return nil
	}
	return reject(ReasonDuplicate, fmt.Sprintf(
		"an identical notification %s was sent within the last %s", existing.ID, window))
}

// checkRateLimit compares the sender's recent volume for one type with its
// limit. The hourly ceiling is checked first.
func checkRateLimit(t Type, limit TypeLimit, hourly, daily int, now time.Time) *Result {
	if hourly >= limit.MaxPerHour {
		r := reject(ReasonRateLimited, fmt.Sprintf("hourly limit of %d %s notifications reached", limit.MaxPerHour, t))
		retry := now.Add(time.Hour)
		r.RetryAfter = &retry
		return r
	}
	if daily >= limit.MaxPerDay {
		r := reject(ReasonRateLimited, fmt.Sprintf("daily limit of %d %s notifications reached", limit.MaxPerDay, t))
		retry := now.Add(24 * time.Hour)
		r.RetryAfter = &retry
		return r
	}
	return nil
}

// fanOutRecipients returns the recipients of an audit update: the explicit
// list when given, otherwise the audit's assignees, minus the sender and
// duplicates, in first-seen order.
func fanOutRecipients(explicit []string, audit *directory.Audit, senderID string, prevent bool) []string {
	src := explicit
	if src == nil && audit != nil {
		src = audit.AssignedUserIDs
	}
	seen := make(map[string]struct{}, len(src))
	out := make([]string, 0, len(src))
	for _, id := range src {
		if id == "" || (prevent && id == senderID) {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
