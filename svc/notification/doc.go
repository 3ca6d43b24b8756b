// Package notification is the notification policy engine of the audit portal.
//
// Service decides whether a business event (client assignment, audit
// assignment, audit stage or status change) becomes a persisted notification.
// Each request runs the same checks in order and stops at the first failure:
//
//  1. self-notification
//  2. entity validation (client or audit must exist)
//  3. identity resolution (recipient and sender must exist)
//  4. duplicate suppression within the dedup window
//  5. per-sender, per-type hourly and daily rate limits
//  6. template rendering
//  7. persistence
//
// Rejections are returned as Result values with a Reason, never as errors.
// Only unexpected store or directory failures produce ReasonSystemError.
//
// After a notification is stored the Service hands it to a Deliverer, which
// typically pushes a new-notification event to the recipient's live sessions
// and mirrors it by email. Delivery is best effort and never changes the Result.
//
// MarkRead and MarkAllRead flip read state, refresh the cached unread count and
// publish read-status events so every device of the user converges.
//
// The checks themselves live in policy.go as pure functions over already
// fetched data. Service only orchestrates lookups around them.
package notification
