package notification

import "errors"

var (
	ErrNotificationNotFound = errors.New("notification: not found")
	ErrEmptyUserID          = errors.New("notification: user id is required")
	ErrInvalidNotification  = errors.New("notification: invalid notification")
	ErrStoreFailure         = errors.New("notification: store failure")
	ErrInvalidRateLimits    = errors.New("notification: invalid rate limit file")
)
