package connpool

import "errors"

var (
	ErrCapacity          = errors.New("connpool: rejected_capacity")
	ErrShuttingDown      = errors.New("connpool: pool is shutting down")
	ErrUnknownConnection = errors.New("connpool: unknown connection")
	ErrEmptyUserID       = errors.New("connpool: user id is required")
	ErrNilTransport      = errors.New("connpool: transport is nil")
	ErrInvalidConfig     = errors.New("connpool: invalid config")
)

// ReasonRejectedCapacity is the machine-readable rejection reason.
const ReasonRejectedCapacity = "rejected_capacity"
