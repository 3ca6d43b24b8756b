package binder

import (
	"errors"

	"github.com/auditdesk/portal/handler"
)

var (
	ErrUnsupportedMediaType = errors.New("binder: unsupported media type")
	ErrInvalidJSON          = errors.New("binder: invalid JSON")
	ErrInvalidQuery         = errors.New("binder: invalid query parameter")
)

// badRequest tags err so handler.JSONError answers 400 (or 415).
func badRequest(status handler.HTTPError, err error) error {
	return errors.Join(status, err)
}
