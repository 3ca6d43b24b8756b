// Package binder populates request structs for handler.Wrap.
package binder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/auditdesk/portal/handler"
)

// MaxJSONSize caps request bodies read by JSON.
const MaxJSONSize = 1 << 20

// JSON decodes an application/json body strictly: unknown fields and
// trailing data are rejected.
func JSON() handler.Bind {
	return func(r *http.Request, v any) error {
		mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mt != "application/json" {
			return badRequest(handler.ErrUnsupportedMedia,
				fmt.Errorf("%w: expected application/json", ErrUnsupportedMediaType))
		}

		dec := json.NewDecoder(io.LimitReader(r.Body, MaxJSONSize))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("empty body")
			}
			return badRequest(handler.ErrBadRequest, fmt.Errorf("%w: %v", ErrInvalidJSON, err))
		}
		if dec.More() {
			return badRequest(handler.ErrBadRequest, fmt.Errorf("%w: unexpected data after object", ErrInvalidJSON))
		}
		return nil
	}
}
