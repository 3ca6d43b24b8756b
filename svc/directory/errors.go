package directory

import "errors"

var ErrLookupFailed = errors.New("directory: lookup failed")
