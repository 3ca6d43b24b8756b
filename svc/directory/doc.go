// Package directory resolves the clients, audits and users that notifications
// refer to. It is a read-only view over tables owned by the wider portal.
//
// Lookups return nil with a nil error when the record does not exist, so
// callers can tell "absent" from "store unavailable".
package directory
