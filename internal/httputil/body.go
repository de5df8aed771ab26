// Package httputil holds small HTTP payload helpers shared by the API
// layer and the provider adapters.
package httputil

import (
	"errors"
	"io"
)

// DefaultMaxBodyBytes caps bodies at 10MB. Applied to upstream provider
// responses and inbound completion requests alike.
const DefaultMaxBodyBytes int64 = 10 * 1024 * 1024

// ErrBodyTooLarge reports a body that exceeded the read limit. The
// truncated prefix is still returned so error paths can log context.
var ErrBodyTooLarge = errors.New("body exceeds size limit")

// ReadLimitedBody reads at most maxBytes from r. A non-positive limit
// reads everything.
func ReadLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}

	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return body, err
	}
	if int64(len(body)) > maxBytes {
		return body[:maxBytes], ErrBodyTooLarge
	}
	return body, nil
}
