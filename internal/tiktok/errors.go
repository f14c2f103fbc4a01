package tiktok

import (
	"errors"
	"fmt"
)

// ErrClipNotFound indicates the upstream source has no item for the
// requested clip identifier (deleted, private, or never existed).
var ErrClipNotFound = errors.New("requested clip could not be found upstream")

type (
	// SessionExpiredError is the session-fatal failure class: the
	// authenticated session itself is unusable and must be rebuilt
	// before any further upstream operation can succeed. This is
	// distinct from an ordinary transient transport failure.
	SessionExpiredError struct{ reason string }

	// RequestFailedError indicates an ordinary upstream failure (bad
	// status, transport error) which does NOT invalidate the session.
	RequestFailedError struct {
		httpCode int
		message  string
	}

	UnknownRequestError struct{ reason string }
)

func NewSessionExpiredError(reason string) *SessionExpiredError {
	return &SessionExpiredError{reason: reason}
}

func NewRequestFailedError(httpCode int, message string) *RequestFailedError {
	return &RequestFailedError{httpCode: httpCode, message: message}
}

func (err *SessionExpiredError) Error() string {
	return fmt.Sprintf("upstream session is no longer usable: %s", err.reason)
}

func (err *RequestFailedError) Error() string {
	return fmt.Sprintf("upstream request failure (HTTP %d): %s", err.httpCode, err.message)
}

func (err *UnknownRequestError) Error() string {
	return fmt.Sprintf("unknown error occurred while communicating with upstream source: %s", err.reason)
}

// IsSessionFatal reports whether the error provided (or any error it
// wraps) indicates the upstream session must be rebuilt. The acquisition
// coordinator uses this to decide whether a recovery attempt is warranted.
func IsSessionFatal(err error) bool {
	var expired *SessionExpiredError
	return errors.As(err, &expired)
}
