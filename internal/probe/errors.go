package probe

import (
	"errors"
	"fmt"
)

// Failure kinds of a probe. Concrete errors wrap exactly one of these.
var (
	ErrInvalidConfig   = errors.New("invalid probe config")
	ErrTimeout         = errors.New("request timeout")
	ErrTransport       = errors.New("transport error")
	ErrHTTPStatus      = errors.New("unexpected http status")
	ErrRedirectLimit   = errors.New("redirect limit exceeded")
	ErrInvalidPattern  = errors.New("invalid regex pattern")
	ErrContentMismatch = errors.New("content check failed")
	ErrMalformedBody   = errors.New("malformed response body")
)

var kinds = []error{
	ErrInvalidConfig,
	ErrTimeout,
	ErrTransport,
	ErrHTTPStatus,
	ErrRedirectLimit,
	ErrInvalidPattern,
	ErrContentMismatch,
	ErrMalformedBody,
}

// StatusError is returned when the final response status is not acceptable.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error { return ErrHTTPStatus }

// IsFailure reports whether err (or anything it wraps) is a probe failure.
func IsFailure(err error) bool {
	return Kind(err) != nil
}

// Kind returns the sentinel that classifies err, or nil.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
