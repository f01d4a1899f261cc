package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// StatusError is a non-200 response from the platform API. It is never
// retried automatically: the status and body are surfaced to the caller as
// received.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected return code %d: %s", e.Code, e.Body)
}

// NetworkError is a transport-level failure (timeout, DNS, refused
// connection). Callers may retry these under their own supervision policy.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// wrapTransport classifies a failed round trip. Context and net-level
// failures become NetworkError; anything else passes through.
func wrapTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return &NetworkError{Op: op, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &NetworkError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
