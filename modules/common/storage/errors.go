package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind - classification of a gateway failure, decided here at the adapter
// boundary so callers never pattern-match vendor error strings
type Kind int

const (
	KindFatal Kind = iota
	KindNotFound
	KindRateLimited
	KindTimeout
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	default:
		return "fatal"
	}
}

// Error - structured object store failure
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("storage %s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("storage %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient - true when a retry has a chance of succeeding
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindUnavailable:
		return true
	}
	return false
}

// IsNotFound - already-deleted objects surface as this kind
func IsNotFound(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindNotFound
}

// IsTransient - rate limits, timeouts, and 5xx responses
func IsTransient(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Transient()
}

// classifyStatus - HTTP status to error kind
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindUnavailable
	default:
		return KindFatal
	}
}

// classifyTransport - network-level failures before any response arrived
func classifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnavailable
}
