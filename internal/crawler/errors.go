package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrInvalidConfig aborts a run before any fetch happens.
var ErrInvalidConfig = errors.New("invalid crawl configuration")

// Fetch failure classifications. Fetchers wrap their library errors in one of
// these sentinels so the retry policy can tell transient failures apart from
// permanent ones without knowing which browser or HTTP client was used.
var (
	ErrFetchTimeout  = errors.New("fetch timed out")
	ErrNavigation    = errors.New("navigation failed")
	ErrSessionClosed = errors.New("browser session closed")
	ErrPermanent     = errors.New("permanent fetch failure")
)

// FetchError carries the URL alongside the classified cause.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps err with the URL it occurred on.
func NewFetchError(url string, err error) *FetchError {
	return &FetchError{URL: url, Err: err}
}

// IsTransient reports whether err is expected to resolve on retry.
// Context cancellation and permanent failures never are; network timeouts,
// navigation errors, and closed browser sessions are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrPermanent) {
		return false
	}
	if errors.Is(err, ErrFetchTimeout) || errors.Is(err, ErrNavigation) || errors.Is(err, ErrSessionClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
