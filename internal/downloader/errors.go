package downloader

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// TimeoutKind distinguishes the two fetch deadlines.
type TimeoutKind string

const (
	TimeoutIdle  TimeoutKind = "idle"
	TimeoutTotal TimeoutKind = "total"
)

// TimeoutError is returned when a transfer exceeds its total deadline or
// receives no data for longer than the inactivity deadline.
type TimeoutError struct {
	Kind  TimeoutKind
	After time.Duration
	URL   string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timeout after %s fetching %s", e.Kind, e.After, e.URL)
}

// RemoteUnavailableError is returned for any non-2xx response.
type RemoteUnavailableError struct {
	StatusCode int
	URL        string
}

func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("bad status %d (%s) fetching %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// NotFound reports whether the resource is gone rather than failing.
func (e *RemoteUnavailableError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

// ConnectivityError wraps transport failures: refused or reset
// connections, DNS failures and truncated bodies.
type ConnectivityError struct {
	URL string
	err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity failure fetching %s: %v", e.URL, e.err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.err
}

// IsNotFound returns true if err carries a 404 or 410 response.
func IsNotFound(err error) bool {
	var ru *RemoteUnavailableError
	return errors.As(err, &ru) && ru.NotFound()
}

// IsTimeout returns true if err is a fetch deadline expiry.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsConnectivity returns true for errors that indicate the remote host
// itself is unreachable or unresponsive. Timeouts count.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce) || IsTimeout(err)
}
