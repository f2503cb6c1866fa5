package worker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/seoatlas/seoatlas-api/internal/fetch"
)

// PermanentError marks a job failure that retrying cannot fix. The
// worker fails the job immediately instead of requeueing it.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a permanent failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// transientHints are substrings of error messages from layers that
// don't wrap their errors but whose failures clear up on retry.
var transientHints = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"i/o error",
}

// IsPermanent reports whether err should fail the job without retry.
// Explicit markers win; known transient shapes (cancellation, network
// errors, 429 and 5xx responses) are requeued. Anything unrecognized is
// treated as permanent, so a malformed input never burns the whole
// attempt budget replaying a failure that cannot succeed.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Shutdown or lease loss, not a verdict on the job
		return false
	}
	if errors.Is(err, fetch.ErrBlockedAddress) ||
		errors.Is(err, fetch.ErrUnsupportedScheme) ||
		errors.Is(err, fetch.ErrTooManyRedirects) ||
		errors.Is(err, fetch.ErrBodyTooLarge) ||
		errors.Is(err, fetch.ErrInvalidTarget) {
		return true
	}

	var se *fetch.StatusError
	if errors.As(err, &se) {
		return se.StatusCode != http.StatusTooManyRequests && se.StatusCode < 500
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return false
		}
	}
	return true
}
