package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrBlockedAddress is returned when a URL resolves to an address in a
	// private, loopback, or otherwise non-routable range.
	ErrBlockedAddress = errors.New("destination address is not allowed")

	// ErrTooManyRedirects is returned when a fetch exceeds the redirect budget.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrBodyTooLarge is returned when a response exceeds the size cap.
	ErrBodyTooLarge = errors.New("response body too large")

	// ErrUnsupportedScheme is returned for anything other than http/https.
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")

	// ErrInvalidTarget is returned for URLs with no host or with embedded
	// credentials.
	ErrInvalidTarget = errors.New("invalid fetch target")
)

// BlockedAddressError reports which host and address were rejected.
// It unwraps to ErrBlockedAddress.
type BlockedAddressError struct {
	Host string
	IP   string
}

func (e *BlockedAddressError) Error() string {
	return fmt.Sprintf("fetch: host %q resolves to blocked address %s", e.Host, e.IP)
}

func (e *BlockedAddressError) Unwrap() error {
	return ErrBlockedAddress
}

// StatusError is returned when the final response carries a non-2xx status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s returned status %d", e.URL, e.StatusCode)
}
