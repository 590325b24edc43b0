package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedContentType is returned when a download answers with an HTML
	// page instead of a document, usually a login or error page.
	ErrUnexpectedContentType = errors.New("unexpected content type")
	// ErrHTTPStatus matches every *StatusError.
	ErrHTTPStatus = errors.New("unexpected http status")
	// ErrDisallowed is returned when robots.txt forbids a URL.
	ErrDisallowed = errors.New("disallowed by robots.txt")
	// ErrTooLarge is returned when a download exceeds the configured size limit.
	ErrTooLarge = errors.New("download exceeds size limit")
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: http status %d", e.URL, e.StatusCode)
}

// Is makes errors.Is(err, ErrHTTPStatus) match.
func (e *StatusError) Is(target error) bool {
	return target == ErrHTTPStatus
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
