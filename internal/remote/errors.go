package remote

import (
	"fmt"
	"net/http"
)

// StatusError captures a non-2xx reply from the API.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote: unexpected status %d from %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("remote: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Retryable reports whether sending the same request later may succeed.
// Timeouts, throttling and server errors are retryable; any other 4xx is a
// definitive rejection of the answer. Transport failures are not a
// StatusError and callers treat them as retryable.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode < 400
}
