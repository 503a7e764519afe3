package httpclient

import (
	"fmt"
	"net/http"
)

// maxErrorMessage bounds the response excerpt kept in an HTTPError
const maxErrorMessage = 512

// HTTPError is returned for responses with a non-2xx status code
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string
}

// NewHTTPError creates a new HTTPError. Long bodies (HTML error pages of a
// load balancer, for example) are cut to a short excerpt.
func NewHTTPError(statusCode int, url, message string) *HTTPError {
	if len(message) > maxErrorMessage {
		message = message[:maxErrorMessage] + "..."
	}
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Message:    message,
	}
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// Temporary reports whether the status suggests retrying later: 408, 429 and 5xx
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}
