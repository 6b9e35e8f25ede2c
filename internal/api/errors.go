package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized signals an expired or rejected session.
var ErrUnauthorized = errors.New("unauthorized")

// ErrMalformedResponse is returned when a 2xx body is not a job.
var ErrMalformedResponse = errors.New("malformed job response")

// HTTPError is a non-2xx response from the jobs API.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// IsTransient reports whether err is a network failure or a response worth retrying
// later (5xx, 408, 429). Server rejections are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrMalformedResponse) || errors.Is(err, context.Canceled) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status >= 500 ||
			httpErr.Status == http.StatusTooManyRequests ||
			httpErr.Status == http.StatusRequestTimeout
	}
	// Transport failures: timeouts, refused or reset connections, DNS.
	return true
}
