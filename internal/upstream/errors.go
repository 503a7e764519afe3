package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stacklok/fleet-feed-connector/internal/httpclient"
	pkgsync "github.com/stacklok/fleet-feed-connector/internal/sync"
)

// ErrorKind classifies upstream failures
type ErrorKind int

const (
	// KindUnavailable means the upstream could not be reached or is overloaded
	KindUnavailable ErrorKind = iota
	// KindUnauthorized means the session is missing, expired or the credentials are invalid
	KindUnauthorized
	// KindRejected means the upstream refused the request itself
	KindRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindUnauthorized:
		return "unauthorized"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Error is returned by every client call that fails
type Error struct {
	Kind   ErrorKind
	Method string
	// Type is the upstream exception name, if any
	Type string
	Err  error
}

func (e *Error) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("upstream %s %s (%s): %v", e.Method, e.Kind, e.Type, e.Err)
	}
	return fmt.Sprintf("upstream %s %s: %v", e.Method, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsUnauthorized reports whether err is an upstream authorization failure
func IsUnauthorized(err error) bool {
	var upErr *Error
	return errors.As(err, &upErr) && upErr.Kind == KindUnauthorized
}

// Outcome maps an error returned by FetchFeed to a synchronizer outcome
func Outcome(err error) pkgsync.Outcome {
	if err == nil {
		return pkgsync.Success()
	}

	var upErr *Error
	if !errors.As(err, &upErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return pkgsync.Cancelled(err)
		}
		return pkgsync.Fatal(err)
	}

	switch upErr.Kind {
	case KindUnavailable:
		return pkgsync.Outcome{Kind: pkgsync.OutcomeUpstreamUnavailable, Err: err}
	case KindUnauthorized:
		return pkgsync.Outcome{Kind: pkgsync.OutcomeUpstreamUnauthorized, Err: err}
	default:
		return pkgsync.Fatal(err)
	}
}

// exception names reported in RPC error payloads
const (
	exceptionInvalidUser   = "InvalidUserException"
	exceptionDbUnavailable = "DbUnavailableException"
	exceptionOverLimit     = "OverLimitException"
)

func classifyException(name string) ErrorKind {
	switch name {
	case exceptionInvalidUser:
		return KindUnauthorized
	case exceptionDbUnavailable, exceptionOverLimit:
		return KindUnavailable
	default:
		return KindRejected
	}
}

// transportError wraps a failure of the HTTP round trip
func transportError(method string, err error) *Error {
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		kind := KindRejected
		switch {
		case httpErr.Temporary():
			kind = KindUnavailable
		case httpErr.StatusCode == http.StatusUnauthorized,
			httpErr.StatusCode == http.StatusForbidden:
			kind = KindUnauthorized
		}
		return &Error{Kind: kind, Method: method, Err: err}
	}

	// Connection failures, timeouts and unreadable bodies
	return &Error{Kind: KindUnavailable, Method: method, Err: err}
}
