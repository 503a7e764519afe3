package common

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ErrInvalidParam is wrapped by every URLParam failure
var ErrInvalidParam = errors.New("invalid path parameter")

// URLParam returns the decoded value of a chi route parameter. Values that
// are empty after decoding or that contain whitespace or a slash are rejected.
func URLParam(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)
	value, err := url.PathUnescape(raw)
	switch {
	case err != nil:
		return "", fmt.Errorf("%w: %s is not valid URL encoding", ErrInvalidParam, name)
	case strings.TrimSpace(value) == "":
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidParam, name)
	case strings.ContainsAny(value, " \t\r\n/"):
		return "", fmt.Errorf("%w: %s must not contain whitespace or '/'", ErrInvalidParam, name)
	}
	return value, nil
}
