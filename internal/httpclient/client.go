// Package httpclient provides the HTTP transport used to reach the upstream API.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTimeout is used when a non-positive timeout is given
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResponseSize bounds the size of a response body. A full feed
	// page of 5000 records stays well below it.
	DefaultMaxResponseSize int64 = 100 * 1024 * 1024

	// DefaultUserAgent is sent when no user agent is configured
	DefaultUserAgent = "fleet-feed-connector"
)

// Client posts request bodies and returns response bodies
//
//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/stacklok/fleet-feed-connector/internal/httpclient Client
type Client interface {
	// Post sends body as JSON to url and returns the response body.
	// Non-2xx responses are returned as *HTTPError.
	Post(ctx context.Context, url string, body []byte) ([]byte, error)
}

type clientOptions struct {
	transport       *http.Transport
	maxResponseSize int64
	userAgent       string
}

// Option configures the default client
type Option func(*clientOptions)

// WithInsecureSkipVerify disables TLS certificate verification. Only meant for
// test servers with self-signed certificates.
func WithInsecureSkipVerify() Option {
	return func(o *clientOptions) {
		o.transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, // #nosec G402 -- opt-in for test environments
			MinVersion:         tls.VersionTLS12,
		}
	}
}

// WithMaxResponseSize overrides DefaultMaxResponseSize
func WithMaxResponseSize(n int64) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.maxResponseSize = n
		}
	}
}

// WithUserAgent sets the User-Agent header, typically "fleet-feed-connector/<version>"
func WithUserAgent(ua string) Option {
	return func(o *clientOptions) {
		if ua != "" {
			o.userAgent = ua
		}
	}
}

type defaultClient struct {
	client          *http.Client
	maxResponseSize int64
	userAgent       string
}

// NewDefaultClient creates a client with the given request timeout
func NewDefaultClient(timeout time.Duration, opts ...Option) Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	o := &clientOptions{
		transport:       http.DefaultTransport.(*http.Transport).Clone(),
		maxResponseSize: DefaultMaxResponseSize,
		userAgent:       DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(o)
	}

	return &defaultClient{
		client: &http.Client{
			Timeout:   timeout,
			Transport: o.transport,
			// The upstream moves sessions between servers through the
			// Authenticate result, never through HTTP redirects.
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxResponseSize: o.maxResponseSize,
		userAgent:       o.userAgent,
	}
}

func (c *defaultClient) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.ContentLength > c.maxResponseSize {
		return nil, fmt.Errorf("response size %d exceeds maximum allowed size of %d bytes",
			resp.ContentLength, c.maxResponseSize)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > c.maxResponseSize {
		return nil, fmt.Errorf("response body exceeds maximum allowed size of %d bytes", c.maxResponseSize)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewHTTPError(resp.StatusCode, url, string(data))
	}

	return data, nil
}
