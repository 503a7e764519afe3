// Package upstream is the client of the fleet-management API the connector
// reads its feeds from.
//
// The API is JSON-RPC over HTTPS: every call is a POST of
// {"method": ..., "params": ...} to https://<server>/apiv1. A session is
// obtained with Authenticate, which may redirect the client to another
// server, and its credentials are sent with every subsequent call.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/jsonrpc2"
	"golang.org/x/time/rate"

	"github.com/stacklok/fleet-feed-connector/internal/httpclient"
	"github.com/stacklok/fleet-feed-connector/internal/otel"
	"github.com/stacklok/fleet-feed-connector/internal/sync/feed"
)

const (
	methodAuthenticate = "Authenticate"
	methodGetFeed      = "GetFeed"
	methodGetVersion   = "GetVersion"

	// thisServer is the path returned by Authenticate when no redirect is needed
	thisServer = "ThisServer"

	apiPath = "/apiv1"
)

// ErrNotAuthenticated is wrapped in the Unauthorized error returned by calls made before Authenticate
var ErrNotAuthenticated = errors.New("not authenticated")

// Credentials identify an authenticated session
type Credentials struct {
	Database  string `json:"database"`
	UserName  string `json:"userName"`
	SessionID string `json:"sessionId,omitempty"`
}

type authenticateParams struct {
	Database string `json:"database"`
	UserName string `json:"userName"`
	Password string `json:"password"`
}

type getFeedParams struct {
	TypeName     string       `json:"typeName"`
	FromVersion  string       `json:"fromVersion,omitempty"`
	ResultsLimit int          `json:"resultsLimit"`
	Credentials  *Credentials `json:"credentials"`
}

// Client calls the upstream API. It is safe for concurrent use by all
// synchronizers; requests share one rate limiter.
type Client struct {
	http    httpclient.Client
	limiter *rate.Limiter
	tracer  trace.Tracer

	database string
	user     string
	password string

	mu      sync.RWMutex
	baseURL string
	session *Credentials

	nextID atomic.Int64
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP transport
func WithHTTPClient(c httpclient.Client) Option {
	return func(client *Client) {
		client.http = c
	}
}

// WithRequestsPerMinute limits the request rate. Zero disables the limit.
func WithRequestsPerMinute(n int) Option {
	return func(client *Client) {
		if n <= 0 {
			client.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		client.limiter = rate.NewLimiter(rate.Limit(float64(n)/60), max(1, n/60))
	}
}

// WithTracer sets the tracer used for call spans
func WithTracer(tracer trace.Tracer) Option {
	return func(client *Client) {
		client.tracer = tracer
	}
}

// NewClient creates a client for server. server is a host name, or a full
// base URL including the scheme.
func NewClient(server, database, user, password string, opts ...Option) (*Client, error) {
	if server == "" {
		return nil, fmt.Errorf("server is required")
	}
	if database == "" {
		return nil, fmt.Errorf("database is required")
	}
	if user == "" {
		return nil, fmt.Errorf("user is required")
	}

	c := &Client{
		http:     httpclient.NewDefaultClient(httpclient.DefaultTimeout),
		limiter:  rate.NewLimiter(rate.Inf, 1),
		database: database,
		user:     user,
		password: password,
		baseURL:  baseURL(server),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// baseURL turns a server name into the base URL of the API
func baseURL(server string) string {
	server = strings.TrimSuffix(server, "/")
	if strings.Contains(server, "://") {
		return server
	}
	return "https://" + server
}

// Authenticate obtains a new session. When the upstream answers with another
// server, subsequent calls are sent there.
func (c *Client) Authenticate(ctx context.Context) error {
	result, err := c.call(ctx, methodAuthenticate, authenticateParams{
		Database: c.database,
		UserName: c.user,
		Password: c.password,
	})
	if err != nil {
		return err
	}

	creds := &Credentials{
		Database:  result.Get("credentials.database").String(),
		UserName:  result.Get("credentials.userName").String(),
		SessionID: result.Get("credentials.sessionId").String(),
	}
	if creds.SessionID == "" {
		return &Error{Kind: KindRejected, Method: methodAuthenticate, Err: errors.New("response carries no session id")}
	}
	if creds.Database == "" {
		creds.Database = c.database
	}
	if creds.UserName == "" {
		creds.UserName = c.user
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if path := result.Get("path").String(); path != "" && path != thisServer {
		redirected := baseURL(path)
		if redirected != c.baseURL {
			slog.Info("Upstream redirected the session to another server",
				"from", c.baseURL,
				"to", redirected)
			c.baseURL = redirected
		}
	}
	c.session = creds

	slog.Info("Authenticated with upstream",
		"server", c.baseURL,
		"database", creds.Database,
		"user", creds.UserName)
	return nil
}

func (c *Client) authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil
}

// FetchFeed returns the records of typeName changed since fromVersion.
// An empty fromVersion starts at the beginning of the feed.
func (c *Client) FetchFeed(ctx context.Context, typeName, fromVersion string, limit int) (*feed.Page, error) {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()

	if session == nil {
		return nil, &Error{Kind: KindUnauthorized, Method: methodGetFeed, Err: ErrNotAuthenticated}
	}

	result, err := c.call(ctx, methodGetFeed, getFeedParams{
		TypeName:     typeName,
		FromVersion:  fromVersion,
		ResultsLimit: limit,
		Credentials:  session,
	})
	if err != nil {
		if IsUnauthorized(err) {
			c.dropSession(session)
		}
		return nil, err
	}

	return &feed.Page{
		Records:   result.Get("data").Array(),
		ToVersion: result.Get("toVersion").String(),
	}, nil
}

// Probe makes an unauthenticated round trip. It implements connectivity.Prober.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.call(ctx, methodGetVersion, struct{}{})
	return err
}

// dropSession forgets session unless it was already replaced
func (c *Client) dropSession(session *Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == session {
		c.session = nil
	}
}

func (c *Client) endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL + apiPath
}

// call performs one RPC and returns its result member
func (c *Client) call(ctx context.Context, method string, params any) (gjson.Result, error) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "upstream."+method,
		trace.WithAttributes(otel.AttrRPCMethod.String(method)))

	result, err := c.doCall(ctx, method, params)
	otel.Finish(span, err)
	return result, err
}

func (c *Client) doCall(ctx context.Context, method string, params any) (gjson.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return gjson.Result{}, ctx.Err()
		}
		return gjson.Result{}, &Error{Kind: KindUnavailable, Method: method, Err: err}
	}

	call, err := jsonrpc2.NewCall(jsonrpc2.Int64ID(c.nextID.Add(1)), method, params)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to encode %s request: %w", method, err)
	}
	body, err := jsonrpc2.EncodeMessage(call)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	resp, err := c.http.Post(ctx, c.endpoint(), body)
	if err != nil {
		if ctx.Err() != nil {
			return gjson.Result{}, fmt.Errorf("%s interrupted: %w", method, ctx.Err())
		}
		return gjson.Result{}, transportError(method, err)
	}

	// Responses are read with gjson: error members carry the exception type
	// under errors[].name, which the jsonrpc2 wire error does not keep.
	if !gjson.ValidBytes(resp) {
		return gjson.Result{}, &Error{Kind: KindUnavailable, Method: method, Err: errors.New("response is not valid JSON")}
	}

	parsed := gjson.ParseBytes(resp)
	if rpcErr := parsed.Get("error"); rpcErr.Exists() && rpcErr.Type != gjson.Null {
		name := exceptionName(rpcErr)
		return gjson.Result{}, &Error{
			Kind:   classifyException(name),
			Method: method,
			Type:   name,
			Err:    errors.New(rpcErr.Get("message").String()),
		}
	}

	result := parsed.Get("result")
	if !result.Exists() {
		return gjson.Result{}, &Error{Kind: KindRejected, Method: method, Err: errors.New("response carries no result")}
	}
	return result, nil
}

// exceptionName extracts the exception type from an RPC error member
func exceptionName(rpcErr gjson.Result) string {
	for _, path := range []string{"errors.0.name", "data.type", "name"} {
		if name := rpcErr.Get(path).String(); name != "" {
			return name
		}
	}
	return ""
}
