package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/fleet-feed-connector/internal/httpclient/mocks"
	pkgsync "github.com/stacklok/fleet-feed-connector/internal/sync"
)

// fakeAPI is an in-memory upstream. Handlers are keyed by RPC method.
type fakeAPI struct {
	mu       gosync.Mutex
	requests []gjson.Result
	handlers map[string]func(req gjson.Result) (int, string)
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()

	api := &fakeAPI{handlers: map[string]func(gjson.Result) (int, string){
		methodGetVersion: func(gjson.Result) (int, string) {
			return http.StatusOK, `{"jsonrpc":"2.0","result":"11.0.1"}`
		},
	}}
	server := httptest.NewServer(api)
	server.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(server.Close)
	return api, server
}

func (a *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	req := gjson.ParseBytes(body)

	a.mu.Lock()
	a.requests = append(a.requests, req)
	handler, ok := a.handlers[req.Get("method").String()]
	a.mu.Unlock()

	if r.URL.Path != apiPath || !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	status, resp := handler(req)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(resp))
}

func (a *fakeAPI) handle(method string, fn func(req gjson.Result) (int, string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[method] = fn
}

func (a *fakeAPI) received() []gjson.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]gjson.Result(nil), a.requests...)
}

func authenticateOK(path string) func(gjson.Result) (int, string) {
	return func(req gjson.Result) (int, string) {
		return http.StatusOK, fmt.Sprintf(`{"result":{"credentials":{"database":%q,"userName":%q,"sessionId":"s-1"},"path":%q}}`,
			req.Get("params.database").String(), req.Get("params.userName").String(), path)
	}
}

func rpcError(name, message string) func(gjson.Result) (int, string) {
	return func(gjson.Result) (int, string) {
		return http.StatusOK, fmt.Sprintf(`{"error":{"code":-32000,"message":%q,"errors":[{"name":%q,"message":%q}]}}`,
			message, name, message)
	}
}

func newTestClient(t *testing.T, server string, opts ...Option) *Client {
	t.Helper()

	c, err := NewClient(server, "fleet", "svc@example.com", "secret", opts...)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewClient("", "db", "user", "pw")
	assert.EqualError(t, err, "server is required")
	_, err = NewClient("my.example.com", "", "user", "pw")
	assert.EqualError(t, err, "database is required")
	_, err = NewClient("my.example.com", "db", "", "pw")
	assert.EqualError(t, err, "user is required")
}

func TestBaseURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://my.example.com", baseURL("my.example.com"))
	assert.Equal(t, "https://my3.example.com", baseURL("my3.example.com/"))
	assert.Equal(t, "http://127.0.0.1:8080", baseURL("http://127.0.0.1:8080"))
}

func TestClient_AuthenticateAndFetch(t *testing.T) {
	t.Parallel()

	api, server := newFakeAPI(t)
	api.handle(methodAuthenticate, authenticateOK(thisServer))
	api.handle(methodGetFeed, func(gjson.Result) (int, string) {
		return http.StatusOK, `{"result":{"data":[{"id":"b1"},{"id":"b2"}],"toVersion":"000000000000a1f2"}}`
	})

	c := newTestClient(t, server.URL)
	require.False(t, c.authenticated())
	require.NoError(t, c.Authenticate(context.Background()))
	require.True(t, c.authenticated())

	page, err := c.FetchFeed(context.Background(), "Device", "", 500)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "b2", page.Records[1].Get("id").String())
	assert.Equal(t, "000000000000a1f2", page.ToVersion)

	reqs := api.received()
	require.Len(t, reqs, 2)
	assert.Equal(t, "fleet", reqs[0].Get("params.database").String())
	assert.Equal(t, "secret", reqs[0].Get("params.password").String())

	feedReq := reqs[1]
	assert.Equal(t, methodGetFeed, feedReq.Get("method").String())
	assert.Equal(t, "Device", feedReq.Get("params.typeName").String())
	assert.Equal(t, int64(500), feedReq.Get("params.resultsLimit").Int())
	assert.False(t, feedReq.Get("params.fromVersion").Exists(), "no cursor on the first request")
	assert.Equal(t, "s-1", feedReq.Get("params.credentials.sessionId").String())
	assert.False(t, feedReq.Get("params.credentials.password").Exists(), "the password is not resent")
}

func TestClient_AuthenticateRedirect(t *testing.T) {
	t.Parallel()

	target, targetServer := newFakeAPI(t)
	target.handle(methodGetFeed, func(req gjson.Result) (int, string) {
		return http.StatusOK, fmt.Sprintf(`{"result":{"data":[],"toVersion":%q}}`, req.Get("params.fromVersion").String())
	})

	origin, originServer := newFakeAPI(t)
	origin.handle(methodAuthenticate, authenticateOK(targetServer.URL))

	c := newTestClient(t, originServer.URL)
	require.NoError(t, c.Authenticate(context.Background()))

	page, err := c.FetchFeed(context.Background(), "Trip", "v9", 10)
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Equal(t, "v9", page.ToVersion)

	assert.Len(t, origin.received(), 1)
	assert.Len(t, target.received(), 1, "feed requests go to the redirected server")
}

func TestClient_FetchBeforeAuthenticate(t *testing.T) {
	t.Parallel()

	api, server := newFakeAPI(t)
	c := newTestClient(t, server.URL)

	_, err := c.FetchFeed(context.Background(), "Device", "", 10)

	assert.True(t, IsUnauthorized(err))
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Empty(t, api.received())
}

func TestClient_ExpiredSessionIsDropped(t *testing.T) {
	t.Parallel()

	api, server := newFakeAPI(t)
	api.handle(methodAuthenticate, authenticateOK(thisServer))
	api.handle(methodGetFeed, rpcError(exceptionInvalidUser, "Incorrect login credentials"))

	c := newTestClient(t, server.URL)
	require.NoError(t, c.Authenticate(context.Background()))

	_, err := c.FetchFeed(context.Background(), "Device", "v1", 10)

	var upErr *Error
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, KindUnauthorized, upErr.Kind)
	assert.Equal(t, exceptionInvalidUser, upErr.Type)
	assert.Equal(t, pkgsync.OutcomeUpstreamUnauthorized, Outcome(err).Kind)
	assert.False(t, c.authenticated())
}

func TestClient_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		handler  func(gjson.Result) (int, string)
		wantKind ErrorKind
		wantType string
	}{
		{
			name:     "database unavailable exception",
			handler:  rpcError(exceptionDbUnavailable, "Database is unavailable"),
			wantKind: KindUnavailable,
			wantType: exceptionDbUnavailable,
		},
		{
			name:     "over limit exception",
			handler:  rpcError(exceptionOverLimit, "API calls quota exceeded"),
			wantKind: KindUnavailable,
			wantType: exceptionOverLimit,
		},
		{
			name:     "argument exception",
			handler:  rpcError("ArgumentException", "Unknown type name"),
			wantKind: KindRejected,
			wantType: "ArgumentException",
		},
		{
			name: "exception type in data",
			handler: func(gjson.Result) (int, string) {
				return http.StatusOK, `{"error":{"message":"expired","data":{"type":"InvalidUserException"}}}`
			},
			wantKind: KindUnauthorized,
			wantType: exceptionInvalidUser,
		},
		{
			name:     "service unavailable status",
			handler:  func(gjson.Result) (int, string) { return http.StatusServiceUnavailable, "down" },
			wantKind: KindUnavailable,
		},
		{
			name:     "too many requests status",
			handler:  func(gjson.Result) (int, string) { return http.StatusTooManyRequests, "slow down" },
			wantKind: KindUnavailable,
		},
		{
			name:     "bad request status",
			handler:  func(gjson.Result) (int, string) { return http.StatusBadRequest, "bad" },
			wantKind: KindRejected,
		},
		{
			name:     "html error page",
			handler:  func(gjson.Result) (int, string) { return http.StatusOK, "<html>maintenance</html>" },
			wantKind: KindUnavailable,
		},
		{
			name:     "missing result",
			handler:  func(gjson.Result) (int, string) { return http.StatusOK, `{"jsonrpc":"2.0"}` },
			wantKind: KindRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api, server := newFakeAPI(t)
			api.handle(methodGetVersion, tt.handler)
			c := newTestClient(t, server.URL)

			err := c.Probe(context.Background())

			var upErr *Error
			require.ErrorAs(t, err, &upErr)
			assert.Equal(t, tt.wantKind, upErr.Kind)
			assert.Equal(t, tt.wantType, upErr.Type)
			assert.Equal(t, methodGetVersion, upErr.Method)
		})
	}
}

func TestClient_Probe(t *testing.T) {
	t.Parallel()

	api, server := newFakeAPI(t)
	c := newTestClient(t, server.URL)

	require.NoError(t, c.Probe(context.Background()))
	reqs := api.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, methodGetVersion, reqs[0].Get("method").String())
	assert.False(t, reqs[0].Get("params.credentials").Exists())
}

func TestClient_RequestEnvelope(t *testing.T) {
	t.Parallel()

	api, server := newFakeAPI(t)
	c := newTestClient(t, server.URL)

	ctx := context.Background()
	require.NoError(t, c.Probe(ctx))
	require.NoError(t, c.Probe(ctx))

	reqs := api.received()
	require.Len(t, reqs, 2)
	for _, req := range reqs {
		assert.Equal(t, "2.0", req.Get("jsonrpc").String())
		assert.Equal(t, gjson.Number, req.Get("id").Type)
	}
	assert.Less(t, reqs[0].Get("id").Int(), reqs[1].Get("id").Int())
}

func TestClient_TransportErrors(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := mocks.NewMockClient(ctrl)
	c := newTestClient(t, "fleet.example.com", WithHTTPClient(httpClient))

	httpClient.EXPECT().
		Post(gomock.Any(), "https://fleet.example.com/apiv1", gomock.Any()).
		Return(nil, errors.New("dial tcp: connection refused"))

	err := c.Probe(context.Background())
	var upErr *Error
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, KindUnavailable, upErr.Kind)
	assert.Equal(t, pkgsync.OutcomeUpstreamUnavailable, Outcome(err).Kind)
}

func TestClient_CancelledRequestIsNotAnUpstreamError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := mocks.NewMockClient(ctrl)
	c := newTestClient(t, "fleet.example.com", WithHTTPClient(httpClient))

	ctx, cancel := context.WithCancel(context.Background())
	httpClient.EXPECT().
		Post(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, string, []byte) ([]byte, error) {
			cancel()
			return nil, context.Canceled
		})

	err := c.Probe(ctx)
	var upErr *Error
	assert.False(t, errors.As(err, &upErr))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, pkgsync.OutcomeCancelled, Outcome(err).Kind)
}

func TestClient_RateLimit(t *testing.T) {
	t.Parallel()

	api, server := newFakeAPI(t)
	c := newTestClient(t, server.URL, WithRequestsPerMinute(60))

	require.NoError(t, c.Probe(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Probe(ctx)

	require.Error(t, err)
	assert.Len(t, api.received(), 1, "the second request waits for a token")
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want pkgsync.OutcomeKind
	}{
		{name: "nil", err: nil, want: pkgsync.OutcomeSuccess},
		{name: "unavailable", err: &Error{Kind: KindUnavailable}, want: pkgsync.OutcomeUpstreamUnavailable},
		{name: "unauthorized", err: &Error{Kind: KindUnauthorized}, want: pkgsync.OutcomeUpstreamUnauthorized},
		{name: "rejected", err: &Error{Kind: KindRejected}, want: pkgsync.OutcomeFatal},
		{name: "wrapped unavailable", err: fmt.Errorf("fetch: %w", &Error{Kind: KindUnavailable}), want: pkgsync.OutcomeUpstreamUnavailable},
		{name: "cancelled", err: context.Canceled, want: pkgsync.OutcomeCancelled},
		{name: "deadline", err: fmt.Errorf("GetFeed interrupted: %w", context.DeadlineExceeded), want: pkgsync.OutcomeCancelled},
		{name: "other", err: errors.New("boom"), want: pkgsync.OutcomeFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Outcome(tt.err).Kind)
		})
	}
}

func TestError_Message(t *testing.T) {
	t.Parallel()

	err := &Error{Kind: KindUnauthorized, Method: methodGetFeed, Type: exceptionInvalidUser, Err: errors.New("expired")}
	assert.Equal(t, "upstream GetFeed unauthorized (InvalidUserException): expired", err.Error())

	err = &Error{Kind: KindUnavailable, Method: methodGetVersion, Err: errors.New("timeout")}
	assert.Equal(t, "upstream GetVersion unavailable: timeout", err.Error())
}
