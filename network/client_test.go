package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trendcast/go-mediautils/chunkuploader"
	"github.com/trendcast/go-mediautils/internal/fakeapi"
	"github.com/trendcast/go-mediautils/uploaderr"
)

func fastRetry() chunkuploader.RetryPolicy {
	return chunkuploader.RetryPolicy{
		MaxAttempts:         3,
		BaseDelay:           time.Millisecond,
		Multiplier:          2,
		MaxDelay:            10 * time.Millisecond,
		RateLimitMultiplier: 4,
	}
}

func newTestClient(srv *fakeapi.Server) *Client {
	return NewClient(Params{
		InitURL:        srv.InitURL(),
		CommitURL:      srv.CommitURL(),
		PartURL:        srv.PartURL(),
		Retry:          fastRetry(),
		RequestTimeout: 5 * time.Second,
	}, log.NewLogger())
}

func TestClient_Negotiate(t *testing.T) {
	srv := fakeapi.New(t, fakeapi.Options{Token: "secret", UploadID: "abc", PartSize: 4096})
	client := newTestClient(srv)

	session, err := client.Negotiate(context.Background(), "secret", 10000)
	require.NoError(t, err)

	assert.Equal(t, chunkuploader.Session{
		UploadID:        "abc",
		FileSize:        10000,
		PartSize:        4096,
		PartURLTemplate: srv.PartURLTemplate(),
		FallbackPartURL: srv.PartURL(),
	}, session)

	bodies := srv.InitBodies()
	require.Len(t, bodies, 1)
	assert.Equal(t, float64(10000), bodies[0]["file_size"])
}

func TestClient_Negotiate_Defaults(t *testing.T) {
	srv := fakeapi.New(t, fakeapi.Options{OmitUploadURL: true})
	client := newTestClient(srv)

	session, err := client.Negotiate(context.Background(), "token", 42)
	require.NoError(t, err)

	assert.Equal(t, DefaultPartSize, session.PartSize)
	assert.Empty(t, session.PartURLTemplate)

	url, err := session.PartURL(1)
	require.NoError(t, err)
	assert.Equal(t, srv.PartURL(), url)
}

func TestClient_Negotiate_Errors(t *testing.T) {
	tests := []struct {
		name       string
		opts       fakeapi.Options
		initURL    string
		token      string
		wantErr    interface{}
		wantStatus int
		wantCalls  int
	}{
		{
			name:      "missing endpoint",
			initURL:   "-",
			token:     "token",
			wantErr:   &uploaderr.ConfigurationError{},
			wantCalls: 0,
		},
		{
			name:      "missing token",
			token:     "",
			wantErr:   &uploaderr.AuthError{},
			wantCalls: 0,
		},
		{
			name:       "rejected token",
			opts:       fakeapi.Options{Token: "secret"},
			token:      "wrong",
			wantErr:    &uploaderr.AuthError{},
			wantStatus: http.StatusUnauthorized,
			wantCalls:  0,
		},
		{
			name:       "server error is not retried",
			opts:       fakeapi.Options{InitStatus: http.StatusServiceUnavailable},
			token:      "token",
			wantErr:    &uploaderr.TransportError{},
			wantStatus: http.StatusServiceUnavailable,
			wantCalls:  1,
		},
		{
			name:       "throttling is not retried",
			opts:       fakeapi.Options{InitStatus: http.StatusTooManyRequests},
			token:      "token",
			wantErr:    &uploaderr.TransportError{},
			wantStatus: http.StatusTooManyRequests,
			wantCalls:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeapi.New(t, tt.opts)
			client := newTestClient(srv)
			if tt.initURL == "-" {
				client.params.InitURL = ""
			}

			_, err := client.Negotiate(context.Background(), tt.token, 100)
			require.Error(t, err)

			switch want := tt.wantErr.(type) {
			case *uploaderr.ConfigurationError:
				require.ErrorAs(t, err, &want)
			case *uploaderr.AuthError:
				require.ErrorAs(t, err, &want)
				assert.Equal(t, tt.wantStatus, want.StatusCode)
			case *uploaderr.TransportError:
				require.ErrorAs(t, err, &want)
				assert.Equal(t, tt.wantStatus, want.StatusCode)
			}
			assert.Len(t, srv.InitBodies(), tt.wantCalls)
		})
	}
}

func TestClient_Negotiate_MissingUploadID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"part_size": 1024}`))
	}))
	defer server.Close()

	client := NewClient(Params{InitURL: server.URL, CommitURL: server.URL, Retry: fastRetry()}, log.NewLogger())
	_, err := client.Negotiate(context.Background(), "token", 100)

	var transportErr *uploaderr.TransportError
	require.ErrorAs(t, err, &transportErr)
}

func TestClient_Commit(t *testing.T) {
	srv := fakeapi.New(t, fakeapi.Options{UploadID: "abc"})
	client := newTestClient(srv)

	result, err := client.Commit(context.Background(), "token", chunkuploader.Session{UploadID: "abc"})
	require.NoError(t, err)

	assert.Equal(t, "published", result.Status())
	assert.Equal(t, "abc", result["upload_id"])
	require.Len(t, srv.CommitBodies(), 1)
	assert.Equal(t, "abc", srv.CommitBodies()[0]["upload_id"])
}

func TestClient_Commit_Retries(t *testing.T) {
	tests := []struct {
		name        string
		opts        fakeapi.Options
		wantErr     bool
		wantStatus  int
		wantCommits int
	}{
		{
			name:        "recovers from server errors",
			opts:        fakeapi.Options{CommitFailures: 2},
			wantCommits: 3,
		},
		{
			name:        "recovers from throttling",
			opts:        fakeapi.Options{CommitFailures: 1, CommitStatus: http.StatusTooManyRequests},
			wantCommits: 2,
		},
		{
			name:        "gives up after the last attempt",
			opts:        fakeapi.Options{CommitFailures: 10},
			wantErr:     true,
			wantStatus:  http.StatusInternalServerError,
			wantCommits: 3,
		},
		{
			name:        "client errors are final",
			opts:        fakeapi.Options{UploadID: "other"},
			wantErr:     true,
			wantStatus:  http.StatusNotFound,
			wantCommits: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.opts.UploadID == "" {
				tt.opts.UploadID = "abc"
			}
			srv := fakeapi.New(t, tt.opts)
			client := newTestClient(srv)

			result, err := client.Commit(context.Background(), "token", chunkuploader.Session{UploadID: "abc"})
			assert.Equal(t, tt.wantCommits, srv.Commits())

			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "published", result.Status())
				return
			}

			var transportErr *uploaderr.TransportError
			require.ErrorAs(t, err, &transportErr)
			assert.Equal(t, tt.wantStatus, transportErr.StatusCode)
		})
	}
}

func TestClient_Commit_AuthErrorIsNotRetried(t *testing.T) {
	srv := fakeapi.New(t, fakeapi.Options{Token: "secret", UploadID: "abc"})
	client := newTestClient(srv)

	_, err := client.Commit(context.Background(), "wrong", chunkuploader.Session{UploadID: "abc"})

	var authErr *uploaderr.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 1, srv.Commits())
}

func TestClient_Commit_MissingEndpoint(t *testing.T) {
	client := NewClient(Params{Retry: fastRetry()}, log.NewLogger())

	_, err := client.Commit(context.Background(), "token", chunkuploader.Session{UploadID: "abc"})

	var configErr *uploaderr.ConfigurationError
	require.ErrorAs(t, err, &configErr)
}

func TestCreateBackoff(t *testing.T) {
	policy := chunkuploader.RetryPolicy{
		MaxAttempts:         5,
		BaseDelay:           100 * time.Millisecond,
		Multiplier:          2,
		MaxDelay:            time.Second,
		RateLimitMultiplier: 4,
	}
	backoff := createBackoff(policy)

	assert.Equal(t, 100*time.Millisecond, backoff(0, 0, 0, nil))
	assert.Equal(t, 200*time.Millisecond, backoff(0, 0, 1, &http.Response{StatusCode: http.StatusBadGateway}))
	assert.Equal(t, 400*time.Millisecond, backoff(0, 0, 0, &http.Response{StatusCode: http.StatusTooManyRequests}))
	assert.Equal(t, time.Second, backoff(0, 0, 4, nil))
}

func TestCreateCustomRetryFunction(t *testing.T) {
	cases := []struct {
		name     string
		response *http.Response
		expected bool
	}{
		{name: "server error", response: &http.Response{StatusCode: http.StatusInternalServerError}, expected: true},
		{name: "throttled", response: &http.Response{StatusCode: http.StatusTooManyRequests}, expected: true},
		{name: "unauthorized", response: &http.Response{StatusCode: http.StatusUnauthorized}, expected: false},
		{name: "forbidden", response: &http.Response{StatusCode: http.StatusForbidden}, expected: false},
		{name: "not found", response: &http.Response{StatusCode: http.StatusNotFound}, expected: false},
		{name: "ok", response: &http.Response{StatusCode: http.StatusOK}, expected: false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			retry, err := createCustomRetryFunction(log.NewLogger())(context.Background(), tt.response, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, retry)
		})
	}
}
