package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(cfg Config) *Client {
	if cfg.BackoffInitial == 0 {
		cfg.BackoffInitial = time.Millisecond
		cfg.BackoffMax = 4 * time.Millisecond
	}
	return New(cfg, nil, zap.NewNop())
}

func TestDoSetsBearerAndHeaders(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "sipeto-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(Config{UserAgent: "sipeto-test"})
	resp, err := c.Do(context.Background(), Request{
		URL:         srv.URL + "/x",
		BearerToken: "secret",
		Headers:     map[string]string{"Accept": "application/json"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestDoPostsBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c := newTestClient(Config{})
	resp, err := c.Do(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, Body: []byte("ping")})
	require.NoError(t, err)
	assert.Equal(t, "ping", string(resp.Body))
}

func TestDoNon2xxReturnsHTTPErrorWithExcerpt(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("a", 2000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(long))
	}))
	defer srv.Close()

	c := newTestClient(Config{})
	_, err := c.Do(context.Background(), Request{URL: srv.URL})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Len(t, httpErr.Excerpt, excerptLimit)
}

func TestDoRetriesServerErrors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("done"))
	}))
	defer srv.Close()

	c := newTestClient(Config{MaxRetries: 2})
	resp, err := c.Do(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "done", string(resp.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(Config{MaxRetries: 1})
	_, err := c.Do(context.Background(), Request{URL: srv.URL})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(Config{MaxRetries: 3})
	_, err := c.Do(context.Background(), Request{URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoRetriesAttemptTimeout(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()

	c := newTestClient(Config{Timeout: 50 * time.Millisecond, MaxRetries: 1})
	resp, err := c.Do(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "late", string(resp.Body))
}

func TestRedirectsArePerCall(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/short", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/long", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/long", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("landing"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(Config{})

	resp, err := c.Do(context.Background(), Request{URL: srv.URL + "/short", FollowRedirects: true})
	require.NoError(t, err)
	assert.Equal(t, "landing", string(resp.Body))
	assert.Equal(t, srv.URL+"/long", resp.FinalURL)

	_, err = c.Do(context.Background(), Request{URL: srv.URL + "/short"})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusMovedPermanently, httpErr.StatusCode)
}

func TestStreamLeavesBodyOpen(t *testing.T) {
	t.Parallel()
	payload := strings.Repeat("0123456789", 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	c := newTestClient(Config{})
	resp, err := c.Stream(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, int64(len(payload)), resp.ContentLength)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
}

type recordingLimiter struct {
	urls []string
	err  error
}

func (l *recordingLimiter) Wait(_ context.Context, url string) error {
	l.urls = append(l.urls, url)
	return l.err
}

func TestLimiterIsConsulted(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	limiter := &recordingLimiter{}
	c := New(Config{}, limiter, zap.NewNop())
	_, err := c.Do(context.Background(), Request{URL: srv.URL + "/a"})
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/a"}, limiter.urls)

	limiter.err = errors.New("throttled")
	_, err = c.Do(context.Background(), Request{URL: srv.URL + "/b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestDoCanceledContext(t *testing.T) {
	t.Parallel()
	c := newTestClient(Config{MaxRetries: 5})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Do(ctx, Request{URL: "http://127.0.0.1:1/unreachable"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestLogURLReplacesURLInErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(Config{})
	_, err := c.Do(context.Background(), Request{URL: srv.URL + "/secret-path", LogURL: "api/<hidden>"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-path")
	assert.Contains(t, err.Error(), "api/<hidden>")

	_, err = c.Do(context.Background(), Request{URL: "http://127.0.0.1:1/secret-path", LogURL: "api/<hidden>"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-path")
}

func TestRetriesRespectIdempotency(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		req    Request
		status int
		calls  int32
	}{
		{name: "post 5xx once", req: Request{Method: http.MethodPost}, status: http.StatusServiceUnavailable, calls: 1},
		{name: "idempotent post 5xx retried", req: Request{Method: http.MethodPost, Idempotent: true}, status: http.StatusServiceUnavailable, calls: 3},
		{name: "post 429 retried", req: Request{Method: http.MethodPost}, status: http.StatusTooManyRequests, calls: 3},
		{name: "get 5xx retried", req: Request{}, status: http.StatusServiceUnavailable, calls: 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := newTestClient(Config{MaxRetries: 2})
			req := tc.req
			req.URL = srv.URL
			_, err := c.Do(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tc.calls, calls.Load())
		})
	}
}
