// Package httpclient is the single outbound HTTP primitive used for platform APIs,
// landing pages, media downloads and Telegram calls.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/JakeFAU/sipeto/internal/metrics"
	"go.uber.org/zap"
)

const defaultMaxBodyBytes = 10 << 20

// Config tunes the client.
type Config struct {
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	UserAgent      string
	MaxBodyBytes   int64
}

// Request describes one outbound call.
type Request struct {
	Method          string
	URL             string
	Body            []byte
	Headers         map[string]string
	BearerToken     string
	FollowRedirects bool
	// LogURL is shown in errors and logs instead of URL, for URLs that embed secrets.
	LogURL string
	// Idempotent allows timeouts and 5xx replies to be retried for methods
	// other than GET and HEAD.
	Idempotent bool
}

func (r Request) logURL() string {
	if r.LogURL != "" {
		return r.LogURL
	}
	return r.URL
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// retrySafe reports whether repeating the request after an unknown outcome is harmless.
func (r Request) retrySafe() bool {
	switch r.method() {
	case http.MethodGet, http.MethodHead:
		return true
	}
	return r.Idempotent
}

// Response is a fully buffered response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
}

// StreamResponse leaves the body open. Callers must close Body.
type StreamResponse struct {
	StatusCode    int
	Header        http.Header
	ContentLength int64
	Body          io.ReadCloser
	FinalURL      string
}

// Limiter throttles requests per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// RetryPolicy decides whether and when to retry a failed attempt.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Client performs HTTP requests with timeouts, retries and rate limiting.
type Client struct {
	follow   *http.Client
	noFollow *http.Client
	cfg      Config
	limiter  Limiter
	retry    RetryPolicy
	logger   *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithTransport replaces the shared transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.follow.Transport = rt
		c.noFollow.Transport = rt
	}
}

// WithRetryPolicy replaces the default exponential policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retry = policy
	}
}

// New builds a Client. limiter may be nil.
func New(cfg Config, limiter Limiter, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	transport := newHTTPTransport()
	c := &Client{
		follow: &http.Client{Transport: transport},
		noFollow: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cfg:     cfg,
		limiter: limiter,
		retry:   NewExponentialRetryPolicy(cfg.MaxRetries+1, cfg.BackoffInitial, cfg.BackoffMax),
		logger:  logger.Named("httpclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends the request and buffers the response body.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var out *Response
	err := c.withRetry(ctx, req, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		resp, err := c.send(attemptCtx, req)
		if err != nil {
			return err
		}
		defer closeBody(resp.Body)
		body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
		if err != nil {
			return fmt.Errorf("read %s: %w", req.logURL(), err)
		}
		if int64(len(body)) > c.cfg.MaxBodyBytes {
			return fmt.Errorf("read %s: body exceeds %d bytes", req.logURL(), c.cfg.MaxBodyBytes)
		}
		out = &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
			FinalURL:   resp.Request.URL.String(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stream sends the request and returns once headers arrive. Retries stop once a
// 2xx response is handed over; ctx bounds the whole transfer.
func (c *Client) Stream(ctx context.Context, req Request) (*StreamResponse, error) {
	var out *StreamResponse
	err := c.withRetry(ctx, req, func() error {
		resp, err := c.send(ctx, req)
		if err != nil {
			return err
		}
		out = &StreamResponse{
			StatusCode:    resp.StatusCode,
			Header:        resp.Header,
			ContentLength: resp.ContentLength,
			Body:          resp.Body,
			FinalURL:      resp.Request.URL.String(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) withRetry(ctx context.Context, req Request, attempt func() error) error {
	for n := 0; ; n++ {
		err := attempt()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !c.retry.ShouldRetry(err, n+1) {
			return err
		}
		if !req.retrySafe() && !rejectedBeforeProcessing(err) {
			return err
		}
		wait := c.retry.Backoff(n)
		c.logger.Debug("retrying request",
			zap.String("method", req.method()),
			zap.String("url", req.logURL()),
			zap.Int("attempt", n+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry %s: %w", req.logURL(), ctx.Err())
		case <-timer.C:
		}
	}
}

// send performs a single attempt. Non-2xx responses are closed and returned as *HTTPError.
func (c *Client) send(ctx context.Context, req Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, req.URL); err != nil {
			return nil, err
		}
	}

	method := req.method()
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", req.logURL(), err)
	}
	if c.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.BearerToken)
	}

	client := c.noFollow
	if req.FollowRedirects {
		client = c.follow
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		metrics.ObserveOutbound(req.URL, 0, time.Since(start))
		// *url.Error repeats the full URL.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("%s %s: %w", method, req.logURL(), err)
	}
	metrics.ObserveOutbound(req.URL, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer closeBody(resp.Body)
		return nil, &HTTPError{
			Method:     method,
			URL:        req.logURL(),
			StatusCode: resp.StatusCode,
			Excerpt:    readExcerpt(resp.Body),
		}
	}
	return resp, nil
}

// rejectedBeforeProcessing reports a failure after which the server is known
// not to have acted on the request.
func rejectedBeforeProcessing(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests
}

func closeBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, excerptLimit))
	_ = body.Close()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
