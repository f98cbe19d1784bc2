package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sipeto/internal/httpclient"
)

// DefaultEndpoint is the Bot API base; the token is appended directly.
const DefaultEndpoint = "https://api.telegram.org/bot"

// redactedToken stands in for the bot token in errors and logs.
const redactedToken = "<token>"

// APIError is an {"ok":false} reply from the Bot API.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Doer performs a buffered HTTP request.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// WebhookInfo is the subset of getWebhookInfo the bot inspects.
type WebhookInfo struct {
	URL                  string `json:"url"`
	PendingUpdateCount   int    `json:"pending_update_count"`
	LastErrorMessage     string `json:"last_error_message,omitempty"`
	HasCustomCertificate bool   `json:"has_custom_certificate"`
}

// Client calls the Bot API.
type Client struct {
	endpoint string
	token    string
	doer     Doer
	logger   *zap.Logger
}

// NewClient builds a client for endpoint+token.
func NewClient(endpoint, token string, doer Doer, logger *zap.Logger) (*Client, error) {
	if token == "" {
		return nil, errors.New("telegram token is required")
	}
	if doer == nil {
		return nil, errors.New("http client is required")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint: endpoint,
		token:    token,
		doer:     doer,
		logger:   logger.Named("telegram"),
	}, nil
}

// Redact replaces the bot token in s. Webhook URLs usually carry it.
func (c *Client) Redact(s string) string {
	return strings.ReplaceAll(s, c.token, redactedToken)
}

type envelope struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (c *Client) call(ctx context.Context, method string, req httpclient.Request, out any) error {
	// Query strings are left out of LogURL; setWebhook's holds the webhook URL.
	req.LogURL = c.endpoint + redactedToken + "/" + method
	req.URL = c.endpoint + c.token + "/" + method + req.URL
	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		var httpErr *httpclient.HTTPError
		if errors.As(err, &httpErr) {
			var env envelope
			if json.Unmarshal([]byte(httpErr.Excerpt), &env) == nil && env.Description != "" {
				return &APIError{Method: method, Code: httpErr.StatusCode, Description: env.Description}
			}
		}
		return fmt.Errorf("telegram %s: %w", method, redactError{err: err, token: c.token})
	}
	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !env.OK {
		return &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

// SendMessage posts text to chatID.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	body, err := json.Marshal(map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("encode sendMessage: %w", err)
	}
	return c.call(ctx, "sendMessage", httpclient.Request{
		Method:  http.MethodPost,
		Body:    body,
		Headers: map[string]string{"Content-Type": "application/json"},
	}, nil)
}

// GetWebhookInfo returns the currently registered webhook.
func (c *Client) GetWebhookInfo(ctx context.Context) (WebhookInfo, error) {
	var info WebhookInfo
	if err := c.call(ctx, "getWebhookInfo", httpclient.Request{Method: http.MethodGet}, &info); err != nil {
		return WebhookInfo{}, err
	}
	return info, nil
}

// SetWebhook registers webhookURL.
func (c *Client) SetWebhook(ctx context.Context, webhookURL string) error {
	return c.call(ctx, "setWebhook", httpclient.Request{
		Method: http.MethodGet,
		URL:    "?url=" + url.QueryEscape(webhookURL),
	}, nil)
}

// EnsureWebhook registers webhookURL unless it is already the active webhook.
// It reports whether a registration call was made.
func (c *Client) EnsureWebhook(ctx context.Context, webhookURL string) (bool, error) {
	info, err := c.GetWebhookInfo(ctx)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(info.URL) == strings.TrimSpace(webhookURL) {
		c.logger.Info("webhook already set", zap.String("url", c.Redact(info.URL)))
		return false, nil
	}
	if err := c.SetWebhook(ctx, webhookURL); err != nil {
		return false, err
	}
	c.logger.Info("webhook registered", zap.String("url", c.Redact(webhookURL)), zap.String("previous", c.Redact(info.URL)))
	return true, nil
}

// redactError hides the token in the message of err while keeping it unwrappable.
type redactError struct {
	err   error
	token string
}

func (e redactError) Error() string {
	return strings.ReplaceAll(e.err.Error(), e.token, redactedToken)
}

func (e redactError) Unwrap() error {
	return e.err
}
