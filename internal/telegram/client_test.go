package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sipeto/internal/httpclient"
)

type botAPI struct {
	mu         sync.Mutex
	webhookURL string
	sets       int
	sent       []map[string]any
}

func newBotAPI(t *testing.T, api *botAPI) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/botTOKEN/getWebhookInfo", func(w http.ResponseWriter, _ *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"url": api.webhookURL}})
	})
	mux.HandleFunc("/botTOKEN/setWebhook", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		api.sets++
		api.webhookURL = r.URL.Query().Get("url")
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	})
	mux.HandleFunc("/botTOKEN/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		var msg map[string]any
		assert.NoError(t, json.Unmarshal(body, &msg))
		if msg["chat_id"] == float64(403) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
			return
		}
		api.mu.Lock()
		api.sent = append(api.sent, msg)
		api.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL+"/bot", "TOKEN", httpclient.New(httpclient.Config{}, nil, zap.NewNop()), zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestEnsureWebhookIsIdempotent(t *testing.T) {
	t.Parallel()

	api := &botAPI{}
	client := newBotAPI(t, api)
	hook := "https://bot.example.com/TOKEN?a=b"

	changed, err := client.EnsureWebhook(context.Background(), hook)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = client.EnsureWebhook(context.Background(), hook)
	require.NoError(t, err)
	assert.False(t, changed)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, 1, api.sets)
	assert.Equal(t, hook, api.webhookURL)
}

func TestSendMessage(t *testing.T) {
	t.Parallel()

	api := &botAPI{}
	client := newBotAPI(t, api)

	require.NoError(t, client.SendMessage(context.Background(), 42, "hello & bye"))
	api.mu.Lock()
	require.Len(t, api.sent, 1)
	assert.Equal(t, float64(42), api.sent[0]["chat_id"])
	assert.Equal(t, "hello & bye", api.sent[0]["text"])
	api.mu.Unlock()

	err := client.SendMessage(context.Background(), 403, "x")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusForbidden, apiErr.Code)
	assert.Contains(t, apiErr.Description, "blocked")
}

func TestCallNotOK(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: bad webhook"}`))
	}))
	defer srv.Close()
	client, err := NewClient(srv.URL+"/bot", "T", httpclient.New(httpclient.Config{}, nil, zap.NewNop()), nil)
	require.NoError(t, err)

	err = client.SetWebhook(context.Background(), "ftp://nope")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "setWebhook", apiErr.Method)
	assert.Equal(t, 400, apiErr.Code)
}

func TestNewClientValidates(t *testing.T) {
	t.Parallel()

	_, err := NewClient("", "", nil, nil)
	require.Error(t, err)
	_, err = NewClient("", "t", nil, nil)
	require.Error(t, err)
	c, err := NewClient("", "t", httpclient.New(httpclient.Config{}, nil, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultEndpoint, c.endpoint)
}

func TestErrorsDoNotLeakToken(t *testing.T) {
	t.Parallel()
	const token = "123456:SECRET-TOKEN"

	offline, err := NewClient("http://127.0.0.1:1/bot", token, httpclient.New(httpclient.Config{}, nil, zap.NewNop()), nil)
	require.NoError(t, err)
	err = offline.SendMessage(context.Background(), 7, "hi")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), token)
	assert.Contains(t, err.Error(), "sendMessage")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream broke"))
	}))
	defer srv.Close()
	client, err := NewClient(srv.URL+"/bot", token, httpclient.New(httpclient.Config{}, nil, zap.NewNop()), nil)
	require.NoError(t, err)
	err = client.SetWebhook(context.Background(), "https://bot.example/"+token)
	var httpErr *httpclient.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.NotContains(t, err.Error(), token)
	assert.Equal(t, "https://bot.example/<token>", client.Redact("https://bot.example/"+token))
}
