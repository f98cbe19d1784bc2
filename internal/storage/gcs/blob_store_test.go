package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "media-bucket"})
	require.NoError(t, err)
	return store
}

func TestNewValidates(t *testing.T) {
	t.Parallel()
	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/b/media-bucket/o")
		assert.Equal(t, "media/tiktok/tiktok_1.mp4", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "video-bytes")
		assert.Contains(t, string(body), "video/mp4")
		fmt.Fprintln(w, `{"name":"media/tiktok/tiktok_1.mp4","bucket":"media-bucket"}`)
	})
	store := newTestStore(t, handler)

	uri, err := store.PutObject(context.Background(), "media/tiktok/tiktok_1.mp4", "video/mp4", strings.NewReader("video-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "gs://media-bucket/media/tiktok/tiktok_1.mp4", uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	_, err := store.PutObject(context.Background(), "x.jpg", "image/jpeg", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestPutObjectReadErrorAborts(t *testing.T) {
	t.Parallel()
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"name":"x.mp4"}`)
	}))
	body := io.MultiReader(strings.NewReader("partial"), errReader{})
	_, err := store.PutObject(context.Background(), "x.mp4", "video/mp4", body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy object")
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()
	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), "", "", strings.NewReader("x"))
	assert.Error(t, err)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
