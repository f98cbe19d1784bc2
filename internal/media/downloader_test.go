package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/JakeFAU/sipeto/internal/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *memoryStore) PutObject(_ context.Context, path, contentType string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = data
	s.types[path] = contentType
	return "mem://" + path, nil
}

type testDigest struct{ h hash.Hash }

func (d *testDigest) Write(p []byte) (int, error) { return d.h.Write(p) }
func (d *testDigest) Hex() string                 { return hex.EncodeToString(d.h.Sum(nil)) }

type testHasher struct{}

func (testHasher) NewDigest() Digest { return &testDigest{h: sha256.New()} }

type countingStreamer struct {
	calls int
}

func (c *countingStreamer) Stream(context.Context, httpclient.Request) (*httpclient.StreamResponse, error) {
	c.calls++
	return nil, fmt.Errorf("unexpected call")
}

func newClient() *httpclient.Client {
	return httpclient.New(httpclient.Config{}, nil, zap.NewNop())
}

func TestDownloadRoundTripByteLength(t *testing.T) {
	t.Parallel()
	payload := bytes.Repeat([]byte{0xAB, 0xCD, 0x00, 0x17}, 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	store := newMemoryStore()
	d := NewDownloader(newClient(), store, testHasher{}, zap.NewNop())
	attrs := AttributeMap{AttrID: "42", AttrType: "video", AttrURL: srv.URL + "/clip"}

	got, err := d.Download(context.Background(), PlatformTwitter, "out/twitter", attrs)
	require.NoError(t, err)

	sum := sha256.Sum256(payload)
	assert.Equal(t, "mem://out/twitter/twitter_42.mp4", got.Location)
	assert.Equal(t, int64(len(payload)), got.Bytes)
	assert.Equal(t, hex.EncodeToString(sum[:]), got.SHA256)
	assert.Equal(t, "video/mp4", got.ContentType)
	assert.Len(t, store.objects["out/twitter/twitter_42.mp4"], len(payload))
}

func TestDownloadRejectsIncompleteAttributesWithoutIO(t *testing.T) {
	t.Parallel()
	streamer := &countingStreamer{}
	d := NewDownloader(streamer, newMemoryStore(), nil, zap.NewNop())

	for _, attrs := range []AttributeMap{
		{AttrID: "1"},
		{AttrURL: "http://example.com/a.jpg"},
		{},
	} {
		_, err := d.Download(context.Background(), PlatformInstagram, "out", attrs)
		require.ErrorIs(t, err, ErrMediaDownload)
	}
	assert.Zero(t, streamer.calls)
}

func TestDownloadTruncatedBodyIsNotStored(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte(strings.Repeat("x", 50)))
	}))
	defer srv.Close()

	store := newMemoryStore()
	d := NewDownloader(newClient(), store, nil, zap.NewNop())
	_, err := d.Download(context.Background(), PlatformTikTok, "out", AttributeMap{AttrID: "7", AttrURL: srv.URL})
	require.ErrorIs(t, err, ErrMediaDownload)
	assert.Empty(t, store.objects)
}

func TestDownloadHTTPErrorWrapsSentinel(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewDownloader(newClient(), newMemoryStore(), nil, zap.NewNop())
	_, err := d.Download(context.Background(), PlatformTikTok, "out", AttributeMap{AttrID: "7", AttrURL: srv.URL})
	require.ErrorIs(t, err, ErrMediaDownload)
	var httpErr *httpclient.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.StatusCode)
}

func TestCountingReaderDetectsShortBody(t *testing.T) {
	t.Parallel()
	r := &countingReader{r: strings.NewReader("12345"), expected: 10}
	_, err := io.ReadAll(r)
	require.ErrorIs(t, err, errShortBody)

	r = &countingReader{r: strings.NewReader("12345"), expected: -1}
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, int64(5), r.n)
	assert.Equal(t, "12345", string(data))
}

func TestExtension(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		attrs       AttributeMap
		contentType string
		want        string
	}{
		{"url path wins", AttributeMap{AttrURL: "https://cdn.example/a/B.JPG?x=1", AttrType: "video"}, "video/mp4", "jpg"},
		{"content type", AttributeMap{AttrURL: "https://cdn.example/stream"}, "image/png; charset=binary", "png"},
		{"media type", AttributeMap{AttrURL: "https://cdn.example/stream", AttrType: "animated_gif"}, "", "mp4"},
		{"music", AttributeMap{AttrType: "music"}, "", "mp3"},
		{"unknown", AttributeMap{}, "", "bin"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Extension(tc.attrs, tc.contentType))
		})
	}
}

func TestObjectKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "media/tiktok/tiktok_7123456789012345678.mp4", ObjectKey("media/tiktok/", PlatformTikTok, "7123456789012345678", "mp4"))
	assert.Equal(t, "instagram_Cx_1_.jpg", ObjectKey("", PlatformInstagram, "Cx/1.", "jpg"))
}
