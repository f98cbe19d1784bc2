package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/JakeFAU/sipeto/internal/httpclient"
	"go.uber.org/zap"
)

// Streamer opens a streaming GET.
type Streamer interface {
	Stream(ctx context.Context, req httpclient.Request) (*httpclient.StreamResponse, error)
}

var (
	invalidKeyChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

	knownExtensions = map[string]string{
		".mp4":  "video/mp4",
		".mov":  "video/quicktime",
		".webm": "video/webm",
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".png":  "image/png",
		".gif":  "image/gif",
		".webp": "image/webp",
		".heic": "image/heic",
		".mp3":  "audio/mpeg",
		".m4a":  "audio/mp4",
	}

	extensionByContentType = map[string]string{
		"video/mp4":       "mp4",
		"video/quicktime": "mov",
		"video/webm":      "webm",
		"image/jpeg":      "jpg",
		"image/png":       "png",
		"image/gif":       "gif",
		"image/webp":      "webp",
		"image/heic":      "heic",
		"audio/mpeg":      "mp3",
		"audio/mp4":       "m4a",
	}

	extensionByType = map[string]string{
		"video":          "mp4",
		"animated_gif":   "mp4",
		"photo":          "jpg",
		"image":          "jpg",
		"carousel_album": "jpg",
		"music":          "mp3",
		"audio":          "mp3",
	}
)

// Extension picks a file extension (without dot) from the media URL path,
// then the response content type, then the normalized media type.
func Extension(attrs AttributeMap, contentType string) string {
	if u, err := url.Parse(attrs[AttrURL]); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if _, ok := knownExtensions[ext]; ok {
			return strings.TrimPrefix(ext, ".")
		}
	}
	if ct := baseContentType(contentType); ct != "" {
		if ext, ok := extensionByContentType[ct]; ok {
			return ext
		}
	}
	if ext, ok := extensionByType[strings.ToLower(attrs[AttrType])]; ok {
		return ext
	}
	return "bin"
}

// ObjectKey builds "<outputPath>/<platform>_<id>.<ext>".
func ObjectKey(outputPath string, platform Platform, id, ext string) string {
	name := fmt.Sprintf("%s_%s.%s", platform, invalidKeyChars.ReplaceAllString(id, "_"), ext)
	if outputPath == "" {
		return name
	}
	return path.Join(outputPath, name)
}

func baseContentType(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}

// Downloader streams media bytes into an ObjectStore.
type Downloader struct {
	client Streamer
	store  ObjectStore
	hasher Hasher
	logger *zap.Logger
}

// NewDownloader wires a downloader. hasher may be nil.
func NewDownloader(client Streamer, store ObjectStore, hasher Hasher, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		client: client,
		store:  store,
		hasher: hasher,
		logger: logger.Named("downloader"),
	}
}

// Download fetches attrs["url"] and stores it under outputPath. Every failure wraps ErrMediaDownload.
func (d *Downloader) Download(ctx context.Context, platform Platform, outputPath string, attrs AttributeMap) (Download, error) {
	if missing := attrs.Missing(AttrID, AttrURL); len(missing) > 0 {
		return Download{}, fmt.Errorf("%w: attributes missing %s", ErrMediaDownload, strings.Join(missing, ", "))
	}

	resp, err := d.client.Stream(ctx, httpclient.Request{
		Method:          http.MethodGet,
		URL:             attrs[AttrURL],
		FollowRedirects: true,
	})
	if err != nil {
		return Download{}, fmt.Errorf("%w: %w", ErrMediaDownload, err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			d.logger.Debug("close media body", zap.Error(errClose))
		}
	}()

	contentType := baseContentType(resp.Header.Get("Content-Type"))
	ext := Extension(attrs, contentType)
	if contentType == "" || contentType == "application/octet-stream" {
		if ct, ok := knownExtensions["."+ext]; ok {
			contentType = ct
		}
	}
	key := ObjectKey(outputPath, platform, attrs[AttrID], ext)

	counter := &countingReader{r: resp.Body, expected: resp.ContentLength}
	var body io.Reader = counter
	var digest Digest
	if d.hasher != nil {
		digest = d.hasher.NewDigest()
		body = io.TeeReader(counter, digest)
	}

	location, err := d.store.PutObject(ctx, key, contentType, body)
	if err != nil {
		return Download{}, fmt.Errorf("%w: store %s: %w", ErrMediaDownload, key, err)
	}

	out := Download{
		Location:    location,
		ContentType: contentType,
		Bytes:       counter.n,
	}
	if digest != nil {
		out.SHA256 = digest.Hex()
	}
	d.logger.Debug("media stored",
		zap.String("platform", string(platform)),
		zap.String("location", location),
		zap.Int64("bytes", out.Bytes),
	)
	return out, nil
}

// errShortBody marks a body whose length disagrees with Content-Length.
var errShortBody = errors.New("body length does not match content-length")

// countingReader fails at EOF when the byte count differs from the announced length,
// so stores abort instead of committing a truncated object.
type countingReader struct {
	r        io.Reader
	n        int64
	expected int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if errors.Is(err, io.EOF) && c.expected >= 0 && c.n != c.expected {
		return n, fmt.Errorf("%w: got %d of %d bytes", errShortBody, c.n, c.expected)
	}
	return n, err
}
