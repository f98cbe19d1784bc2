// Package instagram resolves Instagram post URLs through the Graph API.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/sipeto/internal/httpclient"
	"github.com/JakeFAU/sipeto/internal/media"
	"go.uber.org/zap"
)

const fields = "id,media_type,media_url,thumbnail_url,timestamp"

// canonical matches post URLs; group 1 is the shortcode.
var canonical = regexp.MustCompile(`(?i)https?://(?:www\.)?instagram\.com/(?:p|reel)/([\w-]+)/?`)

// Doer performs a buffered HTTP request.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// Resolver implements media.Resolver for Instagram.
type Resolver struct {
	settings media.Settings
	client   Doer
	fetcher  media.Fetcher
	logger   *zap.Logger
}

// New builds an Instagram resolver.
func New(settings media.Settings, client Doer, fetcher media.Fetcher, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		settings: settings,
		client:   client,
		fetcher:  fetcher,
		logger:   logger.Named("instagram"),
	}
}

// Platform implements media.Resolver.
func (r *Resolver) Platform() media.Platform {
	return media.PlatformInstagram
}

// Detect returns the first Instagram post URL in text.
func (r *Resolver) Detect(text string) (string, bool) {
	m := canonical.FindString(text)
	return m, m != ""
}

type graphMedia struct {
	ID           string `json:"id"`
	MediaType    string `json:"media_type"`
	MediaURL     string `json:"media_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Timestamp    string `json:"timestamp"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Error        *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ResolveAttributes queries the Graph API for the post's media.
//
// The Graph API keys media by its numeric id while post URLs carry a
// shortcode; the shortcode is sent as is.
func (r *Resolver) ResolveAttributes(ctx context.Context, rawURL string) (media.AttributeMap, error) {
	m := canonical.FindStringSubmatch(rawURL)
	if m == nil {
		return nil, fmt.Errorf("%w: %q is not an instagram post", media.ErrInvalidURL, rawURL)
	}
	shortcode := m[1]

	endpoint := fmt.Sprintf("%s/%s?fields=%s", strings.TrimRight(r.settings.APIURL, "/"), url.PathEscape(shortcode), fields)
	resp, err := r.client.Do(ctx, httpclient.Request{
		Method:      http.MethodGet,
		URL:         endpoint,
		BearerToken: r.settings.Token,
		Headers:     map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", media.ErrAPIRequest, err)
	}

	var body graphMedia
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("%w: decode graph response: %w", media.ErrAttributesParse, err)
	}
	if body.Error != nil {
		return nil, fmt.Errorf("%w: graph error %s: %s", media.ErrAPIRequest, body.Error.Type, body.Error.Message)
	}
	if body.MediaType == "" {
		return nil, fmt.Errorf("%w: media_type missing", media.ErrAttributesParse)
	}
	if body.MediaURL == "" {
		return nil, fmt.Errorf("%w: media_url missing", media.ErrAttributesParse)
	}

	mediaType := normalizeType(body.MediaType)
	attrs := media.AttributeMap{
		media.AttrID:       shortcode,
		media.AttrType:     mediaType,
		media.AttrURL:      body.MediaURL,
		media.AttrWidth:    strconv.Itoa(body.Width),
		media.AttrHeight:   strconv.Itoa(body.Height),
		media.AttrDuration: "0",
	}
	if mediaType == "video" {
		attrs[media.AttrPreviewURL] = body.ThumbnailURL
	}
	if body.ID != "" {
		attrs["media_id"] = body.ID
	}
	if body.Timestamp != "" {
		attrs["timestamp"] = body.Timestamp
	}
	r.logger.Debug("attributes resolved", zap.String("id", shortcode), zap.String("type", mediaType))
	return attrs, nil
}

// FetchMedia implements media.Resolver.
func (r *Resolver) FetchMedia(ctx context.Context, attrs media.AttributeMap) (string, error) {
	d, err := r.FetchDownload(ctx, attrs)
	if err != nil {
		return "", err
	}
	return d.Location, nil
}

// FetchDownload implements media.DownloadFetcher.
func (r *Resolver) FetchDownload(ctx context.Context, attrs media.AttributeMap) (media.Download, error) {
	return r.fetcher.Download(ctx, media.PlatformInstagram, r.settings.OutputPath, attrs)
}

func normalizeType(mediaType string) string {
	switch t := strings.ToLower(mediaType); t {
	case "image":
		return "photo"
	default:
		return t
	}
}
