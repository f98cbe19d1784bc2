// Package twitter resolves Twitter/X status URLs through the v2 tweets API.
package twitter

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

// canonical matches status URLs; group 1 is the user, group 2 the tweet id.
var canonical = regexp.MustCompile(`(?i)https?://(?:www\.|mobile\.)?(?:twitter|x)\.com/(\w+)/status/(\d+)`)

var query = url.Values{
	"expansions":  {"attachments.media_keys"},
	"media.fields": {"type,url,width,height,duration_ms,preview_image_url,variants"},
}.Encode()

// Doer performs a buffered HTTP request.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// Resolver implements media.Resolver for Twitter/X.
type Resolver struct {
	settings media.Settings
	client   Doer
	fetcher  media.Fetcher
	logger   *zap.Logger
}

// New builds a Twitter resolver.
func New(settings media.Settings, client Doer, fetcher media.Fetcher, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		settings: settings,
		client:   client,
		fetcher:  fetcher,
		logger:   logger.Named("twitter"),
	}
}

// Platform implements media.Resolver.
func (r *Resolver) Platform() media.Platform {
	return media.PlatformTwitter
}

// Detect returns the first status URL in text.
func (r *Resolver) Detect(text string) (string, bool) {
	m := canonical.FindString(text)
	return m, m != ""
}

type tweetMedia struct {
	MediaKey        string    `json:"media_key"`
	Type            string    `json:"type"`
	URL             string    `json:"url"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	DurationMS      int64     `json:"duration_ms"`
	PreviewImageURL string    `json:"preview_image_url"`
	Variants        []variant `json:"variants"`
}

type variant struct {
	BitRate     int64  `json:"bit_rate"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

type apiError struct {
	Title   string `json:"title"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

type tweetResponse struct {
	Includes struct {
		Media []tweetMedia `json:"media"`
	} `json:"includes"`
	Media  []tweetMedia `json:"media"`
	Errors []apiError   `json:"errors"`
}

// ResolveAttributes looks up the tweet's first media attachment.
func (r *Resolver) ResolveAttributes(ctx context.Context, rawURL string) (media.AttributeMap, error) {
	m := canonical.FindStringSubmatch(rawURL)
	if m == nil {
		return nil, fmt.Errorf("%w: %q is not a tweet url", media.ErrInvalidURL, rawURL)
	}
	user, tweetID := m[1], m[2]

	endpoint := fmt.Sprintf("%s/tweets/%s?%s", strings.TrimRight(r.settings.APIURL, "/"), tweetID, query)
	resp, err := r.client.Do(ctx, httpclient.Request{
		Method:      http.MethodGet,
		URL:         endpoint,
		BearerToken: r.settings.Token,
		Headers:     map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", media.ErrAPIRequest, err)
	}

	var body tweetResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("%w: decode tweet response: %w", media.ErrAttributesParse, err)
	}

	entries := body.Includes.Media
	if len(entries) == 0 {
		entries = body.Media
	}
	if len(entries) == 0 {
		if len(body.Errors) > 0 {
			return nil, fmt.Errorf("%w: %s", media.ErrAPIRequest, errorMessages(body.Errors))
		}
		return nil, fmt.Errorf("%w: tweet %s has no media", media.ErrAttributesParse, tweetID)
	}
	first := entries[0]
	if first.Type == "" {
		return nil, fmt.Errorf("%w: media type missing", media.ErrAttributesParse)
	}

	attrs := media.AttributeMap{
		media.AttrID:       tweetID,
		media.AttrType:     first.Type,
		media.AttrURL:      first.URL,
		media.AttrWidth:    strconv.Itoa(first.Width),
		media.AttrHeight:   strconv.Itoa(first.Height),
		media.AttrDuration: "0",
		"user":             user,
	}
	if first.MediaKey != "" {
		attrs["media_key"] = first.MediaKey
	}
	if first.Type == "video" || first.Type == "animated_gif" {
		if attrs[media.AttrURL] == "" {
			attrs[media.AttrURL] = bestVariant(first.Variants)
		}
		attrs[media.AttrPreviewURL] = first.PreviewImageURL
	}
	if attrs[media.AttrURL] == "" {
		return nil, fmt.Errorf("%w: %s media has no downloadable url", media.ErrAttributesParse, first.Type)
	}
	if first.Type == "video" && first.DurationMS > 0 {
		attrs[media.AttrDuration] = strconv.FormatFloat(float64(first.DurationMS)/1000, 'f', -1, 64)
	}
	r.logger.Debug("attributes resolved", zap.String("id", tweetID), zap.String("type", first.Type))
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
	return r.fetcher.Download(ctx, media.PlatformTwitter, r.settings.OutputPath, attrs)
}

// bestVariant returns the highest bit-rate mp4 rendition.
func bestVariant(variants []variant) string {
	best := ""
	var rate int64 = -1
	for _, v := range variants {
		if v.ContentType != "video/mp4" || v.URL == "" {
			continue
		}
		if v.BitRate > rate {
			best, rate = v.URL, v.BitRate
		}
	}
	return best
}

func errorMessages(errs []apiError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		switch {
		case e.Detail != "":
			msgs = append(msgs, e.Detail)
		case e.Message != "":
			msgs = append(msgs, e.Message)
		default:
			msgs = append(msgs, e.Title)
		}
	}
	return strings.Join(msgs, "; ")
}
