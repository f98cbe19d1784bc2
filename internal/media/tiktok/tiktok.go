// Package tiktok resolves TikTok video URLs, expanding share links through
// their landing page when needed.
package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/JakeFAU/sipeto/internal/httpclient"
	"github.com/JakeFAU/sipeto/internal/media"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

var (
	// canonical matches full video URLs; group 1 is the user, group 2 the 19-digit id.
	canonical = regexp.MustCompile(`(?i)https?://(?:www\.)?tiktok\.com/@([\w.-]+)/video/(\d{19})`)
	// redirect matches the target of a landing page's redirect anchor.
	redirect = regexp.MustCompile(`(?i)^https?://(?:www\.)?tiktok\.com/@[\w.-]+/video/\d+`)
	// detect also accepts share links (vm.tiktok.com, tiktok.com/t/...).
	detect = regexp.MustCompile(`(?i)https?://(?:[a-z0-9-]+\.)?tiktok\.com/[^\s"'<>]+`)
)

// mediaKeys is searched in order; the first key present wins.
var mediaKeys = []string{"video", "image", "music"}

// Doer performs a buffered HTTP request.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// Resolver implements media.Resolver for TikTok.
type Resolver struct {
	settings media.Settings
	client   Doer
	fetcher  media.Fetcher
	logger   *zap.Logger
}

// New builds a TikTok resolver.
func New(settings media.Settings, client Doer, fetcher media.Fetcher, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		settings: settings,
		client:   client,
		fetcher:  fetcher,
		logger:   logger.Named("tiktok"),
	}
}

// Platform implements media.Resolver.
func (r *Resolver) Platform() media.Platform {
	return media.PlatformTikTok
}

// Detect returns the first TikTok link in text, canonical or shortened.
func (r *Resolver) Detect(text string) (string, bool) {
	m := detect.FindString(text)
	return m, m != ""
}

// CanonicalURL returns rawURL's canonical form, fetching its landing page when
// rawURL itself does not match.
func (r *Resolver) CanonicalURL(ctx context.Context, rawURL string) (string, error) {
	if m := canonical.FindString(rawURL); m != "" {
		return m, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not a tiktok url", media.ErrInvalidURL, rawURL)
	}

	resp, err := r.client.Do(ctx, httpclient.Request{
		Method:          http.MethodGet,
		URL:             rawURL,
		FollowRedirects: true,
		Headers:         map[string]string{"Accept": "text/html"},
	})
	if err != nil {
		return "", fmt.Errorf("%w: expand %s: %w", media.ErrInvalidURL, rawURL, err)
	}

	for _, candidate := range landingCandidates(resp) {
		if m := canonical.FindString(candidate); m != "" {
			r.logger.Debug("share link expanded", zap.String("from", rawURL), zap.String("to", m))
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: no canonical url behind %s", media.ErrInvalidURL, rawURL)
}

// landingCandidates lists possible canonical URLs in preference order: the
// post-redirect URL, redirect anchors, then og:url and rel=canonical.
func landingCandidates(resp *httpclient.Response) []string {
	candidates := []string{resp.FinalURL}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return candidates
	}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if redirect.MatchString(href) {
			candidates = append(candidates, href)
		}
	})
	if og, ok := doc.Find(`meta[property="og:url"]`).First().Attr("content"); ok {
		candidates = append(candidates, og)
	}
	if link, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		candidates = append(candidates, link)
	}
	return candidates
}

type itemResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
	ItemInfo *struct {
		ItemStruct map[string]json.RawMessage `json:"itemStruct"`
	} `json:"itemInfo"`
}

// ResolveAttributes expands rawURL if needed and queries the item API.
func (r *Resolver) ResolveAttributes(ctx context.Context, rawURL string) (media.AttributeMap, error) {
	canonicalURL, err := r.CanonicalURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	m := canonical.FindStringSubmatch(canonicalURL)
	user, videoID := m[1], m[2]

	resp, err := r.client.Do(ctx, httpclient.Request{
		Method:      http.MethodGet,
		URL:         strings.TrimRight(r.settings.APIURL, "/") + "/" + videoID,
		BearerToken: r.settings.Token,
		Headers:     map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", media.ErrAPIRequest, err)
	}

	var body itemResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("%w: decode item response: %w", media.ErrAttributesParse, err)
	}
	if len(body.Errors) > 0 {
		msgs := make([]string, 0, len(body.Errors))
		for _, e := range body.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("%w: tiktok: %s", media.ErrAPIRequest, strings.Join(msgs, "; "))
	}
	if body.ItemInfo == nil || body.ItemInfo.ItemStruct == nil {
		return nil, fmt.Errorf("%w: itemInfo.itemStruct missing", media.ErrAttributesParse)
	}

	mediaType, raw, ok := pickMedia(body.ItemInfo.ItemStruct)
	if !ok {
		return nil, fmt.Errorf("%w: item %s has no video, image or music", media.ErrAttributesParse, videoID)
	}
	attrs, err := flatten(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s attributes: %w", media.ErrAttributesParse, mediaType, err)
	}
	normalize(attrs, mediaType)
	attrs[media.AttrID] = videoID
	attrs["user"] = user

	r.logger.Debug("attributes resolved", zap.String("id", videoID), zap.String("type", mediaType))
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
	return r.fetcher.Download(ctx, media.PlatformTikTok, r.settings.OutputPath, attrs)
}

func pickMedia(item map[string]json.RawMessage) (string, json.RawMessage, bool) {
	for _, key := range mediaKeys {
		if raw, ok := item[key]; ok && len(raw) > 0 && string(raw) != "null" {
			return key, raw, true
		}
	}
	return "", nil, false
}

// flatten copies scalar members of the media object, and of objects nested one
// level below it, into an AttributeMap. Top-level members take precedence.
func flatten(raw json.RawMessage) (media.AttributeMap, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	attrs := media.AttributeMap{}
	var nested []string
	for key, value := range obj {
		if s, ok := scalar(value); ok {
			attrs[key] = s
		} else if _, ok := value.(map[string]any); ok {
			nested = append(nested, key)
		}
	}
	sort.Strings(nested)
	for _, name := range nested {
		for key, value := range obj[name].(map[string]any) {
			if _, exists := attrs[key]; exists {
				continue
			}
			if s, ok := scalar(value); ok {
				attrs[key] = s
			}
		}
	}
	return attrs, nil
}

func scalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func normalize(attrs media.AttributeMap, mediaType string) {
	attrs[media.AttrType] = mediaType
	if attrs[media.AttrURL] == "" {
		if u := firstOf(attrs, "downloadAddr", "playAddr", "playUrl"); u != "" {
			attrs[media.AttrURL] = u
		}
	}
	for _, key := range []string{media.AttrWidth, media.AttrHeight} {
		if attrs[key] == "" {
			attrs[key] = "0"
		}
	}
	if mediaType != "video" {
		attrs[media.AttrDuration] = "0"
		return
	}
	if attrs[media.AttrDuration] == "" {
		attrs[media.AttrDuration] = "0"
	}
	if preview := firstOf(attrs, "cover", "originCover", "dynamicCover"); preview != "" {
		attrs[media.AttrPreviewURL] = preview
	}
}

func firstOf(attrs media.AttributeMap, keys ...string) string {
	for _, k := range keys {
		if v := attrs[k]; v != "" {
			return v
		}
	}
	return ""
}
