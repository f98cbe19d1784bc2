package media

import (
	"sort"
	"time"
)

// Platform names a supported social network.
type Platform string

// Supported platforms.
const (
	PlatformInstagram Platform = "instagram"
	PlatformTwitter   Platform = "twitter"
	PlatformTikTok    Platform = "tiktok"
)

// Normalized attribute keys shared by every resolver.
const (
	AttrID         = "id"
	AttrType       = "type"
	AttrURL        = "url"
	AttrWidth      = "width"
	AttrHeight     = "height"
	AttrDuration   = "duration"
	AttrPreviewURL = "preview_url"
)

// AttributeMap holds normalized media metadata for a single resolution.
type AttributeMap map[string]string

// Get returns the value stored under key, or "" when absent.
func (a AttributeMap) Get(key string) string {
	return a[key]
}

// Missing lists the given keys that are absent or empty, sorted.
func (a AttributeMap) Missing(keys ...string) []string {
	var missing []string
	for _, key := range keys {
		if a[key] == "" {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

// Clone returns a shallow copy.
func (a AttributeMap) Clone() AttributeMap {
	out := make(AttributeMap, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Job is a resolution request waiting for a worker.
type Job struct {
	JobID     string
	Platform  Platform
	URL       string
	ChatID    int64
	MessageID int64
	Attempt   int
	Submitted time.Time
	Download  bool
	Future    *Future
}

// Download describes an object written by FetchMedia.
type Download struct {
	Location    string
	ContentType string
	Bytes       int64
	SHA256      string
}

// Result is the outcome of one job.
type Result struct {
	JobID      string
	Platform   Platform
	URL        string
	Attributes AttributeMap
	Download   Download
	Err        error
}

// DownloadRecord is a row in the download ledger.
type DownloadRecord struct {
	ID           string
	JobID        string
	Platform     Platform
	MediaID      string
	MediaType    string
	SourceURL    string
	Location     string
	ContentType  string
	Bytes        int64
	SHA256       string
	ChatID       int64
	DownloadedAt time.Time
}

// DownloadedEvent is the payload published after a successful download.
type DownloadedEvent struct {
	JobID     string            `json:"job_id"`
	Platform  Platform          `json:"platform"`
	SourceURL string            `json:"source_url"`
	Location  string            `json:"location"`
	Bytes     int64             `json:"bytes"`
	SHA256    string            `json:"sha256,omitempty"`
	Attrs     map[string]string `json:"attributes"`
	At        time.Time         `json:"downloaded_at"`
}

// EventAttributes returns Pub/Sub message attributes for routing without decoding the body.
func (e DownloadedEvent) EventAttributes() map[string]string {
	return map[string]string{
		"event":    "media.downloaded",
		"platform": string(e.Platform),
		"job_id":   e.JobID,
	}
}
