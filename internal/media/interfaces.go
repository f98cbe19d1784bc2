package media

import (
	"context"
	"io"
	"time"
)

// Resolver turns a social-media URL into an AttributeMap and fetches the asset it describes.
type Resolver interface {
	Platform() Platform
	Detect(text string) (string, bool)
	ResolveAttributes(ctx context.Context, rawURL string) (AttributeMap, error)
	FetchMedia(ctx context.Context, attrs AttributeMap) (string, error)
}

// DownloadFetcher is implemented by resolvers that report transfer details for a fetch.
type DownloadFetcher interface {
	FetchDownload(ctx context.Context, attrs AttributeMap) (Download, error)
}

// Fetcher stores the asset an AttributeMap points at. *Downloader implements it.
type Fetcher interface {
	Download(ctx context.Context, platform Platform, outputPath string, attrs AttributeMap) (Download, error)
}

// ObjectStore writes media objects and returns their location.
type ObjectStore interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// DownloadRecorder persists completed downloads.
type DownloadRecorder interface {
	RecordDownload(ctx context.Context, record DownloadRecord) error
}

// DownloadQuery filters ledger listings. A zero Platform matches all platforms.
type DownloadQuery struct {
	Platform Platform
	Limit    int
	Offset   int
}

// DownloadLedger records downloads and serves them back, newest first.
type DownloadLedger interface {
	DownloadRecorder
	ListDownloads(ctx context.Context, q DownloadQuery) ([]DownloadRecord, error)
	GetDownload(ctx context.Context, id string) (DownloadRecord, error)
}

// Publisher pushes download events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notifier sends a text reply to a chat.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Queue provides enqueue/dequeue semantics for resolution jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
}

// Digest accumulates a checksum over streamed bytes.
type Digest interface {
	io.Writer
	Hex() string
}

// Hasher creates digests for integrity checks.
type Hasher interface {
	NewDigest() Digest
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
