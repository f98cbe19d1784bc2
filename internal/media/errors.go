package media

import "errors"

var (
	// ErrInvalidURL reports a URL that matches no canonical pattern, even after expansion.
	ErrInvalidURL = errors.New("invalid media url")
	// ErrAPIRequest reports a network failure or non-2xx response from a platform API.
	ErrAPIRequest = errors.New("platform api request failed")
	// ErrAttributesParse reports an API response missing the fields needed to build attributes.
	ErrAttributesParse = errors.New("media attributes parse failed")
	// ErrMediaDownload reports a failed or incomplete asset download.
	ErrMediaDownload = errors.New("media download failed")
	// ErrUnsupportedPlatform is returned when no resolver is registered for a platform.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrNotFound is returned by a DownloadLedger for unknown records.
	ErrNotFound = errors.New("not found")
	// ErrQueueClosed is returned by a Queue after shutdown, once it is drained.
	ErrQueueClosed = errors.New("queue closed")
	// ErrQueueFull is returned when a job cannot be queued without waiting.
	ErrQueueFull = errors.New("queue full")
)
