// Package media holds the platform-independent half of the retrieval pipeline:
// the Resolver contract every social network implements, the Registry that
// picks a resolver by URL pattern, the streaming Downloader, and the Job,
// Result and Future types that carry work between the webhook and the workers.
//
// Resolution failures wrap one of ErrInvalidURL, ErrAPIRequest or
// ErrAttributesParse; fetch failures wrap ErrMediaDownload.
package media
