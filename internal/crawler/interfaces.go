package crawler

import (
	"context"
	"io"
	"time"
)

// PageFetcher retrieves an HTML page.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (Page, error)
}

// Extractor turns a fetched page into documents and follow links.
type Extractor interface {
	Extract(page Page) (Extraction, error)
}

// Prober fetches cache validators without downloading the body.
type Prober interface {
	Probe(ctx context.Context, url string) (Validators, error)
}

// Downloader opens a streaming download of a remote file.
type Downloader interface {
	Download(ctx context.Context, url string) (Download, error)
}

// DocumentStore is the local document tree, addressed by slash-separated
// relative paths.
type DocumentStore interface {
	Put(ctx context.Context, relPath string, r io.Reader) (int64, error)
	Remove(ctx context.Context, relPath string) error
	Exists(ctx context.Context, relPath string) (bool, error)
}

// Digest accumulates bytes and reports their hex digest.
type Digest interface {
	io.Writer
	Sum() string
}

// Hasher computes digests for integrity checks.
type Hasher interface {
	Hash(data []byte) (string, error)
	NewDigest() Digest
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Limiter enforces the minimum interval between requests to a host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// RobotsPolicy reports whether robots.txt permits fetching a URL.
type RobotsPolicy interface {
	Allowed(ctx context.Context, url string) bool
}

// RetryPolicy decides whether and when a failed request is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}
