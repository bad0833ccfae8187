package crawler

import (
	"context"
	"io"
	"net/url"
	"time"
)

// Fetcher fetches a URL with query parameters and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, params url.Values) (FetchResponse, error)
}

// Site is the site-specific collaborator: it knows the endpoints and how to
// turn their HTML into stubs and comment rows.
type Site interface {
	Name() string
	Origin() string
	ListingURL(cursor Cursor) (string, url.Values)
	DetailURL(id int64) (string, url.Values)
	ParseListing(body []byte, cursor Cursor) (items []ItemStub, hasMore bool, err error)
	ParseDetail(body []byte, itemID int64) (Detail, error)
}

// Ledger guarantees each identity key is processed at most once.
type Ledger interface {
	Claim(key string) bool
}

// RecordSink receives completed records. Appends are atomic per call.
type RecordSink interface {
	Append(ctx context.Context, records ...Record) error
}

// BlobStore writes segment artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// SegmentManifest records metadata for every flushed segment.
type SegmentManifest interface {
	RecordSegment(ctx context.Context, info SegmentInfo) error
	Close() error
}

// Publisher pushes segment notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for segment integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
