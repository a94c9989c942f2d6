package crawler

import (
	"context"
	"time"
)

// BusinessStore is the durable sink for discovered businesses and run metadata.
type BusinessStore interface {
	UpsertBusiness(ctx context.Context, record BusinessRecord) error
	BIIDExists(ctx context.Context, biID string) (bool, error)
	RecordCrawlRun(ctx context.Context, run CrawlRun) error
	CrawlerStatistics(ctx context.Context, now time.Time) (CrawlerStats, error)
	ListBusinesses(ctx context.Context, filter BusinessFilter) ([]BusinessRecord, error)
}

// BlobStore writes raw page artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes run summaries to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher retrieves one page. Implementations never return an error; failures
// come back as an empty FetchResult, optionally carrying a Diagnostic. Redirects
// to hosts outside allowedDomains must not be followed.
type Fetcher interface {
	Fetch(ctx context.Context, url string, allowedDomains []string) FetchResult
}

// Extractor turns one page into zero or more business candidates.
type Extractor interface {
	Extract(pageURL string, body []byte, selectors []string) []BusinessRecord
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher produces stable content digests for archive object names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// FetchResult is the outcome of a single GET.
type FetchResult struct {
	URL        string
	StatusCode int
	Body       []byte
	Links      []string
	Diagnostic string
}

// Empty reports whether the fetch produced no usable page.
func (r FetchResult) Empty() bool {
	return len(r.Body) == 0
}
