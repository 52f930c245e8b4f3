package crawler

import (
	"context"
	"net/url"

	"github.com/masahif/wikitadoru/internal/parser"
)

// Crawler defines the main crawling interface
type Crawler interface {
	Start(ctx context.Context) error
	Stop() error
	GetStats() CrawlStats
}

// PageFetcher turns a URL into a raw document
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*PageDocument, error)
}

// ContentExtractor turns markup into structured content
type ContentExtractor interface {
	Extract(body []byte, pageURL *url.URL) (*parser.ExtractedContent, error)
}

// PageProcessor handles individual page processing
type PageProcessor interface {
	Process(ctx context.Context, entry Entry) (*PageResult, error)
}

// PermissionChecker is queried before every fetch
type PermissionChecker interface {
	Allowed(ctx context.Context, target *url.URL) bool
}

// RecordSink receives one record per successfully crawled page.
// Emit may be called from several workers at once.
type RecordSink interface {
	Emit(ctx context.Context, record *Record) error
	Close() error
}

// FailureRecorder is implemented by sinks that also persist page failures
type FailureRecorder interface {
	RecordFailure(ctx context.Context, failure *PageFailure) error
}

// RunRecorder is implemented by sinks that persist run metadata
type RunRecorder interface {
	RecordRun(ctx context.Context, stats CrawlStats) error
}
