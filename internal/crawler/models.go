package crawler

import "time"

// Entry represents an item in the frontier
type Entry struct {
	URL   string // Normalized absolute URL
	Depth int    // Link distance from the seed
}

// PageDocument is the raw fetch result handed from the fetcher to the extractor
type PageDocument struct {
	URL         string        // Requested URL
	FinalURL    string        // URL after following redirects
	StatusCode  int           // HTTP status code
	ContentType string        // HTTP Content-Type header
	Body        []byte        // Decoded UTF-8 body
	StartedAt   time.Time     // When the successful attempt was issued
	TTFB        time.Duration // Time to First Byte
	Duration    time.Duration // Total download time of the successful attempt
	Attempts    int           // Attempts made, including the successful one
}

// Record is the persisted unit, one per successfully crawled page.
// Records are never mutated once handed to a sink.
type Record struct {
	ID       string   // Short stable identifier derived from URL
	URL      string   // Normalized URL that was dequeued
	Title    string   // Primary heading text
	Headings []string // Section headings in document order
	Content  string   // Body text, possibly truncated
	Links    []string // Discovered article links, capped
}

// FailureStage names the step at which a page was abandoned
type FailureStage string

const (
	StageRobots  FailureStage = "robots_disallowed"
	StageFetch   FailureStage = "fetch_error"
	StageExtract FailureStage = "extraction_error"
	StageEmit    FailureStage = "emit_error"
)

// CrawlStats represents crawling statistics
type CrawlStats struct {
	RunID        string
	PagesCrawled int // Records emitted
	PagesFailed  int // Page failures of any stage
	PagesQueued  int // URLs accepted into the frontier
	StartTime    time.Time
	Duration     time.Duration
}

// PageResult represents the result of processing a single page
type PageResult struct {
	Record   *Record
	Links    []string // Links to feed back into the frontier
	Document *PageDocument
}
