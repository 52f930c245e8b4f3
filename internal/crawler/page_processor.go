package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/masahif/wikitadoru/internal/urlutil"
)

// DefaultPageProcessor fetches a page, extracts its content and builds the record
type DefaultPageProcessor struct {
	fetcher         PageFetcher
	extractor       ContentExtractor
	recordLinks     int // 0 = keep every followed link on the record
	maxContentChars int // 0 = keep all content
}

// NewPageProcessor creates a new page processor
func NewPageProcessor(fetcher PageFetcher, extractor ContentExtractor, recordLinks, maxContentChars int) *DefaultPageProcessor {
	return &DefaultPageProcessor{
		fetcher:         fetcher,
		extractor:       extractor,
		recordLinks:     recordLinks,
		maxContentChars: maxContentChars,
	}
}

// Process processes a single page. Errors are *FetchError or *ExtractionError.
func (p *DefaultPageProcessor) Process(ctx context.Context, entry Entry) (*PageResult, error) {
	doc, err := p.fetcher.Fetch(ctx, entry.URL)
	if err != nil {
		return nil, err
	}

	if !isHTMLDocument(doc) {
		return nil, &ExtractionError{URL: entry.URL, Err: fmt.Errorf("%w: %q", ErrNotHTML, doc.ContentType)}
	}

	// Relative links resolve against where the page actually lives
	base := doc.FinalURL
	if base == "" {
		base = entry.URL
	}
	pageURL, err := url.Parse(base)
	if err != nil {
		return nil, &ExtractionError{URL: entry.URL, Err: err}
	}

	content, err := p.extractor.Extract(doc.Body, pageURL)
	if err != nil {
		return nil, &ExtractionError{URL: entry.URL, Err: err}
	}

	recordLinks := content.Links
	if p.recordLinks > 0 && len(recordLinks) > p.recordLinks {
		recordLinks = recordLinks[:p.recordLinks]
	}

	record := &Record{
		ID:       urlutil.Identify(entry.URL),
		URL:      entry.URL,
		Title:    content.Title,
		Headings: content.Headings,
		Content:  truncateRunes(content.BodyText, p.maxContentChars),
		Links:    append([]string(nil), recordLinks...),
	}

	slog.Debug("Extracted page", "url", entry.URL, "title", record.Title, "headings", len(record.Headings), "links", len(content.Links))

	return &PageResult{
		Record:   record,
		Links:    content.Links,
		Document: doc,
	}, nil
}

// isHTMLDocument checks the Content-Type header, sniffing the body when it is missing
func isHTMLDocument(doc *PageDocument) bool {
	contentType := doc.ContentType
	if strings.TrimSpace(contentType) == "" {
		contentType = http.DetectContentType(doc.Body)
	}
	return isHTMLContentType(contentType)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
