package crawler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/masahif/wikitadoru/internal/parser"
	"github.com/masahif/wikitadoru/internal/urlutil"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>Dog - Wiki</title></head>
<body>
	<h1 id="firstHeading">Dog</h1>
	<p>The dog<sup>[1]</sup>is a domesticated descendant of the wolf.</p>
	<h2>History</h2>
	<p>Dogs were   the first species to be domesticated.</p>
	<a href="/wiki/Wolf">Wolf</a>
	<a href="/wiki/Cat">Cat</a>
	<a href="/wiki/Fox">Fox</a>
	<a href="/wiki/File:Dog.jpg">Image</a>
	<a href="/wiki/Dog#History">Section</a>
	<a href="https://external.com/page">External Link</a>
	<h2><span id="References">References</span></h2>
	<p>Reference text</p>
</body>
</html>`

func newTestProcessor(recordLinks, maxContent int) *DefaultPageProcessor {
	return NewPageProcessor(newTestClient(), parser.NewHTMLExtractor(parser.DefaultOptions()), recordLinks, maxContent)
}

func TestPageProcessor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wiki/Dog":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(articleHTML))

		case "/404":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("Not Found"))

		case "/non-html":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}`))

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	processor := newTestProcessor(2, 0)
	ctx := context.Background()

	t.Run("HTML page", func(t *testing.T) {
		entry := Entry{URL: server.URL + "/wiki/Dog", Depth: 0}
		result, err := processor.Process(ctx, entry)
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}

		record := result.Record
		if record.ID != urlutil.Identify(entry.URL) {
			t.Errorf("ID = %q, want %q", record.ID, urlutil.Identify(entry.URL))
		}
		if record.URL != entry.URL {
			t.Errorf("URL = %q, want %q", record.URL, entry.URL)
		}
		if record.Title != "Dog" {
			t.Errorf("Title = %q, want Dog", record.Title)
		}
		if len(record.Headings) != 1 || record.Headings[0] != "History" {
			t.Errorf("Headings = %v, want [History]", record.Headings)
		}

		wantContent := "The dog is a domesticated descendant of the wolf. Dogs were the first species to be domesticated."
		if record.Content != wantContent {
			t.Errorf("Content = %q, want %q", record.Content, wantContent)
		}

		if len(result.Links) != 3 {
			t.Fatalf("Expected 3 followable links, got %v", result.Links)
		}
		if len(record.Links) != 2 {
			t.Errorf("Expected record links capped at 2, got %v", record.Links)
		}
		if record.Links[0] != server.URL+"/wiki/Wolf" {
			t.Errorf("First link = %q, want %q", record.Links[0], server.URL+"/wiki/Wolf")
		}
		if result.Document == nil || result.Document.StatusCode != http.StatusOK {
			t.Errorf("Expected document with status 200, got %+v", result.Document)
		}
	})

	t.Run("404 page", func(t *testing.T) {
		result, err := processor.Process(ctx, Entry{URL: server.URL + "/404"})
		if result != nil {
			t.Errorf("Expected no result for 404, got %+v", result)
		}
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) {
			t.Fatalf("Expected *FetchError, got %v", err)
		}
		if fetchErr.StatusCode != http.StatusNotFound {
			t.Errorf("StatusCode = %d, want 404", fetchErr.StatusCode)
		}
		if stageOf(err) != StageFetch {
			t.Errorf("stageOf = %s, want %s", stageOf(err), StageFetch)
		}
	})

	t.Run("non-HTML page", func(t *testing.T) {
		_, err := processor.Process(ctx, Entry{URL: server.URL + "/non-html"})
		if !errors.Is(err, ErrNotHTML) {
			t.Fatalf("Expected ErrNotHTML, got %v", err)
		}
		if stageOf(err) != StageExtract {
			t.Errorf("stageOf = %s, want %s", stageOf(err), StageExtract)
		}
	})
}

// stubFetcher serves canned documents keyed by URL
type stubFetcher map[string]*PageDocument

func (s stubFetcher) Fetch(_ context.Context, rawURL string) (*PageDocument, error) {
	if doc, ok := s[rawURL]; ok {
		return doc, nil
	}
	return nil, &FetchError{URL: rawURL, StatusCode: http.StatusNotFound, Attempts: 1, Err: errors.New("not found")}
}

func TestPageProcessorSniffsMissingContentType(t *testing.T) {
	pageURL := "https://wiki.example/wiki/Dog"
	fetcher := stubFetcher{pageURL: {URL: pageURL, StatusCode: 200, Body: []byte(articleHTML)}}

	processor := NewPageProcessor(fetcher, parser.NewHTMLExtractor(parser.DefaultOptions()), 10, 0)
	result, err := processor.Process(context.Background(), Entry{URL: pageURL})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Record.Title != "Dog" {
		t.Errorf("Title = %q, want Dog", result.Record.Title)
	}
}

func TestPageProcessorResolvesAgainstFinalURL(t *testing.T) {
	pageURL := "https://wiki.example/wiki/Doggo"
	fetcher := stubFetcher{pageURL: {
		URL:         pageURL,
		FinalURL:    "https://mirror.example/wiki/Dog",
		StatusCode:  200,
		ContentType: "text/html",
		Body:        []byte(articleHTML),
	}}

	processor := NewPageProcessor(fetcher, parser.NewHTMLExtractor(parser.DefaultOptions()), 10, 0)
	result, err := processor.Process(context.Background(), Entry{URL: pageURL})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.Record.URL != pageURL {
		t.Errorf("Record URL = %q, want the dequeued URL %q", result.Record.URL, pageURL)
	}
	for _, link := range result.Links {
		if !strings.HasPrefix(link, "https://mirror.example/wiki/") {
			t.Errorf("Link %q not resolved against final URL", link)
		}
	}
}

func TestPageProcessorExtractionError(t *testing.T) {
	pageURL := "https://wiki.example/wiki/Empty"
	fetcher := stubFetcher{pageURL: {URL: pageURL, StatusCode: 200, ContentType: "text/html", Body: []byte("   ")}}

	processor := NewPageProcessor(fetcher, parser.NewHTMLExtractor(parser.DefaultOptions()), 10, 0)
	_, err := processor.Process(context.Background(), Entry{URL: pageURL})

	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) {
		t.Fatalf("Expected *ExtractionError, got %v", err)
	}
	if !errors.Is(err, parser.ErrEmptyDocument) {
		t.Errorf("Expected ErrEmptyDocument, got %v", err)
	}
}

func TestPageProcessorTruncatesContent(t *testing.T) {
	pageURL := "https://wiki.example/wiki/Cafe"
	body := `<html><body><h1 id="firstHeading">Café</h1><p>café au lait</p></body></html>`
	fetcher := stubFetcher{pageURL: {URL: pageURL, StatusCode: 200, ContentType: "text/html", Body: []byte(body)}}

	processor := NewPageProcessor(fetcher, parser.NewHTMLExtractor(parser.DefaultOptions()), 10, 4)
	result, err := processor.Process(context.Background(), Entry{URL: pageURL})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Record.Content != "café" {
		t.Errorf("Content = %q, want %q", result.Record.Content, "café")
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"hello", 0, "hello"},
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel"},
		{"日本語テキスト", 3, "日本語"},
		{"", 3, ""},
	}

	for _, tt := range tests {
		if got := truncateRunes(tt.in, tt.limit); got != tt.want {
			t.Errorf("truncateRunes(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}

func TestIsHTMLDocument(t *testing.T) {
	tests := []struct {
		name string
		doc  PageDocument
		want bool
	}{
		{"html header", PageDocument{ContentType: "text/html; charset=utf-8"}, true},
		{"xhtml header", PageDocument{ContentType: "application/xhtml+xml"}, true},
		{"json header", PageDocument{ContentType: "application/json", Body: []byte("<html></html>")}, false},
		{"sniffed html", PageDocument{Body: []byte("<!DOCTYPE html><html><body></body></html>")}, true},
		{"sniffed text", PageDocument{Body: []byte("plain words")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isHTMLDocument(&tt.doc); got != tt.want {
				t.Errorf("isHTMLDocument() = %v, want %v", got, tt.want)
			}
		})
	}
}
