package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/masahif/wikitadoru/internal/config"
	"github.com/masahif/wikitadoru/internal/urlutil"
)

func init() {
	// Set error level logging during tests to only show critical issues
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	slog.SetDefault(logger)
}

// wikiServer serves pages whose bodies link to the given paths
func wikiServer(t *testing.T, pages map[string][]string, robots string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			if robots == "" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte(robots))
			return
		}

		links, ok := pages[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><body><h1 id="firstHeading">%s</h1><h2>Overview</h2><p>About %s.</p>`, r.URL.Path, r.URL.Path)
		for _, link := range links {
			fmt.Fprintf(w, `<a href="%s">link</a>`, link)
		}
		fmt.Fprint(w, `<h2><span id="References">References</span></h2><p>cited</p></body></html>`)
	}))
	t.Cleanup(server.Close)
	return server
}

func serverConfig(seed string) *config.CrawlConfig {
	cfg := config.DefaultConfig()
	cfg.SeedURL = seed
	cfg.Concurrency = 1
	cfg.RequestDelay = 0
	cfg.RequestTimeout = 5 * time.Second
	cfg.RetryBackoff = time.Millisecond
	cfg.RespectRobots = false
	cfg.UserAgent = "WikiTadoru-Test/1.0"
	return cfg
}

// TestStartStop tests the Start and Stop methods
func TestStartStop(t *testing.T) {
	server := wikiServer(t, map[string][]string{"/wiki/Main": nil}, "")

	cfg := serverConfig(server.URL + "/wiki/Main")
	cfg.Limit = 1

	sink := &MockSink{}
	crawler, err := NewCrawler(cfg, sink)
	if err != nil {
		t.Fatalf("Failed to create crawler: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := crawler.Start(ctx); err != nil {
		t.Errorf("Start() returned error: %v", err)
	}
	if err := crawler.Stop(); err != nil {
		t.Errorf("Stop() returned error: %v", err)
	}

	if len(sink.records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(sink.records))
	}
	record := sink.records[0]
	if record.Title != "/wiki/Main" {
		t.Errorf("Title = %q, want /wiki/Main", record.Title)
	}
	if len(record.Headings) != 1 || record.Headings[0] != "Overview" {
		t.Errorf("Headings = %v, want [Overview]", record.Headings)
	}
	if record.Content != "About /wiki/Main." {
		t.Errorf("Content = %q", record.Content)
	}

	if len(sink.runs) != 1 {
		t.Fatalf("Expected run metadata once, got %d", len(sink.runs))
	}
	if run := sink.runs[0]; run.RunID == "" || run.PagesCrawled != 1 {
		t.Errorf("Run metadata = %+v", run)
	}
}

// TestCrawlEndToEnd crawls A -> {B, C} with a ceiling of two pages
func TestCrawlEndToEnd(t *testing.T) {
	server := wikiServer(t, map[string][]string{
		"/wiki/A": {"/wiki/B", "/wiki/C"},
		"/wiki/B": {"/wiki/A"},
		"/wiki/C": {},
	}, "")

	cfg := serverConfig(server.URL + "/wiki/A")
	cfg.Limit = 2

	sink := &MockSink{}
	crawler, err := NewCrawler(cfg, sink)
	if err != nil {
		t.Fatalf("Failed to create crawler: %v", err)
	}
	if err := crawler.Start(context.Background()); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	if len(sink.records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(sink.records))
	}

	a, b := sink.records[0], sink.records[1]
	if a.URL != server.URL+"/wiki/A" || b.URL != server.URL+"/wiki/B" {
		t.Errorf("Records = [%s %s], want A then B", a.URL, b.URL)
	}
	if a.ID != urlutil.Identify(a.URL) || len(a.ID) != urlutil.IDLength {
		t.Errorf("Record id %q is not derived from its URL", a.ID)
	}
	if strings.Join(a.Links, ",") != server.URL+"/wiki/B,"+server.URL+"/wiki/C" {
		t.Errorf("A links = %v, want B and C", a.Links)
	}
	if strings.Contains(a.Content, "cited") {
		t.Errorf("References section leaked into content: %q", a.Content)
	}
}

// TestCrawlFailureIsolation checks that a 404 page does not stop its siblings
func TestCrawlFailureIsolation(t *testing.T) {
	server := wikiServer(t, map[string][]string{
		"/wiki/A": {"/wiki/B", "/wiki/C"},
		"/wiki/C": {},
	}, "")

	cfg := serverConfig(server.URL + "/wiki/A")
	sink := &MockSink{}
	crawler, err := NewCrawler(cfg, sink)
	if err != nil {
		t.Fatalf("Failed to create crawler: %v", err)
	}
	if err := crawler.Start(context.Background()); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	var urls []string
	for _, r := range sink.records {
		urls = append(urls, strings.TrimPrefix(r.URL, server.URL))
	}
	if strings.Join(urls, ",") != "/wiki/A,/wiki/C" {
		t.Errorf("Records = %v, want A and C", urls)
	}

	failures := sink.Failures()
	if len(failures) != 1 {
		t.Fatalf("Expected 1 failure, got %d", len(failures))
	}
	failure := failures[0]
	if failure.URL != server.URL+"/wiki/B" || failure.Stage != StageFetch || failure.Depth != 1 {
		t.Errorf("Failure = %+v", failure)
	}
	if !errors.Is(failure, ErrPermanent) {
		t.Errorf("Expected permanent fetch failure, got %v", failure.Err)
	}

	if stats := crawler.GetStats(); stats.PagesCrawled != 2 || stats.PagesFailed != 1 {
		t.Errorf("Stats = %+v, want 2 crawled and 1 failed", stats)
	}
}

// TestCrawlBreadthFirstOrder verifies depth-by-depth ordering with one worker
func TestCrawlBreadthFirstOrder(t *testing.T) {
	fetcher := &graphFetcher{pages: map[string][]string{
		"/wiki/A": {"/wiki/B", "/wiki/C"},
		"/wiki/B": {"/wiki/D", "/wiki/E"},
		"/wiki/C": {"/wiki/F"},
		"/wiki/D": {"/wiki/G"},
		"/wiki/E": {},
		"/wiki/F": {},
		"/wiki/G": {},
	}}

	cfg := testConfig("/wiki/A")
	cfg.MaxDepth = 10

	sink := &MockSink{}
	runCrawl(t, cfg, fetcher, sink)

	want := "/wiki/A,/wiki/B,/wiki/C,/wiki/D,/wiki/E,/wiki/F,/wiki/G"
	if got := strings.Join(sink.Paths(), ","); got != want {
		t.Errorf("Emission order = %s, want %s", got, want)
	}
}

// TestCrawlDedup checks cycles, fragments and relative forms are fetched once
func TestCrawlDedup(t *testing.T) {
	fetcher := &graphFetcher{pages: map[string][]string{
		"/wiki/A": {"/wiki/B", "/wiki/B", testWikiHost + "/wiki/B"},
		"/wiki/B": {"/wiki/A", "/wiki/C"},
		"/wiki/C": {"/wiki/A", "/wiki/B"},
	}}

	cfg := testConfig("/wiki/A")
	cfg.Concurrency = 3

	sink := &MockSink{}
	runCrawl(t, cfg, fetcher, sink)

	counts := make(map[string]int)
	for _, path := range fetcher.Fetched() {
		counts[path]++
	}
	for path, n := range counts {
		if n != 1 {
			t.Errorf("%s fetched %d times", path, n)
		}
	}
	if len(counts) != 3 {
		t.Errorf("Fetched %v, want A, B and C", counts)
	}
}

// TestCrawlRedirectDedup checks a redirect never fetches a page twice
func TestCrawlRedirectDedup(t *testing.T) {
	tests := []struct {
		name      string
		mainLinks []string
		dogLinks  []string
		want      string
	}{
		{"target already queued", []string{"/wiki/Dogs", "/wiki/Dog"}, nil, "/wiki/Main,/wiki/Dog"},
		{"target linked after redirect", []string{"/wiki/Dogs"}, []string{"/wiki/Dog"}, "/wiki/Main,/wiki/Dogs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages := map[string][]string{"/wiki/Main": tt.mainLinks, "/wiki/Dog": tt.dogLinks}

			var mu sync.Mutex
			hits := make(map[string]int)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				hits[r.URL.Path]++
				mu.Unlock()

				if r.URL.Path == "/wiki/Dogs" {
					http.Redirect(w, r, "/wiki/Dog", http.StatusMovedPermanently)
					return
				}
				links, ok := pages[r.URL.Path]
				if !ok {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				fmt.Fprintf(w, `<html><body><h1 id="firstHeading">%s</h1><p>About %s.</p>`, r.URL.Path, r.URL.Path)
				for _, link := range links {
					fmt.Fprintf(w, `<a href="%s">link</a>`, link)
				}
				fmt.Fprint(w, `</body></html>`)
			}))
			defer server.Close()

			sink := &MockSink{}
			crawler, err := NewCrawler(serverConfig(server.URL+"/wiki/Main"), sink)
			if err != nil {
				t.Fatalf("Failed to create crawler: %v", err)
			}
			if err := crawler.Start(context.Background()); err != nil {
				t.Fatalf("Start() returned error: %v", err)
			}

			mu.Lock()
			dogHits := hits["/wiki/Dog"]
			mu.Unlock()
			if dogHits != 1 {
				t.Errorf("/wiki/Dog fetched %d times, want 1", dogHits)
			}

			var urls []string
			for _, r := range sink.records {
				urls = append(urls, strings.TrimPrefix(r.URL, server.URL))
			}
			if got := strings.Join(urls, ","); got != tt.want {
				t.Errorf("Records = %s, want %s", got, tt.want)
			}
			if failures := sink.Failures(); len(failures) != 0 {
				t.Errorf("Expected no failures, got %d", len(failures))
			}
		})
	}
}

func TestCrawlRobotsDisallowed(t *testing.T) {
	server := wikiServer(t, map[string][]string{
		"/wiki/A":      {"/wiki/Secret", "/wiki/B"},
		"/wiki/B":      {},
		"/wiki/Secret": {},
	}, "User-agent: *\nDisallow: /wiki/Secret\n")

	cfg := serverConfig(server.URL + "/wiki/A")
	cfg.RespectRobots = true

	sink := &MockSink{}
	crawler, err := NewCrawler(cfg, sink)
	if err != nil {
		t.Fatalf("Failed to create crawler: %v", err)
	}
	if err := crawler.Start(context.Background()); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	if len(sink.records) != 2 {
		t.Errorf("Expected 2 records, got %d", len(sink.records))
	}
	failures := sink.Failures()
	if len(failures) != 1 || failures[0].Stage != StageRobots || !errors.Is(failures[0], ErrDisallowed) {
		t.Errorf("Failures = %v, want one robots failure", failures)
	}
}

func TestCrawlExternalLinksNotFollowed(t *testing.T) {
	external := wikiServer(t, map[string][]string{"/wiki/Elsewhere": {}}, "")

	// Absolute links never match the article prefix
	server := wikiServer(t, map[string][]string{
		"/wiki/A": {external.URL + "/wiki/Elsewhere", "/wiki/B"},
		"/wiki/B": {},
	}, "")

	cfg := serverConfig(server.URL + "/wiki/A")
	sink := &MockSink{}
	crawler, err := NewCrawler(cfg, sink)
	if err != nil {
		t.Fatalf("Failed to create crawler: %v", err)
	}
	if err := crawler.Start(context.Background()); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	for _, r := range sink.records {
		if strings.HasPrefix(r.URL, external.URL) {
			t.Errorf("External page %s was crawled", r.URL)
		}
	}
	if len(sink.records) != 2 {
		t.Errorf("Expected 2 records, got %d", len(sink.records))
	}
}

func TestCrawlStopAbandonsQueue(t *testing.T) {
	var crawler *DefaultCrawler
	var once sync.Once

	fetcher := &graphFetcher{
		pages: map[string][]string{
			"/wiki/A": {"/wiki/B", "/wiki/C"},
			"/wiki/B": {},
			"/wiki/C": {},
		},
		onFetch: func(string) {
			once.Do(func() { _ = crawler.Stop() })
		},
	}

	sink := &MockSink{}
	var err error
	crawler, err = NewCrawler(testConfig("/wiki/A"), sink, WithFetcher(fetcher))
	if err != nil {
		t.Fatalf("Failed to create crawler: %v", err)
	}

	if err := crawler.Start(context.Background()); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	// The in-flight page completes, nothing else is fetched
	if got := sink.Paths(); len(got) != 1 || got[0] != "/wiki/A" {
		t.Errorf("Emitted %v, want only A", got)
	}
	if fetched := fetcher.Fetched(); len(fetched) != 1 {
		t.Errorf("Fetched %v after stop", fetched)
	}
	if !crawler.Frontier().IsDone() {
		t.Error("Frontier should report done after Stop")
	}
}

func TestCrawlContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &graphFetcher{
		pages: map[string][]string{
			"/wiki/A": {"/wiki/B"},
			"/wiki/B": {},
		},
		onFetch: func(string) { cancel() },
	}

	sink := &MockSink{}
	crawler, err := NewCrawler(testConfig("/wiki/A"), sink, WithFetcher(fetcher))
	if err != nil {
		t.Fatalf("Failed to create crawler: %v", err)
	}
	if err := crawler.Start(ctx); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	if got := sink.Paths(); len(got) != 1 {
		t.Errorf("Emitted %v, want the in-flight page only", got)
	}
	if len(sink.runs) != 1 {
		t.Error("Run metadata should be recorded after cancellation")
	}
}

func TestCrawlSeedRejected(t *testing.T) {
	sink := &MockSink{}
	crawler, err := NewCrawler(testConfig("/wiki/A"), sink, WithFetcher(&graphFetcher{}))
	if err != nil {
		t.Fatalf("Failed to create crawler: %v", err)
	}

	_ = crawler.Stop()
	if err := crawler.Start(context.Background()); !errors.Is(err, ErrSeedRejected) {
		t.Errorf("Expected ErrSeedRejected, got %v", err)
	}
}

func TestNewCrawlerErrors(t *testing.T) {
	if _, err := NewCrawler(nil, &MockSink{}); err == nil {
		t.Error("Expected error for nil config")
	}
	if _, err := NewCrawler(testConfig("/wiki/A"), nil); err == nil {
		t.Error("Expected error for nil sink")
	}

	cfg := testConfig("/wiki/A")
	cfg.SeedURL = "not a url"
	if _, err := NewCrawler(cfg, &MockSink{}); !errors.Is(err, config.ErrInvalidSeedURL) {
		t.Errorf("Expected ErrInvalidSeedURL, got %v", err)
	}
}

// countingChecker denies one path and counts queries
type countingChecker struct {
	mu      sync.Mutex
	deny    string
	queries int
}

func (c *countingChecker) Allowed(_ context.Context, target *url.URL) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries++
	return target.Path != c.deny
}

func TestCrawlCustomPermissionChecker(t *testing.T) {
	fetcher := &graphFetcher{pages: map[string][]string{
		"/wiki/A": {"/wiki/B", "/wiki/C"},
		"/wiki/B": {},
		"/wiki/C": {},
	}}
	checker := &countingChecker{deny: "/wiki/C"}

	sink := &MockSink{}
	crawler, err := NewCrawler(testConfig("/wiki/A"), sink, WithFetcher(fetcher), WithPermissionChecker(checker))
	if err != nil {
		t.Fatalf("Failed to create crawler: %v", err)
	}
	if err := crawler.Start(context.Background()); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	if got := strings.Join(sink.Paths(), ","); got != "/wiki/A,/wiki/B" {
		t.Errorf("Emitted %s, want A and B", got)
	}
	if checker.queries != 3 {
		t.Errorf("Permission checked %d times, want 3", checker.queries)
	}
}
