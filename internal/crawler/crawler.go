// Package crawler provides the core web crawling functionality.
// It implements a concurrent breadth-first crawler over a bounded frontier,
// with per-host politeness, robots.txt checks and pluggable record sinks.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/masahif/wikitadoru/internal/config"
	"github.com/masahif/wikitadoru/internal/parser"
	"github.com/masahif/wikitadoru/internal/urlutil"
)

// statsInterval is how often progress is logged while crawling
const statsInterval = 10 * time.Second

// Option customizes a DefaultCrawler
type Option func(*DefaultCrawler)

// WithFetcher replaces the HTTP fetcher
func WithFetcher(fetcher PageFetcher) Option {
	return func(c *DefaultCrawler) {
		c.fetcher = fetcher
	}
}

// WithExtractor replaces the HTML extractor
func WithExtractor(extractor ContentExtractor) Option {
	return func(c *DefaultCrawler) {
		c.extractor = extractor
	}
}

// WithProcessor replaces the whole fetch and extract step
func WithProcessor(processor PageProcessor) Option {
	return func(c *DefaultCrawler) {
		c.processor = processor
	}
}

// WithPermissionChecker replaces the robots.txt check. nil disables it.
func WithPermissionChecker(checker PermissionChecker) Option {
	return func(c *DefaultCrawler) {
		c.permissions = checker
		c.robots, _ = checker.(*RobotsChecker)
	}
}

// WithFailureRecorder sets where page failures are reported. By default the
// sink is used when it implements FailureRecorder.
func WithFailureRecorder(recorder FailureRecorder) Option {
	return func(c *DefaultCrawler) {
		c.failures = recorder
	}
}

// DefaultCrawler implements the Crawler interface
type DefaultCrawler struct {
	config      *config.CrawlConfig
	sink        RecordSink
	failures    FailureRecorder
	runs        RunRecorder
	httpClient  *HTTPClient
	fetcher     PageFetcher
	extractor   ContentExtractor
	processor   PageProcessor
	permissions PermissionChecker
	robots      *RobotsChecker
	rateLimiter *RateLimiter
	frontier    *Frontier
	seedHost    string

	// State
	stats      CrawlStats
	running    bool
	statsMutex sync.RWMutex
	cancel     context.CancelFunc
	cancelMu   sync.Mutex
	logger     *slog.Logger
}

// NewCrawler creates a new crawler instance with the provided configuration and sink.
// It initializes the HTTP client, extractor, page processor, rate limiter and
// robots.txt checker unless options replace them.
func NewCrawler(cfg *config.CrawlConfig, sink RecordSink, opts ...Option) (*DefaultCrawler, error) {
	if cfg == nil {
		return nil, errors.New("crawler config is nil")
	}
	if sink == nil {
		return nil, errors.New("record sink is nil")
	}

	seed, err := urlutil.Normalize(cfg.SeedURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidSeedURL, err)
	}
	seedHost := urlutil.Host(seed)

	rateLimiter := NewRateLimiter(cfg.RequestDelay, cfg.PerHostDelay)
	httpClient := NewHTTPClient(ClientOptions{
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.RequestTimeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Headers:      cfg.HeaderMap(),
		Limiter:      rateLimiter,
	})

	extractorOpts := parser.DefaultOptions()
	extractorOpts.LinkPrefix = cfg.LinkPrefix
	extractorOpts.MaxLinks = cfg.FollowLinks

	c := &DefaultCrawler{
		config:      cfg,
		sink:        sink,
		httpClient:  httpClient,
		fetcher:     httpClient,
		extractor:   parser.NewHTMLExtractor(extractorOpts),
		rateLimiter: rateLimiter,
		frontier:    NewFrontier(cfg.MaxDepth, cfg.Limit),
		seedHost:    seedHost,
		logger:      slog.Default(),
	}

	if recorder, ok := sink.(FailureRecorder); ok {
		c.failures = recorder
	}
	if recorder, ok := sink.(RunRecorder); ok {
		c.runs = recorder
	}

	if cfg.RespectRobots {
		c.robots = NewRobotsChecker(httpClient, cfg.UserAgent)
		c.permissions = c.robots
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.processor == nil {
		c.processor = NewPageProcessor(c.fetcher, c.extractor, cfg.RecordLinks, cfg.MaxContentChars)
	}

	return c, nil
}

// Frontier exposes the crawl queue
func (c *DefaultCrawler) Frontier() *Frontier {
	return c.frontier
}

// Start runs the crawl until the frontier is exhausted, Stop is called or
// ctx is cancelled. Pages already being fetched are finished before it returns.
func (c *DefaultCrawler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()

	runID := uuid.NewString()
	c.logger = slog.Default().With("run_id", runID)

	c.statsMutex.Lock()
	c.stats = CrawlStats{RunID: runID, StartTime: time.Now()}
	c.running = true
	c.statsMutex.Unlock()

	if !c.frontier.Enqueue(c.config.SeedURL, 0) {
		c.finish()
		return fmt.Errorf("%w: %s", ErrSeedRejected, c.config.SeedURL)
	}

	c.logger.Info("Starting crawler", "seed_url", c.config.SeedURL, "concurrency", c.config.Concurrency,
		"limit", c.config.Limit, "max_depth", c.config.MaxDepth)

	workers := c.config.Concurrency
	if workers <= 0 {
		workers = 1
	}

	reporterCtx, stopReporter := context.WithCancel(ctx)
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		c.statsReporter(reporterCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		id := i
		g.Go(func() error {
			c.worker(gctx, id)
			return nil
		})
	}
	err := g.Wait()

	stopReporter()
	<-reporterDone

	if ctx.Err() != nil {
		c.logger.Info("Crawling cancelled")
	} else {
		c.logger.Info("Crawling completed")
	}

	c.finish()
	stats := c.GetStats()

	if c.runs != nil {
		if runErr := c.runs.RecordRun(context.WithoutCancel(ctx), stats); runErr != nil {
			c.logger.Error("Failed to record run metadata", "error", runErr)
		}
	}

	c.logger.Info("Crawl summary", "crawled", stats.PagesCrawled, "failed", stats.PagesFailed,
		"queued", stats.PagesQueued, "duration", stats.Duration)

	return err
}

// Stop stops the crawling process. Queued pages are abandoned.
func (c *DefaultCrawler) Stop() error {
	c.frontier.Stop()

	c.cancelMu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancelMu.Unlock()

	c.httpClient.Close()
	return nil
}

// GetStats returns current crawling statistics
func (c *DefaultCrawler) GetStats() CrawlStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()

	stats := c.stats
	stats.PagesQueued = c.frontier.Accepted()
	if c.running {
		stats.Duration = time.Since(stats.StartTime)
	}
	return stats
}

func (c *DefaultCrawler) finish() {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()

	c.running = false
	c.stats.Duration = time.Since(c.stats.StartTime)
}

// worker takes entries from the frontier until it reports done.
// Termination conditions:
// 1. Context cancelled or Stop called
// 2. Queue empty and no other worker holds an entry that could add links
func (c *DefaultCrawler) worker(ctx context.Context, id int) {
	c.logger.Debug("Worker started", "worker_id", id)
	defer c.logger.Debug("Worker stopped", "worker_id", id)

	for {
		entry, ok := c.frontier.Next(ctx)
		if !ok {
			return
		}
		c.processEntry(ctx, id, entry)
		c.frontier.Complete(entry)
	}
}

// processEntry runs one page through permission check, politeness wait,
// fetch, extraction and emission, then feeds its links back to the frontier
func (c *DefaultCrawler) processEntry(ctx context.Context, id int, entry Entry) {
	target, err := url.Parse(entry.URL)
	if err != nil {
		c.handleFailure(ctx, id, entry, StageFetch, err)
		return
	}

	if c.permissions != nil && !c.permissions.Allowed(ctx, target) {
		c.logger.Info("URL disallowed by robots.txt", "worker_id", id, "url", entry.URL)
		c.handleFailure(ctx, id, entry, StageRobots, ErrDisallowed)
		return
	}

	if c.robots != nil {
		if delay := c.robots.CrawlDelay(target.Host); delay > 0 {
			c.rateLimiter.SetDomainDelay(target.Host, delay)
		}
	}

	if err := c.rateLimiter.Wait(ctx, entry.URL); err != nil {
		c.logger.Debug("Worker abandoned URL while waiting", "worker_id", id, "url", entry.URL, "error", err)
		return
	}

	// Once started, a page runs to completion; the request timeout bounds it.
	// Redirect targets join the visited set so no page is fetched twice.
	pageCtx := WithRedirectGuard(context.WithoutCancel(ctx), func(target string) bool {
		if normalized, err := urlutil.Normalize(target); err == nil && normalized == entry.URL {
			return true
		}
		return c.frontier.MarkVisited(target)
	})

	result, err := c.processor.Process(pageCtx, entry)
	if errors.Is(err, ErrRedirectVisited) {
		c.logger.Info("Worker skipped duplicate page reached by redirect", "worker_id", id, "url", entry.URL, "error", err)
		return
	}
	if err != nil {
		c.handleFailure(ctx, id, entry, stageOf(err), err)
		return
	}

	if err := c.sink.Emit(pageCtx, result.Record); err != nil {
		c.handleFailure(ctx, id, entry, StageEmit, err)
		return
	}
	c.incrementCrawledCount()

	added := c.enqueueLinks(result.Links, entry.Depth+1)

	c.logger.Info("Worker processed URL", "worker_id", id, "url", entry.URL, "depth", entry.Depth,
		"links", len(result.Links), "queued", added)
}

// enqueueLinks offers same-host links to the frontier and returns how many were accepted
func (c *DefaultCrawler) enqueueLinks(links []string, depth int) int {
	if depth > c.config.MaxDepth {
		return 0
	}

	added := 0
	for _, link := range links {
		if !c.isAllowedHost(link) {
			continue
		}
		if c.frontier.Enqueue(link, depth) {
			added++
		}
	}
	return added
}

// isAllowedHost checks if the given URL stays on the seed host
func (c *DefaultCrawler) isAllowedHost(targetURL string) bool {
	return urlutil.Host(targetURL) == c.seedHost
}

func (c *DefaultCrawler) handleFailure(ctx context.Context, id int, entry Entry, stage FailureStage, err error) {
	failure := &PageFailure{
		URL:        entry.URL,
		Depth:      entry.Depth,
		Stage:      stage,
		Err:        err,
		OccurredAt: time.Now().UTC(),
	}

	if stage != StageRobots {
		c.logger.Warn("Worker failed to process URL", "worker_id", id, "url", entry.URL, "stage", stage, "error", err)
	}
	c.incrementFailedCount()

	if c.failures == nil {
		return
	}
	if saveErr := c.failures.RecordFailure(context.WithoutCancel(ctx), failure); saveErr != nil {
		c.logger.Error("Worker failed to save page failure", "worker_id", id, "url", entry.URL, "error", saveErr)
	}
}

// statsReporter periodically reports crawling statistics
func (c *DefaultCrawler) statsReporter(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := c.GetStats()
			c.logger.Info("Crawling stats", "crawled", stats.PagesCrawled, "failed", stats.PagesFailed,
				"queued", stats.PagesQueued, "pending", c.frontier.Len(), "duration", stats.Duration)
		}
	}
}

func (c *DefaultCrawler) incrementCrawledCount() {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()
	c.stats.PagesCrawled++
}

func (c *DefaultCrawler) incrementFailedCount() {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()
	c.stats.PagesFailed++
}
