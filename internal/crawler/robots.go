package crawler

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// RobotsChecker answers robots.txt permission queries, caching one
// rule set per host for the lifetime of the crawl
type RobotsChecker struct {
	httpClient *HTTPClient
	userAgent  string
	rules      map[string]*robotstxt.RobotsData
	mu         sync.RWMutex
	fetches    singleflight.Group // one robots.txt fetch per host at a time
}

// NewRobotsChecker creates a new robots.txt checker
func NewRobotsChecker(httpClient *HTTPClient, userAgent string) *RobotsChecker {
	return &RobotsChecker{
		httpClient: httpClient,
		userAgent:  userAgent,
		rules:      make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether target may be fetched. When robots.txt cannot be
// retrieved the URL is allowed.
func (r *RobotsChecker) Allowed(ctx context.Context, target *url.URL) bool {
	if target == nil || !target.IsAbs() {
		return false
	}

	rules := r.getRules(ctx, target)
	if rules == nil {
		return true
	}

	return rules.TestAgent(target.RequestURI(), r.userAgent)
}

// CrawlDelay returns the Crawl-delay declared for host, or 0 when unknown
func (r *RobotsChecker) CrawlDelay(host string) time.Duration {
	r.mu.RLock()
	rules, ok := r.rules[strings.ToLower(host)]
	r.mu.RUnlock()

	if !ok || rules == nil {
		return 0
	}
	if group := rules.FindGroup(r.userAgent); group != nil {
		return group.CrawlDelay
	}
	return 0
}

// getRules returns the cached rules for the target's host, fetching them
// once. A nil result means the host is unrestricted.
func (r *RobotsChecker) getRules(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := strings.ToLower(target.Host)

	r.mu.RLock()
	rules, ok := r.rules[host]
	r.mu.RUnlock()
	if ok {
		return rules
	}

	v, _, _ := r.fetches.Do(host, func() (interface{}, error) {
		r.mu.RLock()
		cached, ok := r.rules[host]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}

		fetched := r.fetchRules(ctx, target.Scheme+"://"+target.Host+"/robots.txt")

		r.mu.Lock()
		r.rules[host] = fetched
		r.mu.Unlock()
		return fetched, nil
	})

	rules, _ = v.(*robotstxt.RobotsData)
	return rules
}

func (r *RobotsChecker) fetchRules(ctx context.Context, robotsURL string) *robotstxt.RobotsData {
	resp, err := r.httpClient.Get(ctx, robotsURL)
	if err != nil {
		slog.Warn("Failed to fetch robots.txt, allowing all", "url", robotsURL, "error", err)
		return nil
	}

	// 2xx is parsed, 4xx allows everything, 5xx disallows everything
	rules, err := robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body)
	if err != nil {
		slog.Warn("Failed to parse robots.txt, allowing all", "url", robotsURL, "error", err)
		return nil
	}

	slog.Debug("Loaded robots.txt", "url", robotsURL, "status", resp.StatusCode)
	return rules
}
